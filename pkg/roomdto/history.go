package roomdto

import "time"

// LeaderboardEntry is one row of the final standings. Ordering is score
// descending with ties kept in stable input order, so every client derives
// the identical ranking from the same snapshot.
type LeaderboardEntry struct {
	PlayerID       string `json:"player_id"`
	Name           string `json:"name"`
	Score          int    `json:"score"`
	CorrectAnswers int    `json:"correct_answers"`
	TotalAnswers   int    `json:"total_answers"`
	Rank           int    `json:"rank"`
}

// MatchHistory is written exactly once to the durable store when a game
// ends, and is immutable thereafter.
type MatchHistory struct {
	RoomID         string             `json:"room_id"`
	RoomName       string             `json:"room_name"`
	QuizID         string             `json:"quiz_id"`
	QuizTitle      string             `json:"quiz_title"`
	TotalQuestions int                `json:"total_questions"`
	Leaderboard    []LeaderboardEntry `json:"leaderboard"`
	StartedAt      time.Time          `json:"started_at"`
	FinishedAt     time.Time          `json:"finished_at"`
}
