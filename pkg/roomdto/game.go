package roomdto

// GameStatus is the game state machine's phase.
type GameStatus string

const (
	GameWaiting  GameStatus = "waiting"
	GamePlaying  GameStatus = "playing"
	GamePaused   GameStatus = "paused"
	GameFinished GameStatus = "finished"
)

// PauseRequest is raised by a participating player for the host to act on.
type PauseRequest struct {
	PlayerID    string `json:"player_id"`
	PlayerName  string `json:"player_name"`
	Reason      string `json:"reason,omitempty"`
	RequestedAt int64  `json:"requested_at"`
}

// GameState lives at rooms/<id>/gamestate. Transitions are host-only
// except pause requests.
type GameState struct {
	Status          GameStatus `json:"status"`
	CurrentQuestion int        `json:"current_question"`
	StartedAt       int64      `json:"started_at,omitempty"`

	// QuestionStartedAt (unix millis) anchors remaining-time math. Resume
	// shifts it forward by the pause duration so TimeLeft stays correct.
	QuestionStartedAt int64 `json:"question_started_at"`
	TimeLeft          int   `json:"time_left"`

	PausedAt      int64                   `json:"paused_at,omitempty"`
	PausedBy      string                  `json:"paused_by,omitempty"`
	PauseRequests map[string]PauseRequest `json:"pause_requests,omitempty"`

	FinishedAt int64 `json:"finished_at,omitempty"`
}
