package game

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/quizhive/quizhive-rooms/internal/events"
	"github.com/quizhive/quizhive-rooms/internal/obslog"
	"github.com/quizhive/quizhive-rooms/internal/retry"
	"github.com/quizhive/quizhive-rooms/internal/room"
	"github.com/quizhive/quizhive-rooms/internal/rtstore"
	"github.com/quizhive/quizhive-rooms/pkg/roomdto"
	"go.uber.org/zap"
)

func newMessageID() string { return uuid.NewString() }

// BuildLeaderboard ranks non-spectator players by score descending.
// The pre-sort order is fixed (join time, then id), so equal scores rank
// identically on every node deriving from the same snapshot.
func BuildLeaderboard(players map[string]roomdto.Player) []roomdto.LeaderboardEntry {
	ids := make([]string, 0, len(players))
	for id, p := range players {
		if p.Role == roomdto.RoleSpectator {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := players[ids[i]], players[ids[j]]
		if a.JoinedAt != b.JoinedAt {
			return a.JoinedAt < b.JoinedAt
		}
		return ids[i] < ids[j]
	})
	sort.SliceStable(ids, func(i, j int) bool {
		return players[ids[i]].Score > players[ids[j]].Score
	})

	entries := make([]roomdto.LeaderboardEntry, 0, len(ids))
	for rank, id := range ids {
		p := players[id]
		correctCount := 0
		for _, a := range p.Answers {
			if a.Correct {
				correctCount++
			}
		}
		entries = append(entries, roomdto.LeaderboardEntry{
			PlayerID:       id,
			Name:           p.Name,
			Score:          p.Score,
			CorrectAnswers: correctCount,
			TotalAnswers:   len(p.Answers),
			Rank:           rank + 1,
		})
	}
	return entries
}

// End finishes the game: the final leaderboard is written, exactly one
// MatchHistory row goes to the durable store, and the frozen quiz payload
// is pruned from the ephemeral store. Host only.
func (g *Machine) End(ctx context.Context, token, roomID string) error {
	user, err := g.resolve(ctx, token)
	if err != nil {
		return err
	}
	r, err := g.requireHost(ctx, roomID, user.ID, "end the game")
	if err != nil {
		return err
	}
	gs, err := g.state(ctx, roomID)
	if err != nil {
		return err
	}
	if gs.Status == roomdto.GameFinished {
		return nil
	}
	quiz, err := g.quiz(ctx, roomID)
	if err != nil {
		return err
	}
	players, err := g.rooms.Players(ctx, roomID)
	if err != nil {
		return err
	}

	now := g.now().UnixMilli()
	leaderboard := BuildLeaderboard(players)

	final := *gs
	final.Status = roomdto.GameFinished
	final.FinishedAt = now
	final.PauseRequests = nil
	meta := *r
	meta.Status = roomdto.RoomFinished

	// The quiz payload is the heavy part of the tree; prune it now that
	// the answer key is no longer needed. The leaderboard stays readable.
	writes := []rtstore.Write{
		{Path: room.GameStatePath(roomID), Value: &final},
		{Path: room.MetaPath(roomID), Value: &meta},
		{Path: room.LeaderboardPath(roomID), Value: leaderboard},
		{Path: room.QuizPath(roomID)},
	}
	err = retry.Do(ctx, "end_game", retry.Critical, func(ctx context.Context) error {
		return g.store.MultiSet(ctx, writes)
	})
	if err != nil {
		g.events.EmitError("end_game", err)
		return err
	}

	if g.repo != nil {
		h := &roomdto.MatchHistory{
			RoomID:         roomID,
			RoomName:       r.Name,
			QuizID:         quiz.ID,
			QuizTitle:      quiz.Title,
			TotalQuestions: len(quiz.Questions),
			Leaderboard:    leaderboard,
			StartedAt:      time.UnixMilli(gs.StartedAt),
			FinishedAt:     time.UnixMilli(now),
		}
		if err := g.repo.SaveMatchHistory(ctx, h); err != nil {
			obslog.L().Warn("history_save_failed", zap.String("room", roomID), zap.Error(err))
		}
		if err := g.repo.UpdateRoomStatus(ctx, roomID, roomdto.RoomFinished); err != nil {
			obslog.L().Warn("room_mirror_failed", zap.String("room", roomID), zap.Error(err))
		}
	}

	winner := ""
	if len(leaderboard) > 0 {
		winner = leaderboard[0].Name
	}
	g.systemChat(ctx, roomID, "game.finished", map[string]any{"Name": winner})
	obslog.L().Info("game_finished",
		zap.String("room", roomID),
		zap.String("winner", winner),
		zap.Int("players", len(leaderboard)),
	)
	g.events.Emit(events.GameUpdated, events.GamePayload{State: final})
	g.events.Emit(events.RoomUpdated, events.RoomPayload{Room: meta})
	return nil
}

// Leaderboard reads the final standings of a finished game.
func (g *Machine) Leaderboard(ctx context.Context, roomID string) ([]roomdto.LeaderboardEntry, error) {
	var entries []roomdto.LeaderboardEntry
	if err := g.store.Get(ctx, room.LeaderboardPath(roomID), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
