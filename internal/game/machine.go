// Package game runs the trivia state machine inside a room:
// waiting → playing → {paused ↔ playing} → finished. Transitions are
// host-only except pause requests. Scores only grow through the store's
// per-path transaction, so concurrent submissions never lose updates.
package game

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/quizhive/quizhive-rooms/internal/events"
	"github.com/quizhive/quizhive-rooms/internal/identity"
	"github.com/quizhive/quizhive-rooms/internal/msgcat"
	"github.com/quizhive/quizhive-rooms/internal/obslog"
	"github.com/quizhive/quizhive-rooms/internal/quizstore"
	"github.com/quizhive/quizhive-rooms/internal/ratelimit"
	"github.com/quizhive/quizhive-rooms/internal/retry"
	"github.com/quizhive/quizhive-rooms/internal/room"
	"github.com/quizhive/quizhive-rooms/internal/rtstore"
	"github.com/quizhive/quizhive-rooms/pkg/roomdto"
	"go.uber.org/zap"
)

const defaultQuestionPoints = 100

type Machine struct {
	rooms   *room.Manager
	store   *rtstore.Client
	repo    *quizstore.Repository // optional
	ids     identity.Provider
	limiter *ratelimit.Limiter
	events  *events.Registry
	cat     *msgcat.Catalog

	now func() time.Time
}

func NewMachine(rooms *room.Manager, store *rtstore.Client, repo *quizstore.Repository,
	ids identity.Provider, limiter *ratelimit.Limiter, reg *events.Registry, cat *msgcat.Catalog) *Machine {
	return &Machine{
		rooms:   rooms,
		store:   store,
		repo:    repo,
		ids:     ids,
		limiter: limiter,
		events:  reg,
		cat:     cat,
		now:     time.Now,
	}
}

func (g *Machine) resolve(ctx context.Context, token string) (*identity.User, error) {
	if g.ids == nil {
		return nil, roomdto.ErrAuthenticationRequired
	}
	return g.ids.Resolve(ctx, token)
}

func (g *Machine) state(ctx context.Context, roomID string) (*roomdto.GameState, error) {
	var gs roomdto.GameState
	err := g.store.Get(ctx, room.GameStatePath(roomID), &gs)
	if errors.Is(err, rtstore.ErrNotFound) {
		return nil, roomdto.ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return &gs, nil
}

// State returns the live game state of a room.
func (g *Machine) State(ctx context.Context, roomID string) (*roomdto.GameState, error) {
	return g.state(ctx, roomID)
}

func (g *Machine) quiz(ctx context.Context, roomID string) (*roomdto.QuizSnapshot, error) {
	var q roomdto.QuizSnapshot
	err := g.store.Get(ctx, room.QuizPath(roomID), &q)
	if errors.Is(err, rtstore.ErrNotFound) {
		return nil, roomdto.ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (g *Machine) requireHost(ctx context.Context, roomID, userID, action string) (*roomdto.Room, error) {
	r, err := g.rooms.Room(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if r.HostID != userID {
		return nil, &roomdto.UnauthorizedError{Action: action}
	}
	return r, nil
}

func questionLimit(q *roomdto.Question, settings roomdto.RoomSettings) int {
	if q != nil && q.TimeLimit > 0 {
		return q.TimeLimit
	}
	if settings.TimePerQuestion > 0 {
		return settings.TimePerQuestion
	}
	return 30
}

// Start begins the game: room flips to playing, every member's score and
// answer log resets, and the clock starts on question zero.
func (g *Machine) Start(ctx context.Context, token, roomID string) error {
	user, err := g.resolve(ctx, token)
	if err != nil {
		return err
	}
	r, err := g.requireHost(ctx, roomID, user.ID, "start the game")
	if err != nil {
		return err
	}
	if r.Status != roomdto.RoomWaiting {
		return roomdto.ErrGameInProgress
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
	gs := roomdto.GameState{
		Status:            roomdto.GamePlaying,
		CurrentQuestion:   0,
		StartedAt:         now,
		QuestionStartedAt: now,
		TimeLeft:          questionLimit(&quiz.Questions[0], r.Settings),
	}
	meta := *r
	meta.Status = roomdto.RoomPlaying

	writes := []rtstore.Write{
		{Path: room.MetaPath(roomID), Value: &meta},
		{Path: room.GameStatePath(roomID), Value: &gs},
	}
	for id, p := range players {
		p.Score = 0
		p.Ready = false
		p.Answers = nil
		p.PowerUps = NewPowerUpSet(r.Settings.EnablePowerUps)
		writes = append(writes, rtstore.Write{Path: room.PlayerPath(roomID, id), Value: p})
	}
	err = retry.Do(ctx, "start_game", retry.Critical, func(ctx context.Context) error {
		return g.store.MultiSet(ctx, writes)
	})
	if err != nil {
		g.events.EmitError("start_game", err)
		return err
	}

	if g.repo != nil {
		if err := g.repo.UpdateRoomStatus(ctx, roomID, roomdto.RoomPlaying); err != nil {
			obslog.L().Warn("room_mirror_failed", zap.String("room", roomID), zap.Error(err))
		}
	}
	g.systemChat(ctx, roomID, "game.started", nil)
	obslog.L().Info("game_started", zap.String("room", roomID), zap.Int("questions", len(quiz.Questions)))
	g.events.Emit(events.GameUpdated, events.GamePayload{State: gs})
	g.events.Emit(events.RoomUpdated, events.RoomPayload{Room: meta})
	return nil
}

// mutateState applies fn to the game state under the store transaction.
// fn may return errSkip to leave the state untouched without error.
var errSkip = errors.New("skip")

func (g *Machine) mutateState(ctx context.Context, op, roomID string, strategy retry.Strategy,
	fn func(gs *roomdto.GameState) error) (*roomdto.GameState, error) {
	var out roomdto.GameState
	err := retry.Do(ctx, op, strategy, func(ctx context.Context) error {
		return g.store.Transact(ctx, room.GameStatePath(roomID), func(cur []byte) ([]byte, error) {
			if cur == nil {
				return nil, roomdto.ErrRoomNotFound
			}
			var gs roomdto.GameState
			if err := json.Unmarshal(cur, &gs); err != nil {
				return nil, err
			}
			if err := fn(&gs); err != nil {
				if errors.Is(err, errSkip) {
					out = gs
					return nil, rtstore.ErrAborted
				}
				return nil, err
			}
			out = gs
			return json.Marshal(&gs)
		})
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// RequestPause lets a participating non-spectator ask the host to pause.
func (g *Machine) RequestPause(ctx context.Context, token, roomID, reason string) error {
	user, err := g.resolve(ctx, token)
	if err != nil {
		return err
	}
	players, err := g.rooms.Players(ctx, roomID)
	if err != nil {
		return err
	}
	p, ok := players[user.ID]
	if !ok {
		return roomdto.ErrPlayerNotFound
	}
	if p.Role == roomdto.RoleSpectator || (p.Role == roomdto.RoleHost && !p.Participating) {
		return &roomdto.UnauthorizedError{Action: "request a pause"}
	}

	req := roomdto.PauseRequest{
		PlayerID:    user.ID,
		PlayerName:  user.Name,
		Reason:      reason,
		RequestedAt: g.now().UnixMilli(),
	}
	_, err = g.mutateState(ctx, "request_pause", roomID, retry.Standard, func(gs *roomdto.GameState) error {
		if gs.Status != roomdto.GamePlaying {
			return roomdto.ErrGameInProgress
		}
		if gs.PauseRequests == nil {
			gs.PauseRequests = make(map[string]roomdto.PauseRequest)
		}
		gs.PauseRequests[user.ID] = req
		return nil
	})
	if err != nil {
		return err
	}
	g.events.Emit(events.PauseRequested, events.PausePayload{Request: req})
	return nil
}

// CancelPauseRequest withdraws the caller's own pending request.
func (g *Machine) CancelPauseRequest(ctx context.Context, token, roomID string) error {
	user, err := g.resolve(ctx, token)
	if err != nil {
		return err
	}
	gs, err := g.mutateState(ctx, "cancel_pause_request", roomID, retry.Standard, func(gs *roomdto.GameState) error {
		if _, ok := gs.PauseRequests[user.ID]; !ok {
			return errSkip
		}
		delete(gs.PauseRequests, user.ID)
		return nil
	})
	if err != nil {
		return err
	}
	g.events.Emit(events.GameUpdated, events.GamePayload{State: *gs})
	return nil
}

// Pause stops the clock and clears any pending pause requests. Host only.
func (g *Machine) Pause(ctx context.Context, token, roomID string) error {
	user, err := g.resolve(ctx, token)
	if err != nil {
		return err
	}
	if _, err := g.requireHost(ctx, roomID, user.ID, "pause the game"); err != nil {
		return err
	}
	gs, err := g.mutateState(ctx, "pause_game", roomID, retry.Standard, func(gs *roomdto.GameState) error {
		if gs.Status != roomdto.GamePlaying {
			return roomdto.ErrGameInProgress
		}
		gs.Status = roomdto.GamePaused
		gs.PausedAt = g.now().UnixMilli()
		gs.PausedBy = user.ID
		gs.PauseRequests = nil
		return nil
	})
	if err != nil {
		return err
	}
	g.systemChat(ctx, roomID, "game.paused", map[string]any{"Name": user.Name})
	g.events.Emit(events.GameUpdated, events.GamePayload{State: *gs})
	return nil
}

// Resume restarts the clock where it stopped: the question's start
// anchor shifts forward by exactly the paused duration, so remaining
// time is preserved.
func (g *Machine) Resume(ctx context.Context, token, roomID string) error {
	user, err := g.resolve(ctx, token)
	if err != nil {
		return err
	}
	if _, err := g.requireHost(ctx, roomID, user.ID, "resume the game"); err != nil {
		return err
	}
	gs, err := g.mutateState(ctx, "resume_game", roomID, retry.Standard, func(gs *roomdto.GameState) error {
		if gs.Status != roomdto.GamePaused {
			return roomdto.ErrGameInProgress
		}
		pausedFor := g.now().UnixMilli() - gs.PausedAt
		if pausedFor < 0 {
			pausedFor = 0
		}
		gs.Status = roomdto.GamePlaying
		gs.QuestionStartedAt += pausedFor
		gs.PausedAt = 0
		gs.PausedBy = ""
		gs.PauseRequests = nil
		return nil
	})
	if err != nil {
		return err
	}
	g.systemChat(ctx, roomID, "game.resumed", nil)
	g.events.Emit(events.GameUpdated, events.GamePayload{State: *gs})
	return nil
}

// SubmitAnswer records the caller's answer to the current question and
// applies the point delta in the same per-path transaction as the answer
// record. Answers are write-once; a duplicate is a silent no-op.
func (g *Machine) SubmitAnswer(ctx context.Context, token, roomID, questionID string, choice int, elapsedMs int64) error {
	user, err := g.resolve(ctx, token)
	if err != nil {
		return err
	}
	if err := g.limiter.Allow(user.ID, "submit_answer"); err != nil {
		return err
	}
	gs, err := g.state(ctx, roomID)
	if err != nil {
		return err
	}
	if gs.Status != roomdto.GamePlaying {
		return roomdto.ErrGameInProgress
	}
	quiz, err := g.quiz(ctx, roomID)
	if err != nil {
		return err
	}
	q := quiz.QuestionByID(questionID)
	if q == nil {
		return &roomdto.QuestionNotFoundError{QuestionID: questionID}
	}
	if gs.CurrentQuestion >= len(quiz.Questions) || quiz.Questions[gs.CurrentQuestion].ID != questionID {
		return &roomdto.ValidationError{Field: "question_id", Reason: "not the current question"}
	}

	r, err := g.rooms.Room(ctx, roomID)
	if err != nil {
		return err
	}
	limitMs := int64(questionLimit(q, r.Settings)) * 1000

	correct := choice == q.Correct
	points := 0
	if correct && elapsedMs <= limitMs {
		points = q.Points
		if points <= 0 {
			points = defaultQuestionPoints
		}
	}
	ans := roomdto.Answer{
		QuestionID:  questionID,
		Choice:      choice,
		ElapsedMs:   elapsedMs,
		Correct:     correct,
		Points:      points,
		SubmittedAt: g.now().UnixMilli(),
	}

	err = retry.Do(ctx, "submit_answer", retry.Critical, func(ctx context.Context) error {
		return g.store.Transact(ctx, room.PlayerPath(roomID, user.ID), func(cur []byte) ([]byte, error) {
			if cur == nil {
				return nil, roomdto.ErrPlayerNotFound
			}
			var p roomdto.Player
			if err := json.Unmarshal(cur, &p); err != nil {
				return nil, err
			}
			if p.Role == roomdto.RoleSpectator {
				return nil, &roomdto.UnauthorizedError{Action: "submit answers as a spectator"}
			}
			if p.Role == roomdto.RoleHost && !p.Participating {
				return nil, &roomdto.UnauthorizedError{Action: "submit answers without participating"}
			}
			if _, dup := p.Answers[questionID]; dup {
				return nil, rtstore.ErrAborted
			}
			if p.Answers == nil {
				p.Answers = make(map[string]roomdto.Answer)
			}
			rec := ans
			if st, ok := p.PowerUps[roomdto.PowerUpDoubleScore]; ok &&
				st.Used && st.UsedOnQuestion == gs.CurrentQuestion && rec.Points > 0 {
				rec.Points *= 2
			}
			p.Answers[questionID] = rec
			p.Score += rec.Points
			p.LastActive = rec.SubmittedAt
			return json.Marshal(&p)
		})
	})
	if err != nil {
		g.events.EmitError("submit_answer", err)
		return err
	}
	return nil
}

// NextQuestion advances the game; past the last question it ends the
// game instead. Host only.
func (g *Machine) NextQuestion(ctx context.Context, token, roomID string) error {
	user, err := g.resolve(ctx, token)
	if err != nil {
		return err
	}
	r, err := g.requireHost(ctx, roomID, user.ID, "advance the game")
	if err != nil {
		return err
	}
	quiz, err := g.quiz(ctx, roomID)
	if err != nil {
		return err
	}

	atEnd := false
	gs, err := g.mutateState(ctx, "next_question", roomID, retry.Standard, func(gs *roomdto.GameState) error {
		if gs.Status != roomdto.GamePlaying {
			return roomdto.ErrGameInProgress
		}
		if gs.CurrentQuestion+1 >= len(quiz.Questions) {
			atEnd = true
			return errSkip
		}
		gs.CurrentQuestion++
		gs.QuestionStartedAt = g.now().UnixMilli()
		gs.TimeLeft = questionLimit(&quiz.Questions[gs.CurrentQuestion], r.Settings)
		gs.PauseRequests = nil
		return nil
	})
	if err != nil {
		return err
	}
	if atEnd {
		return g.End(ctx, token, roomID)
	}
	g.events.Emit(events.GameUpdated, events.GamePayload{State: *gs})
	return nil
}

func (g *Machine) systemChat(ctx context.Context, roomID, key string, data map[string]any) {
	text, err := g.cat.Render(key, data)
	if err != nil {
		obslog.L().Warn("template_render_failed", zap.String("key", key), zap.Error(err))
		return
	}
	msg := roomdto.ChatMessage{
		ID:      newMessageID(),
		Type:    roomdto.MessageSystem,
		Content: text,
		SentAt:  g.now().UnixMilli(),
	}
	err = retry.Do(ctx, "system_chat", retry.NonCritical, func(ctx context.Context) error {
		return g.store.Set(ctx, room.ChatMessagePath(roomID, msg.ID), msg)
	})
	if err != nil {
		obslog.L().Warn("system_chat_failed", zap.String("room", roomID), zap.Error(err))
		return
	}
	g.events.Emit(events.ChatMessage, events.ChatPayload{Message: msg})
}
