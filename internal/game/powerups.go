package game

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sort"

	"github.com/quizhive/quizhive-rooms/internal/events"
	"github.com/quizhive/quizhive-rooms/internal/retry"
	"github.com/quizhive/quizhive-rooms/internal/room"
	"github.com/quizhive/quizhive-rooms/internal/rtstore"
	"github.com/quizhive/quizhive-rooms/pkg/roomdto"
)

// NewPowerUpSet deals the per-player boost ledger handed out at game
// start: one of each kind, unused, available when the room allows them.
func NewPowerUpSet(enabled bool) map[roomdto.PowerUpType]roomdto.PowerUpState {
	set := make(map[roomdto.PowerUpType]roomdto.PowerUpState, len(roomdto.PowerUpTypes))
	for _, t := range roomdto.PowerUpTypes {
		set[t] = roomdto.PowerUpState{Type: t, Available: enabled}
	}
	return set
}

// UsePowerUp spends one of the caller's power-ups on the current
// question. Each power-up works once per game; spending is write-once
// through the member-record transaction, so a double spend under races
// still burns only one charge.
func (g *Machine) UsePowerUp(ctx context.Context, token, roomID string, t roomdto.PowerUpType, questionIndex int) error {
	user, err := g.resolve(ctx, token)
	if err != nil {
		return err
	}
	if err := g.limiter.Allow(user.ID, "use_power_up"); err != nil {
		return err
	}
	gs, err := g.state(ctx, roomID)
	if err != nil {
		return err
	}
	if gs.Status != roomdto.GamePlaying {
		return roomdto.ErrGameInProgress
	}
	if questionIndex != gs.CurrentQuestion {
		return &roomdto.ValidationError{Field: "question", Reason: "not the current question"}
	}

	now := g.now().UnixMilli()
	err = retry.Do(ctx, "use_power_up", retry.Standard, func(ctx context.Context) error {
		return g.store.Transact(ctx, room.PlayerPath(roomID, user.ID), func(cur []byte) ([]byte, error) {
			if cur == nil {
				return nil, roomdto.ErrPlayerNotFound
			}
			var p roomdto.Player
			if err := json.Unmarshal(cur, &p); err != nil {
				return nil, err
			}
			if p.Role == roomdto.RoleSpectator {
				return nil, &roomdto.UnauthorizedError{Action: "use power-ups as a spectator"}
			}
			st, ok := p.PowerUps[t]
			if !ok || !st.Available || st.Used {
				return nil, roomdto.ErrPowerUpUnavailable
			}
			st.Used = true
			st.UsedAt = now
			st.UsedOnQuestion = questionIndex
			p.PowerUps[t] = st
			p.LastActive = now
			return json.Marshal(&p)
		})
	})
	if err != nil {
		g.events.EmitError("use_power_up", err)
		return err
	}
	g.events.Emit(events.PowerUpUsed, events.PowerUpPayload{
		PlayerID: user.ID, Type: t, Question: questionIndex,
	})
	return nil
}

// SetPowerUpsEnabled flips power-up availability for the whole room.
// Host only. Re-enabling never resurrects a power-up that was already
// spent.
func (g *Machine) SetPowerUpsEnabled(ctx context.Context, token, roomID string, enabled bool) error {
	user, err := g.resolve(ctx, token)
	if err != nil {
		return err
	}
	r, err := g.requireHost(ctx, roomID, user.ID, "change power-up settings")
	if err != nil {
		return err
	}
	meta := *r
	meta.Settings.EnablePowerUps = enabled
	if err := g.store.Set(ctx, room.MetaPath(roomID), &meta); err != nil {
		g.events.EmitError("set_power_ups", err)
		return err
	}

	players, err := g.rooms.Players(ctx, roomID)
	if err != nil {
		return err
	}
	for id := range players {
		err := g.store.Transact(ctx, room.PlayerPath(roomID, id), func(cur []byte) ([]byte, error) {
			if cur == nil {
				return nil, rtstore.ErrAborted
			}
			var p roomdto.Player
			if err := json.Unmarshal(cur, &p); err != nil {
				return nil, err
			}
			changed := false
			for t, st := range p.PowerUps {
				want := enabled && !st.Used
				if st.Available != want {
					st.Available = want
					p.PowerUps[t] = st
					changed = true
				}
			}
			if !changed {
				return nil, rtstore.ErrAborted
			}
			return json.Marshal(&p)
		})
		if err != nil {
			g.events.EmitError("set_power_ups", err)
			return err
		}
	}

	g.events.Emit(events.RoomUpdated, events.RoomPayload{Room: meta})
	return nil
}

// PowerUps returns one player's current boost ledger.
func (g *Machine) PowerUps(ctx context.Context, roomID, playerID string) (map[roomdto.PowerUpType]roomdto.PowerUpState, error) {
	var p roomdto.Player
	err := g.store.Get(ctx, room.PlayerPath(roomID, playerID), &p)
	if errors.Is(err, rtstore.ErrNotFound) {
		return nil, roomdto.ErrPlayerNotFound
	}
	if err != nil {
		return nil, err
	}
	return p.PowerUps, nil
}

// PowerUpStats aggregates spend counts across the room, keyed by type.
func (g *Machine) PowerUpStats(ctx context.Context, roomID string) (map[roomdto.PowerUpType]int, error) {
	players, err := g.rooms.Players(ctx, roomID)
	if err != nil {
		return nil, err
	}
	used := make(map[roomdto.PowerUpType]int, len(roomdto.PowerUpTypes))
	for _, t := range roomdto.PowerUpTypes {
		used[t] = 0
	}
	for _, p := range players {
		for t, st := range p.PowerUps {
			if st.Used {
				used[t]++
			}
		}
	}
	return used, nil
}

// FiftyFiftyRemovals picks two wrong options to hide after a 50-50
// spend. With fewer than two wrong options it returns what there is.
func FiftyFiftyRemovals(q *roomdto.Question) []int {
	wrong := make([]int, 0, len(q.Options))
	for i := range q.Options {
		if i != q.Correct {
			wrong = append(wrong, i)
		}
	}
	rand.Shuffle(len(wrong), func(i, j int) { wrong[i], wrong[j] = wrong[j], wrong[i] })
	if len(wrong) > 2 {
		wrong = wrong[:2]
	}
	sort.Ints(wrong)
	return wrong
}
