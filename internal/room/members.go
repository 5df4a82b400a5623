package room

import (
	"context"
	"encoding/json"

	"github.com/quizhive/quizhive-rooms/internal/retry"
	"github.com/quizhive/quizhive-rooms/pkg/roomdto"
)

// mutatePlayer applies fn to one member record under the store's
// per-path transaction.
func (m *Manager) mutatePlayer(ctx context.Context, op, roomID, userID string, strategy retry.Strategy,
	fn func(p *roomdto.Player) error) error {
	return retry.Do(ctx, op, strategy, func(ctx context.Context) error {
		return m.store.Transact(ctx, PlayerPath(roomID, userID), func(cur []byte) ([]byte, error) {
			if cur == nil {
				return nil, roomdto.ErrPlayerNotFound
			}
			var p roomdto.Player
			if err := json.Unmarshal(cur, &p); err != nil {
				return nil, err
			}
			if err := fn(&p); err != nil {
				return nil, err
			}
			p.LastActive = m.now().UnixMilli()
			return json.Marshal(&p)
		})
	})
}

// ToggleReady flips the caller's ready flag while the room is waiting.
func (m *Manager) ToggleReady(ctx context.Context, token, roomID string) error {
	user, err := m.resolve(ctx, token)
	if err != nil {
		return err
	}
	if err := m.limiter.Allow(user.ID, "toggle_ready"); err != nil {
		return err
	}
	r, err := m.loadRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if r.Status != roomdto.RoomWaiting {
		return roomdto.ErrGameInProgress
	}
	err = m.mutatePlayer(ctx, "toggle_ready", roomID, user.ID, retry.Standard, func(p *roomdto.Player) error {
		p.Ready = !p.Ready
		return nil
	})
	if err != nil {
		return err
	}
	m.emitPlayers(ctx, roomID)
	return nil
}

// ToggleRole switches the caller between player and spectator. The host
// seat is not a togglable role; hosts use participation instead.
func (m *Manager) ToggleRole(ctx context.Context, token, roomID string) error {
	user, err := m.resolve(ctx, token)
	if err != nil {
		return err
	}
	r, err := m.loadRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if r.Status != roomdto.RoomWaiting {
		return roomdto.ErrGameInProgress
	}
	err = m.mutatePlayer(ctx, "toggle_role", roomID, user.ID, retry.Standard, func(p *roomdto.Player) error {
		switch p.Role {
		case roomdto.RolePlayer:
			p.Role = roomdto.RoleSpectator
			p.Ready = false
		case roomdto.RoleSpectator:
			p.Role = roomdto.RolePlayer
		default:
			return &roomdto.UnauthorizedError{Action: "change the host role"}
		}
		return nil
	})
	if err != nil {
		return err
	}
	m.emitPlayers(ctx, roomID)
	return nil
}

// ToggleHostParticipation flips whether the host plays the quiz or only
// runs it. Host only.
func (m *Manager) ToggleHostParticipation(ctx context.Context, token, roomID string) error {
	user, err := m.resolve(ctx, token)
	if err != nil {
		return err
	}
	if _, err := m.requireLiveHost(ctx, roomID, user.ID, "toggle host participation"); err != nil {
		return err
	}
	err = m.mutatePlayer(ctx, "toggle_host_participation", roomID, user.ID, retry.Standard, func(p *roomdto.Player) error {
		p.Participating = !p.Participating
		return nil
	})
	if err != nil {
		return err
	}
	m.emitPlayers(ctx, roomID)
	return nil
}

// ChangePlayerRole lets the host reassign a member between player and
// spectator.
func (m *Manager) ChangePlayerRole(ctx context.Context, token, roomID, targetID string, role roomdto.Role) error {
	user, err := m.resolve(ctx, token)
	if err != nil {
		return err
	}
	if _, err := m.requireLiveHost(ctx, roomID, user.ID, "change player roles"); err != nil {
		return err
	}
	if role != roomdto.RolePlayer && role != roomdto.RoleSpectator {
		return &roomdto.ValidationError{Field: "role", Reason: "must be player or spectator"}
	}
	if targetID == user.ID {
		return &roomdto.UnauthorizedError{Action: "change the host role"}
	}
	err = m.mutatePlayer(ctx, "change_player_role", roomID, targetID, retry.Standard, func(p *roomdto.Player) error {
		if p.Role == roomdto.RoleHost {
			return &roomdto.UnauthorizedError{Action: "change the host role"}
		}
		p.Role = role
		if role == roomdto.RoleSpectator {
			p.Ready = false
		}
		return nil
	})
	if err != nil {
		return err
	}
	m.emitPlayers(ctx, roomID)
	return nil
}
