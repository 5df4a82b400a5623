package room

import (
	"context"
	"sort"

	"github.com/quizhive/quizhive-rooms/internal/events"
	"github.com/quizhive/quizhive-rooms/internal/identity"
	"github.com/quizhive/quizhive-rooms/internal/obslog"
	"github.com/quizhive/quizhive-rooms/internal/retry"
	"github.com/quizhive/quizhive-rooms/internal/rtstore"
	"github.com/quizhive/quizhive-rooms/pkg/roomdto"
	"go.uber.org/zap"
)

// ElectHost picks the successor host deterministically: online members
// outside the excluded set, ordered by join time ascending, ties broken
// by player id ascending. Every node evaluating the same snapshot picks
// the same winner. Returns "" when nobody qualifies.
func ElectHost(players map[string]roomdto.Player, exclude map[string]bool) string {
	type cand struct {
		id       string
		joinedAt int64
	}
	var cands []cand
	for id, p := range players {
		if exclude[id] || !p.Online {
			continue
		}
		cands = append(cands, cand{id: id, joinedAt: p.JoinedAt})
	}
	if len(cands) == 0 {
		return ""
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].joinedAt != cands[j].joinedAt {
			return cands[i].joinedAt < cands[j].joinedAt
		}
		return cands[i].id < cands[j].id
	})
	return cands[0].id
}

// writeHostChange performs the multi-path host handoff as one atomic
// batch: meta gets the new host id, the old host's role drops to player,
// the new host's role rises to host. relinquished marks a voluntary
// handoff by the owner so reclaim stays off.
func (m *Manager) writeHostChange(ctx context.Context, r *roomdto.Room,
	players map[string]roomdto.Player, newHostID string, relinquished bool) error {

	oldHostID := r.HostID
	meta := *r
	meta.HostID = newHostID
	meta.HostRelinquished = relinquished

	writes := []rtstore.Write{{Path: MetaPath(r.ID), Value: &meta}}
	if old, ok := players[oldHostID]; ok && oldHostID != newHostID {
		// A host who was only running the game steps down to spectator,
		// a playing host steps down to player.
		if old.Participating {
			old.Role = roomdto.RolePlayer
		} else {
			old.Role = roomdto.RoleSpectator
		}
		writes = append(writes, rtstore.Write{Path: PlayerPath(r.ID, oldHostID), Value: old})
	}
	if next, ok := players[newHostID]; ok {
		next.Role = roomdto.RoleHost
		writes = append(writes, rtstore.Write{Path: PlayerPath(r.ID, newHostID), Value: next})
	}

	err := retry.Do(ctx, "host_change", retry.Critical, func(ctx context.Context) error {
		return m.store.MultiSet(ctx, writes)
	})
	if err != nil {
		return &roomdto.HostTransferError{Reason: err.Error()}
	}
	*r = meta

	// Durable mirror is best-effort and never blocks the handoff.
	if m.repo != nil {
		go func() {
			if err := m.repo.UpdateHostID(context.Background(), r.ID, newHostID, relinquished); err != nil {
				obslog.L().Warn("host_mirror_failed", zap.String("room", r.ID), zap.Error(err))
			}
		}()
	}
	m.events.Emit(events.RoomUpdated, events.RoomPayload{Room: meta})
	return nil
}

// reclaimHost puts the returning owner back in the host seat.
func (m *Manager) reclaimHost(ctx context.Context, roomID string, owner *identity.User) error {
	r, err := m.loadRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if r.HostID == owner.ID || r.HostRelinquished || r.OwnerID != owner.ID {
		return nil
	}
	players, err := m.Players(ctx, roomID)
	if err != nil {
		return err
	}
	if err := m.writeHostChange(ctx, r, players, owner.ID, false); err != nil {
		return err
	}
	m.systemChat(ctx, roomID, "room.host_reclaimed", map[string]any{"Name": owner.Name})
	m.events.Emit(events.HostMigrated, events.HostChangePayload{
		NewHostID: owner.ID, Name: owner.Name,
	})
	obslog.L().Info("host_reclaimed", zap.String("room", roomID), zap.String("owner", owner.ID))
	return nil
}

// ReclaimHost puts the calling owner back in the host seat when the
// seat drifted away involuntarily. No-op for non-owners, for owners
// already hosting, and after a voluntary handoff.
func (m *Manager) ReclaimHost(ctx context.Context, token, roomID string) error {
	user, err := m.resolve(ctx, token)
	if err != nil {
		return err
	}
	return m.reclaimHost(ctx, roomID, user)
}

// MigrateHost commits a host election after the incumbent stayed dead
// past the grace period. The caller must be the elected winner; the
// election itself is deterministic, so only one node calls this.
func (m *Manager) MigrateHost(ctx context.Context, roomID, newHostID string) error {
	r, err := m.loadRoom(ctx, roomID)
	if err != nil {
		return err
	}
	players, err := m.Players(ctx, roomID)
	if err != nil {
		return err
	}
	next, ok := players[newHostID]
	if !ok {
		return roomdto.ErrPlayerNotFound
	}
	oldHostID := r.HostID
	if err := m.writeHostChange(ctx, r, players, newHostID, false); err != nil {
		return err
	}
	m.systemChat(ctx, roomID, "room.host_migrated", map[string]any{"Name": next.Name})
	obslog.L().Info("host_migrated",
		zap.String("room", roomID),
		zap.String("from", oldHostID),
		zap.String("to", newHostID),
	)
	m.events.Emit(events.HostMigrated, events.HostChangePayload{
		OldHostID: oldHostID, NewHostID: newHostID, Name: next.Name,
	})
	m.emitPlayers(ctx, roomID)
	return nil
}

// requireLiveHost re-reads the room and checks the caller is its current
// host. Authority is always judged against the live record, never a
// cached one.
func (m *Manager) requireLiveHost(ctx context.Context, roomID, userID, action string) (*roomdto.Room, error) {
	r, err := m.loadRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if r.HostID != userID {
		return nil, &roomdto.UnauthorizedError{Action: action}
	}
	return r, nil
}

// KickPlayer removes a member. Host only; the host cannot kick itself.
func (m *Manager) KickPlayer(ctx context.Context, token, roomID, targetID string) error {
	user, err := m.resolve(ctx, token)
	if err != nil {
		return err
	}
	if err := m.limiter.Allow(user.ID, "kick_player"); err != nil {
		return err
	}
	r, err := m.requireLiveHost(ctx, roomID, user.ID, "kick players")
	if err != nil {
		return err
	}
	if targetID == user.ID {
		return &roomdto.UnauthorizedError{Action: "kick yourself"}
	}
	players, err := m.Players(ctx, roomID)
	if err != nil {
		return err
	}
	target, ok := players[targetID]
	if !ok {
		return roomdto.ErrPlayerNotFound
	}

	err = retry.Do(ctx, "kick_player", retry.Standard, func(ctx context.Context) error {
		return m.store.MultiSet(ctx, []rtstore.Write{
			{Path: PlayerPath(roomID, targetID)},
			{Path: PresencePath(roomID, targetID)},
		})
	})
	if err != nil {
		m.events.EmitError("kick_player", err)
		return err
	}

	m.systemChat(ctx, roomID, "room.player_kicked", map[string]any{"Name": target.Name})
	m.notify(ctx, targetID, "kicked", "notify.kicked_title", "notify.kicked_body", r)
	obslog.L().Info("player_kicked",
		zap.String("room", roomID),
		zap.String("by", user.ID),
		zap.String("target", targetID),
	)
	m.events.Emit(events.PlayerKicked, events.KickPayload{PlayerID: targetID, PlayerName: target.Name})
	m.emitPlayers(ctx, roomID)
	return nil
}

// TransferHost hands the host seat to another online member. When the
// owner gives the seat away the handoff is marked voluntary, which keeps
// the owner's auto-reclaim off until the seat comes back.
func (m *Manager) TransferHost(ctx context.Context, token, roomID, targetID string) error {
	user, err := m.resolve(ctx, token)
	if err != nil {
		return err
	}
	r, err := m.requireLiveHost(ctx, roomID, user.ID, "transfer host")
	if err != nil {
		return err
	}
	if targetID == user.ID {
		return &roomdto.HostTransferError{Reason: "already the host"}
	}
	players, err := m.Players(ctx, roomID)
	if err != nil {
		return err
	}
	target, ok := players[targetID]
	if !ok {
		return roomdto.ErrPlayerNotFound
	}
	if !target.Online {
		return &roomdto.HostTransferError{Reason: "target is offline"}
	}

	relinquished := user.ID == r.OwnerID
	if err := m.writeHostChange(ctx, r, players, targetID, relinquished); err != nil {
		return err
	}

	m.systemChat(ctx, roomID, "room.host_transferred", map[string]any{"Name": target.Name})
	m.notify(ctx, targetID, "host_granted", "notify.host_title", "notify.host_body", r)
	obslog.L().Info("host_transferred",
		zap.String("room", roomID),
		zap.String("from", user.ID),
		zap.String("to", targetID),
	)
	m.events.Emit(events.HostTransferred, events.HostChangePayload{
		OldHostID: user.ID, NewHostID: targetID, Name: target.Name,
	})
	m.emitPlayers(ctx, roomID)
	return nil
}

func (m *Manager) notify(ctx context.Context, userID, kind, titleKey, bodyKey string, r *roomdto.Room) {
	if m.repo == nil {
		return
	}
	title, err := m.cat.Render(titleKey, nil)
	if err != nil {
		obslog.L().Warn("template_render_failed", zap.String("key", titleKey), zap.Error(err))
		return
	}
	body, err := m.cat.Render(bodyKey, map[string]any{"Room": r.Name})
	if err != nil {
		obslog.L().Warn("template_render_failed", zap.String("key", bodyKey), zap.Error(err))
		return
	}
	n := &roomdto.Notification{
		UserID:   userID,
		Type:     kind,
		Title:    title,
		Message:  body,
		RoomID:   r.ID,
		RoomName: r.Name,
		SentAt:   m.now().UnixMilli(),
	}
	if err := m.repo.SaveNotification(ctx, n); err != nil {
		obslog.L().Warn("notification_save_failed", zap.String("user", userID), zap.Error(err))
	}
}
