package room

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/quizhive/quizhive-rooms/internal/events"
	"github.com/quizhive/quizhive-rooms/internal/obslog"
	"github.com/quizhive/quizhive-rooms/internal/rtstore"
	"github.com/quizhive/quizhive-rooms/pkg/roomdto"
	"go.uber.org/zap"
)

// WatchRoom subscribes to every document under the room and translates
// store notifications into typed events, so changes made by other nodes
// reach this node's listeners the same way local ones do. Close the
// returned subscription to stop watching.
func (m *Manager) WatchRoom(ctx context.Context, roomID string) (*rtstore.Subscription, error) {
	prefix := RoomPath(roomID)
	return m.store.SubscribeTree(ctx, prefix, func(path string, data []byte) {
		rel := strings.TrimPrefix(path, prefix)
		rel = strings.TrimPrefix(rel, "/")
		m.dispatch(ctx, roomID, rel, data)
	})
}

func (m *Manager) dispatch(ctx context.Context, roomID, rel string, data []byte) {
	switch {
	case rel == "meta":
		if data == nil {
			return
		}
		var r roomdto.Room
		if err := json.Unmarshal(data, &r); err != nil {
			obslog.L().Warn("watch_decode_failed", zap.String("path", rel), zap.Error(err))
			return
		}
		m.events.Emit(events.RoomUpdated, events.RoomPayload{Room: r})

	case rel == "gamestate":
		if data == nil {
			return
		}
		var gs roomdto.GameState
		if err := json.Unmarshal(data, &gs); err != nil {
			obslog.L().Warn("watch_decode_failed", zap.String("path", rel), zap.Error(err))
			return
		}
		m.events.Emit(events.GameUpdated, events.GamePayload{State: gs})

	case rel == "shared":
		if data == nil {
			return
		}
		var res roomdto.SharedResource
		if err := json.Unmarshal(data, &res); err != nil {
			obslog.L().Warn("watch_decode_failed", zap.String("path", rel), zap.Error(err))
			return
		}
		m.events.Emit(events.SharedUpdated, events.SharedPayload{Resource: res})

	case strings.HasPrefix(rel, "players/"), strings.HasPrefix(rel, "presence/"):
		// Individual member records change often; coalesce into one
		// snapshot read per notification.
		m.emitPlayers(ctx, roomID)

	case strings.HasPrefix(rel, "chat/"):
		if data == nil {
			return
		}
		var msg roomdto.ChatMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			obslog.L().Warn("watch_decode_failed", zap.String("path", rel), zap.Error(err))
			return
		}
		m.events.Emit(events.ChatMessage, events.ChatPayload{Message: msg})
	}
}
