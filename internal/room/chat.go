package room

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/quizhive/quizhive-rooms/internal/events"
	"github.com/quizhive/quizhive-rooms/internal/retry"
	"github.com/quizhive/quizhive-rooms/pkg/roomdto"
)

// SendChatMessage appends a user message to the room's chat log.
func (m *Manager) SendChatMessage(ctx context.Context, token, roomID, content string) (*roomdto.ChatMessage, error) {
	user, err := m.resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := m.limiter.Allow(user.ID, "send_message"); err != nil {
		return nil, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, &roomdto.ValidationError{Field: "content", Reason: "empty message"}
	}
	if len(content) > chatMaxLen {
		return nil, &roomdto.ValidationError{Field: "content", Reason: "message too long"}
	}
	players, err := m.Players(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if _, ok := players[user.ID]; !ok {
		return nil, roomdto.ErrPlayerNotFound
	}

	msg := roomdto.ChatMessage{
		ID:         uuid.NewString(),
		Type:       roomdto.MessageUser,
		SenderID:   user.ID,
		SenderName: user.Name,
		Content:    content,
		SentAt:     m.now().UnixMilli(),
	}
	err = retry.Do(ctx, "send_message", retry.NonCritical, func(ctx context.Context) error {
		return m.store.Set(ctx, ChatMessagePath(roomID, msg.ID), msg)
	})
	if err != nil {
		m.events.EmitError("send_message", err)
		return nil, err
	}
	m.events.Emit(events.ChatMessage, events.ChatPayload{Message: msg})
	return &msg, nil
}

// UpdateSharedResource puts a video or webpage on the shared screen, or
// clears it. Host only.
func (m *Manager) UpdateSharedResource(ctx context.Context, token, roomID string, res roomdto.SharedResource) error {
	user, err := m.resolve(ctx, token)
	if err != nil {
		return err
	}
	if err := m.limiter.Allow(user.ID, "update_shared"); err != nil {
		return err
	}
	if _, err := m.requireLiveHost(ctx, roomID, user.ID, "update the shared resource"); err != nil {
		return err
	}
	switch res.Type {
	case roomdto.SharedEmpty:
		res.URL = ""
		res.Title = ""
	case roomdto.SharedVideo, roomdto.SharedWebpage:
		u := strings.TrimSpace(res.URL)
		if u == "" {
			return &roomdto.ValidationError{Field: "url", Reason: "required"}
		}
		if !strings.HasPrefix(u, "https://") && !strings.HasPrefix(u, "http://") {
			return &roomdto.ValidationError{Field: "url", Reason: "must be http(s)"}
		}
		res.URL = u
	default:
		return &roomdto.ValidationError{Field: "type", Reason: "unknown resource type"}
	}
	res.UpdatedAt = m.now().UnixMilli()
	res.UpdatedBy = user.ID

	err = retry.Do(ctx, "update_shared", retry.Standard, func(ctx context.Context) error {
		return m.store.Set(ctx, SharedPath(roomID), res)
	})
	if err != nil {
		m.events.EmitError("update_shared", err)
		return err
	}
	m.events.Emit(events.SharedUpdated, events.SharedPayload{Resource: res})
	return nil
}
