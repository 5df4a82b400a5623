package events

import (
	"github.com/quizhive/quizhive-rooms/pkg/roomdto"
)

// Type enumerates the closed set of events the engine raises toward the
// UI layer. Each type has exactly one payload shape.
type Type string

const (
	RoomUpdated     Type = "room:updated"
	PlayersUpdated  Type = "players:updated"
	GameUpdated     Type = "game:updated"
	SharedUpdated   Type = "shared:updated"
	ChatMessage     Type = "chat:message"
	PlayerKicked    Type = "player:kicked"
	HostMigrated    Type = "host:migrated"
	HostTransferred Type = "host:transferred"
	PauseRequested  Type = "game:pause_requested"
	PowerUpUsed     Type = "game:power_up_used"
	Error           Type = "error"
)

// Payload structs, one per event type.

type RoomPayload struct {
	Room roomdto.Room
}

type PlayersPayload struct {
	Players map[string]roomdto.Player
}

type GamePayload struct {
	State roomdto.GameState
}

type SharedPayload struct {
	Resource roomdto.SharedResource
}

type ChatPayload struct {
	Message roomdto.ChatMessage
}

type KickPayload struct {
	PlayerID   string
	PlayerName string
}

type HostChangePayload struct {
	OldHostID string
	NewHostID string
	Name      string
}

type PausePayload struct {
	Request roomdto.PauseRequest
}

type PowerUpPayload struct {
	PlayerID string
	Type     roomdto.PowerUpType
	Question int
}

type ErrorPayload struct {
	Op  string
	Err error
}
