package roomdto

import "time"

// RoomStatus is the lifecycle state of a room.
type RoomStatus string

const (
	RoomWaiting  RoomStatus = "waiting"
	RoomPlaying  RoomStatus = "playing"
	RoomFinished RoomStatus = "finished"
)

// RoomSettings are host-editable knobs copied into the room at creation.
type RoomSettings struct {
	TimePerQuestion int  `json:"time_per_question"`
	ShowLeaderboard bool `json:"show_leaderboard"`
	AllowLateJoin   bool `json:"allow_late_join"`
	EnablePowerUps  bool `json:"enable_power_ups"`
}

// Room is the ephemeral room record stored at rooms/<id>/meta.
// OwnerID is set once at creation and never changes; HostID names the
// player currently in control and may move over the room's life.
type Room struct {
	ID         string     `json:"id"`
	Code       string     `json:"code"`
	Name       string     `json:"name"`
	QuizID     string     `json:"quiz_id"`
	OwnerID    string     `json:"owner_id"`
	HostID     string     `json:"host_id"`
	MaxPlayers int        `json:"max_players"`
	IsPrivate  bool       `json:"is_private"`
	Status     RoomStatus `json:"status"`

	PasswordHash    string `json:"password_hash,omitempty"`
	PasswordSalt    string `json:"password_salt,omitempty"`
	PasswordVersion int    `json:"password_version,omitempty"`

	// HostRelinquished is set when the owner hands host away on purpose,
	// so the presence coordinator does not auto-reclaim it back.
	HostRelinquished bool `json:"host_relinquished,omitempty"`

	Settings  RoomSettings `json:"settings"`
	CreatedAt time.Time    `json:"created_at"`
}
