package roomdto

// MessageType separates player chatter from engine announcements.
type MessageType string

const (
	MessageUser   MessageType = "user"
	MessageSystem MessageType = "system"
)

// ChatMessage lives at rooms/<id>/chat/<msgid>.
type ChatMessage struct {
	ID         string      `json:"id"`
	Type       MessageType `json:"type"`
	SenderID   string      `json:"sender_id"`
	SenderName string      `json:"sender_name"`
	Content    string      `json:"content"`
	SentAt     int64       `json:"sent_at"`
}

// SharedResourceType limits what the host may put on the shared screen.
type SharedResourceType string

const (
	SharedEmpty   SharedResourceType = "empty"
	SharedVideo   SharedResourceType = "video"
	SharedWebpage SharedResourceType = "webpage"
)

// SharedResource lives at rooms/<id>/shared and is host-controlled.
type SharedResource struct {
	Type      SharedResourceType `json:"type"`
	URL       string             `json:"url,omitempty"`
	Title     string             `json:"title,omitempty"`
	UpdatedAt int64              `json:"updated_at,omitempty"`
	UpdatedBy string             `json:"updated_by,omitempty"`
}

// Notification is a best-effort durable notice for a user (kicked,
// made host). Failures to deliver never block the primary operation.
type Notification struct {
	UserID   string `json:"user_id"`
	Type     string `json:"type"`
	Title    string `json:"title"`
	Message  string `json:"message"`
	RoomID   string `json:"room_id"`
	RoomName string `json:"room_name"`
	SentAt   int64  `json:"sent_at"`
}
