package chat

import "time"

// StoredMessage is a chat message after the gateway has assigned its id
// and authoritative send time.
type StoredMessage struct {
	ID       int       `json:"id"`
	RoomID   int       `json:"room_id"`
	UserID   int       `json:"user_id"`
	Username string    `json:"username,omitempty"`
	Content  string    `json:"content"`
	SentAt   time.Time `json:"sent_at"`
}

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)
