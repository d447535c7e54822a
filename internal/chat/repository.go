package chat

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

// Repository is the Postgres-backed persistence gateway for chat messages.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// CreateMessage durably stores a message. The id and sent_at returned are
// generated by the database.
func (r *Repository) CreateMessage(ctx context.Context, roomID, userID int, content string) (*StoredMessage, error) {
	msg := &StoredMessage{RoomID: roomID, UserID: userID, Content: content}
	query := `
		INSERT INTO chat_messages (room_id, user_id, content)
		VALUES ($1, $2, $3)
		RETURNING id, sent_at`

	if err := r.db.QueryRowContext(ctx, query, roomID, userID, content).Scan(&msg.ID, &msg.SentAt); err != nil {
		return nil, errors.Wrapf(err, "insert message into room %d", roomID)
	}
	msg.SentAt = msg.SentAt.UTC()
	return msg, nil
}

// ListMessages returns a room's messages newest first.
func (r *Repository) ListMessages(ctx context.Context, roomID, limit, offset int) ([]*StoredMessage, error) {
	query := `
		SELECT m.id, m.room_id, m.user_id, u.username, m.content, m.sent_at
		FROM chat_messages m
		JOIN users u ON m.user_id = u.id
		WHERE m.room_id = $1
		ORDER BY m.sent_at DESC, m.id DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.QueryContext(ctx, query, roomID, limit, offset)
	if err != nil {
		return nil, errors.Wrapf(err, "list messages for room %d", roomID)
	}
	defer rows.Close()

	messages := make([]*StoredMessage, 0, limit)
	for rows.Next() {
		msg := &StoredMessage{}
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.UserID, &msg.Username, &msg.Content, &msg.SentAt); err != nil {
			return nil, errors.Wrap(err, "scan message")
		}
		msg.SentAt = msg.SentAt.UTC()
		messages = append(messages, msg)
	}
	return messages, errors.Wrap(rows.Err(), "iterate messages")
}
