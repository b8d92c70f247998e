package store

import (
	"context"
	"time"
)

// Message is a persisted chat message.
type Message struct {
	ID      int64
	RoomID  string
	Sender  string
	Content string
	SentAt  time.Time
}

// MessageStore keeps the local copy of room message windows.
type MessageStore interface {
	// SaveMessage persists a message unless an identical one (same room,
	// sender, timestamp and content) is already stored. It reports whether
	// a row was inserted.
	SaveMessage(ctx context.Context, msg *Message) (bool, error)

	// ListMessages returns the newest limit messages of a room in
	// chronological order.
	ListMessages(ctx context.Context, roomID string, limit int) ([]*Message, error)

	// TrimMessages deletes all but the newest keep messages of a room.
	TrimMessages(ctx context.Context, roomID string, keep int) error

	// ClearMessages deletes every message of a room.
	ClearMessages(ctx context.Context, roomID string) error
}

// Store aggregates all storage interfaces.
type Store interface {
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
