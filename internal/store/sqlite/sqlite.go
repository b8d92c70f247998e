package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/wiresync/internal/store"
)

// Schema creates the tables used by the store. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS messages (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	room_id TEXT    NOT NULL,
	sender  TEXT    NOT NULL,
	content TEXT    NOT NULL,
	sent_at INTEGER NOT NULL,
	UNIQUE (room_id, sender, sent_at, content)
);
CREATE INDEX IF NOT EXISTS idx_messages_room_sent ON messages (room_id, sent_at);
`

// ApplySchema runs Schema on db.
func ApplySchema(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ store.Store = (*SQLiteStore)(nil)

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, ApplySchema)
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply a custom schema.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; it also keeps an
	// in-memory database alive for the store's lifetime.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveMessage persists a message, ignoring exact duplicates.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *store.Message) (bool, error) {
	query := `
		INSERT OR IGNORE INTO messages (room_id, sender, content, sent_at)
		VALUES (?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, msg.RoomID, msg.Sender, msg.Content, msg.SentAt.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	id, err := result.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("get last insert id: %w", err)
	}
	msg.ID = id
	return true, nil
}

// ListMessages returns the newest limit messages of a room, oldest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, roomID string, limit int) ([]*store.Message, error) {
	query := `
		SELECT id, room_id, sender, content, sent_at
		FROM messages
		WHERE room_id = ?
		ORDER BY sent_at DESC, id DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		var (
			msg    store.Message
			sentAt int64
		)
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.Sender, &msg.Content, &sentAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.SentAt = time.UnixMilli(sentAt)
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	// Reverse to get chronological order
	slices.Reverse(messages)
	return messages, nil
}

// TrimMessages keeps only the newest keep messages of a room.
func (s *SQLiteStore) TrimMessages(ctx context.Context, roomID string, keep int) error {
	query := `
		DELETE FROM messages
		WHERE room_id = ? AND id NOT IN (
			SELECT id FROM messages
			WHERE room_id = ?
			ORDER BY sent_at DESC, id DESC
			LIMIT ?
		)
	`
	if _, err := s.db.ExecContext(ctx, query, roomID, roomID, keep); err != nil {
		return fmt.Errorf("trim messages: %w", err)
	}
	return nil
}

// ClearMessages deletes every message of a room.
func (s *SQLiteStore) ClearMessages(ctx context.Context, roomID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE room_id = ?`, roomID); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	return nil
}
