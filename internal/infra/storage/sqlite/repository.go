package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"campus-messaging/internal/domain/chat"
)

// ErrDuplicateMessage is returned when an insert reuses a stored id.
var ErrDuplicateMessage = errors.New("sqlite: duplicate message id")

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	listing_id TEXT NOT NULL,
	sender_id TEXT NOT NULL,
	receiver_id TEXT NOT NULL,
	body TEXT NOT NULL,
	sent_at INTEGER NOT NULL,
	read_count INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_messages_listing ON messages(listing_id, sent_at, id);
CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender_id, sent_at);
CREATE INDEX IF NOT EXISTS idx_messages_receiver ON messages(receiver_id, sent_at);
`

// Open opens the database at path and prepares it for concurrent use.
func Open(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return conn, nil
}

// InitSchema creates the messages table and its indexes.
func InitSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// MessageRepository stores messages in a single SQLite table.
type MessageRepository struct {
	db *sql.DB
}

// NewMessageRepository builds a repository on a database with the schema applied.
func NewMessageRepository(db *sql.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Query returns matching messages ordered by (SentAt, ID). Listing and
// participant are pushed into SQL; pairs are checked in Go.
func (r *MessageRepository) Query(ctx context.Context, q chat.MessageQuery) ([]chat.Message, error) {
	var (
		where []string
		args  []any
	)
	if q.ListingID != "" {
		where = append(where, "listing_id = ?")
		args = append(args, q.ListingID)
	}
	if q.Participant != "" {
		where = append(where, "(sender_id = ? OR receiver_id = ?)")
		args = append(args, q.Participant, q.Participant)
	}
	stmt := "SELECT id, listing_id, sender_id, receiver_id, body, sent_at, read_count FROM messages"
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	stmt += " ORDER BY sent_at ASC, id ASC"

	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]chat.Message, 0)
	for rows.Next() {
		var (
			m      chat.Message
			sentAt int64
		)
		if err := rows.Scan(&m.ID, &m.ListingID, &m.SenderID, &m.ReceiverID, &m.Body, &sentAt, &m.ReadCount); err != nil {
			return nil, err
		}
		m.SentAt = time.Unix(0, sentAt).UTC()
		if q.Matches(m) {
			out = append(out, m)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Insert stores m, assigning an id when it has none.
func (r *MessageRepository) Insert(ctx context.Context, m chat.Message) (chat.Message, error) {
	m.ID = strings.TrimSpace(m.ID)
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.SentAt.IsZero() {
		m.SentAt = time.Now()
	}
	m.SentAt = m.SentAt.UTC()

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO messages (id, listing_id, sender_id, receiver_id, body, sent_at, read_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		m.ID, m.ListingID, m.SenderID, m.ReceiverID, m.Body, m.SentAt.UnixNano(), m.ReadCount,
	)
	if err != nil {
		return chat.Message{}, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return chat.Message{}, ErrDuplicateMessage
	}
	return m, nil
}
