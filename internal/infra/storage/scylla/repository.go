package scylla

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gocql/gocql"

	"campus-messaging/internal/domain/chat"
)

const (
	tableByListing = "messages_by_listing"
	tableByUser    = "messages_by_user"
)

var (
	errNoSession = errors.New("scylla session not initialized")
	// ErrUnboundedQuery is returned for a query naming neither a listing nor a
	// participant; both tables need a partition key.
	ErrUnboundedQuery = errors.New("scylla: query needs a listing or a participant")
)

// MessageRepository stores messages in two denormalized tables: one partitioned
// by listing for thread history, one by user for inbox loads. Reads and writes
// run at the same consistency so a caller always reads its own inserts when
// that level is QUORUM or stronger.
type MessageRepository struct {
	session     *gocql.Session
	consistency gocql.Consistency
	logger      *slog.Logger
}

// NewMessageRepository builds a repository on an open session. consistency is
// normally the SCYLLA_CONSISTENCY the session was created with.
func NewMessageRepository(session *gocql.Session, consistency gocql.Consistency, logger *slog.Logger) *MessageRepository {
	return &MessageRepository{session: session, consistency: consistency, logger: logger}
}

// Query reads the partition chosen by q and narrows it with q.Matches.
func (r *MessageRepository) Query(ctx context.Context, q chat.MessageQuery) ([]chat.Message, error) {
	if r.session == nil {
		return nil, errNoSession
	}
	stmt, key, err := selectFor(q)
	if err != nil {
		return nil, err
	}
	iter := r.session.Query(stmt, key).
		WithContext(ctx).
		Consistency(r.consistency).
		Iter()

	var (
		listingID  string
		sentAt     time.Time
		messageID  gocql.UUID
		senderID   string
		receiverID string
		body       string
		readCount  int
	)
	out := make([]chat.Message, 0)
	for iter.Scan(&listingID, &sentAt, &messageID, &senderID, &receiverID, &body, &readCount) {
		m := chat.Message{
			ID:         messageID.String(),
			SenderID:   senderID,
			ReceiverID: receiverID,
			ListingID:  listingID,
			Body:       body,
			SentAt:     sentAt.UTC(),
			ReadCount:  readCount,
		}
		if q.Matches(m) {
			out = append(out, m)
		}
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	chat.SortMessages(out)
	return out, nil
}

// Insert writes m to both tables in one logged batch. The id is a time UUID
// minted here unless m carries a valid one.
func (r *MessageRepository) Insert(ctx context.Context, m chat.Message) (chat.Message, error) {
	if r.session == nil {
		return chat.Message{}, errNoSession
	}
	id, err := messageID(m.ID)
	if err != nil {
		return chat.Message{}, err
	}
	if m.SentAt.IsZero() {
		m.SentAt = time.Now()
	}
	// Scylla timestamps keep milliseconds; store what will be read back.
	m.SentAt = m.SentAt.UTC().Truncate(time.Millisecond)
	m.ID = id.String()

	batch := r.insertBatch(r.session.NewBatch(gocql.LoggedBatch).WithContext(ctx), m, id)
	if err := r.session.ExecuteBatch(batch); err != nil {
		if r.logger != nil {
			r.logger.Error("scylla insert failed", "listing_id", m.ListingID, "error", err)
		}
		return chat.Message{}, err
	}
	return m, nil
}

// insertBatch fills b with the rows for m in every table.
func (r *MessageRepository) insertBatch(b *gocql.Batch, m chat.Message, id gocql.UUID) *gocql.Batch {
	b.SetConsistency(r.consistency)
	b.Query(
		fmt.Sprintf(`INSERT INTO %s (listing_id, sent_at, message_id, sender_id, receiver_id, body, read_count) VALUES (?, ?, ?, ?, ?, ?, ?)`, tableByListing),
		m.ListingID, m.SentAt, id, m.SenderID, m.ReceiverID, m.Body, m.ReadCount,
	)
	for _, user := range uniqueUsers(m.SenderID, m.ReceiverID) {
		b.Query(
			fmt.Sprintf(`INSERT INTO %s (user_id, listing_id, sent_at, message_id, sender_id, receiver_id, body, read_count) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, tableByUser),
			user, m.ListingID, m.SentAt, id, m.SenderID, m.ReceiverID, m.Body, m.ReadCount,
		)
	}
	return b
}

// selectFor picks the table whose partition key q binds. Listing wins because
// its partition is the narrower one for a thread.
func selectFor(q chat.MessageQuery) (string, string, error) {
	const columns = "listing_id, sent_at, message_id, sender_id, receiver_id, body, read_count"
	switch {
	case strings.TrimSpace(q.ListingID) != "":
		return fmt.Sprintf(`SELECT %s FROM %s WHERE listing_id = ?`, columns, tableByListing), q.ListingID, nil
	case strings.TrimSpace(q.Participant) != "":
		return fmt.Sprintf(`SELECT %s FROM %s WHERE user_id = ?`, columns, tableByUser), q.Participant, nil
	default:
		return "", "", ErrUnboundedQuery
	}
}

func messageID(raw string) (gocql.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return gocql.TimeUUID(), nil
	}
	id, err := gocql.ParseUUID(raw)
	if err != nil {
		return gocql.UUID{}, fmt.Errorf("scylla: invalid message id %q: %w", raw, err)
	}
	return id, nil
}

func uniqueUsers(a, b string) []string {
	if a == b {
		return []string{a}
	}
	return []string{a, b}
}
