package messagestore

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"campus-messaging/internal/domain/chat"
)

// Repository persists messages.
type Repository interface {
	Query(ctx context.Context, q chat.MessageQuery) ([]chat.Message, error)
	Insert(ctx context.Context, m chat.Message) (chat.Message, error)
}

// Broker distributes stored messages to live subscribers.
type Broker interface {
	Publish(ctx context.Context, m chat.Message) error
	Subscribe(ctx context.Context, filter chat.SubscriptionFilter, fn func(chat.Message)) (chat.Subscription, error)
}

// Options tune Store behaviour.
type Options struct {
	// OwnsClock makes the store stamp SentAt at write time, replacing the
	// client-assigned value.
	OwnsClock   bool
	CallTimeout time.Duration
	Now         func() time.Time
	Logger      *slog.Logger
}

// Store implements chat.MessageStore on top of a Repository and a Broker.
type Store struct {
	repo        Repository
	broker      Broker
	ownsClock   bool
	callTimeout time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// New builds a Store.
func New(repo Repository, broker Broker, opts Options) *Store {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Store{
		repo:        repo,
		broker:      broker,
		ownsClock:   opts.OwnsClock,
		callTimeout: timeout,
		now:         now,
		logger:      opts.Logger,
	}
}

// QueryMessages returns matching messages ordered by (SentAt, ID).
func (s *Store) QueryMessages(ctx context.Context, q chat.MessageQuery) ([]chat.Message, error) {
	callCtx, cancel := s.wrapCall(ctx)
	defer cancel()
	messages, err := s.repo.Query(callCtx, q)
	if err != nil {
		return nil, err
	}
	chat.SortMessages(messages)
	return messages, nil
}

// InsertMessage persists m and publishes the stored row to subscribers.
func (s *Store) InsertMessage(ctx context.Context, m chat.Message) (chat.Message, error) {
	m.SenderID = strings.TrimSpace(m.SenderID)
	m.ReceiverID = strings.TrimSpace(m.ReceiverID)
	m.ListingID = strings.TrimSpace(m.ListingID)
	if m.SenderID == "" || m.ReceiverID == "" || m.ListingID == "" {
		return chat.Message{}, chat.ErrMissingParty
	}
	if s.ownsClock || m.SentAt.IsZero() {
		m.SentAt = s.now()
	}
	m.SentAt = m.SentAt.UTC()
	m.ID = ""

	callCtx, cancel := s.wrapCall(ctx)
	defer cancel()
	stored, err := s.repo.Insert(callCtx, m)
	if err != nil {
		return chat.Message{}, err
	}
	// The row is durable at this point; a failed publish only delays live
	// delivery until the next history fetch.
	if err := s.broker.Publish(callCtx, stored); err != nil && s.logger != nil {
		s.logger.Warn("publish stored message failed", "error", err, "message_id", stored.ID, "listing_id", stored.ListingID)
	}
	return stored, nil
}

// SubscribeInserts registers fn for stored messages matching filter.
func (s *Store) SubscribeInserts(ctx context.Context, filter chat.SubscriptionFilter, fn func(chat.Message)) (chat.Subscription, error) {
	if fn == nil {
		return nil, &chat.SubscriptionError{Err: errors.New("nil callback")}
	}
	callCtx, cancel := s.wrapCall(ctx)
	defer cancel()
	return s.broker.Subscribe(callCtx, filter, fn)
}

func (s *Store) wrapCall(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.callTimeout)
}

var _ chat.MessageStore = (*Store)(nil)
