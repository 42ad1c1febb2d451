package chat

import "context"

// MessageStore is the boundary with the message backend.
type MessageStore interface {
	// QueryMessages returns matching messages ordered by (SentAt, ID) ascending.
	QueryMessages(ctx context.Context, q MessageQuery) ([]Message, error)
	// InsertMessage stores m and returns the stored row with its assigned ID.
	// A failed insert writes nothing.
	InsertMessage(ctx context.Context, m Message) (Message, error)
	// SubscribeInserts delivers every stored message matching filter at least
	// once. Deliveries for one subscription are sequential.
	SubscribeInserts(ctx context.Context, filter SubscriptionFilter, fn func(Message)) (Subscription, error)
}

// Subscription is a live insert feed handle.
type Subscription interface {
	// Close stops delivery; fn is not called after Close returns.
	Close() error
	// Dropped is closed when the channel is lost without Close being called.
	Dropped() <-chan struct{}
	// Err explains why the subscription dropped.
	Err() error
}

// Directory resolves display names in batches.
type Directory interface {
	DisplayNames(ctx context.Context, kind EntityKind, ids []string) (map[string]string, error)
}
