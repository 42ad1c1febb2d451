// Package chattest provides an in-process chat.MessageStore with failure
// injection for tests.
package chattest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"campus-messaging/internal/domain/chat"
)

// Store is a synchronous fake: inserts and Deliver call subscribers on the
// calling goroutine.
type Store struct {
	mu       sync.Mutex
	messages []chat.Message
	subs     map[int]*Subscription
	nextSub  int
	nextID   int

	queryErr     error
	insertErr    error
	subscribeErr error
	queryGate    chan struct{}

	queries    int
	inserts    int
	subscribes int
}

// NewStore builds an empty fake seeded with messages.
func NewStore(seed ...chat.Message) *Store {
	s := &Store{subs: make(map[int]*Subscription)}
	s.messages = append(s.messages, seed...)
	return s
}

// FailQueries makes QueryMessages return err (nil clears it).
func (s *Store) FailQueries(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryErr = err
}

// FailInserts makes InsertMessage return err (nil clears it).
func (s *Store) FailInserts(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertErr = err
}

// FailSubscribes makes SubscribeInserts return err (nil clears it).
func (s *Store) FailSubscribes(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribeErr = err
}

// GateQueries makes QueryMessages block until the returned channel is closed or
// the call context ends.
func (s *Store) GateQueries() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryGate = make(chan struct{})
	return s.queryGate
}

// Seed stores messages without notifying subscribers.
func (s *Store) Seed(messages ...chat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, messages...)
}

// QueryMessages implements chat.MessageStore.
func (s *Store) QueryMessages(ctx context.Context, q chat.MessageQuery) ([]chat.Message, error) {
	s.mu.Lock()
	s.queries++
	gate, err := s.queryGate, s.queryErr
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	out := make([]chat.Message, 0)
	for _, m := range s.messages {
		if q.Matches(m) {
			out = append(out, m)
		}
	}
	s.mu.Unlock()
	chat.SortMessages(out)
	return out, nil
}

// InsertMessage implements chat.MessageStore; ids are "msg-N".
func (s *Store) InsertMessage(ctx context.Context, m chat.Message) (chat.Message, error) {
	s.mu.Lock()
	s.inserts++
	if s.insertErr != nil {
		err := s.insertErr
		s.mu.Unlock()
		return chat.Message{}, err
	}
	s.nextID++
	m.ID = fmt.Sprintf("msg-%d", s.nextID)
	if m.SentAt.IsZero() {
		m.SentAt = time.Now().UTC()
	}
	s.messages = append(s.messages, m)
	s.mu.Unlock()

	s.Deliver(m)
	return m, nil
}

// SubscribeInserts implements chat.MessageStore.
func (s *Store) SubscribeInserts(ctx context.Context, filter chat.SubscriptionFilter, fn func(chat.Message)) (chat.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribes++
	if s.subscribeErr != nil {
		return nil, s.subscribeErr
	}
	s.nextSub++
	sub := &Subscription{
		id:      s.nextSub,
		store:   s,
		filter:  filter,
		fn:      fn,
		dropped: make(chan struct{}),
	}
	s.subs[sub.id] = sub
	return sub, nil
}

// Deliver pushes m to matching subscribers without storing it, which is how
// tests simulate duplicate or reordered at-least-once deliveries.
func (s *Store) Deliver(m chat.Message) {
	for _, sub := range s.active() {
		if sub.filter.Matches(m) {
			sub.deliver(m)
		}
	}
}

// DropSubscriptions drops every live subscription with err.
func (s *Store) DropSubscriptions(err error) {
	for _, sub := range s.active() {
		sub.drop(err)
	}
}

// ActiveSubscriptions counts subscriptions not yet closed or dropped.
func (s *Store) ActiveSubscriptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Calls returns the number of query, insert and subscribe calls seen.
func (s *Store) Calls() (queries, inserts, subscribes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries, s.inserts, s.subscribes
}

func (s *Store) active() []*Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, sub)
	}
	return out
}

func (s *Store) remove(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
}

// Subscription is the fake's chat.Subscription.
type Subscription struct {
	id     int
	store  *Store
	filter chat.SubscriptionFilter
	fn     func(chat.Message)

	mu      sync.Mutex
	done    bool
	err     error
	dropped chan struct{}
}

func (s *Subscription) deliver(m chat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.fn(m)
}

// Close implements chat.Subscription.
func (s *Subscription) Close() error {
	s.store.remove(s.id)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
	return nil
}

// Dropped implements chat.Subscription.
func (s *Subscription) Dropped() <-chan struct{} { return s.dropped }

// Err implements chat.Subscription.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) drop(err error) {
	s.store.remove(s.id)
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.err = &chat.SubscriptionError{Err: err}
	s.mu.Unlock()
	close(s.dropped)
}

var _ chat.MessageStore = (*Store)(nil)
