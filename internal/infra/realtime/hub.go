package realtime

import (
	"context"
	"log/slog"
	"sync"

	"campus-messaging/internal/domain/chat"
)

const defaultBuffer = 256

// Hub fans stored messages out to in-process subscribers. Each subscriber has a
// bounded queue drained by its own goroutine, so one slow consumer never blocks
// Publish; a subscriber whose queue overflows is dropped with
// chat.ErrSubscriberStall instead of silently losing messages.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscription
	nextID uint64
	buffer int
	closed bool
	logger *slog.Logger
}

// NewHub builds a hub with per-subscriber queues of the given size.
func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		subs:   make(map[uint64]*subscription),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe registers fn for messages matching filter.
func (h *Hub) Subscribe(ctx context.Context, filter chat.SubscriptionFilter, fn func(chat.Message)) (chat.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, &chat.SubscriptionError{Err: err}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, &chat.SubscriptionError{Err: chat.ErrStoreClosed}
	}
	h.nextID++
	sub := &subscription{
		id:      h.nextID,
		hub:     h,
		filter:  filter,
		fn:      fn,
		queue:   make(chan chat.Message, h.buffer),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		dropped: make(chan struct{}),
	}
	h.subs[sub.id] = sub
	go sub.run()
	return sub, nil
}

// Publish queues m for every matching subscriber without blocking.
func (h *Hub) Publish(_ context.Context, m chat.Message) error {
	var stalled []*subscription
	h.mu.RLock()
	for _, sub := range h.subs {
		if !sub.filter.Matches(m) {
			continue
		}
		select {
		case sub.queue <- m:
		default:
			stalled = append(stalled, sub)
		}
	}
	h.mu.RUnlock()
	for _, sub := range stalled {
		if h.logger != nil {
			h.logger.Warn("realtime subscriber stalled, dropping", "subscription", sub.id, "listing_id", sub.filter.ListingID)
		}
		sub.drop(chat.ErrSubscriberStall)
	}
	return nil
}

// DropAll drops every subscriber with err, e.g. when the upstream channel is lost.
func (h *Hub) DropAll(err error) {
	h.mu.RLock()
	subs := make([]*subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()
	for _, sub := range subs {
		sub.drop(err)
	}
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close drops all subscribers and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.DropAll(chat.ErrStoreClosed)
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

type subscription struct {
	id     uint64
	hub    *Hub
	filter chat.SubscriptionFilter
	fn     func(chat.Message)

	queue   chan chat.Message
	stop    chan struct{}
	done    chan struct{}
	dropped chan struct{}

	once sync.Once
	mu   sync.Mutex
	err  error
}

func (s *subscription) run() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case m := <-s.queue:
			select {
			case <-s.stop:
				return
			default:
			}
			s.fn(m)
		}
	}
}

// Close must not be called from inside the delivery callback.
func (s *subscription) Close() error {
	s.hub.remove(s.id)
	s.once.Do(func() { close(s.stop) })
	<-s.done
	return nil
}

func (s *subscription) Dropped() <-chan struct{} { return s.dropped }

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *subscription) drop(err error) {
	s.hub.remove(s.id)
	s.once.Do(func() {
		s.mu.Lock()
		s.err = &chat.SubscriptionError{Err: err}
		s.mu.Unlock()
		close(s.dropped)
		close(s.stop)
	})
}
