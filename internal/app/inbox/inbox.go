package inbox

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"campus-messaging/internal/domain/chat"
)

// List loads every message viewer takes part in and aggregates it once.
func List(ctx context.Context, store chat.MessageStore, agg Aggregator, viewer string) ([]chat.Conversation, error) {
	messages, err := store.QueryMessages(ctx, chat.MessageQuery{Participant: viewer})
	if err != nil {
		return nil, &chat.StoreQueryError{Op: "inbox", Err: err}
	}
	return agg.Aggregate(ctx, messages, viewer), nil
}

// Inbox keeps a viewer's conversation list live. The list is rebuilt from the
// full message set on every change and swapped in whole.
type Inbox struct {
	store  chat.MessageStore
	agg    Aggregator
	viewer string
	logger *slog.Logger

	list    atomic.Pointer[[]chat.Conversation]
	changes chan struct{}
	dirty   chan struct{}
	rebuild sync.Mutex

	mu       sync.Mutex
	gen      uint64
	messages []chat.Message
	seen     map[string]struct{}
	sub      chat.Subscription
	cancel   context.CancelFunc
	stale    bool
	err      error
}

// New builds an inbox for viewer. Call Start to load and go live.
func New(store chat.MessageStore, agg Aggregator, viewer string, logger *slog.Logger) *Inbox {
	in := &Inbox{
		store:   store,
		agg:     agg,
		viewer:  viewer,
		logger:  logger,
		changes: make(chan struct{}, 1),
		dirty:   make(chan struct{}, 1),
		seen:    make(map[string]struct{}),
	}
	empty := []chat.Conversation{}
	in.list.Store(&empty)
	return in
}

// Start subscribes to the viewer's inserts, then loads history. Subscribing
// first means nothing sent during the load is missed; duplicates are dropped by id.
// Calling Start again restarts from scratch.
func (in *Inbox) Start(ctx context.Context) error {
	in.Close()

	in.mu.Lock()
	gen := in.gen
	in.mu.Unlock()

	sub, err := in.store.SubscribeInserts(ctx, chat.SubscriptionFilter{Participant: in.viewer}, func(m chat.Message) {
		in.onInsert(gen, m)
	})
	if err != nil {
		err = asSubscriptionError(err)
		in.fail(gen, err)
		return err
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	in.mu.Lock()
	if in.gen != gen {
		in.mu.Unlock()
		cancel()
		_ = sub.Close()
		return nil
	}
	in.sub = sub
	in.cancel = cancel
	in.mu.Unlock()

	go in.watch(loopCtx, gen, sub)
	go in.loop(loopCtx, gen)

	if err := in.load(ctx, gen); err != nil {
		in.fail(gen, err)
		return err
	}
	return nil
}

// Refresh re-queries the store and rebuilds the list.
func (in *Inbox) Refresh(ctx context.Context) error {
	in.mu.Lock()
	gen := in.gen
	in.mu.Unlock()
	return in.load(ctx, gen)
}

// Conversations returns the latest published list.
func (in *Inbox) Conversations() []chat.Conversation {
	list := *in.list.Load()
	out := make([]chat.Conversation, len(list))
	copy(out, list)
	return out
}

// Changes signals after every published rebuild or state change.
func (in *Inbox) Changes() <-chan struct{} { return in.changes }

// Stale reports whether live updates stopped; Start must be called again.
func (in *Inbox) Stale() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.stale
}

// Err returns the last load or subscription error.
func (in *Inbox) Err() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.err
}

// Close unsubscribes and discards the message set.
func (in *Inbox) Close() {
	in.mu.Lock()
	in.gen++
	sub, cancel := in.sub, in.cancel
	in.sub, in.cancel = nil, nil
	in.messages = nil
	in.seen = make(map[string]struct{})
	in.stale = false
	in.err = nil
	in.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sub != nil {
		_ = sub.Close()
	}
	empty := []chat.Conversation{}
	in.list.Store(&empty)
}

func (in *Inbox) load(ctx context.Context, gen uint64) error {
	messages, err := in.store.QueryMessages(ctx, chat.MessageQuery{Participant: in.viewer})
	if err != nil {
		return &chat.StoreQueryError{Op: "inbox", Err: err}
	}
	in.mu.Lock()
	if in.gen != gen {
		in.mu.Unlock()
		return nil
	}
	for _, m := range messages {
		in.addLocked(m)
	}
	in.mu.Unlock()
	in.rebuildList(ctx, gen)
	return nil
}

func (in *Inbox) onInsert(gen uint64, m chat.Message) {
	in.mu.Lock()
	added := in.gen == gen && in.addLocked(m)
	in.mu.Unlock()
	if !added {
		return
	}
	select {
	case in.dirty <- struct{}{}:
	default:
	}
}

func (in *Inbox) addLocked(m chat.Message) bool {
	if !chat.Involves(m, in.viewer) {
		return false
	}
	if _, ok := in.seen[m.ID]; ok {
		return false
	}
	in.seen[m.ID] = struct{}{}
	in.messages = append(in.messages, m)
	return true
}

func (in *Inbox) loop(ctx context.Context, gen uint64) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-in.dirty:
			in.rebuildList(ctx, gen)
		}
	}
}

func (in *Inbox) watch(ctx context.Context, gen uint64, sub chat.Subscription) {
	select {
	case <-ctx.Done():
	case <-sub.Dropped():
		err := asSubscriptionError(sub.Err())
		in.mu.Lock()
		if in.gen == gen {
			in.stale = true
			in.err = err
			in.sub = nil
		}
		in.mu.Unlock()
		if in.logger != nil {
			in.logger.Warn("inbox subscription dropped", "viewer", in.viewer, "error", err)
		}
		in.notify()
	}
}

func (in *Inbox) rebuildList(ctx context.Context, gen uint64) {
	in.rebuild.Lock()
	defer in.rebuild.Unlock()

	in.mu.Lock()
	if in.gen != gen {
		in.mu.Unlock()
		return
	}
	snapshot := make([]chat.Message, len(in.messages))
	copy(snapshot, in.messages)
	in.mu.Unlock()

	list := in.agg.Aggregate(ctx, snapshot, in.viewer)

	in.mu.Lock()
	current := in.gen == gen
	if current {
		in.list.Store(&list)
	}
	in.mu.Unlock()
	if current {
		in.notify()
	}
}

func (in *Inbox) fail(gen uint64, err error) {
	in.mu.Lock()
	if in.gen == gen {
		in.err = err
		in.stale = true
	}
	in.mu.Unlock()
	in.notify()
}

func (in *Inbox) notify() {
	select {
	case in.changes <- struct{}{}:
	default:
	}
}

func asSubscriptionError(err error) error {
	if err == nil {
		err = errors.New("subscription lost")
	}
	var subErr *chat.SubscriptionError
	if errors.As(err, &subErr) {
		return err
	}
	return &chat.SubscriptionError{Err: err}
}
