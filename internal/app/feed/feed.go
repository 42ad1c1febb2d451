package feed

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"campus-messaging/internal/domain/chat"
)

var (
	// ErrClosed is returned by Open when the feed was closed while loading.
	ErrClosed = errors.New("feed: closed")
	// ErrDisposed is returned by Open once the feed has been disposed.
	ErrDisposed = errors.New("feed: disposed")
)

const defaultHistoryTimeout = 10 * time.Second

// State is the lifecycle position of a feed.
type State int

const (
	Idle State = iota
	Loading
	Ready
	Error
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Error:
		return "error"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Options tune a Feed.
type Options struct {
	// HistoryTimeout bounds the history query; zero means ten seconds.
	HistoryTimeout time.Duration
	Logger         *slog.Logger
}

// Snapshot is a consistent view of a feed.
type Snapshot struct {
	Key     chat.ThreadKey
	State   State
	Entries []chat.Message
	Err     error
}

// Feed is the live, ordered, duplicate-free message list of one open thread.
// Entries are ordered by (SentAt, ID) and unique by ID regardless of whether
// they arrived through the history query or the subscription.
type Feed struct {
	store          chat.MessageStore
	viewer         string
	key            chat.ThreadKey
	query          chat.MessageQuery
	historyTimeout time.Duration
	logger         *slog.Logger
	changes        chan struct{}

	mu        sync.Mutex
	state     State
	gen       uint64
	entries   []chat.Message
	ids       map[string]struct{}
	pending   []chat.Message
	sub       chat.Subscription
	stopWatch context.CancelFunc
	err       error
	disposed  bool
}

// New builds an idle feed for the thread key as seen by viewer.
func New(store chat.MessageStore, viewer string, key chat.ThreadKey, opts Options) *Feed {
	timeout := opts.HistoryTimeout
	if timeout <= 0 {
		timeout = defaultHistoryTimeout
	}
	return &Feed{
		store:          store,
		viewer:         viewer,
		key:            key,
		query:          chat.ThreadQuery(key, viewer),
		historyTimeout: timeout,
		logger:         opts.Logger,
		changes:        make(chan struct{}, 1),
	}
}

// Open loads history and goes live. The subscription is established before the
// history query and deliveries are buffered until the history arrives, so a
// message stored between the two calls is never lost. Opening a loading or
// ready feed is a no-op. A disposed feed never opens again.
func (f *Feed) Open(ctx context.Context) error {
	f.mu.Lock()
	if f.disposed {
		f.mu.Unlock()
		return ErrDisposed
	}
	if f.state == Loading || f.state == Ready {
		f.mu.Unlock()
		return nil
	}
	f.gen++
	gen := f.gen
	f.state = Loading
	f.err = nil
	f.entries = nil
	f.ids = make(map[string]struct{})
	f.pending = nil
	f.mu.Unlock()
	f.notify()

	sub, err := f.store.SubscribeInserts(ctx, chat.SubscriptionFilter{ListingID: f.key.ListingID}, func(m chat.Message) {
		f.receive(gen, m)
	})
	if err != nil {
		return f.fail(gen, asSubscriptionError(err))
	}

	historyCtx, cancel := context.WithTimeout(ctx, f.historyTimeout)
	history, err := f.store.QueryMessages(historyCtx, f.query)
	cancel()
	if err != nil {
		_ = sub.Close()
		return f.fail(gen, &chat.StoreQueryError{Op: "history", Err: err})
	}

	watchCtx, stopWatch := context.WithCancel(context.Background())
	f.mu.Lock()
	if f.gen != gen {
		f.mu.Unlock()
		stopWatch()
		_ = sub.Close()
		return ErrClosed
	}
	f.sub = sub
	f.stopWatch = stopWatch
	for _, m := range history {
		f.insertLocked(m)
	}
	for _, m := range f.pending {
		f.insertLocked(m)
	}
	f.pending = nil
	f.state = Ready
	count := len(f.entries)
	f.mu.Unlock()

	go f.watch(watchCtx, gen, sub)
	if f.logger != nil {
		f.logger.Debug("feed ready", "thread", f.key.String(), "viewer", f.viewer, "entries", count)
	}
	f.notify()
	return nil
}

// Append adds m if it belongs to the thread and its id is new. It reports
// whether the feed changed. While loading, m is held until history arrives.
func (f *Feed) Append(m chat.Message) bool {
	f.mu.Lock()
	gen := f.gen
	f.mu.Unlock()
	return f.receive(gen, m)
}

// Close unsubscribes and discards all state. No delivery is applied after
// Close returns. A closed feed can be opened again and re-fetches its history.
func (f *Feed) Close() {
	f.close(false)
}

// Dispose closes the feed for good: later Open calls return ErrDisposed.
func (f *Feed) Dispose() {
	f.close(true)
}

func (f *Feed) close(dispose bool) {
	f.mu.Lock()
	if dispose {
		f.disposed = true
	}
	if f.state == Closed {
		f.mu.Unlock()
		return
	}
	f.gen++
	sub, stopWatch := f.sub, f.stopWatch
	f.sub, f.stopWatch = nil, nil
	f.state = Closed
	f.entries = nil
	f.ids = nil
	f.pending = nil
	f.err = nil
	f.mu.Unlock()

	if stopWatch != nil {
		stopWatch()
	}
	if sub != nil {
		_ = sub.Close()
	}
	f.notify()
}

// Key returns the thread key.
func (f *Feed) Key() chat.ThreadKey { return f.key }

// State returns the current state.
func (f *Feed) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Err returns the error behind an Error state, or the SubscriptionError of a
// feed that fell back to Idle after losing its subscription.
func (f *Feed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Entries returns a copy of the ordered entries.
func (f *Feed) Entries() []chat.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]chat.Message, len(f.entries))
	copy(out, f.entries)
	return out
}

// Snapshot returns state, entries and error read under one lock.
func (f *Feed) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries := make([]chat.Message, len(f.entries))
	copy(entries, f.entries)
	return Snapshot{Key: f.key, State: f.state, Entries: entries, Err: f.err}
}

// Changes signals (coalesced) after any state or entry change.
func (f *Feed) Changes() <-chan struct{} { return f.changes }

func (f *Feed) receive(gen uint64, m chat.Message) bool {
	if !f.query.Matches(m) {
		return false
	}
	f.mu.Lock()
	if f.gen != gen {
		f.mu.Unlock()
		return false
	}
	changed := false
	switch f.state {
	case Loading:
		f.pending = append(f.pending, m)
	case Ready:
		changed = f.insertLocked(m)
	}
	f.mu.Unlock()
	if changed {
		f.notify()
	}
	return changed
}

// insertLocked places m at its (SentAt, ID) position unless its id is present.
func (f *Feed) insertLocked(m chat.Message) bool {
	if _, ok := f.ids[m.ID]; ok {
		return false
	}
	f.ids[m.ID] = struct{}{}
	i := sort.Search(len(f.entries), func(i int) bool {
		return chat.Before(m, f.entries[i])
	})
	f.entries = append(f.entries, chat.Message{})
	copy(f.entries[i+1:], f.entries[i:])
	f.entries[i] = m
	return true
}

func (f *Feed) watch(ctx context.Context, gen uint64, sub chat.Subscription) {
	select {
	case <-ctx.Done():
		return
	case <-sub.Dropped():
	}
	err := asSubscriptionError(sub.Err())
	f.mu.Lock()
	if f.gen != gen {
		f.mu.Unlock()
		return
	}
	f.gen++
	stopWatch := f.stopWatch
	f.sub, f.stopWatch = nil, nil
	f.state = Idle
	f.entries = nil
	f.ids = nil
	f.pending = nil
	f.err = err
	f.mu.Unlock()

	if stopWatch != nil {
		stopWatch()
	}
	if f.logger != nil {
		f.logger.Warn("feed subscription dropped", "thread", f.key.String(), "viewer", f.viewer, "error", err)
	}
	f.notify()
}

func (f *Feed) fail(gen uint64, err error) error {
	f.mu.Lock()
	if f.gen != gen {
		f.mu.Unlock()
		return ErrClosed
	}
	f.state = Error
	f.err = err
	f.pending = nil
	f.mu.Unlock()
	if f.logger != nil {
		f.logger.Warn("feed open failed", "thread", f.key.String(), "viewer", f.viewer, "error", err)
	}
	f.notify()
	return err
}

func (f *Feed) notify() {
	select {
	case f.changes <- struct{}{}:
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
