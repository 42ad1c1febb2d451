package messenger

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"campus-messaging/internal/app/composer"
	"campus-messaging/internal/app/feed"
	"campus-messaging/internal/app/inbox"
	"campus-messaging/internal/domain/chat"
)

var (
	ErrViewerRequired = errors.New("messenger: viewer is required")
	ErrViewClosed     = errors.New("messenger: view closed")
	ErrThreadNotOpen  = errors.New("messenger: thread is not open")
)

// Options tune a View.
type Options struct {
	Feed   feed.Options
	Now    func() time.Time
	Logger *slog.Logger
}

// Thread is an open conversation: its live feed and its composer.
type Thread struct {
	Key      chat.ThreadKey
	Feed     *feed.Feed
	Composer *composer.Composer
}

// View is one viewer's messaging screen. It owns the live inbox and every open
// thread, and Close releases all of their subscriptions.
type View struct {
	store  chat.MessageStore
	viewer string
	inbox  *inbox.Inbox
	opts   Options

	mu      sync.Mutex
	threads map[chat.ThreadKey]*Thread
	closed  bool
}

// NewView builds a view for viewer. Call Start to bring the inbox live.
func NewView(store chat.MessageStore, agg inbox.Aggregator, viewer string, opts Options) (*View, error) {
	if viewer == "" {
		return nil, ErrViewerRequired
	}
	if opts.Feed.Logger == nil {
		opts.Feed.Logger = opts.Logger
	}
	return &View{
		store:   store,
		viewer:  viewer,
		inbox:   inbox.New(store, agg, viewer, opts.Logger),
		opts:    opts,
		threads: make(map[chat.ThreadKey]*Thread),
	}, nil
}

// Viewer returns the identity the view acts for.
func (v *View) Viewer() string { return v.viewer }

// Inbox returns the live conversation list.
func (v *View) Inbox() *inbox.Inbox { return v.inbox }

// Start loads the inbox and subscribes to the viewer's inserts.
func (v *View) Start(ctx context.Context) error {
	if v.isClosed() {
		return ErrViewClosed
	}
	return v.inbox.Start(ctx)
}

// Select opens the thread if needed. A thread whose feed is not live (never
// loaded, failed, or lost its subscription) is reopened and re-fetched. The
// thread is returned even when opening fails so callers can render the error.
func (v *View) Select(ctx context.Context, key chat.ThreadKey) (*Thread, error) {
	if key.ListingID == "" || key.CounterpartID == "" {
		return nil, &chat.ValidationError{Err: chat.ErrMissingParty}
	}
	if key.CounterpartID == v.viewer {
		return nil, &chat.ValidationError{Err: chat.ErrSelfChat}
	}
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil, ErrViewClosed
	}
	th, ok := v.threads[key]
	if !ok {
		th = &Thread{
			Key:      key,
			Feed:     feed.New(v.store, v.viewer, key, v.opts.Feed),
			Composer: composer.New(v.store, v.viewer, key, v.opts.Now, v.opts.Logger),
		}
		v.threads[key] = th
	}
	v.mu.Unlock()

	// Deselect or Close may dispose the feed before or during Open.
	if err := th.Feed.Open(ctx); err != nil {
		if errors.Is(err, feed.ErrDisposed) || errors.Is(err, feed.ErrClosed) {
			if v.isClosed() {
				return nil, ErrViewClosed
			}
			if cur, ok := v.Thread(key); !ok || cur != th {
				return nil, ErrThreadNotOpen
			}
		}
		return th, err
	}
	return th, nil
}

// Thread returns an open thread.
func (v *View) Thread(key chat.ThreadKey) (*Thread, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	th, ok := v.threads[key]
	return th, ok
}

// Threads lists the keys of open threads in key order.
func (v *View) Threads() []chat.ThreadKey {
	v.mu.Lock()
	keys := make([]chat.ThreadKey, 0, len(v.threads))
	for key := range v.threads {
		keys = append(keys, key)
	}
	v.mu.Unlock()
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// Send writes body into an open thread. A thread that lost its live feed is
// reopened first so the sent message is observed.
func (v *View) Send(ctx context.Context, key chat.ThreadKey, body string) (chat.Message, error) {
	th, ok := v.Thread(key)
	if !ok {
		return chat.Message{}, ErrThreadNotOpen
	}
	if th.Feed.State() == feed.Idle {
		if err := th.Feed.Open(ctx); errors.Is(err, feed.ErrDisposed) {
			return chat.Message{}, ErrThreadNotOpen
		} else if err != nil && v.opts.Logger != nil {
			v.opts.Logger.Warn("reopen feed before send failed", "thread", key.String(), "error", err)
		}
	}
	return th.Composer.Send(ctx, body)
}

// Deselect closes the thread and releases its subscription.
func (v *View) Deselect(key chat.ThreadKey) {
	v.mu.Lock()
	th, ok := v.threads[key]
	delete(v.threads, key)
	v.mu.Unlock()
	if ok {
		th.Feed.Dispose()
	}
}

// Close tears down every open thread and the inbox.
func (v *View) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	threads := v.threads
	v.threads = make(map[chat.ThreadKey]*Thread)
	v.mu.Unlock()

	for _, th := range threads {
		th.Feed.Dispose()
	}
	v.inbox.Close()
}

func (v *View) isClosed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}
