package feed

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campus-messaging/internal/chattest"
	"campus-messaging/internal/domain/chat"
)

var (
	base   = time.Date(2024, 4, 2, 15, 0, 0, 0, time.UTC)
	thread = chat.ThreadKey{ListingID: "L1", CounterpartID: "bob"}
)

func at(id, from, to string, seconds int) chat.Message {
	return chat.Message{
		ID: id, SenderID: from, ReceiverID: to, ListingID: "L1",
		Body: "text " + id, SentAt: base.Add(time.Duration(seconds) * time.Second),
	}
}

func ids(messages []chat.Message) []string {
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.ID)
	}
	return out
}

func openFeed(t *testing.T, store *chattest.Store, opts Options) *Feed {
	t.Helper()
	f := New(store, "alice", thread, opts)
	require.NoError(t, f.Open(context.Background()))
	require.Equal(t, Ready, f.State())
	return f
}

func TestOpenLoadsHistoryInOrder(t *testing.T) {
	store := chattest.NewStore(
		at("m2", "bob", "alice", 3),
		at("m1", "alice", "bob", 1),
		at("foreign", "alice", "carol", 2),
	)
	f := openFeed(t, store, Options{})
	defer f.Close()

	assert.Equal(t, []string{"m1", "m2"}, ids(f.Entries()))
	assert.Equal(t, 1, store.ActiveSubscriptions())
}

func TestLateDeliveryIsOrderedBySentAt(t *testing.T) {
	store := chattest.NewStore(at("m1", "alice", "bob", 1), at("m2", "bob", "alice", 3))
	f := openFeed(t, store, Options{})
	defer f.Close()

	store.Deliver(at("m3", "bob", "alice", 2))

	assert.Equal(t, []string{"m1", "m3", "m2"}, ids(f.Entries()))
}

func TestDuplicateDeliveryIsIgnored(t *testing.T) {
	m1 := at("m1", "alice", "bob", 1)
	store := chattest.NewStore(m1)
	f := openFeed(t, store, Options{})
	defer f.Close()

	store.Deliver(m1)
	assert.False(t, f.Append(m1))
	m2 := at("m2", "bob", "alice", 2)
	assert.True(t, f.Append(m2))
	assert.False(t, f.Append(m2))

	assert.Equal(t, []string{"m1", "m2"}, ids(f.Entries()))
}

func TestDeliveriesForOtherPairsAreFiltered(t *testing.T) {
	store := chattest.NewStore()
	f := openFeed(t, store, Options{})
	defer f.Close()

	store.Deliver(at("x", "carol", "alice", 1))
	store.Deliver(at("y", "bob", "dave", 1))

	assert.Empty(t, f.Entries())
}

func TestDeliveryDuringLoadingIsKept(t *testing.T) {
	inHistory := at("m1", "alice", "bob", 1)
	store := chattest.NewStore(inHistory)
	gate := store.GateQueries()
	f := New(store, "alice", thread, Options{})

	done := make(chan error, 1)
	go func() { done <- f.Open(context.Background()) }()

	require.Eventually(t, func() bool { return store.ActiveSubscriptions() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, Loading, f.State())
	store.Deliver(at("gap", "bob", "alice", 2))
	store.Deliver(inHistory)
	close(gate)

	require.NoError(t, <-done)
	defer f.Close()
	assert.Equal(t, Ready, f.State())
	assert.Equal(t, []string{"m1", "gap"}, ids(f.Entries()))
}

func TestHistoryFailureMovesToError(t *testing.T) {
	store := chattest.NewStore()
	store.FailQueries(errors.New("store unavailable"))
	f := New(store, "alice", thread, Options{})

	err := f.Open(context.Background())
	var queryErr *chat.StoreQueryError
	require.ErrorAs(t, err, &queryErr)
	assert.Equal(t, Error, f.State())
	assert.ErrorAs(t, f.Err(), &queryErr)
	assert.Zero(t, store.ActiveSubscriptions(), "failed open releases its subscription")

	store.FailQueries(nil)
	require.NoError(t, f.Open(context.Background()))
	assert.Equal(t, Ready, f.State())
	assert.NoError(t, f.Err())
	f.Close()
}

func TestHistoryTimeoutMovesToError(t *testing.T) {
	store := chattest.NewStore()
	store.GateQueries()
	f := New(store, "alice", thread, Options{HistoryTimeout: 20 * time.Millisecond})

	err := f.Open(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, Error, f.State())
}

func TestSubscribeFailureMovesToError(t *testing.T) {
	store := chattest.NewStore()
	store.FailSubscribes(errors.New("realtime down"))
	f := New(store, "alice", thread, Options{})

	err := f.Open(context.Background())
	var subErr *chat.SubscriptionError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, Error, f.State())
	queries, _, _ := store.Calls()
	assert.Zero(t, queries)
}

func TestCloseStopsDeliveriesAndReopenRefetches(t *testing.T) {
	store := chattest.NewStore()
	for i := 1; i <= 5; i++ {
		store.Seed(at(fmt.Sprintf("m%d", i), "alice", "bob", i))
	}
	f := openFeed(t, store, Options{})
	require.Len(t, f.Entries(), 5)

	f.Close()
	assert.Equal(t, Closed, f.State())
	assert.Empty(t, f.Entries())
	assert.Zero(t, store.ActiveSubscriptions())

	store.Deliver(at("late", "bob", "alice", 9))
	assert.Empty(t, f.Entries(), "closed feed must not resurrect")

	store.Seed(at("m6", "bob", "alice", 6))
	gate := store.GateQueries()
	done := make(chan error, 1)
	go func() { done <- f.Open(context.Background()) }()
	require.Eventually(t, func() bool { return f.State() == Loading }, time.Second, time.Millisecond)
	assert.Empty(t, f.Entries(), "no stale entries while reloading")
	close(gate)
	require.NoError(t, <-done)
	defer f.Close()

	assert.Equal(t, []string{"m1", "m2", "m3", "m4", "m5", "m6"}, ids(f.Entries()))
	queries, _, _ := store.Calls()
	assert.Equal(t, 2, queries)
}

func TestCloseWhileLoading(t *testing.T) {
	store := chattest.NewStore(at("m1", "alice", "bob", 1))
	gate := store.GateQueries()
	f := New(store, "alice", thread, Options{})

	done := make(chan error, 1)
	go func() { done <- f.Open(context.Background()) }()
	require.Eventually(t, func() bool { return store.ActiveSubscriptions() == 1 }, time.Second, time.Millisecond)

	f.Close()
	close(gate)

	assert.ErrorIs(t, <-done, ErrClosed)
	assert.Equal(t, Closed, f.State())
	assert.Zero(t, store.ActiveSubscriptions())
}

func TestDroppedSubscriptionFallsBackToIdle(t *testing.T) {
	store := chattest.NewStore(at("m1", "alice", "bob", 1))
	f := openFeed(t, store, Options{})

	store.DropSubscriptions(errors.New("connection reset"))

	require.Eventually(t, func() bool { return f.State() == Idle }, time.Second, time.Millisecond)
	var subErr *chat.SubscriptionError
	assert.ErrorAs(t, f.Err(), &subErr)
	assert.Empty(t, f.Entries())

	require.NoError(t, f.Open(context.Background()))
	defer f.Close()
	assert.Equal(t, []string{"m1"}, ids(f.Entries()))
}

func TestChangesSignal(t *testing.T) {
	store := chattest.NewStore()
	f := openFeed(t, store, Options{})
	defer f.Close()

	for len(f.Changes()) > 0 {
		<-f.Changes()
	}
	store.Deliver(at("m1", "bob", "alice", 1))
	select {
	case <-f.Changes():
	case <-time.After(time.Second):
		t.Fatal("expected change signal")
	}
	snap := f.Snapshot()
	assert.Equal(t, Ready, snap.State)
	assert.Equal(t, thread, snap.Key)
	assert.Len(t, snap.Entries, 1)
}

func TestDisposedFeedRefusesOpen(t *testing.T) {
	store := chattest.NewStore(at("m1", "alice", "bob", 1))
	f := New(store, "alice", thread, Options{})

	f.Dispose()
	assert.Equal(t, Closed, f.State())
	assert.ErrorIs(t, f.Open(context.Background()), ErrDisposed)
	assert.Zero(t, store.ActiveSubscriptions())
	_, _, subscribes := store.Calls()
	assert.Zero(t, subscribes)
}

func TestDisposeWhileLoading(t *testing.T) {
	store := chattest.NewStore(at("m1", "alice", "bob", 1))
	gate := store.GateQueries()
	f := New(store, "alice", thread, Options{})

	done := make(chan error, 1)
	go func() { done <- f.Open(context.Background()) }()
	require.Eventually(t, func() bool { return store.ActiveSubscriptions() == 1 }, time.Second, time.Millisecond)

	f.Dispose()
	close(gate)

	assert.ErrorIs(t, <-done, ErrClosed)
	assert.Zero(t, store.ActiveSubscriptions())
	assert.ErrorIs(t, f.Open(context.Background()), ErrDisposed)
	assert.Zero(t, store.ActiveSubscriptions())
}
