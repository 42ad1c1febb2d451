package messenger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campus-messaging/internal/app/feed"
	"campus-messaging/internal/app/inbox"
	"campus-messaging/internal/chattest"
	"campus-messaging/internal/domain/chat"
)

var base = time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC)

func msg(id, from, to, listing string, offset time.Duration) chat.Message {
	return chat.Message{ID: id, SenderID: from, ReceiverID: to, ListingID: listing, Body: "body " + id, SentAt: base.Add(offset)}
}

func newView(t *testing.T, store *chattest.Store) *View {
	t.Helper()
	v, err := NewView(store, inbox.Aggregator{}, "alice", Options{})
	require.NoError(t, err)
	require.NoError(t, v.Start(context.Background()))
	return v
}

func TestNewViewRequiresViewer(t *testing.T) {
	_, err := NewView(chattest.NewStore(), inbox.Aggregator{}, "", Options{})
	assert.ErrorIs(t, err, ErrViewerRequired)
}

func TestSelectOpensThreadOnce(t *testing.T) {
	store := chattest.NewStore(msg("1", "bob", "alice", "L1", 0))
	v := newView(t, store)
	defer v.Close()

	key := chat.ThreadKey{ListingID: "L1", CounterpartID: "bob"}
	th, err := v.Select(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, feed.Ready, th.Feed.State())
	require.Len(t, th.Feed.Entries(), 1)

	again, err := v.Select(context.Background(), key)
	require.NoError(t, err)
	assert.Same(t, th, again)
	assert.Equal(t, []chat.ThreadKey{key}, v.Threads())
	// inbox plus one thread
	assert.Equal(t, 2, store.ActiveSubscriptions())
}

func TestSelectRejectsInvalidKeys(t *testing.T) {
	v := newView(t, chattest.NewStore())
	defer v.Close()

	_, err := v.Select(context.Background(), chat.ThreadKey{ListingID: "L1", CounterpartID: "alice"})
	assert.ErrorIs(t, err, chat.ErrSelfChat)
	_, err = v.Select(context.Background(), chat.ThreadKey{ListingID: "L1"})
	assert.ErrorIs(t, err, chat.ErrMissingParty)
	assert.Empty(t, v.Threads())
}

func TestSendReachesFeedAndInbox(t *testing.T) {
	store := chattest.NewStore()
	v := newView(t, store)
	defer v.Close()

	key := chat.ThreadKey{ListingID: "L2", CounterpartID: "bob"}
	_, err := v.Send(context.Background(), key, "hi")
	assert.ErrorIs(t, err, ErrThreadNotOpen)

	th, err := v.Select(context.Background(), key)
	require.NoError(t, err)
	stored, err := v.Send(context.Background(), key, " still for sale? ")
	require.NoError(t, err)

	entries := th.Feed.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, stored.ID, entries[0].ID)
	assert.Equal(t, "still for sale?", entries[0].Body)

	require.Eventually(t, func() bool {
		list := v.Inbox().Conversations()
		return len(list) == 1 && list[0].LastMessageID == stored.ID
	}, time.Second, 5*time.Millisecond)
}

func TestSendReopensDroppedFeed(t *testing.T) {
	store := chattest.NewStore(msg("1", "bob", "alice", "L1", 0))
	v := newView(t, store)
	defer v.Close()

	key := chat.ThreadKey{ListingID: "L1", CounterpartID: "bob"}
	th, err := v.Select(context.Background(), key)
	require.NoError(t, err)

	store.DropSubscriptions(errors.New("socket closed"))
	require.Eventually(t, func() bool { return th.Feed.State() == feed.Idle }, time.Second, time.Millisecond)

	_, err = v.Send(context.Background(), key, "are you there?")
	require.NoError(t, err)
	assert.Equal(t, feed.Ready, th.Feed.State())
	assert.Len(t, th.Feed.Entries(), 2)
}

func TestSelectReturnsThreadOnHistoryError(t *testing.T) {
	store := chattest.NewStore()
	v := newView(t, store)
	defer v.Close()

	store.FailQueries(errors.New("timeout"))
	key := chat.ThreadKey{ListingID: "L1", CounterpartID: "bob"}
	th, err := v.Select(context.Background(), key)
	require.Error(t, err)
	require.NotNil(t, th)
	assert.Equal(t, feed.Error, th.Feed.State())

	store.FailQueries(nil)
	_, err = v.Select(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, feed.Ready, th.Feed.State())
}

func TestDeselectAndCloseReleaseSubscriptions(t *testing.T) {
	store := chattest.NewStore()
	v := newView(t, store)

	a := chat.ThreadKey{ListingID: "L1", CounterpartID: "bob"}
	b := chat.ThreadKey{ListingID: "L2", CounterpartID: "carol"}
	_, err := v.Select(context.Background(), a)
	require.NoError(t, err)
	thB, err := v.Select(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, 3, store.ActiveSubscriptions())

	v.Deselect(a)
	_, ok := v.Thread(a)
	assert.False(t, ok)
	assert.Equal(t, 2, store.ActiveSubscriptions())

	v.Close()
	assert.Zero(t, store.ActiveSubscriptions())
	assert.Equal(t, feed.Closed, thB.Feed.State())

	_, err = v.Select(context.Background(), a)
	assert.ErrorIs(t, err, ErrViewClosed)
	assert.ErrorIs(t, v.Start(context.Background()), ErrViewClosed)
}

func TestCloseBeforeFeedOpensLeavesNoSubscription(t *testing.T) {
	store := chattest.NewStore(msg("1", "bob", "alice", "L1", 0))
	v := newView(t, store)

	// Select has registered the thread but not yet opened its feed.
	key := chat.ThreadKey{ListingID: "L1", CounterpartID: "bob"}
	th := &Thread{Key: key, Feed: feed.New(store, "alice", key, feed.Options{})}
	v.mu.Lock()
	v.threads[key] = th
	v.mu.Unlock()

	v.Close()
	assert.ErrorIs(t, th.Feed.Open(context.Background()), feed.ErrDisposed)
	assert.Equal(t, feed.Closed, th.Feed.State())
	assert.Zero(t, store.ActiveSubscriptions())
}

func TestCloseDuringSelectReleasesThreadSubscription(t *testing.T) {
	store := chattest.NewStore(msg("1", "bob", "alice", "L1", 0))
	v := newView(t, store)
	gate := store.GateQueries()

	key := chat.ThreadKey{ListingID: "L1", CounterpartID: "bob"}
	type result struct {
		th  *Thread
		err error
	}
	done := make(chan result, 1)
	go func() {
		th, err := v.Select(context.Background(), key)
		done <- result{th, err}
	}()
	// inbox plus the loading thread
	require.Eventually(t, func() bool { return store.ActiveSubscriptions() == 2 }, time.Second, time.Millisecond)

	v.Close()
	close(gate)

	res := <-done
	assert.ErrorIs(t, res.err, ErrViewClosed)
	assert.Nil(t, res.th)
	assert.Zero(t, store.ActiveSubscriptions())
}

func TestDeselectDuringSelectReleasesThreadSubscription(t *testing.T) {
	store := chattest.NewStore(msg("1", "bob", "alice", "L1", 0))
	v := newView(t, store)
	defer v.Close()
	gate := store.GateQueries()

	key := chat.ThreadKey{ListingID: "L1", CounterpartID: "bob"}
	done := make(chan error, 1)
	go func() {
		_, err := v.Select(context.Background(), key)
		done <- err
	}()
	require.Eventually(t, func() bool { return store.ActiveSubscriptions() == 2 }, time.Second, time.Millisecond)

	v.Deselect(key)
	close(gate)

	assert.ErrorIs(t, <-done, ErrThreadNotOpen)
	assert.Equal(t, 1, store.ActiveSubscriptions())
	_, err := v.Send(context.Background(), key, "hello")
	assert.ErrorIs(t, err, ErrThreadNotOpen)
}
