package chat

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKeyIsSymmetric(t *testing.T) {
	messages := []Message{
		{ID: "m1", SenderID: "alice", ReceiverID: "bob", ListingID: "l1"},
		{ID: "m2", SenderID: "bob", ReceiverID: "alice", ListingID: "l1"},
		{ID: "m3", SenderID: "carol", ReceiverID: "alice", ListingID: "l2"},
	}
	for _, m := range messages {
		fromSender := DeriveKey(m, m.SenderID)
		fromReceiver := DeriveKey(m, m.ReceiverID)

		assert.Equal(t, m.ReceiverID, fromSender.CounterpartID, "sender sees the receiver")
		assert.Equal(t, m.SenderID, fromReceiver.CounterpartID, "receiver sees the sender")
		assert.Equal(t, fromSender.ListingID, fromReceiver.ListingID)
		assert.Equal(t, fromSender.Pair(m.SenderID), fromReceiver.Pair(m.ReceiverID))
	}
}

func TestDeriveKeyCollapsesBothDirections(t *testing.T) {
	first := Message{SenderID: "alice", ReceiverID: "bob", ListingID: "l1"}
	reply := Message{SenderID: "bob", ReceiverID: "alice", ListingID: "l1"}

	assert.Equal(t, DeriveKey(first, "alice"), DeriveKey(reply, "alice"))
	assert.Equal(t, DeriveKey(first, "bob"), DeriveKey(reply, "bob"))
}

func TestDeriveKeySeparatesListings(t *testing.T) {
	a := Message{SenderID: "alice", ReceiverID: "bob", ListingID: "l1"}
	b := Message{SenderID: "alice", ReceiverID: "bob", ListingID: "l2"}

	assert.NotEqual(t, DeriveKey(a, "alice"), DeriveKey(b, "alice"))
}

func TestThreadKeyLessComparesFields(t *testing.T) {
	// both render as "a/b/c"
	x := ThreadKey{ListingID: "a/b", CounterpartID: "c"}
	y := ThreadKey{ListingID: "a", CounterpartID: "b/c"}
	assert.Equal(t, x.String(), y.String())
	assert.True(t, y.Less(x))
	assert.False(t, x.Less(y))

	z := ThreadKey{ListingID: "a", CounterpartID: "d"}
	assert.True(t, y.Less(z))
	assert.False(t, z.Less(z))
}

func TestSortMessagesTieBreaksOnID(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	messages := []Message{
		{ID: "b", SentAt: at},
		{ID: "c", SentAt: at.Add(-time.Second)},
		{ID: "a", SentAt: at},
	}
	SortMessages(messages)

	ids := []string{messages[0].ID, messages[1].ID, messages[2].ID}
	assert.Equal(t, []string{"c", "a", "b"}, ids)
}

func TestMessageQueryMatches(t *testing.T) {
	m := Message{SenderID: "alice", ReceiverID: "bob", ListingID: "l1"}

	assert.True(t, MessageQuery{}.Matches(m))
	assert.True(t, ThreadQuery(ThreadKey{ListingID: "l1", CounterpartID: "bob"}, "alice").Matches(m))
	assert.True(t, ThreadQuery(ThreadKey{ListingID: "l1", CounterpartID: "alice"}, "bob").Matches(m))
	assert.False(t, ThreadQuery(ThreadKey{ListingID: "l2", CounterpartID: "bob"}, "alice").Matches(m))
	assert.False(t, ThreadQuery(ThreadKey{ListingID: "l1", CounterpartID: "carol"}, "alice").Matches(m))
	assert.True(t, MessageQuery{Participant: "bob"}.Matches(m))
	assert.False(t, MessageQuery{Participant: "carol"}.Matches(m))
}

func TestSubscriptionFilterMatches(t *testing.T) {
	m := Message{SenderID: "alice", ReceiverID: "bob", ListingID: "l1"}

	assert.True(t, SubscriptionFilter{ListingID: "l1"}.Matches(m))
	assert.False(t, SubscriptionFilter{ListingID: "l2"}.Matches(m))
	assert.True(t, SubscriptionFilter{Participant: "alice"}.Matches(m))
	assert.False(t, SubscriptionFilter{Participant: "dave"}.Matches(m))
}

func TestErrorTaxonomyUnwraps(t *testing.T) {
	err := error(&ValidationError{Err: ErrSelfChat})
	assert.True(t, IsValidation(err))
	assert.True(t, errors.Is(err, ErrSelfChat))

	cause := errors.New("boom")
	var queryErr *StoreQueryError
	require.True(t, errors.As(error(&StoreQueryError{Op: "history", Err: cause}), &queryErr))
	assert.ErrorIs(t, queryErr, cause)
	assert.False(t, IsValidation(&StoreWriteError{Err: cause}))
}
