package inbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campus-messaging/internal/domain/chat"
	"campus-messaging/internal/infra/storage/memory"
)

var t0 = time.Date(2024, 2, 10, 8, 0, 0, 0, time.UTC)

func msg(id, from, to, listing string, offset time.Duration) chat.Message {
	return chat.Message{ID: id, SenderID: from, ReceiverID: to, ListingID: listing, Body: "body " + id, SentAt: t0.Add(offset)}
}

type countingDirectory struct {
	mu    sync.Mutex
	calls map[chat.EntityKind]int
	names map[string]string
	err   error
}

func (d *countingDirectory) DisplayNames(_ context.Context, kind chat.EntityKind, ids []string) (map[string]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.calls == nil {
		d.calls = make(map[chat.EntityKind]int)
	}
	d.calls[kind]++
	if d.err != nil {
		return nil, d.err
	}
	out := make(map[string]string)
	for _, id := range ids {
		if name, ok := d.names[id]; ok {
			out[id] = name
		}
	}
	return out, nil
}

func TestAggregateEmptyInput(t *testing.T) {
	got := Aggregator{}.Aggregate(context.Background(), nil, "alice")
	require.NotNil(t, got)
	assert.Empty(t, got)
}

func TestAggregateTwoListingsSameCounterpart(t *testing.T) {
	messages := []chat.Message{
		msg("1", "alice", "bob", "L1", 0),
		msg("2", "bob", "alice", "L1", time.Minute),
		msg("3", "alice", "bob", "L2", 2*time.Minute),
		msg("4", "bob", "alice", "L2", 3*time.Minute),
	}
	got := Aggregator{}.Aggregate(context.Background(), messages, "alice")

	require.Len(t, got, 2)
	assert.Equal(t, "L2", got[0].ListingID, "most recent thread first")
	assert.Equal(t, "4", got[0].LastMessageID)
	assert.Equal(t, "L1", got[1].ListingID)
	assert.Equal(t, "2", got[1].LastMessageID)
	for _, c := range got {
		assert.Equal(t, "bob", c.ParticipantID)
		assert.Zero(t, c.UnreadCount)
	}
}

func TestAggregateEnrichesWithOneLookupPerKind(t *testing.T) {
	dir := &countingDirectory{names: map[string]string{"bob": "Bob B.", "carol": "Carol", "L1": "Mini fridge"}}
	messages := []chat.Message{
		msg("1", "alice", "bob", "L1", 0),
		msg("2", "carol", "alice", "L1", time.Minute),
		msg("3", "alice", "bob", "L2", 2*time.Minute),
		msg("4", "bob", "alice", "L2", 3*time.Minute),
	}
	got := Aggregator{Directory: dir}.Aggregate(context.Background(), messages, "alice")

	require.Len(t, got, 3)
	assert.Equal(t, 1, dir.calls[chat.EntityUser])
	assert.Equal(t, 1, dir.calls[chat.EntityListing])

	byKey := make(map[string]chat.Conversation)
	for _, c := range got {
		byKey[c.Key.String()] = c
	}
	assert.Equal(t, "Carol", byKey["L1/carol"].ParticipantName)
	assert.Equal(t, "Mini fridge", byKey["L1/carol"].ListingName)
	assert.Equal(t, "Listing L2", byKey["L2/bob"].ListingName, "unresolved listing gets a fallback")
}

func TestAggregateKeepsThreadsWhenEnrichmentFails(t *testing.T) {
	messages := []chat.Message{
		msg("1", "alice", "bob-1234567890", "listing-abcdefghij", 0),
		msg("2", "dave", "alice", "L9", time.Minute),
	}
	for name, dir := range map[string]chat.Directory{
		"error":     &countingDirectory{err: errors.New("directory down")},
		"empty map": memory.NewDirectory(),
	} {
		t.Run(name, func(t *testing.T) {
			got := Aggregator{Directory: dir}.Aggregate(context.Background(), messages, "alice")
			require.Len(t, got, 2)
			assert.Equal(t, "User dave", got[0].ParticipantName)
			assert.Equal(t, "User bob-1234", got[1].ParticipantName)
			assert.Equal(t, "Listing listing-", got[1].ListingName)
		})
	}
}

func TestAggregateTieBreakAndDeterminism(t *testing.T) {
	messages := []chat.Message{
		msg("a", "alice", "bob", "L1", time.Minute),
		msg("c", "bob", "alice", "L1", time.Minute),
		msg("b", "alice", "bob", "L1", time.Minute),
		msg("x", "alice", "carol", "L2", time.Minute),
		msg("y", "alice", "dave", "L3", time.Minute),
	}
	agg := Aggregator{Directory: memory.NewDirectory()}
	first := agg.Aggregate(context.Background(), messages, "alice")
	reversed := make([]chat.Message, len(messages))
	for i, m := range messages {
		reversed[len(messages)-1-i] = m
	}
	second := agg.Aggregate(context.Background(), reversed, "alice")

	assert.Equal(t, first, second)
	require.Len(t, first, 3)
	assert.Equal(t, "c", first[0].LastMessageID, "greater id wins a timestamp tie")
	assert.Equal(t, "L1/bob", first[0].Key.String())
	assert.Equal(t, "L2/carol", first[1].Key.String())
	assert.Equal(t, "L3/dave", first[2].Key.String())
}

func TestAggregateSkipsForeignMessages(t *testing.T) {
	messages := []chat.Message{
		msg("1", "bob", "carol", "L1", 0),
		msg("2", "alice", "bob", "L1", time.Minute),
	}
	got := Aggregator{}.Aggregate(context.Background(), messages, "alice")
	require.Len(t, got, 1)
	assert.Equal(t, "2", got[0].LastMessageID)
}

func TestAggregateTieBreakComparesKeyFields(t *testing.T) {
	// keys "a/b"+"c" and "a"+"b/c" render identically
	messages := []chat.Message{
		msg("1", "c", "alice", "a/b", 0),
		msg("2", "b/c", "alice", "a", 0),
	}
	for i := 0; i < 20; i++ {
		got := Aggregator{}.Aggregate(context.Background(), messages, "alice")
		require.Len(t, got, 2)
		assert.Equal(t, chat.ThreadKey{ListingID: "a", CounterpartID: "b/c"}, got[0].Key)
		assert.Equal(t, chat.ThreadKey{ListingID: "a/b", CounterpartID: "c"}, got[1].Key)
	}
}
