package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campus-messaging/internal/domain/chat"
	"campus-messaging/internal/infra/realtime"
)

var sample = chat.Message{
	ID:         "m-1",
	SenderID:   "alice",
	ReceiverID: "bob",
	ListingID:  "L1",
	Body:       "is the bike still available?",
	SentAt:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
}

type record struct {
	topic, key string
	payload    []byte
	headers    map[string]string
}

type fakePublisher struct {
	mu      sync.Mutex
	records []record
	err     error
}

func (p *fakePublisher) Publish(_ context.Context, topic, key string, payload []byte, headers map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.records = append(p.records, record{topic: topic, key: key, payload: payload, headers: headers})
	return nil
}

func TestEnvelopeRoundTrip(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 1, 0, time.UTC)
	payload, headers, err := EncodeMessage(sample, "app://test", now)
	require.NoError(t, err)
	assert.Equal(t, "application/cloudevents+json", headers["content-type"])

	var raw map[string]any
	require.NoError(t, json.Unmarshal(payload, &raw))
	assert.Equal(t, "1.0", raw["specversion"])
	assert.Equal(t, EventTypeMessageInserted, raw["type"])
	assert.Equal(t, "app://test", raw["source"])
	assert.NotEmpty(t, raw["id"])

	got, env, err := DecodeMessage(payload)
	require.NoError(t, err)
	assert.Equal(t, sample, got)
	assert.True(t, env.Time.Equal(now))
}

func TestDecodeRejectsForeignEvents(t *testing.T) {
	_, _, err := DecodeMessage([]byte(`{"specversion":"1.0","type":"listing.created.v1","data":{}}`))
	assert.ErrorIs(t, err, ErrUnexpectedEvent)

	_, _, err = DecodeMessage([]byte(`not json`))
	assert.Error(t, err)

	_, _, err = DecodeMessage([]byte(`{"type":"message.inserted.v1","data":{"body":"x"}}`))
	assert.Error(t, err)
}

func TestPublishKeysByListing(t *testing.T) {
	pub := &fakePublisher{}
	hub := realtime.NewHub(8, nil)
	defer hub.Close()
	b := NewBroker(pub, hub, BrokerOptions{Topic: "chat.messages"})

	require.NoError(t, b.Publish(context.Background(), sample))
	require.Len(t, pub.records, 1)
	assert.Equal(t, "chat.messages", pub.records[0].topic)
	assert.Equal(t, "L1", pub.records[0].key)

	pub.err = errors.New("leader not available")
	assert.Error(t, b.Publish(context.Background(), sample))
}

func TestHandleFansOutToLocalSubscribers(t *testing.T) {
	hub := realtime.NewHub(8, nil)
	defer hub.Close()
	b := NewBroker(&fakePublisher{}, hub, BrokerOptions{})

	got := make(chan chat.Message, 1)
	sub, err := b.Subscribe(context.Background(), chat.SubscriptionFilter{ListingID: "L1"}, func(m chat.Message) { got <- m })
	require.NoError(t, err)
	defer sub.Close()

	payload, _, err := EncodeMessage(sample, "app://test", time.Now())
	require.NoError(t, err)
	require.NoError(t, b.Handle(context.Background(), &sarama.ConsumerMessage{Topic: b.Topic(), Value: payload}))

	select {
	case m := <-got:
		assert.Equal(t, sample.ID, m.ID)
	case <-time.After(time.Second):
		t.Fatal("expected delivery")
	}

	assert.NoError(t, b.Handle(context.Background(), &sarama.ConsumerMessage{Value: []byte("garbage")}))
}

func TestWatchErrorsDropsSubscriptions(t *testing.T) {
	hub := realtime.NewHub(8, nil)
	defer hub.Close()
	b := NewBroker(&fakePublisher{}, hub, BrokerOptions{})

	sub, err := b.Subscribe(context.Background(), chat.SubscriptionFilter{Participant: "alice"}, func(chat.Message) {})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errs := make(chan error, 1)
	go b.WatchErrors(ctx, errs)
	errs <- errors.New("rebalance failed")

	select {
	case <-sub.Dropped():
	case <-time.After(time.Second):
		t.Fatal("expected subscription to drop")
	}
	var subErr *chat.SubscriptionError
	assert.ErrorAs(t, sub.Err(), &subErr)
}

func TestGroupIDIsUniquePerProcess(t *testing.T) {
	a, b := GroupID("svc"), GroupID("svc")
	assert.NotEqual(t, a, b)
	assert.Contains(t, a, "svc-")
}
