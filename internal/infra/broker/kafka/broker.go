package kafka

import (
	"context"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"campus-messaging/internal/domain/chat"
	"campus-messaging/internal/infra/realtime"
)

type publisher interface {
	Publish(ctx context.Context, topic string, key string, payload []byte, headers map[string]string) error
}

// BrokerOptions configure a Broker.
type BrokerOptions struct {
	Topic   string
	Source  string
	Backoff []time.Duration
	Now     func() time.Time
	Logger  *slog.Logger
}

// Broker fans stored messages out across processes. Publish writes a record
// keyed by listing so one listing's inserts stay ordered on a partition; every
// process consumes the topic in its own group and replays records into its
// local hub, where the live subscriptions are held.
type Broker struct {
	pub     publisher
	hub     *realtime.Hub
	topic   string
	source  string
	backoff []time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

func NewBroker(pub publisher, hub *realtime.Hub, opts BrokerOptions) *Broker {
	b := &Broker{
		pub:     pub,
		hub:     hub,
		topic:   opts.Topic,
		source:  opts.Source,
		backoff: opts.Backoff,
		now:     opts.Now,
		logger:  opts.Logger,
	}
	if b.topic == "" {
		b.topic = "messages.inserted"
	}
	if b.source == "" {
		b.source = "app://campus-messaging"
	}
	if len(b.backoff) == 0 {
		b.backoff = []time.Duration{time.Second, 5 * time.Second, 30 * time.Second}
	}
	if b.now == nil {
		b.now = time.Now
	}
	return b
}

// NewConfig returns the sarama configuration for the broker: live fan-out
// only needs records produced after the process joined.
func NewConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	cfg.Consumer.Return.Errors = true
	return cfg
}

// GroupID returns a consumer group unique to this process so every instance
// sees every record.
func GroupID(prefix string) string {
	if prefix == "" {
		prefix = "campus-messaging"
	}
	return prefix + "-" + uuid.NewString()
}

// Topic returns the topic records are published to.
func (b *Broker) Topic() string { return b.topic }

// Publish sends m to the topic.
func (b *Broker) Publish(ctx context.Context, m chat.Message) error {
	payload, headers, err := EncodeMessage(m, b.source, b.now())
	if err != nil {
		return err
	}
	return b.pub.Publish(ctx, b.topic, m.ListingID, payload, headers)
}

// Subscribe registers fn on the local hub.
func (b *Broker) Subscribe(ctx context.Context, filter chat.SubscriptionFilter, fn func(chat.Message)) (chat.Subscription, error) {
	return b.hub.Subscribe(ctx, filter, fn)
}

// Handle implements MessageHandler. Undecodable records are logged and marked
// consumed so they never block the partition.
func (b *Broker) Handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	m, env, err := DecodeMessage(msg.Value)
	if err != nil {
		if b.logger != nil {
			b.logger.Warn("skip undecodable record", "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
		}
		return nil
	}
	if b.logger != nil {
		b.logger.Debug("message record received", "event_id", env.ID, "message_id", m.ID, "listing_id", m.ListingID)
	}
	return b.hub.Publish(ctx, m)
}

// Run consumes the topic until ctx ends. Each consumer failure drops every
// live subscription, since deliveries may have been missed, and consumption
// resumes after a backoff.
func (b *Broker) Run(ctx context.Context, consumer *Consumer) error {
	attempt := 0
	for {
		err := consumer.Run(ctx, []string{b.topic})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			attempt = 0
			continue
		}
		b.hub.DropAll(err)
		if b.logger != nil {
			b.logger.Error("kafka consumer failed", "topic", b.topic, "attempt", attempt+1, "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.delay(attempt)):
		}
		attempt++
	}
}

// WatchErrors drops live subscriptions on asynchronous group errors.
func (b *Broker) WatchErrors(ctx context.Context, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				return
			}
			b.hub.DropAll(err)
			if b.logger != nil {
				b.logger.Warn("kafka consumer error", "topic", b.topic, "error", err)
			}
		}
	}
}

func (b *Broker) delay(attempt int) time.Duration {
	if attempt < len(b.backoff) {
		return b.backoff[attempt]
	}
	return b.backoff[len(b.backoff)-1]
}
