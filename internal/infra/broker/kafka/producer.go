package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/IBM/sarama"
)

// Producer writes message records synchronously. A record is acknowledged by
// every in-sync replica before Publish returns, and retries never duplicate it.
type Producer struct {
	sync   sarama.SyncProducer
	logger *slog.Logger
}

// NewProducer connects to brokers. cfg is usually NewConfig's; the delivery
// guarantees above are forced on top of it.
func NewProducer(brokers []string, cfg *sarama.Config, logger *slog.Logger) (*Producer, error) {
	if cfg == nil {
		cfg = sarama.NewConfig()
	}
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Producer.Return.Successes = true
	cfg.Net.MaxOpenRequests = 1
	sp, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return newProducer(sp, logger), nil
}

func newProducer(sp sarama.SyncProducer, logger *slog.Logger) *Producer {
	return &Producer{sync: sp, logger: logger}
}

// Publish sends one record keyed by key. A context that already ended is
// reported without touching the network.
func (p *Producer) Publish(ctx context.Context, topic string, key string, payload []byte, headers map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	partition, offset, err := p.sync.SendMessage(producerRecord(topic, key, payload, headers))
	if err != nil {
		return fmt.Errorf("kafka publish to %s: %w", topic, err)
	}
	if p.logger != nil {
		p.logger.Debug("message record published", "topic", topic, "key", key, "partition", partition, "offset", offset)
	}
	return nil
}

func (p *Producer) Close() error {
	if p.sync == nil {
		return nil
	}
	return p.sync.Close()
}

// producerRecord builds the record with headers in name order.
func producerRecord(topic, key string, payload []byte, headers map[string]string) *sarama.ProducerMessage {
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)
	hs := make([]sarama.RecordHeader, 0, len(names))
	for _, name := range names {
		hs = append(hs, sarama.RecordHeader{Key: []byte(name), Value: []byte(headers[name])})
	}
	return &sarama.ProducerMessage{
		Topic:   topic,
		Key:     sarama.StringEncoder(key),
		Value:   sarama.ByteEncoder(payload),
		Headers: hs,
	}
}
