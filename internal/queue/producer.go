package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"

	"github.com/tutadeploy/smpp-server/internal/config"
)

// Publisher writes envelopes to a topic. Components hold this interface so
// the broker can be faked in tests.
type Publisher interface {
	Publish(ctx context.Context, topic string, env Envelope) error
}

// KafkaPublisher is the production Publisher: a synchronous idempotent
// producer so an acknowledged publish is on the log exactly once.
type KafkaPublisher struct {
	producer sarama.SyncProducer
}

func NewKafkaPublisher(cfg config.KafkaConfig) (*KafkaPublisher, error) {
	c := sarama.NewConfig()
	c.ClientID = cfg.ClientID
	c.Version = sarama.V2_1_0_0
	c.Producer.RequiredAcks = sarama.WaitForAll
	c.Producer.Idempotent = true
	c.Net.MaxOpenRequests = 1
	c.Producer.Retry.Max = 3
	c.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, c)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return &KafkaPublisher{producer: producer}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic string, env Envelope) error {
	payload, err := EncodeEnvelope(env)
	if err != nil {
		return err
	}

	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(env.MessageID),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	slog.DebugContext(ctx, "Envelope published",
		slog.String("topic", topic),
		slog.String("message_id", env.MessageID),
		slog.Int("partition", int(partition)),
		slog.Int64("offset", offset))
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
