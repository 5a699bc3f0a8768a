package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/IBM/sarama"

	"github.com/tutadeploy/smpp-server/internal/config"
)

// EnvelopeDispatcher handles one consumed envelope end to end, recording
// its outcome before returning.
type EnvelopeDispatcher interface {
	Dispatch(ctx context.Context, env Envelope) error
}

// Consumer drains the send topic through a consumer group, dispatching in
// batches: all members of a batch run concurrently, and offsets advance
// only after the whole batch has an outcome.
type Consumer struct {
	group      sarama.ConsumerGroup
	topics     []string
	dispatcher EnvelopeDispatcher
	batch      Batcher[*sarama.ConsumerMessage]
}

func NewConsumer(kafka config.KafkaConfig, consumer config.ConsumerConfig, dispatcher EnvelopeDispatcher) (*Consumer, error) {
	c := sarama.NewConfig()
	c.ClientID = kafka.ClientID
	c.Version = sarama.V2_1_0_0
	c.Consumer.Offsets.Initial = sarama.OffsetOldest
	c.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(kafka.Brokers, kafka.GroupID, c)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	return &Consumer{
		group:      group,
		topics:     []string{kafka.SendTopic},
		dispatcher: dispatcher,
		batch: Batcher[*sarama.ConsumerMessage]{
			Size:    consumer.BatchSize,
			MaxWait: consumer.MaxWait,
		},
	}, nil
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	go func() {
		for err := range c.group.Errors() {
			slog.ErrorContext(ctx, "Consumer group error", slog.Any("error", err))
		}
	}()

	handler := &groupHandler{dispatcher: c.dispatcher, batch: c.batch}
	for {
		if err := c.group.Consume(ctx, c.topics, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			slog.ErrorContext(ctx, "Consumer session ended", slog.Any("error", err))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Consumer) Close() error {
	return c.group.Close()
}

type groupHandler struct {
	dispatcher EnvelopeDispatcher
	batch      Batcher[*sarama.ConsumerMessage]
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()

	for {
		msgs := h.batch.Collect(ctx.Done(), claim.Messages())
		if len(msgs) == 0 {
			return nil
		}

		var wg sync.WaitGroup
		for _, msg := range msgs {
			env, err := DecodeEnvelope(msg.Value)
			if err != nil {
				// A poison record cannot be retried; log it and let the
				// offset advance with the rest of the batch.
				slog.ErrorContext(ctx, "Undecodable envelope skipped",
					slog.String("topic", msg.Topic),
					slog.Int64("offset", msg.Offset),
					slog.Any("error", err))
				continue
			}

			wg.Add(1)
			go func(env Envelope) {
				defer wg.Done()
				if err := h.dispatcher.Dispatch(ctx, env); err != nil {
					slog.ErrorContext(ctx, "Dispatch finished with error",
						slog.String("message_id", env.MessageID),
						slog.Any("error", err))
				}
			}(env)
		}
		wg.Wait()

		// Every outcome is recorded; now the checkpoint may move.
		for _, msg := range msgs {
			sess.MarkMessage(msg, "")
		}
	}
}
