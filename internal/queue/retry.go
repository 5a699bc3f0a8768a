package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tutadeploy/smpp-server/internal/config"
)

// RetryScheduler republishes failed envelopes back onto the send topic
// after a linear backoff: retryCount times the configured base delay. The
// wait happens off the consumer goroutine so a retrying message never
// stalls its batch.
type RetryScheduler struct {
	publisher Publisher
	topic     string
	backoff   time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewRetryScheduler(publisher Publisher, kafka config.KafkaConfig, consumer config.ConsumerConfig) *RetryScheduler {
	return &RetryScheduler{
		publisher: publisher,
		topic:     kafka.SendTopic,
		backoff:   consumer.RetryBackoff,
		stopCh:    make(chan struct{}),
	}
}

// Schedule queues env for republication after its backoff delay.
func (r *RetryScheduler) Schedule(ctx context.Context, env Envelope) {
	delay := time.Duration(env.RetryCount) * r.backoff

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		select {
		case <-r.stopCh:
			slog.WarnContext(ctx, "Retry dropped during shutdown",
				slog.String("message_id", env.MessageID),
				slog.Int("retry_count", env.RetryCount))
			return
		case <-time.After(delay):
		}

		if err := r.publisher.Publish(ctx, r.topic, env); err != nil {
			slog.ErrorContext(ctx, "Failed to republish retry",
				slog.String("message_id", env.MessageID),
				slog.Int("retry_count", env.RetryCount),
				slog.Any("error", err))
		}
	}()
}

// Stop cancels pending delays and waits for in-flight publishes.
func (r *RetryScheduler) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}
