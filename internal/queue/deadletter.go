package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tutadeploy/smpp-server/internal/config"
	"github.com/tutadeploy/smpp-server/internal/database"
	"github.com/tutadeploy/smpp-server/internal/logging"
	"github.com/tutadeploy/smpp-server/pkg/codes"
)

// ErrAlreadyDelivered refuses the replay of a message whose delivery
// receipt arrived after it had been dead-lettered.
var ErrAlreadyDelivered = errors.New("message already delivered, replay refused")

// DeadLetterService archives exhausted envelopes and replays them on
// operator request.
type DeadLetterService struct {
	q               database.Querier
	publisher       Publisher
	sendTopic       string
	deadLetterTopic string
}

func NewDeadLetterService(q database.Querier, publisher Publisher, kafka config.KafkaConfig) *DeadLetterService {
	return &DeadLetterService{
		q:               q,
		publisher:       publisher,
		sendTopic:       kafka.SendTopic,
		deadLetterTopic: kafka.DeadLetterTopic,
	}
}

// Publish archives env on the dead-letter topic with its failure context.
func (s *DeadLetterService) Publish(ctx context.Context, env Envelope, reason string) error {
	now := time.Now()
	env.FailureReason = reason
	if env.LastRetryTime == nil {
		env.LastRetryTime = &now
	}
	return s.publisher.Publish(ctx, s.deadLetterTopic, env)
}

// Replay puts a dead-lettered envelope back on the send topic with a fresh
// retry budget. A message that was delivered in the meantime, through a
// late provider acknowledgement, is refused.
func (s *DeadLetterService) Replay(ctx context.Context, env Envelope) error {
	logCtx := logging.ContextWithMessageID(ctx, env.MessageID)
	logCtx = logging.ContextWithPhoneNumber(logCtx, env.PhoneNumber)

	msg, err := s.q.GetMessage(logCtx, env.MessageID, env.PhoneNumber)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("no message row for %s/%s, nothing to replay", env.MessageID, env.PhoneNumber)
		}
		return fmt.Errorf("failed to load message for replay: %w", err)
	}
	if msg.Status == codes.MsgStatusDelivered {
		return fmt.Errorf("message %s: %w", env.MessageID, ErrAlreadyDelivered)
	}

	if err := s.q.ResetMessageForReplay(logCtx, database.ResetMessageForReplayParams{
		MessageID:   env.MessageID,
		PhoneNumber: env.PhoneNumber,
	}); err != nil {
		return fmt.Errorf("failed to reset message for replay: %w", err)
	}

	// Rebuilt from the row, not the archived envelope, so a replay needs
	// nothing beyond the two identifiers.
	replay := Envelope{
		MessageID:   msg.MessageID,
		AppID:       msg.AppID,
		PhoneNumber: msg.PhoneNumber,
		Content:     msg.Content,
		Priority:    msg.Priority,
	}
	if msg.SenderID != nil {
		replay.SenderID = *msg.SenderID
	}
	if msg.OrderID != nil {
		replay.OrderID = *msg.OrderID
	}
	if err := s.publisher.Publish(logCtx, s.sendTopic, replay); err != nil {
		return fmt.Errorf("failed to republish replayed envelope: %w", err)
	}

	slog.InfoContext(logCtx, "Dead-lettered message replayed",
		slog.String("previous_status", msg.Status))
	return nil
}
