package sms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tutadeploy/smpp-server/internal/config"
	"github.com/tutadeploy/smpp-server/internal/database"
	"github.com/tutadeploy/smpp-server/internal/logging"
	"github.com/tutadeploy/smpp-server/internal/queue"
	"github.com/tutadeploy/smpp-server/pkg/codes"
	"github.com/tutadeploy/smpp-server/pkg/errormapper"
)

const (
	maxRecipients    = 1000
	maxContentLength = 1600
)

var (
	ErrValidation      = errors.New("invalid send request")
	ErrMessageNotFound = errors.New("message not found")
)

// E.164-ish: optional +, no leading zero, 5 to 15 digits.
var phonePattern = regexp.MustCompile(`^\+?[1-9][0-9]{4,14}$`)

// BalanceChecker is the soft pre-check; the hard debit happens at dispatch.
type BalanceChecker interface {
	CheckBalance(ctx context.Context, appID string, count int) error
}

// SendRequest is one accepted API call: one content toward one or more
// destinations, all sharing a messageId.
type SendRequest struct {
	AppID        string
	Content      string
	SenderID     string
	OrderID      string
	PhoneNumbers []string
	Priority     int32
	ScheduleTime *time.Time
}

// SendResult reports acceptance; delivery outcomes are only observable
// through Status later.
type SendResult struct {
	MessageID string
	Accepted  int
}

// MessageStatus is one destination's current state within a request.
type MessageStatus struct {
	PhoneNumber  string
	Status       string
	ErrorMessage *string
	SendTime     *time.Time
	UpdateTime   *time.Time
}

// Service is the acceptance path: validate, pre-check balance, persist
// QUEUED rows, publish. Everything after publish is the pipeline's job.
type Service struct {
	q         database.Querier
	balances  BalanceChecker
	publisher queue.Publisher
	sendTopic string
}

func NewService(q database.Querier, balances BalanceChecker, publisher queue.Publisher, kafka config.KafkaConfig) *Service {
	return &Service{
		q:         q,
		balances:  balances,
		publisher: publisher,
		sendTopic: kafka.SendTopic,
	}
}

// Send accepts one request. On success every destination has a QUEUED row
// and an envelope on the send topic. A publish failure is returned to the
// caller after the affected rows are marked ERROR; rows already published
// stay queued.
func (s *Service) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	logCtx := logging.ContextWithAppID(ctx, req.AppID)

	if err := validate(req); err != nil {
		return SendResult{}, err
	}

	if err := s.balances.CheckBalance(logCtx, req.AppID, len(req.PhoneNumbers)); err != nil {
		return SendResult{}, err
	}

	messageID := uuid.NewString()
	logCtx = logging.ContextWithMessageID(logCtx, messageID)

	var senderID, orderID *string
	if req.SenderID != "" {
		senderID = &req.SenderID
	}
	if req.OrderID != "" {
		orderID = &req.OrderID
	}

	for i, number := range req.PhoneNumbers {
		if _, err := s.q.CreateMessage(logCtx, database.CreateMessageParams{
			MessageID:    messageID,
			AppID:        req.AppID,
			PhoneNumber:  number,
			Content:      req.Content,
			SenderID:     senderID,
			OrderID:      orderID,
			Priority:     req.Priority,
			ScheduleTime: req.ScheduleTime,
			Status:       codes.MsgStatusQueued,
		}); err != nil {
			s.markUnpublished(logCtx, messageID, req.PhoneNumbers[:i],
				errormapper.ErrorCodeDatabaseError+": request persist failed partway")
			return SendResult{}, fmt.Errorf("failed to persist message for %s: %w", number, err)
		}
	}

	for i, number := range req.PhoneNumbers {
		env := queue.Envelope{
			MessageID:    messageID,
			AppID:        req.AppID,
			PhoneNumber:  number,
			Content:      req.Content,
			SenderID:     req.SenderID,
			OrderID:      req.OrderID,
			Priority:     req.Priority,
			ScheduleTime: req.ScheduleTime,
		}
		if err := s.publisher.Publish(logCtx, s.sendTopic, env); err != nil {
			s.markUnpublished(logCtx, messageID, req.PhoneNumbers[i:],
				errormapper.ErrorCodeQueueError+": envelope publish failed")
			return SendResult{}, fmt.Errorf("failed to publish %d of %d envelopes: %w",
				len(req.PhoneNumbers)-i, len(req.PhoneNumbers), err)
		}
	}

	slog.InfoContext(logCtx, "Send request accepted",
		slog.Int("recipients", len(req.PhoneNumbers)))
	return SendResult{MessageID: messageID, Accepted: len(req.PhoneNumbers)}, nil
}

// markUnpublished records the rows whose envelopes never reached the
// broker, whether the request failed persisting or publishing, so they
// are not silently stuck in QUEUED.
func (s *Service) markUnpublished(ctx context.Context, messageID string, numbers []string, reason string) {
	for _, number := range numbers {
		if _, err := s.q.UpdateMessageStatusIfCurrent(ctx, database.UpdateMessageStatusIfCurrentParams{
			MessageID:      messageID,
			PhoneNumber:    number,
			ExpectedStatus: codes.MsgStatusQueued,
			Status:         codes.MsgStatusError,
			ErrorMessage:   &reason,
		}); err != nil {
			slog.ErrorContext(ctx, "Failed to mark unpublished message",
				slog.String("phone_number", number), slog.Any("error", err))
		}
	}
}

func validate(req SendRequest) error {
	if req.AppID == "" {
		return fmt.Errorf("%w: appId is required", ErrValidation)
	}
	if len(req.PhoneNumbers) == 0 {
		return fmt.Errorf("%w: at least one phone number is required", ErrValidation)
	}
	if len(req.PhoneNumbers) > maxRecipients {
		return fmt.Errorf("%w: at most %d phone numbers per request", ErrValidation, maxRecipients)
	}
	if req.Content == "" {
		return fmt.Errorf("%w: content is required", ErrValidation)
	}
	if utf8.RuneCountInString(req.Content) > maxContentLength {
		return fmt.Errorf("%w: content exceeds %d characters", ErrValidation, maxContentLength)
	}
	for _, number := range req.PhoneNumbers {
		if !phonePattern.MatchString(number) {
			return fmt.Errorf("%w: invalid phone number %q", ErrValidation, number)
		}
	}
	return nil
}

// Status returns the per-destination state of one request.
func (s *Service) Status(ctx context.Context, appID, messageID string) ([]MessageStatus, error) {
	messages, err := s.q.GetMessagesByMessageID(ctx, appID, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load message status: %w", err)
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("message %s for app %s: %w", messageID, appID, ErrMessageNotFound)
	}

	statuses := make([]MessageStatus, 0, len(messages))
	for _, m := range messages {
		statuses = append(statuses, MessageStatus{
			PhoneNumber:  m.PhoneNumber,
			Status:       m.Status,
			ErrorMessage: m.ErrorMessage,
			SendTime:     m.SendTime,
			UpdateTime:   m.UpdateTime,
		})
	}
	return statuses, nil
}

// QueryStatus returns the state of one destination of one request.
func (s *Service) QueryStatus(ctx context.Context, messageID, phoneNumber string) (MessageStatus, error) {
	m, err := s.q.GetMessage(ctx, messageID, phoneNumber)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return MessageStatus{}, fmt.Errorf("message %s/%s: %w", messageID, phoneNumber, ErrMessageNotFound)
		}
		return MessageStatus{}, fmt.Errorf("failed to load message: %w", err)
	}
	return MessageStatus{
		PhoneNumber:  m.PhoneNumber,
		Status:       m.Status,
		ErrorMessage: m.ErrorMessage,
		SendTime:     m.SendTime,
		UpdateTime:   m.UpdateTime,
	}, nil
}

// Statistics aggregates delivery outcomes for an app over a date range.
func (s *Service) Statistics(ctx context.Context, appID string, startDate, endDate time.Time) (database.MessageStatistics, error) {
	stats, err := s.q.GetMessageStatistics(ctx, database.GetMessageStatisticsParams{
		AppID:     appID,
		StartDate: startDate,
		EndDate:   endDate,
	})
	if err != nil {
		return database.MessageStatistics{}, fmt.Errorf("failed to load statistics: %w", err)
	}
	return stats, nil
}
