package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tutadeploy/smpp-server/internal/config"
	"github.com/tutadeploy/smpp-server/internal/database"
	"github.com/tutadeploy/smpp-server/internal/dlr"
	"github.com/tutadeploy/smpp-server/internal/ledger"
	"github.com/tutadeploy/smpp-server/internal/logging"
	"github.com/tutadeploy/smpp-server/internal/smpp"
	"github.com/tutadeploy/smpp-server/pkg/codes"
	"github.com/tutadeploy/smpp-server/pkg/errormapper"
)

// Submitter is the slice of the SMPP session the dispatcher needs.
type Submitter interface {
	ProviderID() string
	Submit(ctx context.Context, req smpp.SubmitRequest) (string, error)
}

// SubmitterSource yields the session behind the active provider.
type SubmitterSource interface {
	Active() (Submitter, error)
}

// Billing is the slice of the ledger the dispatcher needs.
type Billing interface {
	DeductBalance(ctx context.Context, appID string, count int, description string) error
}

// MappingWriter records providerMessageId correlations for the DLR path.
type MappingWriter interface {
	Store(ctx context.Context, providerMessageID string, m dlr.Mapping) error
}

// RetryPublisher republishes a failed envelope after its backoff delay.
type RetryPublisher interface {
	Schedule(ctx context.Context, env Envelope)
}

// DeadLetterSink archives an envelope that exhausted normal processing.
type DeadLetterSink interface {
	Publish(ctx context.Context, env Envelope, reason string) error
}

// Dispatcher turns one consumed envelope into one provider submit, and
// owns the recording of every outcome: SENDING on acceptance, a delayed
// retry on transient failure, dead-letter plus FAILED on exhaustion.
type Dispatcher struct {
	q           database.Querier
	billing     Billing
	sessions    SubmitterSource
	mappings    MappingWriter
	retries     RetryPublisher
	deadLetters DeadLetterSink
	cfg         config.ConsumerConfig
}

func NewDispatcher(
	q database.Querier,
	billing Billing,
	sessions SubmitterSource,
	mappings MappingWriter,
	retries RetryPublisher,
	deadLetters DeadLetterSink,
	cfg config.ConsumerConfig,
) *Dispatcher {
	return &Dispatcher{
		q:           q,
		billing:     billing,
		sessions:    sessions,
		mappings:    mappings,
		retries:     retries,
		deadLetters: deadLetters,
		cfg:         cfg,
	}
}

// Dispatch processes one envelope. The returned error is informational;
// the outcome has already been recorded by the time Dispatch returns, so
// the consumer may advance its checkpoint either way.
func (d *Dispatcher) Dispatch(ctx context.Context, env Envelope) error {
	logCtx := logging.ContextWithMessageID(ctx, env.MessageID)
	logCtx = logging.ContextWithAppID(logCtx, env.AppID)
	logCtx = logging.ContextWithPhoneNumber(logCtx, env.PhoneNumber)

	// Debit exactly once per destination. The envelope flag survives
	// retries, and the transactions table is the durable record behind
	// it: a retry whose earlier debit attempt failed tries again, and a
	// replayed envelope that was already charged is not charged twice.
	if !env.Debited {
		desc := debitDescription(env)
		charged, err := d.q.TransactionExists(logCtx, database.TransactionExistsParams{
			AppID:       env.AppID,
			Type:        ledger.TxTypeDeduct,
			Description: desc,
		})
		if err != nil {
			return d.retryOrDeadLetter(logCtx, env, errormapper.ErrorCodeDatabaseError, err.Error())
		}
		if !charged {
			if err := d.billing.DeductBalance(logCtx, env.AppID, 1, desc); err != nil {
				if errors.Is(err, ledger.ErrInsufficientBalance) || errors.Is(err, ledger.ErrAccountNotFound) {
					// Terminal: more retries cannot conjure funds.
					d.terminate(logCtx, env, errormapper.ErrorCodeInsufficientFunds, err.Error())
					return nil
				}
				return d.retryOrDeadLetter(logCtx, env, errormapper.ErrorCodeDatabaseError, err.Error())
			}
		}
		env.Debited = true
	}

	d.markProcessing(logCtx, env)

	sess, err := d.sessions.Active()
	if err != nil {
		return d.retryOrDeadLetter(logCtx, env, errormapper.ErrorCodeProviderUnavailable, err.Error())
	}

	providerMessageID, err := sess.Submit(logCtx, smpp.SubmitRequest{
		PhoneNumber:  env.PhoneNumber,
		Content:      env.Content,
		SenderID:     env.SenderID,
		ScheduleTime: env.ScheduleTime,
	})
	if err != nil {
		code := errormapper.ErrorCodeProviderUnavailable
		var submitErr *smpp.SubmitError
		if errors.As(err, &submitErr) {
			code = submitErr.Code()
		}
		return d.retryOrDeadLetter(logCtx, env, code, err.Error())
	}

	providerID := sess.ProviderID()
	logCtx = logging.ContextWithProviderMsgID(logCtx, providerMessageID)
	if err := d.q.UpdateMessageDispatched(logCtx, database.UpdateMessageDispatchedParams{
		MessageID:         env.MessageID,
		PhoneNumber:       env.PhoneNumber,
		ProviderID:        &providerID,
		ProviderMessageID: &providerMessageID,
		Status:            codes.MsgStatusSending,
	}); err != nil {
		slog.ErrorContext(logCtx, "Provider accepted message but dispatch record failed",
			slog.Any("error", err))
		return err
	}

	if err := d.mappings.Store(logCtx, providerMessageID, dlr.Mapping{
		MessageID:   env.MessageID,
		PhoneNumber: env.PhoneNumber,
	}); err != nil {
		// Correlation falls back to the DB lookup.
		slog.WarnContext(logCtx, "Failed to store DLR mapping", slog.Any("error", err))
	}

	slog.InfoContext(logCtx, "Message dispatched",
		slog.String("provider_id", providerID),
		slog.Int("retry_count", env.RetryCount))
	return nil
}

// debitDescription is the ledger row description for one destination's
// debit; TransactionExists keys on it.
func debitDescription(env Envelope) string {
	return fmt.Sprintf("send %s %s", env.MessageID, env.PhoneNumber)
}

func (d *Dispatcher) markProcessing(ctx context.Context, env Envelope) {
	if _, err := d.q.UpdateMessageStatusIfCurrent(ctx, database.UpdateMessageStatusIfCurrentParams{
		MessageID:      env.MessageID,
		PhoneNumber:    env.PhoneNumber,
		ExpectedStatus: codes.MsgStatusQueued,
		Status:         codes.MsgStatusProcessing,
	}); err != nil {
		slog.WarnContext(ctx, "Failed to mark message processing", slog.Any("error", err))
	}
}

// retryOrDeadLetter requeues the envelope with an incremented retry count,
// or dead-letters it once the retry budget is spent.
func (d *Dispatcher) retryOrDeadLetter(ctx context.Context, env Envelope, code, detail string) error {
	reason := fmt.Sprintf("%s: %s", code, detail)

	if env.RetryCount < d.cfg.MaxRetries {
		now := time.Now()
		retry := env
		retry.RetryCount = env.RetryCount + 1
		retry.LastRetryTime = &now
		retry.FailureReason = reason

		if err := d.q.UpdateMessageRetry(ctx, database.UpdateMessageRetryParams{
			MessageID:   env.MessageID,
			PhoneNumber: env.PhoneNumber,
			RetryCount:  int32(retry.RetryCount),
			Status:      codes.MsgStatusQueued,
		}); err != nil {
			slog.ErrorContext(ctx, "Failed to record retry", slog.Any("error", err))
		}

		slog.WarnContext(ctx, "Dispatch failed, scheduling retry",
			slog.Int("retry_count", retry.RetryCount),
			slog.String("reason", reason))
		d.retries.Schedule(ctx, retry)
		return nil
	}

	d.terminate(ctx, env, code, detail)
	return nil
}

// terminate marks the message FAILED and archives the envelope.
func (d *Dispatcher) terminate(ctx context.Context, env Envelope, code, detail string) {
	reason := fmt.Sprintf("%s: %s", code, detail)
	errMsg := reason

	if err := d.q.MarkMessageFailed(ctx, database.MarkMessageFailedParams{
		MessageID:    env.MessageID,
		PhoneNumber:  env.PhoneNumber,
		ErrorMessage: &errMsg,
	}); err != nil {
		slog.ErrorContext(ctx, "Failed to mark message failed", slog.Any("error", err))
	}

	if err := d.deadLetters.Publish(ctx, env, reason); err != nil {
		slog.ErrorContext(ctx, "Failed to dead-letter envelope", slog.Any("error", err))
	}

	slog.WarnContext(ctx, "Message dead-lettered",
		slog.Int("retry_count", env.RetryCount),
		slog.String("reason", reason))
}
