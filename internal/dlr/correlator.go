package dlr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tutadeploy/smpp-server/internal/database"
	"github.com/tutadeploy/smpp-server/internal/logging"
	"github.com/tutadeploy/smpp-server/pkg/codes"
	"github.com/tutadeploy/smpp-server/pkg/errormapper"
)

// ErrCorrelationMiss means a receipt referenced a provider message id this
// gateway has no record of. After the retry the receipt is dropped; the
// provider already got its ack from the session.
var ErrCorrelationMiss = errors.New("delivery report could not be correlated")

const defaultCorrelationRetryDelay = 2 * time.Second

// Correlator turns inbound delivery receipts into message and report row
// updates. It owns deduplication and correlation; the protocol ack belongs
// to the session and is never conditioned on anything done here.
type Correlator struct {
	q          database.Querier
	mappings   MappingLookup
	dedup      *Deduper
	retryDelay time.Duration
}

func NewCorrelator(q database.Querier, mappings MappingLookup) *Correlator {
	return &Correlator{
		q:          q,
		mappings:   mappings,
		dedup:      NewDeduper(DefaultDedupWindow),
		retryDelay: defaultCorrelationRetryDelay,
	}
}

// HandleReceipt processes one deliver_sm payload. Safe to call from the
// session's receive path.
func (c *Correlator) HandleReceipt(ctx context.Context, providerID, payload string, seq int32) error {
	logCtx := logging.ContextWithProviderID(ctx, providerID)
	logCtx = logging.ContextWithSeqNumber(logCtx, seq)

	if c.dedup.Seen(payload, seq) {
		slog.DebugContext(logCtx, "Duplicate delivery receipt suppressed")
		return nil
	}

	receipt, err := ParseReceipt(payload)
	if err != nil {
		slog.WarnContext(logCtx, "Unparseable deliver_sm payload dropped",
			slog.String("payload", payload))
		return nil
	}
	logCtx = logging.ContextWithProviderMsgID(logCtx, receipt.ProviderMessageID)

	status := errormapper.MapReceiptStatus(receipt.Stat)

	msg, err := c.resolve(logCtx, receipt.ProviderMessageID)
	if err != nil {
		if errors.Is(err, ErrCorrelationMiss) {
			slog.WarnContext(logCtx, "Delivery receipt dropped, no matching message",
				slog.String("stat", receipt.Stat))
		}
		return err
	}
	logCtx = logging.ContextWithMessageID(logCtx, msg.MessageID)
	logCtx = logging.ContextWithPhoneNumber(logCtx, msg.PhoneNumber)

	c.applyToMessage(logCtx, msg, receipt, status)
	c.applyToReport(logCtx, msg, providerID, receipt, status)

	slog.InfoContext(logCtx, "Delivery receipt processed",
		slog.String("stat", receipt.Stat),
		slog.String("status", status))
	return nil
}

// resolve finds the message a receipt belongs to: redis mapping first,
// then the messages table, then one retry of both after a short delay.
// Receipts can outrun the submit-ack transaction that records the
// provider message id, which is what the retry absorbs.
func (c *Correlator) resolve(ctx context.Context, providerMessageID string) (database.Message, error) {
	for attempt := 0; ; attempt++ {
		m, ok, err := c.mappings.Lookup(ctx, providerMessageID)
		if err != nil {
			slog.WarnContext(ctx, "DLR mapping lookup failed", slog.Any("error", err))
		} else if ok {
			msg, err := c.q.GetMessage(ctx, m.MessageID, m.PhoneNumber)
			if err == nil {
				return msg, nil
			}
			if !errors.Is(err, pgx.ErrNoRows) {
				return database.Message{}, fmt.Errorf("failed to load mapped message: %w", err)
			}
		}

		msg, err := c.q.GetMessageByProviderMessageID(ctx, providerMessageID)
		if err == nil {
			return msg, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return database.Message{}, fmt.Errorf("failed to look up message by provider id: %w", err)
		}

		if attempt >= 1 {
			return database.Message{}, ErrCorrelationMiss
		}

		select {
		case <-ctx.Done():
			return database.Message{}, ctx.Err()
		case <-time.After(c.retryDelay):
		}
	}
}

func (c *Correlator) applyToMessage(ctx context.Context, msg database.Message, receipt Receipt, status string) {
	if !codes.CanOverwrite(msg.Status, status) {
		slog.DebugContext(ctx, "Receipt outranked by current message status",
			slog.String("current", msg.Status),
			slog.String("incoming", status))
		return
	}

	var errMsg *string
	if status == codes.MsgStatusFailed || status == codes.MsgStatusError {
		m := fmt.Sprintf("delivery receipt stat:%s err:%s", receipt.Stat, receipt.ErrorCode)
		errMsg = &m
	}

	affected, err := c.q.UpdateMessageStatusIfCurrent(ctx, database.UpdateMessageStatusIfCurrentParams{
		MessageID:      msg.MessageID,
		PhoneNumber:    msg.PhoneNumber,
		ExpectedStatus: msg.Status,
		Status:         status,
		ErrorMessage:   errMsg,
	})
	if err != nil {
		slog.ErrorContext(ctx, "Failed to update message from receipt", slog.Any("error", err))
		return
	}
	if affected == 0 {
		// Lost a race against another writer; the later receipt or the
		// rank rule will settle it.
		slog.DebugContext(ctx, "Message status changed concurrently, receipt write skipped")
	}
}

func (c *Correlator) applyToReport(ctx context.Context, msg database.Message, providerID string, receipt Receipt, status string) {
	var errCode *string
	if receipt.ErrorCode != "" {
		errCode = &receipt.ErrorCode
	}
	var deliveredAt *time.Time
	if status == codes.MsgStatusDelivered {
		now := time.Now()
		deliveredAt = &now
	}

	existing, err := c.q.GetDeliveryReport(ctx, msg.MessageID, receipt.ProviderMessageID)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			slog.ErrorContext(ctx, "Failed to load delivery report", slog.Any("error", err))
			return
		}
		if _, err := c.q.CreateDeliveryReport(ctx, database.CreateDeliveryReportParams{
			MessageID:         msg.MessageID,
			PhoneNumber:       msg.PhoneNumber,
			ProviderID:        providerID,
			ProviderMessageID: receipt.ProviderMessageID,
			Status:            status,
			ErrorCode:         errCode,
			DeliveredAt:       deliveredAt,
			RawPayload:        receipt.Raw,
		}); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				// A concurrent receipt inserted first; the rank rule on
				// the next receipt settles the row.
				slog.DebugContext(ctx, "Delivery report inserted concurrently, receipt write skipped")
				return
			}
			slog.ErrorContext(ctx, "Failed to create delivery report", slog.Any("error", err))
		}
		return
	}

	if !codes.CanOverwrite(existing.Status, status) {
		slog.DebugContext(ctx, "Receipt outranked by existing delivery report",
			slog.String("current", existing.Status),
			slog.String("incoming", status))
		return
	}

	if _, err := c.q.UpdateDeliveryReportIfCurrent(ctx, database.UpdateDeliveryReportIfCurrentParams{
		MessageID:         msg.MessageID,
		ProviderMessageID: receipt.ProviderMessageID,
		ExpectedStatus:    existing.Status,
		Status:            status,
		ErrorCode:         errCode,
		DeliveredAt:       deliveredAt,
		RawPayload:        receipt.Raw,
	}); err != nil {
		slog.ErrorContext(ctx, "Failed to update delivery report", slog.Any("error", err))
	}
}
