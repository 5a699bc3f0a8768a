package database

import (
	"context"
	"time"
)

const reportColumns = `id, message_id, phone_number, provider_id, provider_message_id,
	status, error_code, error_message, delivered_at, received_at, raw_payload`

func scanReport(row interface{ Scan(dest ...interface{}) error }) (DeliveryReport, error) {
	var r DeliveryReport
	err := row.Scan(
		&r.ID, &r.MessageID, &r.PhoneNumber, &r.ProviderID, &r.ProviderMessageID,
		&r.Status, &r.ErrorCode, &r.ErrorMessage, &r.DeliveredAt, &r.ReceivedAt,
		&r.RawPayload,
	)
	return r, err
}

func (q *Queries) GetDeliveryReport(ctx context.Context, messageID, providerMessageID string) (DeliveryReport, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+reportColumns+` FROM delivery_reports
		WHERE message_id = $1 AND provider_message_id = $2`,
		messageID, providerMessageID,
	)
	return scanReport(row)
}

type CreateDeliveryReportParams struct {
	MessageID         string
	PhoneNumber       string
	ProviderID        string
	ProviderMessageID string
	Status            string
	ErrorCode         *string
	ErrorMessage      *string
	DeliveredAt       *time.Time
	RawPayload        string
}

// CreateDeliveryReport inserts a report row. (message_id,
// provider_message_id) is unique; when a concurrent receipt wins the
// insert this returns pgx.ErrNoRows and the caller leaves the existing
// row to the rank rule.
func (q *Queries) CreateDeliveryReport(ctx context.Context, arg CreateDeliveryReportParams) (DeliveryReport, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO delivery_reports (message_id, phone_number, provider_id,
			provider_message_id, status, error_code, error_message, delivered_at, raw_payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (message_id, provider_message_id) DO NOTHING
		RETURNING `+reportColumns,
		arg.MessageID, arg.PhoneNumber, arg.ProviderID, arg.ProviderMessageID,
		arg.Status, arg.ErrorCode, arg.ErrorMessage, arg.DeliveredAt, arg.RawPayload,
	)
	return scanReport(row)
}

type UpdateDeliveryReportIfCurrentParams struct {
	MessageID         string
	ProviderMessageID string
	ExpectedStatus    string
	Status            string
	ErrorCode         *string
	ErrorMessage      *string
	DeliveredAt       *time.Time
	RawPayload        string
}

// UpdateDeliveryReportIfCurrent overwrites the single logical report row for
// (message_id, provider_message_id), guarded by the status the caller read.
func (q *Queries) UpdateDeliveryReportIfCurrent(ctx context.Context, arg UpdateDeliveryReportIfCurrentParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE delivery_reports
		SET status = $4, error_code = $5, error_message = $6, delivered_at = $7,
			received_at = now(), raw_payload = $8
		WHERE message_id = $1 AND provider_message_id = $2 AND status = $3`,
		arg.MessageID, arg.ProviderMessageID, arg.ExpectedStatus, arg.Status,
		arg.ErrorCode, arg.ErrorMessage, arg.DeliveredAt, arg.RawPayload,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
