package database

import (
	"context"
	"time"
)

const messageColumns = `id, message_id, app_id, phone_number, content, sender_id, order_id,
	provider_id, provider_message_id, status, error_message, retry_count, priority,
	schedule_time, send_time, update_time, created_at`

func scanMessage(row interface{ Scan(dest ...interface{}) error }) (Message, error) {
	var m Message
	err := row.Scan(
		&m.ID, &m.MessageID, &m.AppID, &m.PhoneNumber, &m.Content, &m.SenderID,
		&m.OrderID, &m.ProviderID, &m.ProviderMessageID, &m.Status, &m.ErrorMessage,
		&m.RetryCount, &m.Priority, &m.ScheduleTime, &m.SendTime, &m.UpdateTime,
		&m.CreatedAt,
	)
	return m, err
}

type CreateMessageParams struct {
	MessageID    string
	AppID        string
	PhoneNumber  string
	Content      string
	SenderID     *string
	OrderID      *string
	Priority     int32
	ScheduleTime *time.Time
	Status       string
}

func (q *Queries) CreateMessage(ctx context.Context, arg CreateMessageParams) (Message, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO messages (message_id, app_id, phone_number, content, sender_id,
			order_id, priority, schedule_time, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+messageColumns,
		arg.MessageID, arg.AppID, arg.PhoneNumber, arg.Content, arg.SenderID,
		arg.OrderID, arg.Priority, arg.ScheduleTime, arg.Status,
	)
	return scanMessage(row)
}

func (q *Queries) GetMessage(ctx context.Context, messageID, phoneNumber string) (Message, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE message_id = $1 AND phone_number = $2`,
		messageID, phoneNumber,
	)
	return scanMessage(row)
}

func (q *Queries) GetMessagesByMessageID(ctx context.Context, appID, messageID string) ([]Message, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE app_id = $1 AND message_id = $2
		ORDER BY id`,
		appID, messageID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (q *Queries) GetMessageByProviderMessageID(ctx context.Context, providerMessageID string) (Message, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE provider_message_id = $1`,
		providerMessageID,
	)
	return scanMessage(row)
}

type UpdateMessageDispatchedParams struct {
	MessageID         string
	PhoneNumber       string
	ProviderID        *string
	ProviderMessageID *string
	Status            string
}

// UpdateMessageDispatched records a successful submit: the provider-assigned
// message id, the provider that carried it, and the send timestamp.
func (q *Queries) UpdateMessageDispatched(ctx context.Context, arg UpdateMessageDispatchedParams) error {
	_, err := q.db.Exec(ctx, `
		UPDATE messages
		SET provider_id = $3, provider_message_id = $4, status = $5,
			send_time = now(), update_time = now()
		WHERE message_id = $1 AND phone_number = $2`,
		arg.MessageID, arg.PhoneNumber, arg.ProviderID, arg.ProviderMessageID, arg.Status,
	)
	return err
}

type UpdateMessageStatusIfCurrentParams struct {
	MessageID      string
	PhoneNumber    string
	ExpectedStatus string
	Status         string
	ErrorMessage   *string
}

// UpdateMessageStatusIfCurrent applies a status change only when the row
// still holds the status the caller read. The rank comparison happens in Go
// (pkg/codes); the WHERE clause makes the read-compare-write safe against a
// concurrent writer.
func (q *Queries) UpdateMessageStatusIfCurrent(ctx context.Context, arg UpdateMessageStatusIfCurrentParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE messages
		SET status = $4, error_message = COALESCE($5, error_message), update_time = now()
		WHERE message_id = $1 AND phone_number = $2 AND status = $3`,
		arg.MessageID, arg.PhoneNumber, arg.ExpectedStatus, arg.Status, arg.ErrorMessage,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type UpdateMessageRetryParams struct {
	MessageID   string
	PhoneNumber string
	RetryCount  int32
	Status      string
}

// UpdateMessageRetry bumps the retry counter and parks the row back in the
// given status until the delayed envelope comes around again.
func (q *Queries) UpdateMessageRetry(ctx context.Context, arg UpdateMessageRetryParams) error {
	_, err := q.db.Exec(ctx, `
		UPDATE messages
		SET retry_count = $3, status = $4, update_time = now()
		WHERE message_id = $1 AND phone_number = $2`,
		arg.MessageID, arg.PhoneNumber, arg.RetryCount, arg.Status,
	)
	return err
}

type MarkMessageFailedParams struct {
	MessageID    string
	PhoneNumber  string
	ErrorMessage *string
}

func (q *Queries) MarkMessageFailed(ctx context.Context, arg MarkMessageFailedParams) error {
	_, err := q.db.Exec(ctx, `
		UPDATE messages
		SET status = 'FAILED', error_message = $3, update_time = now()
		WHERE message_id = $1 AND phone_number = $2`,
		arg.MessageID, arg.PhoneNumber, arg.ErrorMessage,
	)
	return err
}

type ResetMessageForReplayParams struct {
	MessageID   string
	PhoneNumber string
}

// ResetMessageForReplay requeues a dead-lettered row: status back to QUEUED,
// retry counter cleared.
func (q *Queries) ResetMessageForReplay(ctx context.Context, arg ResetMessageForReplayParams) error {
	_, err := q.db.Exec(ctx, `
		UPDATE messages
		SET status = 'QUEUED', retry_count = 0, error_message = NULL, update_time = now()
		WHERE message_id = $1 AND phone_number = $2`,
		arg.MessageID, arg.PhoneNumber,
	)
	return err
}

type GetMessageStatisticsParams struct {
	AppID     string
	StartDate time.Time
	EndDate   time.Time
}

func (q *Queries) GetMessageStatistics(ctx context.Context, arg GetMessageStatisticsParams) (MessageStatistics, error) {
	var s MessageStatistics
	err := q.db.QueryRow(ctx, `
		SELECT count(*),
			count(*) FILTER (WHERE status = 'DELIVERED'),
			count(*) FILTER (WHERE status IN ('FAILED', 'ERROR', 'EXPIRED')),
			count(*) FILTER (WHERE status IN ('PENDING', 'QUEUED', 'SENDING', 'PROCESSING'))
		FROM messages
		WHERE app_id = $1 AND created_at BETWEEN $2 AND $3`,
		arg.AppID, arg.StartDate, arg.EndDate,
	).Scan(&s.Total, &s.Delivered, &s.Failed, &s.Pending)
	return s, err
}
