package database

import (
	"time"

	"github.com/shopspring/decimal"
)

// Message is one (message_id, phone_number) row. message_id is the request
// correlation key shared by every destination of one send request.
type Message struct {
	ID                int64
	MessageID         string
	AppID             string
	PhoneNumber       string
	Content           string
	SenderID          *string
	OrderID           *string
	ProviderID        *string
	ProviderMessageID *string
	Status            string
	ErrorMessage      *string
	RetryCount        int32
	Priority          int32
	ScheduleTime      *time.Time
	SendTime          *time.Time
	UpdateTime        *time.Time
	CreatedAt         time.Time
}

// DeliveryReport holds one logical receipt per (message_id,
// provider_message_id). Re-delivered receipts update the row in place,
// subject to the status rank rule; they never duplicate it.
type DeliveryReport struct {
	ID                int64
	MessageID         string
	PhoneNumber       string
	ProviderID        string
	ProviderMessageID string
	Status            string
	ErrorCode         *string
	ErrorMessage      *string
	DeliveredAt       *time.Time
	ReceivedAt        time.Time
	RawPayload        string
}

type Account struct {
	ID          int64
	AppID       string
	Balance     decimal.Decimal
	GiftBalance decimal.Decimal
	CreditLimit decimal.Decimal
	CreditUsed  decimal.Decimal
	DailyLimit  int32
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Transaction rows are append-only.
type Transaction struct {
	ID            int64
	AccountID     int64
	AppID         string
	Amount        decimal.Decimal
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	Type          string
	Description   string
	CreatedAt     time.Time
}

type Provider struct {
	ID             int64
	ProviderID     string
	ProviderName   string
	Host           string
	Port           int32
	SystemID       string
	Password       string
	SystemType     string
	Priority       int32
	Weight         int32
	Enabled        bool
	MaxConnections int32
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// MessageStatistics aggregates per-app delivery outcomes over a date range.
type MessageStatistics struct {
	Total     int64
	Delivered int64
	Failed    int64
	Pending   int64
}
