package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the wire form of one queued send: one message toward one
// destination. Envelopes are keyed by messageId on the topic so every
// destination of a request stays ordered relative to its own retries.
type Envelope struct {
	MessageID    string     `json:"messageId"`
	AppID        string     `json:"appId"`
	PhoneNumber  string     `json:"phoneNumber"`
	Content      string     `json:"content"`
	SenderID     string     `json:"senderId,omitempty"`
	OrderID      string     `json:"orderId,omitempty"`
	Priority     int32      `json:"priority,omitempty"`
	ScheduleTime *time.Time `json:"scheduleTime,omitempty"`

	// Retry bookkeeping, carried with the envelope so a replayed or
	// requeued message keeps its history. Debited flips once the balance
	// debit lands and stays set across retries.
	Debited       bool       `json:"debited,omitempty"`
	RetryCount    int        `json:"retryCount"`
	LastRetryTime *time.Time `json:"lastRetryTime,omitempty"`
	FailureReason string     `json:"failureReason,omitempty"`
}

func EncodeEnvelope(env Envelope) ([]byte, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope for %s: %w", env.MessageID, err)
	}
	return payload, nil
}

func DecodeEnvelope(payload []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if env.MessageID == "" || env.PhoneNumber == "" {
		return Envelope{}, fmt.Errorf("envelope missing messageId or phoneNumber")
	}
	return env, nil
}
