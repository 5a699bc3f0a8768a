package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"

	"github.com/tutadeploy/smpp-server/internal/config"
	"github.com/tutadeploy/smpp-server/internal/database"
	"github.com/tutadeploy/smpp-server/pkg/codes"
)

type fakePublisher struct {
	published []struct {
		topic string
		env   Envelope
	}
}

func (f *fakePublisher) Publish(_ context.Context, topic string, env Envelope) error {
	f.published = append(f.published, struct {
		topic string
		env   Envelope
	}{topic, env})
	return nil
}

type fakeReplayDB struct {
	database.Querier
	messages map[msgTestKey]database.Message
	resets   []database.ResetMessageForReplayParams
}

type msgTestKey struct{ messageID, phoneNumber string }

func (f *fakeReplayDB) GetMessage(_ context.Context, messageID, phoneNumber string) (database.Message, error) {
	m, ok := f.messages[msgTestKey{messageID, phoneNumber}]
	if !ok {
		return database.Message{}, pgx.ErrNoRows
	}
	return m, nil
}

func (f *fakeReplayDB) ResetMessageForReplay(_ context.Context, arg database.ResetMessageForReplayParams) error {
	f.resets = append(f.resets, arg)
	return nil
}

func newDeadLetterFixture(msgStatus string) (*DeadLetterService, *fakePublisher, *fakeReplayDB) {
	db := &fakeReplayDB{messages: map[msgTestKey]database.Message{
		{"msg-1", "+2348031234567"}: {
			MessageID:   "msg-1",
			AppID:       "app-1",
			PhoneNumber: "+2348031234567",
			Content:     "hello",
			Status:      msgStatus,
			RetryCount:  3,
		},
	}}
	pub := &fakePublisher{}
	svc := NewDeadLetterService(db, pub, config.KafkaConfig{
		SendTopic:       "sms-requests",
		DeadLetterTopic: "sms-dead-letter",
	})
	return svc, pub, db
}

func TestDeadLetterPublishCarriesFailureContext(t *testing.T) {
	svc, pub, _ := newDeadLetterFixture(codes.MsgStatusFailed)

	env := testEnvelope(3)
	if err := svc.Publish(context.Background(), env, "PROVIDER_REJECT: rejected"); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if len(pub.published) != 1 {
		t.Fatalf("published = %d, want 1", len(pub.published))
	}
	got := pub.published[0]
	if got.topic != "sms-dead-letter" {
		t.Errorf("topic = %s, want sms-dead-letter", got.topic)
	}
	if got.env.FailureReason != "PROVIDER_REJECT: rejected" {
		t.Errorf("failure reason = %q", got.env.FailureReason)
	}
	if got.env.LastRetryTime == nil {
		t.Error("last retry time not stamped")
	}
	if got.env.RetryCount != 3 {
		t.Errorf("retry count = %d, want 3 preserved", got.env.RetryCount)
	}
}

func TestReplayResetsAndRepublishes(t *testing.T) {
	svc, pub, db := newDeadLetterFixture(codes.MsgStatusFailed)

	// Only the identifiers matter; the envelope is rebuilt from the row.
	env := Envelope{MessageID: "msg-1", PhoneNumber: "+2348031234567"}
	if err := svc.Replay(context.Background(), env); err != nil {
		t.Fatalf("Replay: %v", err)
	}

	if len(db.resets) != 1 {
		t.Fatalf("resets = %d, want 1", len(db.resets))
	}
	if len(pub.published) != 1 {
		t.Fatalf("published = %d, want 1", len(pub.published))
	}
	got := pub.published[0]
	if got.topic != "sms-requests" {
		t.Errorf("topic = %s, want sms-requests", got.topic)
	}
	if got.env.RetryCount != 0 || got.env.FailureReason != "" || got.env.LastRetryTime != nil {
		t.Errorf("replayed envelope retains failure state: %+v", got.env)
	}
	if got.env.AppID != "app-1" || got.env.Content != "hello" {
		t.Errorf("replayed envelope not rebuilt from the stored row: %+v", got.env)
	}
}

func TestReplayRefusesDeliveredMessage(t *testing.T) {
	svc, pub, db := newDeadLetterFixture(codes.MsgStatusDelivered)

	err := svc.Replay(context.Background(), testEnvelope(3))
	if !errors.Is(err, ErrAlreadyDelivered) {
		t.Fatalf("Replay = %v, want ErrAlreadyDelivered", err)
	}
	if len(db.resets) != 0 || len(pub.published) != 0 {
		t.Error("refused replay still mutated state")
	}
}

func TestReplayUnknownMessage(t *testing.T) {
	svc, _, _ := newDeadLetterFixture(codes.MsgStatusFailed)

	env := testEnvelope(0)
	env.MessageID = "ghost"
	if err := svc.Replay(context.Background(), env); err == nil {
		t.Fatal("Replay of unknown message succeeded")
	}
}
