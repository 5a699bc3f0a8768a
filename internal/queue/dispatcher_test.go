package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/tutadeploy/smpp-server/internal/config"
	"github.com/tutadeploy/smpp-server/internal/database"
	"github.com/tutadeploy/smpp-server/internal/dlr"
	"github.com/tutadeploy/smpp-server/internal/ledger"
	"github.com/tutadeploy/smpp-server/internal/smpp"
	"github.com/tutadeploy/smpp-server/pkg/codes"
)

type fakeBilling struct {
	mu       sync.Mutex
	debits   int
	failErr  error
	failNext int // fail this many calls with a transient error, then succeed
}

func (f *fakeBilling) DeductBalance(context.Context, string, int, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return errors.New("write conn reset")
	}
	if f.failErr != nil {
		return f.failErr
	}
	f.debits++
	return nil
}

type fakeSubmitter struct {
	mu        sync.Mutex
	submits   int
	messageID string
	err       error
}

func (f *fakeSubmitter) ProviderID() string { return "prov-a" }

func (f *fakeSubmitter) Submit(context.Context, smpp.SubmitRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	if f.err != nil {
		return "", f.err
	}
	return f.messageID, nil
}

type fakeSource struct {
	submitter Submitter
	err       error
}

func (f *fakeSource) Active() (Submitter, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.submitter, nil
}

type fakeMappingWriter struct {
	mu     sync.Mutex
	stored map[string]dlr.Mapping
}

func (f *fakeMappingWriter) Store(_ context.Context, providerMessageID string, m dlr.Mapping) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stored == nil {
		f.stored = map[string]dlr.Mapping{}
	}
	f.stored[providerMessageID] = m
	return nil
}

type fakeRetries struct {
	mu        sync.Mutex
	scheduled []Envelope
}

func (f *fakeRetries) Schedule(_ context.Context, env Envelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, env)
}

type fakeDeadLetters struct {
	mu        sync.Mutex
	published []Envelope
	reasons   []string
}

func (f *fakeDeadLetters) Publish(_ context.Context, env Envelope, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, env)
	f.reasons = append(f.reasons, reason)
	return nil
}

type fakeDispatchDB struct {
	database.Querier
	mu          sync.Mutex
	txExists    bool
	dispatched  []database.UpdateMessageDispatchedParams
	retries     []database.UpdateMessageRetryParams
	failed      []database.MarkMessageFailedParams
	statusMoves []database.UpdateMessageStatusIfCurrentParams
}

func (f *fakeDispatchDB) TransactionExists(_ context.Context, _ database.TransactionExistsParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.txExists, nil
}

func (f *fakeDispatchDB) UpdateMessageDispatched(_ context.Context, arg database.UpdateMessageDispatchedParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatched = append(f.dispatched, arg)
	return nil
}

func (f *fakeDispatchDB) UpdateMessageRetry(_ context.Context, arg database.UpdateMessageRetryParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retries = append(f.retries, arg)
	return nil
}

func (f *fakeDispatchDB) MarkMessageFailed(_ context.Context, arg database.MarkMessageFailedParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, arg)
	return nil
}

func (f *fakeDispatchDB) UpdateMessageStatusIfCurrent(_ context.Context, arg database.UpdateMessageStatusIfCurrentParams) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusMoves = append(f.statusMoves, arg)
	return 1, nil
}

type dispatchFixture struct {
	dispatcher  *Dispatcher
	db          *fakeDispatchDB
	billing     *fakeBilling
	submitter   *fakeSubmitter
	source      *fakeSource
	mappings    *fakeMappingWriter
	retries     *fakeRetries
	deadLetters *fakeDeadLetters
}

func newDispatchFixture(maxRetries int) *dispatchFixture {
	f := &dispatchFixture{
		db:          &fakeDispatchDB{},
		billing:     &fakeBilling{},
		submitter:   &fakeSubmitter{messageID: "PM-1"},
		mappings:    &fakeMappingWriter{},
		retries:     &fakeRetries{},
		deadLetters: &fakeDeadLetters{},
	}
	f.source = &fakeSource{submitter: f.submitter}
	f.dispatcher = NewDispatcher(f.db, f.billing, f.source, f.mappings, f.retries, f.deadLetters,
		config.ConsumerConfig{MaxRetries: maxRetries})
	return f
}

func testEnvelope(retryCount int) Envelope {
	return Envelope{
		MessageID:   "msg-1",
		AppID:       "app-1",
		PhoneNumber: "+2348031234567",
		Content:     "hello",
		SenderID:    "INFO",
		RetryCount:  retryCount,
	}
}

func TestDispatchSuccess(t *testing.T) {
	f := newDispatchFixture(3)

	if err := f.dispatcher.Dispatch(context.Background(), testEnvelope(0)); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if f.billing.debits != 1 {
		t.Errorf("debits = %d, want 1", f.billing.debits)
	}
	if len(f.db.dispatched) != 1 {
		t.Fatalf("dispatch records = %d, want 1", len(f.db.dispatched))
	}
	rec := f.db.dispatched[0]
	if rec.Status != codes.MsgStatusSending {
		t.Errorf("dispatch status = %s, want SENDING", rec.Status)
	}
	if rec.ProviderMessageID == nil || *rec.ProviderMessageID != "PM-1" {
		t.Errorf("provider message id = %v, want PM-1", rec.ProviderMessageID)
	}
	if m, ok := f.mappings.stored["PM-1"]; !ok || m.MessageID != "msg-1" {
		t.Errorf("DLR mapping = %v, want msg-1", f.mappings.stored)
	}
	if len(f.retries.scheduled) != 0 || len(f.deadLetters.published) != 0 {
		t.Error("successful dispatch scheduled a retry or dead-letter")
	}
}

func TestDispatchRetryDoesNotRedebit(t *testing.T) {
	f := newDispatchFixture(3)

	env := testEnvelope(2)
	env.Debited = true
	if err := f.dispatcher.Dispatch(context.Background(), env); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if f.billing.debits != 0 {
		t.Errorf("debits = %d, want 0 on retry attempt", f.billing.debits)
	}
	if f.submitter.submits != 1 {
		t.Errorf("submits = %d, want 1", f.submitter.submits)
	}
}

func TestDispatchRetryDebitsAfterTransientBillingFailure(t *testing.T) {
	f := newDispatchFixture(3)
	f.billing.failNext = 1

	if err := f.dispatcher.Dispatch(context.Background(), testEnvelope(0)); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if f.submitter.submits != 0 {
		t.Error("submitted without a successful debit")
	}
	if len(f.retries.scheduled) != 1 {
		t.Fatalf("retries = %d, want 1", len(f.retries.scheduled))
	}
	retry := f.retries.scheduled[0]
	if retry.Debited {
		t.Error("retry envelope claims a debit that never landed")
	}

	if err := f.dispatcher.Dispatch(context.Background(), retry); err != nil {
		t.Fatalf("Dispatch retry: %v", err)
	}
	if f.billing.debits != 1 {
		t.Errorf("debits = %d, want 1 (the retry attempts the debit again)", f.billing.debits)
	}
	if f.submitter.submits != 1 {
		t.Errorf("submits = %d, want 1", f.submitter.submits)
	}
}

func TestDispatchSkipsDebitAlreadyInLedger(t *testing.T) {
	f := newDispatchFixture(3)
	// A replayed message starts with a fresh envelope but its DEDUCT row
	// from the first pass is still in the ledger.
	f.db.txExists = true

	if err := f.dispatcher.Dispatch(context.Background(), testEnvelope(0)); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if f.billing.debits != 0 {
		t.Errorf("debits = %d, want 0 for an already-charged message", f.billing.debits)
	}
	if f.submitter.submits != 1 {
		t.Errorf("submits = %d, want 1", f.submitter.submits)
	}
}

func TestDispatchInsufficientBalanceIsTerminal(t *testing.T) {
	f := newDispatchFixture(3)
	f.billing.failErr = fmt.Errorf("app app-1: %w", ledger.ErrInsufficientBalance)

	if err := f.dispatcher.Dispatch(context.Background(), testEnvelope(0)); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if f.submitter.submits != 0 {
		t.Error("submitted despite failed debit")
	}
	if len(f.retries.scheduled) != 0 {
		t.Error("insufficient balance scheduled a retry")
	}
	if len(f.deadLetters.published) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(f.deadLetters.published))
	}
	if len(f.db.failed) != 1 {
		t.Fatalf("failed marks = %d, want 1", len(f.db.failed))
	}
}

func TestDispatchSubmitFailureSchedulesLinearRetry(t *testing.T) {
	f := newDispatchFixture(3)
	f.submitter.err = &smpp.SubmitError{Status: 0x58}

	if err := f.dispatcher.Dispatch(context.Background(), testEnvelope(1)); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if len(f.retries.scheduled) != 1 {
		t.Fatalf("retries scheduled = %d, want 1", len(f.retries.scheduled))
	}
	retry := f.retries.scheduled[0]
	if retry.RetryCount != 2 {
		t.Errorf("retry count = %d, want 2", retry.RetryCount)
	}
	if retry.LastRetryTime == nil || retry.FailureReason == "" {
		t.Error("retry envelope missing failure context")
	}
	if len(f.db.retries) != 1 || f.db.retries[0].RetryCount != 2 {
		t.Errorf("retry rows = %+v, want one with count 2", f.db.retries)
	}
	if len(f.deadLetters.published) != 0 {
		t.Error("retryable failure was dead-lettered")
	}
}

func TestDispatchExhaustedRetriesDeadLetters(t *testing.T) {
	maxRetries := 3
	f := newDispatchFixture(maxRetries)
	f.submitter.err = &smpp.SubmitError{Status: 0x45}

	// Walk the full retry ladder the way the consumer would: the original
	// attempt plus maxRetries retries, each failing.
	env := testEnvelope(0)
	attempts := 0
	for {
		attempts++
		if err := f.dispatcher.Dispatch(context.Background(), env); err != nil {
			t.Fatalf("Dispatch attempt %d: %v", attempts, err)
		}
		if len(f.retries.scheduled) < attempts {
			break // no retry scheduled: this attempt dead-lettered
		}
		env = f.retries.scheduled[attempts-1]
	}

	if attempts != maxRetries+1 {
		t.Errorf("attempts = %d, want %d", attempts, maxRetries+1)
	}
	if len(f.deadLetters.published) != 1 {
		t.Errorf("dead letters = %d, want exactly 1", len(f.deadLetters.published))
	}
	if len(f.db.failed) != 1 {
		t.Errorf("FAILED marks = %d, want 1", len(f.db.failed))
	}
	if got := f.deadLetters.published[0].RetryCount; got != maxRetries {
		t.Errorf("dead-lettered retry count = %d, want %d", got, maxRetries)
	}
	// First attempt debits; retries must not.
	if f.billing.debits != 1 {
		t.Errorf("debits = %d, want 1 across all attempts", f.billing.debits)
	}
}

func TestDispatchNoActiveProviderRetries(t *testing.T) {
	f := newDispatchFixture(3)
	f.source.err = errors.New("no enabled providers configured")

	if err := f.dispatcher.Dispatch(context.Background(), testEnvelope(0)); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(f.retries.scheduled) != 1 {
		t.Fatalf("retries = %d, want 1", len(f.retries.scheduled))
	}
	if f.billing.debits != 1 {
		t.Errorf("debits = %d, want 1 (first attempt charges before submit)", f.billing.debits)
	}
}
