package smpp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tutadeploy/smpp-server/internal/config"
	"github.com/tutadeploy/smpp-server/pkg/codes"
	"github.com/tutadeploy/smpp-server/pkg/errormapper"
)

func TestReconnectDelayFixed(t *testing.T) {
	timing := config.SMPPConfig{
		ReconnectDelay:       5 * time.Second,
		ReconnectMaxDelay:    time.Minute,
		ReconnectExponential: false,
	}
	for attempt := 1; attempt <= 6; attempt++ {
		if got := reconnectDelay(timing, attempt); got != 5*time.Second {
			t.Errorf("attempt %d: delay = %s, want 5s", attempt, got)
		}
	}
}

func TestReconnectDelayExponentialCapped(t *testing.T) {
	timing := config.SMPPConfig{
		ReconnectDelay:       5 * time.Second,
		ReconnectMaxDelay:    time.Minute,
		ReconnectExponential: true,
	}
	want := []time.Duration{
		5 * time.Second,  // attempt 1
		10 * time.Second, // 2
		20 * time.Second, // 3
		40 * time.Second, // 4
		time.Minute,      // 5, capped
		time.Minute,      // 6, stays capped
	}
	for i, w := range want {
		if got := reconnectDelay(timing, i+1); got != w {
			t.Errorf("attempt %d: delay = %s, want %s", i+1, got, w)
		}
	}
}

func TestClassifyConnectError(t *testing.T) {
	if got := classifyConnectError(nil); got != nil {
		t.Fatalf("nil error classified as %v", got)
	}

	bindErr := classifyConnectError(errors.New("binding error: invalid system_id"))
	if !errors.Is(bindErr, ErrBindRejected) {
		t.Errorf("bind failure classified as %v, want ErrBindRejected", bindErr)
	}

	netErr := classifyConnectError(errors.New("dial tcp 10.0.0.1:2775: connection refused"))
	var connErr *ConnectionError
	if !errors.As(netErr, &connErr) {
		t.Errorf("network failure classified as %T, want *ConnectionError", netErr)
	}
	if errors.Is(netErr, ErrBindRejected) {
		t.Error("network failure classified as bind rejection")
	}
}

func TestSubmitErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  *SubmitError
		want string
	}{
		{name: "timeout", err: &SubmitError{Timeout: true}, want: errormapper.ErrorCodeProviderTimeout},
		{name: "invalid dest", err: &SubmitError{Status: 0x0B}, want: errormapper.ErrorCodeInvalidMSISDN},
		{name: "throttled", err: &SubmitError{Status: 0x58}, want: errormapper.ErrorCodeProviderUnavailable},
		{name: "unknown status", err: &SubmitError{Status: 0xFF}, want: errormapper.ErrorCodeProviderReject},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Code(); got != tt.want {
				t.Errorf("Code() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestMessageStateToCanonical(t *testing.T) {
	tests := []struct {
		state byte
		want  string
	}{
		{state: 1, want: codes.MsgStatusPending},
		{state: 2, want: codes.MsgStatusDelivered},
		{state: 3, want: codes.MsgStatusExpired},
		{state: 7, want: codes.MsgStatusPending},
		{state: 8, want: codes.MsgStatusFailed},
		{state: 9, want: codes.MsgStatusFailed},
	}
	for _, tt := range tests {
		if got := messageStateToCanonical(tt.state); got != tt.want {
			t.Errorf("state %d -> %s, want %s", tt.state, got, tt.want)
		}
	}
}

func TestSessionInitialState(t *testing.T) {
	s := NewSession(Config{ProviderID: "p1"})
	if got := s.Status(); got != codes.StatusDisconnected {
		t.Errorf("initial status = %s, want %s", got, codes.StatusDisconnected)
	}
	if s.Bound() {
		t.Error("new session reports bound")
	}
	if _, err := s.Submit(context.Background(), SubmitRequest{PhoneNumber: "+123456789012", SenderID: "INFO"}); !errors.Is(err, ErrNotBound) {
		t.Errorf("Submit on unbound session = %v, want ErrNotBound", err)
	}
}

func TestStartKeepsRetryingAfterConnectFailure(t *testing.T) {
	s := NewSession(Config{
		ProviderID: "prov-a",
		Host:       "127.0.0.1",
		Port:       9, // nothing listens here
		SystemID:   "sys",
		Password:   "pw",
		Timing: config.SMPPConfig{
			ConnectTimeout:       200 * time.Millisecond,
			RequestTimeout:       time.Second,
			ReconnectDelay:       time.Millisecond,
			MaxReconnectAttempts: 1,
		},
	})

	err := s.Start(context.Background())
	if err == nil {
		t.Fatal("Start against a closed port succeeded")
	}
	if errors.Is(err, ErrBindRejected) {
		t.Fatalf("Start = %v, transport failure classified as bind rejection", err)
	}

	// The run goroutine retries in the background until the attempt
	// budget is spent, then parks the session in the error state.
	deadline := time.After(5 * time.Second)
	for s.Status() != codes.StatusError {
		select {
		case <-deadline:
			t.Fatalf("status = %s, reconnect cycle never ran", s.Status())
		case <-time.After(10 * time.Millisecond):
		}
	}
	s.Stop(context.Background())
}
