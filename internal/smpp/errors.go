package smpp

import (
	"errors"
	"fmt"

	"github.com/tutadeploy/smpp-server/pkg/errormapper"
)

// ErrBindRejected marks a bind refused by the provider. Credentials are
// wrong or the account is blocked; retrying the same bind cannot help, so
// the session stops and surfaces the error instead of reconnecting.
var ErrBindRejected = errors.New("smpp bind rejected by provider")

// ErrNotBound is returned by Submit and QueryStatus while the session has
// no bound connection.
var ErrNotBound = errors.New("smpp session not bound")

// ConnectionError wraps transport-level failures: dial, read, write,
// unexpected close. These are retryable through the reconnect cycle.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("smpp connection %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SubmitError carries the provider's numeric command status for a rejected
// or timed-out submit. Status zero with Timeout set means the request
// expired without any response.
type SubmitError struct {
	Status  uint32
	Timeout bool
}

func (e *SubmitError) Error() string {
	if e.Timeout {
		return "smpp submit timed out waiting for response"
	}
	return fmt.Sprintf("smpp submit rejected, command status %s", errormapper.FormatCommandStatus(e.Status))
}

// Code maps the failure onto an internal error code.
func (e *SubmitError) Code() string {
	if e.Timeout {
		return errormapper.ErrorCodeProviderTimeout
	}
	return errormapper.MapCommandStatus(e.Status)
}
