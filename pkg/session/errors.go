package session

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/hotswap-io/hotswap/pkg/handshake"
	"github.com/hotswap-io/hotswap/pkg/protocol"
)

// ErrClosed indicates that a session closed before a command could complete.
var ErrClosed = errors.New("session closed")

// TransportError indicates a connection-level failure. It is fatal to the
// session.
type TransportError struct {
	// Err is the underlying error.
	Err error
}

// Error implements error.Error.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolViolationError indicates that the peer broke the protocol. It is
// fatal to the session.
type ProtocolViolationError struct {
	// Reason describes the violation.
	Reason string
}

// Error implements error.Error.
func (e *ProtocolViolationError) Error() string {
	return "protocol violation: " + e.Reason
}

// TimeoutError indicates that a command went unanswered. It is fatal to the
// session.
type TimeoutError struct {
	// Command is the tag of the unanswered command.
	Command protocol.CommandTag
	// Timeout is the timeout that elapsed.
	Timeout time.Duration
}

// Error implements error.Error.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s unanswered after %s", e.Command, e.Timeout)
}

// CommandError indicates that the client reported a command failure. It does
// not close the session.
type CommandError struct {
	// Command is the tag of the failed command.
	Command protocol.CommandTag
	// Reason is the client's failure reason.
	Reason string
}

// Error implements error.Error.
func (e *CommandError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Command, e.Reason)
}

// IsCommandFailure returns whether or not an error is (or wraps) a
// CommandError.
func IsCommandFailure(err error) bool {
	var commandErr *CommandError
	return errors.As(err, &commandErr)
}

// reasonFor maps a terminal error to a close reason.
func reasonFor(err error) CloseReason {
	var violationErr *ProtocolViolationError
	var timeoutErr *TimeoutError
	switch {
	case err == nil:
		return CloseReasonNormal
	case handshake.IsVersionMismatch(err):
		return CloseReasonVersionMismatch
	case errors.As(err, &timeoutErr):
		return CloseReasonTimeout
	case errors.As(err, &violationErr):
		return CloseReasonProtocolViolation
	default:
		return CloseReasonTransportError
	}
}
