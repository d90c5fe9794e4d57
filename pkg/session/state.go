package session

// State is the state of a session's state machine.
type State uint8

const (
	// StateConnecting indicates that the transport is established but no
	// protocol bytes have been exchanged.
	StateConnecting State = iota
	// StateNegotiating indicates that version negotiation is in progress.
	StateNegotiating
	// StateIdle indicates that no command is outstanding.
	StateIdle
	// StateAwaitingResponse indicates that exactly one command is outstanding.
	StateAwaitingResponse
	// StateClosed indicates that the session has terminated. It is terminal.
	StateClosed
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateNegotiating:
		return "negotiating"
	case StateIdle:
		return "idle"
	case StateAwaitingResponse:
		return "awaiting-response"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CloseReason indicates why a session closed.
type CloseReason uint8

const (
	// CloseReasonNone indicates that the session hasn't closed.
	CloseReasonNone CloseReason = iota
	// CloseReasonNormal indicates an orderly shutdown by either side.
	CloseReasonNormal
	// CloseReasonTransportError indicates a connection failure or a refused
	// trust check.
	CloseReasonTransportError
	// CloseReasonVersionMismatch indicates failed version negotiation.
	CloseReasonVersionMismatch
	// CloseReasonProtocolViolation indicates a malformed frame or a response
	// that's invalid in the current state.
	CloseReasonProtocolViolation
	// CloseReasonTimeout indicates that a command went unanswered for too
	// long.
	CloseReasonTimeout
)

// String returns a human-readable representation of the close reason.
func (r CloseReason) String() string {
	switch r {
	case CloseReasonNone:
		return "none"
	case CloseReasonNormal:
		return "normal"
	case CloseReasonTransportError:
		return "transport_error"
	case CloseReasonVersionMismatch:
		return "version_mismatch"
	case CloseReasonProtocolViolation:
		return "protocol_violation"
	case CloseReasonTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Observer receives state transitions. It is invoked synchronously, in
// transition order, and must not call back into the session.
type Observer func(from, to State)
