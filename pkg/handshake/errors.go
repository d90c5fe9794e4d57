package handshake

import (
	"fmt"

	"github.com/pkg/errors"
)

// VersionMismatchError indicates that the two sides of a connection do not
// share a compatible protocol version. It usually means that one side is a
// stale binary.
type VersionMismatchError struct {
	// Protocol is the name of the protocol being negotiated.
	Protocol string
	// Local is the local version.
	Local int32
	// Remote is the remote version, or 0 if it was never received.
	Remote int32
	// Abrupt indicates that the remote closed the connection before sending
	// its version, which is how agents refuse servers they can't speak to.
	Abrupt bool
}

// Error implements error.Error.
func (e *VersionMismatchError) Error() string {
	if e.Abrupt {
		return fmt.Sprintf("%s protocol version mismatch: peer closed connection without accepting version %d (stale client?)",
			e.Protocol, e.Local)
	}
	return fmt.Sprintf("%s protocol version mismatch: local %d, remote %d",
		e.Protocol, e.Local, e.Remote)
}

// IsVersionMismatch indicates whether or not an error (or its cause) is a
// VersionMismatchError.
func IsVersionMismatch(err error) bool {
	var mismatch *VersionMismatchError
	return errors.As(err, &mismatch)
}

// UntrustedError indicates that the peer did not present the shared key. It
// is a connection-level refusal rather than a protocol failure.
type UntrustedError struct {
	// Protocol is the name of the protocol being negotiated.
	Protocol string
}

// Error implements error.Error.
func (e *UntrustedError) Error() string {
	return fmt.Sprintf("%s connection refused: shared key mismatch", e.Protocol)
}

// IsUntrusted indicates whether or not an error (or its cause) is an
// UntrustedError.
func IsUntrusted(err error) bool {
	var untrusted *UntrustedError
	return errors.As(err, &untrusted)
}
