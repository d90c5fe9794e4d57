package handshake

import (
	"context"
	"crypto/subtle"
	"encoding/binary"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

const (
	// maximumKeyLength is the maximum shared key length accepted on the wire.
	maximumKeyLength = 4096
)

// Result describes a successful negotiation.
type Result struct {
	// Version is the negotiated protocol version.
	Version int32
}

// applyDeadline maps the context deadline (if any) onto the connection and
// returns a function that clears it again. Cancellation without a deadline
// expires the connection deadline immediately.
func applyDeadline(ctx context.Context, connection net.Conn) func() {
	if deadline, ok := ctx.Deadline(); ok {
		connection.SetDeadline(deadline)
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case <-ctx.Done():
			connection.SetDeadline(time.Unix(1, 0))
		case <-stop:
		}
	}()
	return func() {
		close(stop)
		<-done
		connection.SetDeadline(time.Time{})
	}
}

// sendVersion writes a protocol version.
func sendVersion(writer io.Writer, version int32) error {
	var data [4]byte
	binary.BigEndian.PutUint32(data[:], uint32(version))
	_, err := writer.Write(data[:])
	return err
}

// receiveVersion reads a protocol version. On failure it also returns the
// number of version bytes that were received.
func receiveVersion(reader io.Reader) (int32, int, error) {
	var data [4]byte
	if n, err := io.ReadFull(reader, data[:]); err != nil {
		return 0, n, err
	}
	return int32(binary.BigEndian.Uint32(data[:])), len(data), nil
}

// isPeerClosure returns whether or not an error indicates that the peer
// closed or reset the connection.
func isPeerClosure(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}

// sendKey writes the shared key as a length-prefixed string.
func sendKey(writer io.Writer, key string) error {
	data := make([]byte, 4+len(key))
	binary.BigEndian.PutUint32(data[:4], uint32(len(key)))
	copy(data[4:], key)
	_, err := writer.Write(data)
	return err
}

// receiveKey reads a length-prefixed shared key.
func receiveKey(reader io.Reader) (string, error) {
	var header [4]byte
	if _, err := io.ReadFull(reader, header[:]); err != nil {
		return "", err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > maximumKeyLength {
		return "", errors.Errorf("key length (%d) exceeds maximum", length)
	}
	key := make([]byte, length)
	if _, err := io.ReadFull(reader, key); err != nil {
		return "", err
	}
	return string(key), nil
}

// ServerHandshake performs the server side of a version handshake. The server
// announces its version first, then receives the client's negotiated version
// and shared key. A connection closed or reset before the client sends any
// bytes is reported as a VersionMismatchError with Abrupt set, because agents
// refuse servers by hanging up.
func ServerHandshake(ctx context.Context, connection net.Conn, protocol Protocol, key string) (*Result, error) {
	// Bound the handshake by the context.
	release := applyDeadline(ctx, connection)
	defer release()

	// Send our version to the client.
	abrupt := &VersionMismatchError{Protocol: protocol.Name, Local: protocol.Version, Abrupt: true}
	if err := sendVersion(connection, protocol.Version); err != nil {
		if isPeerClosure(err) {
			return nil, abrupt
		}
		return nil, errors.Wrap(err, "unable to send server version")
	}

	// Receive the client's version. A partially received version is a
	// transport failure rather than a refusal.
	clientVersion, received, err := receiveVersion(connection)
	if err != nil {
		if received == 0 && isPeerClosure(err) {
			return nil, abrupt
		}
		return nil, errors.Wrap(err, "unable to receive client version")
	}

	// Ensure that the client's version is one that we serve. We refuse before
	// reading anything else from the client.
	if !protocol.accepts(clientVersion) {
		return nil, &VersionMismatchError{Protocol: protocol.Name, Local: protocol.Version, Remote: clientVersion}
	}

	// Receive and verify the shared key.
	clientKey, err := receiveKey(connection)
	if err != nil {
		return nil, errors.Wrap(err, "unable to receive client key")
	}
	if subtle.ConstantTimeCompare([]byte(clientKey), []byte(key)) != 1 {
		return nil, &UntrustedError{Protocol: protocol.Name}
	}

	// Success.
	return &Result{Version: clientVersion}, nil
}

// ClientHandshake performs the client side of a version handshake. If the
// server's version falls outside the client's compatibility window, the
// client sends nothing and returns a VersionMismatchError; the caller is
// expected to close the connection. Otherwise the client downgrades to the
// server's version if necessary and presents the shared key.
func ClientHandshake(ctx context.Context, connection net.Conn, protocol Protocol, key string) (*Result, error) {
	// Bound the handshake by the context.
	release := applyDeadline(ctx, connection)
	defer release()

	// Receive the server's version.
	serverVersion, _, err := receiveVersion(connection)
	if err != nil {
		return nil, errors.Wrap(err, "unable to receive server version")
	}

	// Ensure that we can speak the server's version.
	if !protocol.accepts(serverVersion) {
		return nil, &VersionMismatchError{Protocol: protocol.Name, Local: protocol.Version, Remote: serverVersion}
	}

	// Send the negotiated version and key.
	if err := sendVersion(connection, serverVersion); err != nil {
		return nil, errors.Wrap(err, "unable to send client version")
	}
	if err := sendKey(connection, key); err != nil {
		return nil, errors.Wrap(err, "unable to send client key")
	}

	// Success.
	return &Result{Version: serverVersion}, nil
}
