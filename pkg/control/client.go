package control

import (
	"bufio"
	"context"
	"net"

	"github.com/pkg/errors"

	"github.com/hotswap-io/hotswap/pkg/handshake"
	"github.com/hotswap-io/hotswap/pkg/protocol"
)

// RemoteError is an error reported by the server.
type RemoteError struct {
	// Message is the server's error message.
	Message string
}

// Error implements error.Error.
func (e *RemoteError) Error() string {
	return "server error: " + e.Message
}

// Client is a control protocol client. It is not safe for concurrent usage.
type Client struct {
	// connection is the underlying connection.
	connection net.Conn
	// reader is the buffered reader for replies.
	reader *bufio.Reader
	// buffer is the reusable reply buffer.
	buffer []byte
}

// Dial connects to a server's control address and negotiates the control
// protocol.
func Dial(ctx context.Context, address, key string) (*Client, error) {
	// Dial the server.
	var dialer net.Dialer
	connection, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, errors.Wrap(err, "unable to connect to server")
	}

	// Negotiate.
	if _, err := handshake.ClientHandshake(ctx, connection, handshake.Commands, key); err != nil {
		connection.Close()
		return nil, errors.Wrap(err, "unable to negotiate control protocol")
	}

	// Success.
	return &Client{
		connection: connection,
		reader:     bufio.NewReader(connection),
	}, nil
}

// roundTrip sends a request and reads the reply, converting error replies.
func (c *Client) roundTrip(ctx context.Context, tag int32, payload []byte, expected int32) ([]byte, error) {
	// Bound the exchange by the context.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.connection.Close()
		case <-done:
		}
	}()

	// Send the request.
	if _, err := c.connection.Write(protocol.AppendFrame(nil, tag, payload)); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrap(err, "unable to send request")
	}

	// Read the reply.
	replyTag, reply, err := protocol.ReadFrame(c.reader, c.buffer, maximumPayloadSize)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrap(err, "unable to receive reply")
	}
	c.buffer = reply

	// Handle error replies.
	if replyTag == tagError {
		message, err := protocol.NewPayloadReader(reply).String()
		if err != nil {
			return nil, errors.Wrap(err, "unable to decode error reply")
		}
		return nil, &RemoteError{Message: message}
	} else if replyTag != expected {
		return nil, errors.Errorf("unexpected reply (tag %d)", replyTag)
	}
	return reply, nil
}

// Push requests a module push and waits for its report.
func (c *Client) Push(ctx context.Context, push *Push) (*Report, error) {
	reply, err := c.roundTrip(ctx, tagPush, appendPush(nil, push), tagReport)
	if err != nil {
		return nil, err
	}
	return parseReport(reply)
}

// List requests a session listing once the server's state index differs from
// previousIndex. Pass 0 to list immediately.
func (c *Client) List(ctx context.Context, previousIndex uint64) (*Listing, error) {
	reply, err := c.roundTrip(ctx, tagList, protocol.AppendUint64(nil, previousIndex), tagListing)
	if err != nil {
		return nil, err
	}
	return parseListing(reply)
}

// Close closes the client.
func (c *Client) Close() error {
	return c.connection.Close()
}
