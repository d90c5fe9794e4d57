package control

import (
	"bufio"
	"context"
	"io"
	"net"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/hotswap-io/hotswap/pkg/handshake"
	"github.com/hotswap-io/hotswap/pkg/logging"
	"github.com/hotswap-io/hotswap/pkg/protocol"
	"github.com/hotswap-io/hotswap/pkg/session"
)

const (
	// negotiationTimeout bounds control connection negotiation.
	negotiationTimeout = 5 * time.Second
)

// Server serves control protocol connections on behalf of a session
// registry.
type Server struct {
	// logger is the underlying logger.
	logger *logging.Logger
	// registry is the session registry.
	registry *session.Registry
	// key is the shared key.
	key string
}

// NewServer creates a new control server.
func NewServer(registry *session.Registry, key string, logger *logging.Logger) *Server {
	return &Server{
		logger:   logger,
		registry: registry,
		key:      key,
	}
}

// Serve accepts and serves connections until the listener fails or the
// context is cancelled. It always returns a non-nil error.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	// Close the listener when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			listener.Close()
		case <-done:
		}
	}()

	// Accept connections.
	for {
		connection, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "unable to accept control connection")
		}
		go s.serve(ctx, connection)
	}
}

// serve serves a single control connection.
func (s *Server) serve(ctx context.Context, connection net.Conn) {
	// Ensure that the connection is closed.
	defer connection.Close()
	logger := s.logger.Sublogger(connection.RemoteAddr().String())

	// Close the connection if the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			connection.Close()
		case <-done:
		}
	}()

	// Negotiate.
	negotiationCtx, cancel := context.WithTimeout(ctx, negotiationTimeout)
	_, err := handshake.ServerHandshake(negotiationCtx, connection, handshake.Commands, s.key)
	cancel()
	if err != nil {
		logger.Warnf("Control negotiation failed: %v", err)
		return
	}

	// Read requests in the background. Clients send one request at a time, so
	// a read that fails while a request is outstanding means that the client
	// has gone away and the request is cancelled.
	connectionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	requests := make(chan request)
	go func() {
		defer close(requests)
		defer cancel()
		reader := bufio.NewReader(connection)
		for {
			tag, payload, err := protocol.ReadFrame(reader, nil, maximumPayloadSize)
			if err != nil {
				if err != io.EOF && connectionCtx.Err() == nil {
					logger.Debugf("Unable to read request: %v", err)
				}
				return
			}
			select {
			case requests <- request{tag, payload}:
			case <-connectionCtx.Done():
				return
			}
		}
	}()

	// Serve requests.
	for r := range requests {
		replyTag, reply := s.handle(connectionCtx, r.tag, r.payload, logger)
		if connectionCtx.Err() != nil {
			logger.Debug("Client disconnected with a request outstanding")
			return
		}
		if _, err := connection.Write(protocol.AppendFrame(nil, replyTag, reply)); err != nil {
			logger.Debugf("Unable to write reply: %v", err)
			return
		}
	}
}

// request is a received control request.
type request struct {
	// tag is the request tag.
	tag int32
	// payload is the request payload.
	payload []byte
}

// handle dispatches a request and encodes its reply.
func (s *Server) handle(ctx context.Context, tag int32, payload []byte, logger *logging.Logger) (int32, []byte) {
	switch tag {
	case tagPush:
		push, err := parsePush(payload)
		if err != nil {
			return tagError, protocol.AppendString(nil, err.Error())
		}
		report, err := s.push(ctx, push, logger)
		if err != nil {
			return tagError, protocol.AppendString(nil, err.Error())
		}
		return tagReport, appendReport(nil, report)
	case tagList:
		previousIndex, err := protocol.NewPayloadReader(payload).Uint64()
		if err != nil {
			return tagError, protocol.AppendString(nil, "unable to decode previous index")
		}
		index, infos, err := s.registry.List(ctx, previousIndex)
		if err != nil {
			return tagError, protocol.AppendString(nil, err.Error())
		}
		listing := &Listing{Index: index, Sessions: make([]SessionInfo, len(infos))}
		for i, info := range infos {
			listing.Sessions[i] = newSessionInfo(info)
		}
		return tagListing, appendListing(nil, listing)
	default:
		return tagError, protocol.AppendString(nil, "unsupported request")
	}
}

// push fans a module out to matching sessions and waits for every outcome.
func (s *Server) push(ctx context.Context, push *Push, logger *logging.Logger) (*Report, error) {
	// Parse the selector.
	selector, err := session.ParseSelector(push.Selector)
	if err != nil {
		return nil, err
	} else if push.Path == "" {
		return nil, errors.New("empty module path")
	}

	// Fan out the commands.
	deliveries := s.registry.FanOutSequence(selector, push.commands)
	if push.Send {
		logger.Infof("Sending %s (%s) to %d session(s)", push.Path, humanize.Bytes(uint64(len(push.Data))), len(deliveries))
	} else {
		logger.Infof("Pushing %s to %d session(s)", push.Path, len(deliveries))
	}

	// Collect outcomes.
	report := &Report{Results: make([]Result, len(deliveries))}
	for i, delivery := range deliveries {
		result := Result{Session: delivery.Session, Platform: delivery.Platform}
		select {
		case outcome := <-delivery.Outcome:
			result.Detail = outcome.Detail
			if outcome.Err != nil {
				result.Error = outcome.Err.Error()
				logger.Warnf("Push to %s (%s) failed: %v", delivery.Session, delivery.Platform, outcome.Err)
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		report.Results[i] = result
	}

	// Done.
	return report, nil
}
