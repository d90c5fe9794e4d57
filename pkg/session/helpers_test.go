package session

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/hotswap-io/hotswap/pkg/handshake"
	"github.com/hotswap-io/hotswap/pkg/logging"
	"github.com/hotswap-io/hotswap/pkg/protocol"
)

const (
	// testKey is the shared key used by tests.
	testKey = "test-key"
	// testTimeout bounds waits in tests.
	testTimeout = 5 * time.Second
)

// testClient is the client end of a test session.
type testClient struct {
	// t is the owning test.
	t *testing.T
	// connection is the client's transport.
	connection net.Conn
	// encoder encodes responses.
	encoder *protocol.Encoder
	// decoder decodes commands.
	decoder *protocol.Decoder
}

// send sends a response.
func (c *testClient) send(response protocol.Response) {
	c.t.Helper()
	if err := c.encoder.EncodeResponse(response); err != nil {
		c.t.Fatal("unable to send response:", err)
	}
}

// hello sends a hello burst.
func (c *testClient) hello(platform, tmpPath, projectRoot string) {
	c.t.Helper()
	c.send(protocol.Platform{Identifier: platform})
	c.send(protocol.TmpPath{Path: tmpPath})
	c.send(protocol.ProjectRoot{Path: projectRoot})
}

// receive receives a command.
func (c *testClient) receive() protocol.Command {
	c.t.Helper()
	c.connection.SetReadDeadline(time.Now().Add(testTimeout))
	command, err := c.decoder.DecodeCommand()
	if err != nil {
		c.t.Fatal("unable to receive command:", err)
	}
	return command
}

// running is a negotiated, running session with its client.
type running struct {
	// session is the server side.
	session *Session
	// client is the client side.
	client *testClient
	// result receives the result of Run.
	result chan error
}

// wait waits for Run to return.
func (r *running) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.result:
		return err
	case <-time.After(testTimeout):
		t.Fatal("session did not terminate")
		return nil
	}
}

// connect creates, negotiates, and runs a session over an in-memory
// transport.
func connect(t *testing.T, configuration Configuration) *running {
	t.Helper()
	r := negotiate(t, configuration)
	r.start()
	return r
}

// start runs the session.
func (r *running) start() {
	go func() {
		r.result <- r.session.Run(context.Background())
	}()
}

// negotiate creates and negotiates a session over an in-memory transport
// without running it.
func negotiate(t *testing.T, configuration Configuration) *running {
	t.Helper()
	return negotiateWithLogger(t, configuration, nil)
}

// negotiateWithLogger is negotiate with a session logger.
func negotiateWithLogger(t *testing.T, configuration Configuration, logger *logging.Logger) *running {
	t.Helper()

	// Create the transport and session.
	server, client := net.Pipe()
	if configuration.Key == "" {
		configuration.Key = testKey
	}
	session, err := New(server, configuration, logger)
	if err != nil {
		t.Fatal("unable to create session:", err)
	}
	t.Cleanup(func() {
		session.Close()
		client.Close()
	})

	// Negotiate.
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	negotiated := make(chan error, 1)
	go func() {
		negotiated <- session.Negotiate(ctx)
	}()
	result, err := handshake.ClientHandshake(ctx, client, handshake.Injection, configuration.Key)
	if err != nil {
		t.Fatal("client handshake failed:", err)
	}
	if err := <-negotiated; err != nil {
		t.Fatal("server negotiation failed:", err)
	}
	epoch, _ := protocol.EpochFor(result.Version)

	// Create the client.
	return &running{
		session: session,
		client: &testClient{
			t:          t,
			connection: client,
			encoder:    protocol.NewEncoder(client, epoch),
			decoder:    protocol.NewDecoder(client, epoch),
		},
		result: make(chan error, 1),
	}
}

// logBuffer is a log destination that's safe for concurrent usage.
type logBuffer struct {
	// lock guards buffer.
	lock sync.Mutex
	// buffer stores the log output.
	buffer bytes.Buffer
}

// Write implements io.Writer.Write.
func (b *logBuffer) Write(data []byte) (int, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.buffer.Write(data)
}

// String returns the log output.
func (b *logBuffer) String() string {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.buffer.String()
}

// waitFor polls until a condition holds.
func waitFor(t *testing.T, description string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for", description)
		}
		time.Sleep(time.Millisecond)
	}
}

// await waits for an outcome.
func await(t *testing.T, outcome <-chan Outcome) Outcome {
	t.Helper()
	select {
	case result := <-outcome:
		return result
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for outcome")
		return Outcome{}
	}
}

// greet sends a hello burst and waits for the session to learn it.
func (r *running) greet(t *testing.T, platform, tmpPath, projectRoot string) {
	t.Helper()
	r.client.hello(platform, tmpPath, projectRoot)
	waitFor(t, "hello burst", func() bool {
		return r.session.Info().ProjectRoot == projectRoot
	})
}
