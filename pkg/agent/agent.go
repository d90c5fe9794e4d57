package agent

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"golang.org/x/sync/errgroup"

	"github.com/hotswap-io/hotswap/pkg/discovery"
	"github.com/hotswap-io/hotswap/pkg/filesystem"
	"github.com/hotswap-io/hotswap/pkg/handshake"
	"github.com/hotswap-io/hotswap/pkg/logging"
	"github.com/hotswap-io/hotswap/pkg/protocol"
)

// ErrNoServer indicates that no server could be reached.
var ErrNoServer = errors.New("no server reachable")

// Agent is the client side of the injection protocol, running inside the
// process that receives code changes.
type Agent struct {
	// logger is the underlying logger.
	logger *logging.Logger
	// configuration is the agent configuration.
	configuration *Configuration
	// handler performs commands.
	handler Handler
	// handlerLock serializes handler invocations across sessions.
	handlerLock sync.Mutex
}

// New creates a new agent.
func New(configuration *Configuration, handler Handler, logger *logging.Logger) (*Agent, error) {
	// Validate arguments.
	if configuration == nil {
		return nil, errors.New("nil configuration")
	} else if handler == nil {
		return nil, errors.New("nil handler")
	} else if configuration.Platform == "" {
		return nil, errors.New("empty platform identifier")
	} else if configuration.TmpPath == "" {
		return nil, errors.New("empty temporary path")
	}

	// Success.
	return &Agent{
		logger:        logger,
		configuration: configuration,
		handler:       handler,
	}, nil
}

// Run locates servers, runs one session with each of them concurrently, and
// returns once all sessions have ended. Cancelling the context ends every
// session with an exit notification. If no server can be reached, ErrNoServer
// is returned unless standalone inhibition is configured.
func (a *Agent) Run(ctx context.Context) error {
	// Ensure that the scratch directory exists.
	if err := os.MkdirAll(a.configuration.TmpPath, 0700); err != nil {
		return errors.Wrap(err, "unable to create temporary directory")
	}

	// Locate servers.
	targets, err := discovery.Locate(ctx, a.configuration.Discovery, a.logger.Sublogger("discovery"))
	if err == discovery.ErrNoResponders {
		return a.unreachable()
	} else if err != nil {
		return errors.Wrap(err, "unable to locate servers")
	}

	// Run a session with each server. Sessions are independent, so a failure
	// in one doesn't cancel the others.
	var group errgroup.Group
	var reached int32
	for _, target := range targets {
		target := target
		group.Go(func() error {
			logger := a.logger.Sublogger(target.Address)
			connection, err := a.connect(ctx, target, logger)
			if err != nil {
				logger.Warnf("Unable to connect: %v", err)
				return nil
			}
			atomic.AddInt32(&reached, 1)
			return (&client{
				agent:  a,
				logger: logger,
				link:   connection,
			}).run(ctx)
		})
	}
	err = group.Wait()

	// Handle the case that no server could be reached.
	if atomic.LoadInt32(&reached) == 0 {
		return a.unreachable()
	}
	return err
}

// unreachable handles the absence of a reachable server.
func (a *Agent) unreachable() error {
	if a.configuration.StandaloneInhibit {
		a.logger.Info("No server reachable, continuing standalone")
		return nil
	}
	return ErrNoServer
}

// connect dials and negotiates with a server.
func (a *Agent) connect(ctx context.Context, target discovery.Target, logger *logging.Logger) (*negotiated, error) {
	// Dial the server.
	dialer := &net.Dialer{Timeout: a.configuration.ConnectTimeout}
	connection, err := dialer.DialContext(ctx, "tcp", target.Address)
	if err != nil {
		return nil, errors.Wrap(err, "unable to dial server")
	}

	// Negotiate.
	negotiationCtx := ctx
	if a.configuration.NegotiationTimeout > 0 {
		var cancel context.CancelFunc
		negotiationCtx, cancel = context.WithTimeout(ctx, a.configuration.NegotiationTimeout)
		defer cancel()
	}
	result, err := handshake.ClientHandshake(negotiationCtx, connection, handshake.Injection, a.configuration.Key)
	if err != nil {
		connection.Close()
		if handshake.IsVersionMismatch(err) {
			return nil, errors.Wrap(err, "incompatible server")
		}
		return nil, errors.Wrap(err, "unable to negotiate")
	}
	epoch, ok := protocol.EpochFor(result.Version)
	if !ok {
		connection.Close()
		return nil, errors.Errorf("no epoch for negotiated version %d", result.Version)
	}
	logger.Debugf("Negotiated %s protocol version %d", handshake.Injection.Name, result.Version)

	// Success.
	return &negotiated{connection: connection, epoch: epoch}, nil
}

// negotiated is a connection with a negotiated epoch.
type negotiated struct {
	// connection is the underlying connection.
	connection net.Conn
	// epoch is the negotiated epoch.
	epoch *protocol.Epoch
}

// client is one agent session with one server.
type client struct {
	// agent is the parent agent.
	agent *Agent
	// logger is the session logger.
	logger *logging.Logger
	// link is the negotiated connection.
	link *negotiated
	// writeLock serializes response writes.
	writeLock sync.Mutex
	// encoder is the response encoder.
	encoder *protocol.Encoder
}

// send writes a response.
func (c *client) send(response protocol.Response) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	return c.encoder.EncodeResponse(response)
}

// run runs the session until the server closes it or the context is
// cancelled.
func (c *client) run(ctx context.Context) error {
	// Create the codec.
	connection := c.link.connection
	defer connection.Close()
	c.encoder = protocol.NewEncoder(connection, c.link.epoch)
	decoder := protocol.NewDecoder(connection, c.link.epoch)

	// Send the hello burst. Older epochs have no project root report.
	configuration := c.agent.configuration
	hello := []protocol.Response{
		protocol.Platform{Identifier: configuration.Platform},
		protocol.TmpPath{Path: configuration.TmpPath},
	}
	if c.link.epoch.SupportsResponse(protocol.ResponseTagProjectRoot) {
		hello = append(hello, protocol.ProjectRoot{
			Path:        configuration.ProjectRoot,
			Directories: configuration.Directories,
		})
	}
	for _, response := range hello {
		if err := c.send(response); err != nil {
			return errors.Wrap(err, "unable to send hello")
		}
	}

	// Notify the server and close the connection if the context is
	// cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			if err := c.send(protocol.Exit{}); err != nil {
				c.logger.Debugf("Unable to send exit: %v", err)
			}
			connection.Close()
		case <-done:
		}
	}()

	// Process commands.
	for {
		command, err := decoder.DecodeCommand()
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Debug("Session cancelled")
				return nil
			} else if err == io.EOF {
				c.logger.Info("Server closed connection")
				return nil
			}
			return errors.Wrap(err, "unable to receive command")
		}
		if _, ok := command.(protocol.EOF); ok {
			c.logger.Info("Server ended session")
			return nil
		}
		if err := c.perform(command); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "unable to send response")
		}
	}
}

// perform executes a command and sends its single completion.
func (c *client) perform(command protocol.Command) error {
	c.logger.Debugf("Received %s", command.Tag())

	// Serialize access to the handler.
	c.agent.handlerLock.Lock()
	defer c.agent.handlerLock.Unlock()

	// Dispatch the command.
	handler := c.agent.handler
	switch command := command.(type) {
	case protocol.Log:
		handler.Log(command.Message)
		return c.send(protocol.Injected{})
	case protocol.LoadDylib:
		return c.complete(command, "", handler.LoadDylib(command.Path))
	case protocol.Inject:
		return c.complete(command, "", handler.Inject(command.TypeName, command.Path))
	case protocol.RequestXcodePath:
		path, err := handler.ToolchainPath()
		return c.complete(command, path, err)
	case protocol.SendFile:
		return c.complete(command, "", c.receiveFile(command))
	case protocol.UnrecognizedCommand:
		c.logger.Warnf("Unsupported command %d", command.RawTag)
		return c.send(protocol.Failed{Reason: fmt.Sprintf("unsupported command %d", command.RawTag)})
	default:
		return c.send(protocol.Failed{Reason: fmt.Sprintf("unsupported command %s", command.Tag())})
	}
}

// complete sends the completion for a command.
func (c *client) complete(command protocol.Command, detail string, err error) error {
	if err == nil {
		return c.send(protocol.Injected{Detail: detail})
	}
	c.logger.Warnf("%s failed: %v", command.Tag(), err)
	if errors.Is(err, ErrSymbolsHidden) {
		if err := c.send(protocol.Unhide{}); err != nil {
			return err
		}
	}
	return c.send(protocol.Failed{Reason: err.Error()})
}

// receiveFile writes a received file into the scratch directory. Only the
// base name of the file is honored.
func (c *client) receiveFile(command protocol.SendFile) error {
	name := filepath.Base(filepath.FromSlash(command.Name))
	if name == "." || name == ".." || name == string(filepath.Separator) {
		return errors.Errorf("invalid file name %q", command.Name)
	}
	target := filepath.Join(c.agent.configuration.TmpPath, name)
	if err := filesystem.WriteFileAtomic(target, command.Data, 0600, c.logger); err != nil {
		return errors.Wrap(err, "unable to write file")
	}
	c.logger.Debugf("Wrote %d bytes to %s", len(command.Data), target)
	return nil
}
