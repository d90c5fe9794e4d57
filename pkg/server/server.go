// Package server wires injection sessions, rendezvous discovery, and the
// control protocol into a single serving process.
package server

import (
	"context"
	"net"
	"sync"

	"github.com/pkg/errors"

	"golang.org/x/sync/errgroup"

	"github.com/hotswap-io/hotswap/pkg/configuration"
	"github.com/hotswap-io/hotswap/pkg/control"
	"github.com/hotswap-io/hotswap/pkg/discovery"
	"github.com/hotswap-io/hotswap/pkg/identifier"
	"github.com/hotswap-io/hotswap/pkg/logging"
	"github.com/hotswap-io/hotswap/pkg/protocol"
	"github.com/hotswap-io/hotswap/pkg/session"
)

// Server accepts injection sessions and serves the control protocol.
type Server struct {
	// logger is the underlying logger.
	logger *logging.Logger
	// configuration is the server configuration.
	configuration *configuration.Configuration
	// identity is the server identity announced during rendezvous.
	identity string
	// registry is the session registry.
	registry *session.Registry

	// listenLock guards the listeners.
	listenLock sync.Mutex
	// commandListener is the injection session listener.
	commandListener net.Listener
	// controlListener is the control protocol listener, if enabled.
	controlListener net.Listener
	// responder is the rendezvous responder, if enabled.
	responder *discovery.Responder
}

// New creates a new server.
func New(configuration *configuration.Configuration, logger *logging.Logger) (*Server, error) {
	// Validate the configuration.
	if err := configuration.EnsureValid(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	// Generate an identity.
	identity, err := identifier.New(identifier.PrefixServer)
	if err != nil {
		return nil, errors.Wrap(err, "unable to generate server identity")
	}

	// Success.
	return &Server{
		logger:        logger,
		configuration: configuration,
		identity:      identity,
		registry:      session.NewRegistry(logger.Sublogger("registry")),
	}, nil
}

// Identity returns the server identity.
func (s *Server) Identity() string {
	return s.identity
}

// Registry returns the server's session registry.
func (s *Server) Registry() *session.Registry {
	return s.registry
}

// Listen binds the server's listeners. It's called by Serve if necessary, but
// may be called beforehand to learn the bound addresses.
func (s *Server) Listen() error {
	// Grab the listen lock and defer its release.
	s.listenLock.Lock()
	defer s.listenLock.Unlock()

	// Check whether or not we're already listening.
	if s.commandListener != nil {
		return nil
	}

	// Create the command listener.
	commandListener, err := net.Listen("tcp", s.configuration.Listen.Command)
	if err != nil {
		return errors.Wrap(err, "unable to listen for sessions")
	}

	// Create the control listener.
	var controlListener net.Listener
	if s.configuration.Listen.Control != "" {
		if controlListener, err = net.Listen("tcp", s.configuration.Listen.Control); err != nil {
			commandListener.Close()
			return errors.Wrap(err, "unable to listen for control connections")
		}
	}

	// Create the rendezvous responder, announcing the bound command port.
	var responder *discovery.Responder
	if !s.configuration.Discovery.Disabled {
		responder, err = discovery.NewResponder(discovery.ResponderConfiguration{
			Group:       s.configuration.Discovery.Group,
			Identity:    s.identity,
			Key:         s.configuration.Key,
			CommandPort: commandListener.Addr().(*net.TCPAddr).Port,
		}, s.logger.Sublogger("discovery"))
		if err != nil {
			commandListener.Close()
			if controlListener != nil {
				controlListener.Close()
			}
			return errors.Wrap(err, "unable to start rendezvous responder")
		}
	}

	// Success.
	s.commandListener = commandListener
	s.controlListener = controlListener
	s.responder = responder
	return nil
}

// CommandAddress returns the bound injection session address, or nil if the
// server isn't listening.
func (s *Server) CommandAddress() net.Addr {
	s.listenLock.Lock()
	defer s.listenLock.Unlock()
	if s.commandListener == nil {
		return nil
	}
	return s.commandListener.Addr()
}

// ControlAddress returns the bound control address, or nil if the control
// listener is disabled or the server isn't listening.
func (s *Server) ControlAddress() net.Addr {
	s.listenLock.Lock()
	defer s.listenLock.Unlock()
	if s.controlListener == nil {
		return nil
	}
	return s.controlListener.Addr()
}

// DiscoveryAddress returns the bound rendezvous address, or nil if discovery
// is disabled or the server isn't listening.
func (s *Server) DiscoveryAddress() net.Addr {
	s.listenLock.Lock()
	defer s.listenLock.Unlock()
	if s.responder == nil {
		return nil
	}
	return s.responder.Address()
}

// Serve serves until the context is cancelled or a listener fails. Every
// session is closed before it returns. Cancellation is not an error.
func (s *Server) Serve(ctx context.Context) error {
	// Bind listeners.
	if err := s.Listen(); err != nil {
		return err
	}

	// Close all sessions on the way out.
	defer s.registry.Shutdown()

	// Log the server configuration.
	s.logger.Infof("Server %s accepting sessions on %s", s.identity, s.commandListener.Addr())
	if s.controlListener != nil {
		s.logger.Infof("Accepting control connections on %s", s.controlListener.Addr())
	}
	if s.responder != nil {
		s.logger.Infof("Answering rendezvous probes on %s", s.responder.Address())
	}

	// Run the serving loops. A failure in any of them stops the others.
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return s.serveSessions(groupCtx)
	})
	if s.controlListener != nil {
		controlServer := control.NewServer(s.registry, s.configuration.Key, s.logger.Sublogger("control"))
		group.Go(func() error {
			return controlServer.Serve(groupCtx, s.controlListener)
		})
	}
	if s.responder != nil {
		group.Go(func() error {
			return s.responder.Serve(groupCtx)
		})
	}
	err := group.Wait()

	// Treat cancellation as a clean shutdown.
	if ctx.Err() != nil {
		s.logger.Info("Server shutting down")
		return nil
	}
	return err
}

// serveSessions accepts injection sessions until the context is cancelled.
func (s *Server) serveSessions(ctx context.Context) error {
	// Close the listener when the context is cancelled.
	go func() {
		<-ctx.Done()
		s.commandListener.Close()
	}()

	// Accept connections.
	for {
		connection, err := s.commandListener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "unable to accept session")
		}
		go s.serveSession(ctx, connection)
	}
}

// serveSession runs a single injection session. Failures are confined to the
// session and logged by it.
func (s *Server) serveSession(ctx context.Context, connection net.Conn) {
	// Create the session.
	sess, err := session.New(connection, session.Configuration{
		Key:            s.configuration.Key,
		CommandTimeout: s.configuration.Session.CommandTimeout,
		LocalRoot:      s.configuration.Session.LocalRoot,
		Tracker:        s.registry.Tracker(),
	}, s.logger.Sublogger("session"))
	if err != nil {
		s.logger.Errorf("Unable to create session for %s: %v", connection.RemoteAddr(), err)
		connection.Close()
		return
	}

	// Negotiate.
	negotiationCtx, cancel := context.WithTimeout(ctx, s.configuration.Session.NegotiationTimeout)
	err = sess.Negotiate(negotiationCtx)
	cancel()
	if err != nil {
		return
	}

	// Register the session and defer its removal.
	if err := s.registry.Register(sess); err != nil {
		s.logger.Warnf("Unable to register session: %v", err)
		sess.Close()
		return
	}
	defer s.registry.Unregister(sess.Identifier())
	s.logger.Infof("Session %s established with %s", sess.Identifier(), connection.RemoteAddr())

	// Ask the client for its toolchain path. The request is delivered once the
	// session starts running.
	go s.requestToolchainPath(sess)

	// Run the session.
	sess.Run(ctx)
}

// requestToolchainPath requests and logs a session's toolchain path. The
// session records the reported path itself.
func (s *Server) requestToolchainPath(sess *session.Session) {
	outcome := <-sess.Submit(protocol.RequestXcodePath{})
	if outcome.Err != nil {
		if !errors.Is(outcome.Err, session.ErrClosed) {
			s.logger.Warnf("Unable to determine toolchain path for %s: %v", sess.Identifier(), outcome.Err)
		}
		return
	}
	s.logger.Infof("Session %s uses toolchain at %s", sess.Identifier(), outcome.Detail)
}
