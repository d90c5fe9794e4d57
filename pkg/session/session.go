package session

import (
	"context"
	"fmt"
	"io"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/hotswap-io/hotswap/pkg/handshake"
	"github.com/hotswap-io/hotswap/pkg/identifier"
	"github.com/hotswap-io/hotswap/pkg/logging"
	"github.com/hotswap-io/hotswap/pkg/protocol"
	"github.com/hotswap-io/hotswap/pkg/state"
	"github.com/hotswap-io/hotswap/pkg/timeutil"
)

const (
	// DefaultCommandTimeout is the default time allowed for a client to
	// answer a command.
	DefaultCommandTimeout = 30 * time.Second
	// closeWriteTimeout bounds the best-effort EOF write performed on close.
	closeWriteTimeout = time.Second
)

// Configuration encodes session parameters.
type Configuration struct {
	// Key is the shared key that clients must present.
	Key string
	// CommandTimeout is the time allowed for a client to answer a command.
	// Exceeding it closes the session. Zero selects DefaultCommandTimeout and
	// a negative value disables the timeout.
	CommandTimeout time.Duration
	// LocalRoot is the server-side project root used for path translation.
	LocalRoot string
	// Observer, if non-nil, receives every state transition.
	Observer Observer
	// Tracker, if non-nil, is notified of every change in session state.
	Tracker *state.Tracker
}

// Outcome is the completion of a submitted command.
type Outcome struct {
	// Session is the identifier of the session that handled the command.
	Session string
	// Command is the command as last sent, i.e. after any path translation.
	Command protocol.Command
	// Detail is the detail carried by the client's acknowledgement, if any.
	Detail string
	// Retried indicates whether or not the command was resent with a
	// translated path.
	Retried bool
	// Err is nil if the client acknowledged the command. It's a *CommandError
	// if the client reported a failure, or another error if the command could
	// not be completed.
	Err error
}

// pending is a submitted command awaiting completion.
type pending struct {
	// command is the command to send.
	command protocol.Command
	// retried indicates whether or not the command has been retranslated.
	retried bool
	// sequence is the sequence number of the command's latest frame.
	sequence uint64
	// result receives the command's single outcome.
	result chan Outcome
}

// Info is a point-in-time snapshot of a session.
type Info struct {
	// Identifier is the session identifier.
	Identifier string
	// RemoteAddress is the client's transport address.
	RemoteAddress string
	// ConnectedAt is the time at which the transport was established.
	ConnectedAt time.Time
	// Version is the negotiated protocol version, or 0 before negotiation.
	Version int32
	// Platform is the client's reported platform identifier.
	Platform string
	// TmpPath is the client's reported temporary directory.
	TmpPath string
	// ProjectRoot is the client's reported project root.
	ProjectRoot string
	// Directories are the client's reported watched directories.
	Directories []string
	// ToolchainPath is the toolchain path reported in response to
	// RequestXcodePath, if any.
	ToolchainPath string
	// State is the session state.
	State State
	// CloseReason is the close reason if the session is closed.
	CloseReason CloseReason
	// LastError is the terminal error message, if any.
	LastError string
	// Sequence is the number of command frames sent, including retries.
	Sequence uint64
	// Acknowledged is the number of commands the client acknowledged.
	Acknowledged uint64
	// Failed is the number of commands the client reported as failed.
	Failed uint64
	// Unhides is the number of unhide notifications received.
	Unhides uint64
}

// Session is the server side of one negotiated connection with one running
// client. After Negotiate succeeds, Run owns the session's state until it
// closes. Submit, Close, Info, and Done are safe for concurrent usage.
type Session struct {
	// logger is the underlying logger.
	logger *logging.Logger
	// configuration is the session configuration.
	configuration Configuration
	// connection is the underlying transport.
	connection net.Conn
	// identifier is the session identifier.
	identifier string
	// connectedAt is the time at which the session was created.
	connectedAt time.Time

	// stateLock guards the members below it.
	stateLock sync.Mutex
	// state is the current state.
	state State
	// reason is the close reason.
	reason CloseReason
	// err is the terminal error.
	err error
	// version is the negotiated version.
	version int32
	// platform is the reported platform.
	platform string
	// tmpPath is the reported temporary directory.
	tmpPath string
	// projectRoot is the reported project root.
	projectRoot string
	// directories are the reported watched directories.
	directories []string
	// platformReported, tmpPathReported, and projectRootReported record
	// whether or not each hello value has been reported, even if empty.
	platformReported, tmpPathReported, projectRootReported bool
	// toolchainPath is the most recently reported toolchain path.
	toolchainPath string
	// sequence is the number of command frames sent.
	sequence uint64
	// acknowledged is the number of acknowledged commands.
	acknowledged uint64
	// failed is the number of failed commands.
	failed uint64
	// unhides is the number of unhide notifications.
	unhides uint64

	// queueLock guards queue and queueClosed.
	queueLock sync.Mutex
	// queue holds commands awaiting delivery.
	queue []*pending
	// queueClosed indicates that no further commands will be accepted.
	queueClosed bool
	// wake is signalled when a command is queued.
	wake chan struct{}

	// lifecycleLock guards running.
	lifecycleLock sync.Mutex
	// running indicates whether or not Run has taken ownership.
	running bool
	// closeOnce guards closure of closeRequested.
	closeOnce sync.Once
	// closeRequested is closed when Close is called.
	closeRequested chan struct{}
	// terminateOnce guards termination.
	terminateOnce sync.Once
	// done is closed when the session has terminated.
	done chan struct{}

	// encoder is the command encoder. It's only used by the owning context.
	encoder *protocol.Encoder
	// decoder is the response decoder. It's only used by the reader.
	decoder *protocol.Decoder
	// timer is the command timeout timer. It's only used by Run.
	timer *time.Timer
}

// New creates a new session over an established transport. The session
// starts in StateConnecting.
func New(connection net.Conn, configuration Configuration, logger *logging.Logger) (*Session, error) {
	// Generate an identifier.
	identifier, err := identifier.New(identifier.PrefixSession)
	if err != nil {
		return nil, errors.Wrap(err, "unable to generate session identifier")
	}

	// Normalize the configuration.
	if configuration.CommandTimeout == 0 {
		configuration.CommandTimeout = DefaultCommandTimeout
	}

	// Create the session.
	return &Session{
		logger:         logger.Sublogger(identifier),
		configuration:  configuration,
		connection:     connection,
		identifier:     identifier,
		connectedAt:    time.Now(),
		wake:           make(chan struct{}, 1),
		closeRequested: make(chan struct{}),
		done:           make(chan struct{}),
	}, nil
}

// Identifier returns the session identifier.
func (s *Session) Identifier() string {
	return s.identifier
}

// Done returns a channel that's closed when the session terminates.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the session's terminal error. It's nil while the session is
// open and after a normal close.
func (s *Session) Err() error {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	return s.err
}

// State returns the current session state.
func (s *Session) State() State {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	return s.state
}

// Platform returns the client's reported platform, or an empty string if it
// hasn't been reported yet.
func (s *Session) Platform() string {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	return s.platform
}

// Info returns a snapshot of the session.
func (s *Session) Info() *Info {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	info := &Info{
		Identifier:    s.identifier,
		RemoteAddress: s.connection.RemoteAddr().String(),
		ConnectedAt:   s.connectedAt,
		Version:       s.version,
		Platform:      s.platform,
		TmpPath:       s.tmpPath,
		ProjectRoot:   s.projectRoot,
		Directories:   append([]string(nil), s.directories...),
		ToolchainPath: s.toolchainPath,
		State:         s.state,
		CloseReason:   s.reason,
		Sequence:      s.sequence,
		Acknowledged:  s.acknowledged,
		Failed:        s.failed,
		Unhides:       s.unhides,
	}
	if s.err != nil {
		info.LastError = s.err.Error()
	}
	return info
}

// notify signals a state change to the tracker, if any.
func (s *Session) notify() {
	if s.configuration.Tracker != nil {
		s.configuration.Tracker.NotifyOfChange()
	}
}

// transition moves the session to a non-terminal state. It returns false if
// the session has already closed.
func (s *Session) transition(to State) bool {
	s.stateLock.Lock()
	from := s.state
	if from == StateClosed {
		s.stateLock.Unlock()
		return false
	}
	s.state = to
	if s.configuration.Observer != nil {
		s.configuration.Observer(from, to)
	}
	s.stateLock.Unlock()
	s.notify()
	return true
}

// terminate closes the session with the specified terminal error (nil for a
// normal close). Only the first call has any effect.
func (s *Session) terminate(err error) {
	s.terminateOnce.Do(func() {
		// Record the terminal state.
		reason := reasonFor(err)
		s.stateLock.Lock()
		from := s.state
		s.state = StateClosed
		s.reason = reason
		s.err = err
		platform := s.platform
		if s.configuration.Observer != nil {
			s.configuration.Observer(from, StateClosed)
		}
		s.stateLock.Unlock()

		// Release the transport.
		s.connection.Close()

		// Fail any commands that were never delivered.
		s.queueLock.Lock()
		queue := s.queue
		s.queue = nil
		s.queueClosed = true
		s.queueLock.Unlock()
		for _, p := range queue {
			p.result <- Outcome{Session: s.identifier, Command: p.command, Err: ErrClosed}
		}

		// Log the closure. Version mismatches are logged distinctly so that
		// stale clients are easy to diagnose.
		if platform == "" {
			platform = "unknown platform"
		}
		switch reason {
		case CloseReasonNormal:
			s.logger.Infof("Session with %s (%s) closed", s.connection.RemoteAddr(), platform)
		case CloseReasonVersionMismatch:
			s.logger.Warnf("Client at %s refused: %v", s.connection.RemoteAddr(), err)
		default:
			s.logger.Errorf("Session with %s (%s) closed (%s): %v",
				s.connection.RemoteAddr(), platform, reason, err,
			)
		}

		// Signal termination.
		close(s.done)
		s.notify()
	})
}

// Negotiate performs version negotiation and the trust check. On success the
// session is Idle and Run may be called. On failure the session is closed.
func (s *Session) Negotiate(ctx context.Context) error {
	// Enter negotiation.
	if !s.transition(StateNegotiating) {
		return ErrClosed
	}

	// Perform the handshake. A refused key is a transport-level refusal.
	result, err := handshake.ServerHandshake(ctx, s.connection, handshake.Injection, s.configuration.Key)
	if err != nil {
		if !handshake.IsVersionMismatch(err) {
			err = &TransportError{Err: err}
		}
		s.terminate(err)
		return err
	}

	// Select the epoch for the negotiated version.
	epoch, ok := protocol.EpochFor(result.Version)
	if !ok {
		err = &handshake.VersionMismatchError{
			Protocol: handshake.Injection.Name,
			Local:    handshake.Injection.Version,
			Remote:   result.Version,
		}
		s.terminate(err)
		return err
	}
	s.encoder = protocol.NewEncoder(s.connection, epoch)
	s.decoder = protocol.NewDecoder(s.connection, epoch)

	// Record the version and enter the idle state.
	s.stateLock.Lock()
	s.version = result.Version
	s.stateLock.Unlock()
	if !s.transition(StateIdle) {
		return ErrClosed
	}
	s.logger.Debugf("Negotiated %s protocol version %d with %s",
		handshake.Injection.Name, result.Version, s.connection.RemoteAddr(),
	)
	return nil
}

// Submit queues a command for delivery. Commands are delivered one at a time,
// only from the Idle state, in submission order. The returned channel
// receives exactly one Outcome.
func (s *Session) Submit(command protocol.Command) <-chan Outcome {
	result := make(chan Outcome, 1)

	// EOF is only sent by closing the session.
	if _, ok := command.(protocol.EOF); ok {
		result <- Outcome{Session: s.identifier, Command: command, Err: errors.New("EOF is sent by closing the session")}
		return result
	}

	// Queue the command.
	s.queueLock.Lock()
	if s.queueClosed {
		s.queueLock.Unlock()
		result <- Outcome{Session: s.identifier, Command: command, Err: ErrClosed}
		return result
	}
	s.queue = append(s.queue, &pending{command: command, result: result})
	s.queueLock.Unlock()

	// Wake the owning context.
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return result
}

// dequeue removes the next queued command, if any.
func (s *Session) dequeue() *pending {
	s.queueLock.Lock()
	defer s.queueLock.Unlock()
	if len(s.queue) == 0 {
		return nil
	}
	next := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return next
}

// Close closes the session. It's safe to call at any time and from any
// goroutine. If the session is Idle, EOF is sent on a best-effort basis.
func (s *Session) Close() {
	// Signal the owning context.
	s.closeOnce.Do(func() {
		close(s.closeRequested)
	})

	// If Run owns the session, then it will perform the close. Otherwise
	// claim ownership so that a late Run won't.
	s.lifecycleLock.Lock()
	if s.running {
		s.lifecycleLock.Unlock()
		return
	}
	s.running = true
	s.lifecycleLock.Unlock()

	// A negotiated session is told to exit. Anything earlier is dropped.
	if s.State() == StateIdle {
		s.shutdown(nil)
	} else {
		s.terminate(nil)
	}
}

// Run drives the session until it closes. It must be called at most once,
// after a successful Negotiate. It returns the session's terminal error,
// which is nil for a normal close. If Close was called first, Run waits for
// that close to complete and returns its result.
func (s *Session) Run(ctx context.Context) error {
	// Take ownership.
	s.lifecycleLock.Lock()
	select {
	case <-s.closeRequested:
		s.lifecycleLock.Unlock()
		<-s.done
		return s.Err()
	default:
	}
	if s.encoder == nil {
		s.lifecycleLock.Unlock()
		return errors.New("session not negotiated")
	} else if s.running {
		s.lifecycleLock.Unlock()
		return errors.New("session already running")
	}
	s.running = true
	s.lifecycleLock.Unlock()

	// Start the reader.
	responses := make(chan protocol.Response)
	readErrors := make(chan error, 1)
	go s.read(responses, readErrors)

	// Create the command timer in a stopped state.
	s.timer = time.NewTimer(time.Hour)
	timeutil.StopAndDrainTimer(s.timer)
	defer s.timer.Stop()

	// Loop until the session closes.
	var current *pending
	for {
		// If no command is outstanding, then deliver the next queued command.
		for current == nil {
			next := s.dequeue()
			if next == nil {
				break
			}
			if err := s.deliver(next); err != nil {
				if isCommandLocal(err) {
					next.complete(s.identifier, "", err)
					continue
				}
				next.complete(s.identifier, "", err)
				s.terminate(err)
				return err
			}
			current = next
		}

		// Wait for something to happen.
		select {
		case <-ctx.Done():
			s.shutdown(current)
			return nil
		case <-s.closeRequested:
			s.shutdown(current)
			return nil
		case <-s.wake:
		case <-s.timer.C:
			err := &TimeoutError{Command: current.command.Tag(), Timeout: s.configuration.CommandTimeout}
			current.complete(s.identifier, "", err)
			s.terminate(err)
			return err
		case err := <-readErrors:
			err = readFailure(err, current != nil)
			if current != nil {
				if err != nil {
					current.complete(s.identifier, "", err)
				} else {
					current.complete(s.identifier, "", ErrClosed)
				}
			}
			s.terminate(err)
			return err
		case response := <-responses:
			next, exited, err := s.handle(response, current)
			if err != nil {
				if current != nil {
					current.complete(s.identifier, "", err)
				}
				s.terminate(err)
				return err
			} else if exited {
				if current != nil {
					current.complete(s.identifier, "", ErrClosed)
				}
				s.terminate(nil)
				return nil
			}
			current = next
		}
	}
}

// read decodes responses and forwards them to the owning context.
func (s *Session) read(responses chan<- protocol.Response, readErrors chan<- error) {
	for {
		response, err := s.decoder.DecodeResponse()
		if err != nil {
			readErrors <- err
			return
		}
		select {
		case responses <- response:
		case <-s.done:
			return
		}
	}
}

// readFailure maps a read error to a terminal error. A clean end of stream
// with no command outstanding is a normal close.
func readFailure(err error, outstanding bool) error {
	if err == io.EOF && !outstanding {
		return nil
	} else if protocol.IsMalformed(err) {
		return &ProtocolViolationError{Reason: err.Error()}
	}
	return &TransportError{Err: err}
}

// isCommandLocal returns whether or not a delivery error affects only the
// command being delivered, i.e. nothing was written.
func isCommandLocal(err error) bool {
	return errors.Is(err, protocol.ErrNotInEpoch) || errors.Is(err, protocol.ErrPayloadTooLarge)
}

// complete delivers a command's outcome.
func (p *pending) complete(session, detail string, err error) {
	p.result <- Outcome{
		Session: session,
		Command: p.command,
		Detail:  detail,
		Retried: p.retried,
		Err:     err,
	}
}

// deliver sends a command and enters the AwaitingResponse state.
func (s *Session) deliver(p *pending) error {
	// Bound the write by the command timeout.
	if s.configuration.CommandTimeout > 0 {
		s.connection.SetWriteDeadline(time.Now().Add(s.configuration.CommandTimeout))
	}

	// Send the command.
	if err := s.encoder.EncodeCommand(p.command); err != nil {
		if isCommandLocal(err) {
			return err
		}
		return &TransportError{Err: errors.Wrap(err, "unable to send command")}
	}
	// Update state.
	s.stateLock.Lock()
	s.sequence++
	p.sequence = s.sequence
	s.stateLock.Unlock()
	s.logger.Debugf("Sent %s #%d", p.command.Tag(), p.sequence)
	s.transition(StateAwaitingResponse)

	// Arm the timeout.
	if s.configuration.CommandTimeout > 0 {
		s.timer.Reset(s.configuration.CommandTimeout)
	}
	return nil
}

// settle returns to the Idle state after a command completes.
func (s *Session) settle() {
	timeutil.StopAndDrainTimer(s.timer)
	s.transition(StateIdle)
}

// shutdown performs a requested close from the owning context.
func (s *Session) shutdown(current *pending) {
	if current == nil {
		s.connection.SetWriteDeadline(time.Now().Add(closeWriteTimeout))
		if err := s.encoder.EncodeCommand(protocol.EOF{}); err != nil {
			s.logger.Debugf("Unable to send EOF: %v", err)
		}
	} else {
		current.complete(s.identifier, "", ErrClosed)
	}
	s.terminate(nil)
}

// learn records a value from the hello burst. Values are immutable once
// reported, even if empty: a repeat is ignored and a change is a protocol
// violation.
func (s *Session) learn(name string, target *string, reported *bool, value string) error {
	s.stateLock.Lock()
	if !*reported {
		*target = value
		*reported = true
		s.stateLock.Unlock()
		if value != "" {
			s.logger.Infof("Client reported %s %q", name, value)
		}
		s.notify()
		return nil
	}
	previous := *target
	s.stateLock.Unlock()
	if previous != value {
		return &ProtocolViolationError{
			Reason: fmt.Sprintf("%s changed from %q to %q", name, previous, value),
		}
	}
	return nil
}

// learnProjectRoot records the project root and its watched directories,
// which are immutable together.
func (s *Session) learnProjectRoot(report protocol.ProjectRoot) error {
	s.stateLock.Lock()
	if s.projectRootReported && !slices.Equal(s.directories, report.Directories) {
		previous := s.directories
		s.stateLock.Unlock()
		return &ProtocolViolationError{
			Reason: fmt.Sprintf("watched directories changed from %q to %q", previous, report.Directories),
		}
	}
	if !s.projectRootReported {
		s.directories = append([]string{}, report.Directories...)
	}
	s.stateLock.Unlock()
	return s.learn("project root", &s.projectRoot, &s.projectRootReported, report.Path)
}

// translator creates a path translator from the client's reported context.
func (s *Session) translator() Translator {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	return Translator{
		LocalRoot:   s.configuration.LocalRoot,
		ProjectRoot: s.projectRoot,
		TmpPath:     s.tmpPath,
	}
}

// handle processes a response. It returns the outstanding command after
// handling, whether or not the client exited, and any terminal error.
func (s *Session) handle(response protocol.Response, current *pending) (*pending, bool, error) {
	switch r := response.(type) {
	case protocol.Platform:
		return current, false, s.learn("platform", &s.platform, &s.platformReported, r.Identifier)
	case protocol.TmpPath:
		return current, false, s.learn("temporary path", &s.tmpPath, &s.tmpPathReported, r.Path)
	case protocol.ProjectRoot:
		return current, false, s.learnProjectRoot(r)
	case protocol.Unhide:
		s.stateLock.Lock()
		s.unhides++
		s.stateLock.Unlock()
		s.logger.Debug("Client unhid symbols")
		s.notify()
		return current, false, nil
	case protocol.Exit:
		s.logger.Debug("Client exited")
		return current, true, nil
	case protocol.Injected:
		if current == nil {
			return nil, false, &ProtocolViolationError{Reason: "acknowledgement with no command outstanding"}
		}
		s.stateLock.Lock()
		s.acknowledged++
		if _, ok := current.command.(protocol.RequestXcodePath); ok && r.Detail != "" {
			s.toolchainPath = r.Detail
		}
		s.stateLock.Unlock()
		s.logger.Debugf("%s #%d acknowledged", current.command.Tag(), current.sequence)
		s.settle()
		current.complete(s.identifier, r.Detail, nil)
		return nil, false, nil
	case protocol.Failed:
		if current == nil {
			return nil, false, &ProtocolViolationError{Reason: "failure with no command outstanding"}
		}
		return s.fail(current, r.Reason)
	case protocol.UnrecognizedResponse:
		s.logger.Warnf("Ignoring unrecognized response (tag %d, %d bytes)", r.RawTag, len(r.Payload))
		return current, false, nil
	default:
		return current, false, &ProtocolViolationError{Reason: fmt.Sprintf("unexpected %s", response.Tag())}
	}
}

// fail handles a reported command failure, resending the command once with a
// translated path if that changes it.
func (s *Session) fail(current *pending, reason string) (*pending, bool, error) {
	// Return to idle. A failure never closes the session.
	s.settle()

	// Attempt a single retranslation.
	if !current.retried {
		if translated, ok := s.translator().retranslate(current.command); ok {
			s.logger.Infof("%s #%d failed (%s), retrying with translated path", current.command.Tag(), current.sequence, reason)
			current.command = translated
			current.retried = true
			if err := s.deliver(current); err != nil {
				if isCommandLocal(err) {
					current.complete(s.identifier, "", err)
					return nil, false, nil
				}
				return nil, false, err
			}
			return current, false, nil
		}
	}

	// Report the failure.
	s.stateLock.Lock()
	s.failed++
	platform := s.platform
	s.stateLock.Unlock()
	s.logger.Warnf("%s #%d failed on %s: %s", current.command.Tag(), current.sequence, platform, reason)
	current.complete(s.identifier, "", &CommandError{Command: current.command.Tag(), Reason: reason})
	return nil, false, nil
}
