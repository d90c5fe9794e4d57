package session

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	"github.com/hotswap-io/hotswap/pkg/logging"
	"github.com/hotswap-io/hotswap/pkg/protocol"
	"github.com/hotswap-io/hotswap/pkg/state"
)

// Delivery is the pending outcome of a fanned-out command for one session.
type Delivery struct {
	// Session is the identifier of the targeted session.
	Session string
	// Platform is the platform of the targeted session.
	Platform string
	// Outcome receives the command's single outcome.
	Outcome <-chan Outcome
}

// Registry tracks live sessions and fans commands out to them. Its methods are
// safe for concurrent usage.
type Registry struct {
	// logger is the underlying logger.
	logger *logging.Logger
	// tracker tracks changes to the registry and to session states.
	tracker *state.Tracker
	// sessionsLock locks the sessions registry.
	sessionsLock *state.TrackingLock
	// sessions maps session identifiers to sessions.
	sessions map[string]*Session
}

// NewRegistry creates a new registry.
func NewRegistry(logger *logging.Logger) *Registry {
	// Create a tracker and corresponding lock to watch for state changes.
	tracker := state.NewTracker()

	// Create the registry.
	return &Registry{
		logger:       logger,
		tracker:      tracker,
		sessionsLock: state.NewTrackingLock(tracker),
		sessions:     make(map[string]*Session),
	}
}

// Tracker returns the registry's state tracker. Sessions should be configured
// with it so that their state changes are visible to List.
func (r *Registry) Tracker() *state.Tracker {
	return r.tracker
}

// Register adds a session to the registry.
func (r *Registry) Register(session *Session) error {
	// Grab the registry lock and defer its release.
	r.sessionsLock.Lock()
	defer r.sessionsLock.Unlock()

	// Check for conflicts and closed sessions.
	if _, ok := r.sessions[session.identifier]; ok {
		return errors.Errorf("session %s already registered", session.identifier)
	} else if session.State() == StateClosed {
		return errors.Wrapf(ErrClosed, "unable to register %s", session.identifier)
	}

	// Register the session.
	r.sessions[session.identifier] = session
	r.logger.Debugf("Registered session %s", session.identifier)
	return nil
}

// Unregister removes a session from the registry. It returns false if the
// session wasn't registered.
func (r *Registry) Unregister(identifier string) bool {
	// Grab the registry lock.
	r.sessionsLock.Lock()

	// Remove the session.
	if _, ok := r.sessions[identifier]; !ok {
		r.sessionsLock.UnlockWithoutNotify()
		return false
	}
	delete(r.sessions, identifier)
	r.sessionsLock.Unlock()
	r.logger.Debugf("Unregistered session %s", identifier)
	return true
}

// pruneAndSort removes closed sessions and returns the remainder ordered by
// connection time. The registry lock must be held.
func (r *Registry) pruneAndSort() []*Session {
	sessions := make([]*Session, 0, len(r.sessions))
	for identifier, session := range r.sessions {
		if session.State() == StateClosed {
			delete(r.sessions, identifier)
			r.logger.Debugf("Pruned closed session %s", identifier)
			continue
		}
		sessions = append(sessions, session)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].connectedAt.Before(sessions[j].connectedAt)
	})
	return sessions
}

// FanOut submits one command to every open session whose platform matches the
// selector. Sessions with an outstanding command receive it once they return
// to Idle. Closed sessions are pruned and receive nothing.
func (r *Registry) FanOut(command protocol.Command, selector Selector) []Delivery {
	// Grab the registry lock and defer its release.
	r.sessionsLock.Lock()
	defer r.sessionsLock.Unlock()

	// Submit the command to each matching session.
	var deliveries []Delivery
	for _, session := range r.pruneAndSort() {
		platform := session.Platform()
		if !selector.Matches(platform) {
			continue
		}
		deliveries = append(deliveries, Delivery{
			Session:  session.identifier,
			Platform: platform,
			Outcome:  session.Submit(command),
		})
	}

	// Log the fan-out.
	r.logger.Debugf("Fanned out %s to %d session(s) matching %q",
		command.Tag(), len(deliveries), selector,
	)

	// Done.
	return deliveries
}

// FanOutSequence submits a per-session sequence of commands to every open
// session whose platform matches the selector. The sequence for each session
// is built from its snapshot. Commands are submitted one at a time and the
// sequence stops at the first failure, whose outcome becomes the delivery's
// outcome. Otherwise the delivery reports the outcome of the last command.
func (r *Registry) FanOutSequence(selector Selector, build func(*Info) ([]protocol.Command, error)) []Delivery {
	// Grab the registry lock and defer its release.
	r.sessionsLock.Lock()
	defer r.sessionsLock.Unlock()

	// Start a sequence for each matching session.
	var deliveries []Delivery
	for _, session := range r.pruneAndSort() {
		info := session.Info()
		if !selector.Matches(info.Platform) {
			continue
		}
		outcome := make(chan Outcome, 1)
		if commands, err := build(info); err != nil {
			outcome <- Outcome{Session: session.identifier, Err: err}
		} else if len(commands) == 0 {
			outcome <- Outcome{Session: session.identifier, Err: errors.New("empty command sequence")}
		} else {
			go submitSequence(session, commands, outcome)
		}
		deliveries = append(deliveries, Delivery{
			Session:  session.identifier,
			Platform: info.Platform,
			Outcome:  outcome,
		})
	}

	// Log the fan-out.
	r.logger.Debugf("Fanned out command sequence to %d session(s) matching %q", len(deliveries), selector)

	// Done.
	return deliveries
}

// submitSequence submits commands to a session in order, stopping at the
// first failure, and reports the final outcome.
func submitSequence(session *Session, commands []protocol.Command, result chan<- Outcome) {
	var outcome Outcome
	for _, command := range commands {
		if outcome = <-session.Submit(command); outcome.Err != nil {
			break
		}
	}
	result <- outcome
}

// List returns snapshots of all registered sessions once the registry's state
// index differs from previousIndex. Pass 0 to return immediately.
func (r *Registry) List(ctx context.Context, previousIndex uint64) (uint64, []*Info, error) {
	// Wait for a state change from the previous index.
	index, err := r.tracker.WaitForChange(ctx, previousIndex)
	if err != nil {
		return 0, nil, errors.Wrap(err, "unable to track session states")
	}

	// Grab the registry lock and defer its release.
	r.sessionsLock.Lock()
	defer r.sessionsLock.UnlockWithoutNotify()

	// Snapshot the sessions, including closed ones that haven't been pruned.
	sessions := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].connectedAt.Before(sessions[j].connectedAt)
	})
	infos := make([]*Info, len(sessions))
	for i, session := range sessions {
		infos[i] = session.Info()
	}

	// Success.
	return index, infos, nil
}

// Shutdown terminates state tracking and closes all sessions.
func (r *Registry) Shutdown() {
	// Log the shutdown.
	r.logger.Info("Shutting down")

	// Terminate state tracking to terminate monitoring.
	r.tracker.Terminate()

	// Grab the registry lock and close each session.
	r.sessionsLock.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	r.sessions = make(map[string]*Session)
	r.sessionsLock.UnlockWithoutNotify()
	for _, session := range sessions {
		r.logger.Debugf("Closing session %s", session.identifier)
		session.Close()
	}
}
