package state

import (
	"context"
	"errors"
	"sync"
)

// ErrTrackingTerminated indicates that tracking was terminated.
var ErrTrackingTerminated = errors.New("tracking terminated")

// Tracker provides index-based state tracking. Waiters are woken by closing
// a per-generation channel, which allows waits to be preempted by context
// cancellation.
type Tracker struct {
	// lock guards the tracker's members.
	lock sync.Mutex
	// index is the current state index.
	index uint64
	// terminated indicates whether or not tracking has been terminated.
	terminated bool
	// change is closed and replaced on every state change.
	change chan struct{}
}

// NewTracker creates a new tracker instance with state index 1.
func NewTracker() *Tracker {
	return &Tracker{
		index:  1,
		change: make(chan struct{}),
	}
}

// Terminate terminates tracking.
func (t *Tracker) Terminate() {
	t.lock.Lock()
	defer t.lock.Unlock()
	if !t.terminated {
		t.terminated = true
		close(t.change)
	}
}

// NotifyOfChange increments the state index and notifies waiters.
func (t *Tracker) NotifyOfChange() {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.terminated {
		return
	}
	t.index++
	close(t.change)
	t.change = make(chan struct{})
}

// WaitForChange waits for a state index change from the previous index. It
// returns the new index, or the previous index along with an error if the
// context is cancelled or tracking is terminated.
func (t *Tracker) WaitForChange(ctx context.Context, previousIndex uint64) (uint64, error) {
	for {
		t.lock.Lock()
		if t.terminated {
			index := t.index
			t.lock.Unlock()
			return index, ErrTrackingTerminated
		} else if t.index != previousIndex {
			index := t.index
			t.lock.Unlock()
			return index, nil
		}
		change := t.change
		t.lock.Unlock()

		select {
		case <-ctx.Done():
			return previousIndex, ctx.Err()
		case <-change:
		}
	}
}
