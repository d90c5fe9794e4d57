package timeutil

import (
	"time"
)

// StopAndDrainTimer stops a timer and performs a non-blocking drain on its
// channel. This allows a timer to be stopped and drained without any knowledge
// of its current state.
func StopAndDrainTimer(timer *time.Timer) {
	timer.Stop()
	select {
	case <-timer.C:
	default:
	}
}

// Backoff computes exponentially increasing delays between a minimum and a
// maximum. The zero value is not usable; construct one with NewBackoff.
type Backoff struct {
	// current is the next delay to be returned.
	current time.Duration
	// maximum is the delay cap.
	maximum time.Duration
}

// NewBackoff creates a new backoff starting at initial and doubling up to
// maximum. Non-positive initial values are treated as one millisecond and a
// maximum below initial is raised to initial.
func NewBackoff(initial, maximum time.Duration) *Backoff {
	if initial <= 0 {
		initial = time.Millisecond
	}
	if maximum < initial {
		maximum = initial
	}
	return &Backoff{current: initial, maximum: maximum}
}

// Next returns the next delay and advances the backoff.
func (b *Backoff) Next() time.Duration {
	result := b.current
	b.current *= 2
	if b.current > b.maximum {
		b.current = b.maximum
	}
	return result
}
