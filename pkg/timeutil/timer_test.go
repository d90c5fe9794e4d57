package timeutil

import (
	"testing"
	"time"
)

// TestStopAndDrainFiredTimer tests that a fired timer is drained.
func TestStopAndDrainFiredTimer(t *testing.T) {
	timer := time.NewTimer(time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	StopAndDrainTimer(timer)
	select {
	case <-timer.C:
		t.Error("timer channel not drained")
	default:
	}
}

// TestBackoff tests backoff progression and capping.
func TestBackoff(t *testing.T) {
	backoff := NewBackoff(100*time.Millisecond, 350*time.Millisecond)
	expected := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		350 * time.Millisecond,
		350 * time.Millisecond,
	}
	for i, e := range expected {
		if delay := backoff.Next(); delay != e {
			t.Errorf("delay %d incorrect: %v != %v", i, delay, e)
		}
	}
}

// TestBackoffNormalization tests out-of-range backoff parameters.
func TestBackoffNormalization(t *testing.T) {
	backoff := NewBackoff(0, -1)
	if delay := backoff.Next(); delay != time.Millisecond {
		t.Error("non-positive initial delay not normalized:", delay)
	}
	if delay := backoff.Next(); delay != time.Millisecond {
		t.Error("maximum not raised to initial delay:", delay)
	}
}
