package discovery

import (
	"time"

	"github.com/golang/groupcache/lru"
)

const (
	// deduplicatorCapacity bounds the number of sightings remembered.
	deduplicatorCapacity = 256
)

// deduplicator suppresses repeated sightings of the same key within a window.
// It is not safe for concurrent use.
type deduplicator struct {
	// window is the suppression window.
	window time.Duration
	// seen maps keys to the time they were last accepted.
	seen *lru.Cache
}

// newDeduplicator creates a new deduplicator.
func newDeduplicator(window time.Duration) *deduplicator {
	return &deduplicator{
		window: window,
		seen:   lru.New(deduplicatorCapacity),
	}
}

// observe records a sighting and returns true if it is new, i.e. the key was
// not accepted within the window before now.
func (d *deduplicator) observe(key string, now time.Time) bool {
	if value, ok := d.seen.Get(key); ok {
		if now.Sub(value.(time.Time)) < d.window {
			return false
		}
	}
	d.seen.Add(key, now)
	return true
}
