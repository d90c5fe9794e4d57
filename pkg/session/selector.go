package session

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"
)

// Selector selects sessions by platform.
type Selector struct {
	// pattern is the platform pattern. It's empty if the selector matches
	// all sessions.
	pattern string
	// glob indicates whether or not pattern contains glob metacharacters.
	glob bool
}

// ParseSelector parses a platform selector. An empty selector matches every
// session, an exact platform identifier matches only that platform, and a
// glob pattern (e.g. "ios-simulator-*") matches platforms accordingly.
func ParseSelector(pattern string) (Selector, error) {
	// Handle the match-all case.
	if pattern == "" {
		return Selector{}, nil
	}

	// Validate the pattern.
	if _, err := doublestar.Match(pattern, "a"); err != nil {
		return Selector{}, errors.Wrap(err, "invalid platform pattern")
	}

	// Success.
	return Selector{
		pattern: pattern,
		glob:    strings.ContainsAny(pattern, "*?[{\\"),
	}, nil
}

// Matches returns whether or not the selector matches a platform. A session
// that hasn't reported its platform is only matched by the empty selector.
func (s Selector) Matches(platform string) bool {
	if s.pattern == "" {
		return true
	} else if platform == "" {
		return false
	} else if !s.glob {
		return platform == s.pattern
	}
	match, _ := doublestar.Match(s.pattern, platform)
	return match
}

// String returns the selector's pattern.
func (s Selector) String() string {
	return s.pattern
}
