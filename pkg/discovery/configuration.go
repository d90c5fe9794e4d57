package discovery

import (
	"net"
	"strconv"
	"time"

	"github.com/hotswap-io/hotswap/pkg/hotswap"
)

// Configuration controls how an agent locates servers.
type Configuration struct {
	// Host, if non-empty, names a server directly and disables rendezvous.
	Host string
	// Port is the command port used with Host and announced by responders.
	Port int
	// Group is the rendezvous address ("ip:port"). Multicast groups are
	// joined; unicast addresses are probed directly.
	Group string
	// Identity is the identity the agent declares in its probes.
	Identity string
	// Key is the shared key. Only its digest travels in probes.
	Key string
	// Window is how long replies are collected after each probe. It is also
	// the de-duplication window for repeated replies.
	Window time.Duration
	// Attempts is the maximum number of probes sent.
	Attempts int
	// InitialBackoff is the delay after the first unanswered probe.
	InitialBackoff time.Duration
	// MaximumBackoff caps the delay between probes.
	MaximumBackoff time.Duration
}

// DefaultGroup returns the default rendezvous address.
func DefaultGroup() string {
	return net.JoinHostPort(hotswap.MulticastGroup, strconv.Itoa(hotswap.DiscoveryPort))
}

// normalize fills in defaults for unset or out-of-range values.
func (c *Configuration) normalize() {
	if c.Port <= 0 {
		c.Port = hotswap.CommandPort
	}
	if c.Group == "" {
		c.Group = DefaultGroup()
	}
	if c.Window <= 0 {
		c.Window = 250 * time.Millisecond
	}
	if c.Attempts <= 0 {
		c.Attempts = 5
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 250 * time.Millisecond
	}
	if c.MaximumBackoff <= 0 {
		c.MaximumBackoff = 4 * time.Second
	}
}
