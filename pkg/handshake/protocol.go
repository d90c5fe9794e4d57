package handshake

import (
	"github.com/hotswap-io/hotswap/pkg/hotswap"
)

// Protocol describes one independently versioned protocol.
type Protocol struct {
	// Name is a human-readable protocol name used in errors and logs.
	Name string
	// Version is the newest version spoken by this build.
	Version int32
	// Minimum is the oldest version this build will serve or downgrade to.
	Minimum int32
}

// Injection is the injection protocol spoken on the command port.
var Injection = Protocol{
	Name:    "injection",
	Version: hotswap.InjectionVersion,
	Minimum: hotswap.MinimumInjectionVersion,
}

// Commands is the auxiliary control protocol spoken on the control port. It is
// negotiated independently of Injection.
var Commands = Protocol{
	Name:    "commands",
	Version: hotswap.CommandsVersion,
	Minimum: hotswap.MinimumCommandsVersion,
}

// accepts returns whether or not a peer version falls inside the protocol's
// compatibility window.
func (p Protocol) accepts(version int32) bool {
	return version >= p.Minimum && version <= p.Version
}
