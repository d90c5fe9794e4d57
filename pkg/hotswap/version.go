package hotswap

import (
	"fmt"
)

const (
	// VersionMajor represents the current major version of hotswap.
	VersionMajor = 0
	// VersionMinor represents the current minor version of hotswap.
	VersionMinor = 4
	// VersionPatch represents the current patch version of hotswap.
	VersionPatch = 1
	// VersionTag represents a tag to be appended to the hotswap version string.
	// It must not contain spaces. If empty, no tag is appended to the version
	// string.
	VersionTag = ""
)

// Version provides a stringified version of the current hotswap version.
var Version string

// init performs global initialization.
func init() {
	// Compute the stringified version.
	if VersionTag != "" {
		Version = fmt.Sprintf("%d.%d.%d-%s", VersionMajor, VersionMinor, VersionPatch, VersionTag)
	} else {
		Version = fmt.Sprintf("%d.%d.%d", VersionMajor, VersionMinor, VersionPatch)
	}
}

const (
	// InjectionVersion is the version of the injection protocol spoken on the
	// command port. It identifies the set of commands and responses that this
	// build understands.
	InjectionVersion = 4001
	// MinimumInjectionVersion is the oldest injection protocol version that
	// servers will still serve and that agents will downgrade to.
	MinimumInjectionVersion = 4000

	// CommandsVersion is the version of the auxiliary control protocol spoken
	// on the control port. It is versioned independently of InjectionVersion.
	CommandsVersion = 5001
	// MinimumCommandsVersion is the oldest control protocol version accepted.
	MinimumCommandsVersion = 5001
)
