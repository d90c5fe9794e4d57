package protocol

import (
	"github.com/hotswap-io/hotswap/pkg/hotswap"
)

// Epoch is a numbered protocol version with its own fixed set of commands and
// responses. EOF and Exit belong to every epoch.
type Epoch struct {
	// Version is the protocol version that identifies the epoch.
	Version int32
	// commands is the set of command tags in the epoch.
	commands map[CommandTag]bool
	// responses is the set of response tags in the epoch.
	responses map[ResponseTag]bool
}

// SupportsCommand returns whether or not the epoch includes a command tag.
func (e *Epoch) SupportsCommand(tag CommandTag) bool {
	return tag == CommandTagEOF || e.commands[tag]
}

// SupportsResponse returns whether or not the epoch includes a response tag.
func (e *Epoch) SupportsResponse(tag ResponseTag) bool {
	return tag == ResponseTagExit || e.responses[tag]
}

// epochs maps protocol versions to their epochs.
var epochs = map[int32]*Epoch{
	4000: {
		Version: 4000,
		commands: map[CommandTag]bool{
			CommandTagLog:              true,
			CommandTagLoadDylib:        true,
			CommandTagInject:           true,
			CommandTagRequestXcodePath: true,
		},
		responses: map[ResponseTag]bool{
			ResponseTagPlatform: true,
			ResponseTagInjected: true,
			ResponseTagFailed:   true,
			ResponseTagTmpPath:  true,
			ResponseTagUnhide:   true,
		},
	},
	hotswap.InjectionVersion: {
		Version: hotswap.InjectionVersion,
		commands: map[CommandTag]bool{
			CommandTagLog:              true,
			CommandTagLoadDylib:        true,
			CommandTagInject:           true,
			CommandTagRequestXcodePath: true,
			CommandTagSendFile:         true,
		},
		responses: map[ResponseTag]bool{
			ResponseTagPlatform:    true,
			ResponseTagInjected:    true,
			ResponseTagFailed:      true,
			ResponseTagTmpPath:     true,
			ResponseTagUnhide:      true,
			ResponseTagProjectRoot: true,
		},
	},
}

// EpochFor returns the epoch for a protocol version, if one is defined.
func EpochFor(version int32) (*Epoch, bool) {
	epoch, ok := epochs[version]
	return epoch, ok
}

// CurrentEpoch returns the epoch for hotswap.InjectionVersion.
func CurrentEpoch() *Epoch {
	return epochs[hotswap.InjectionVersion]
}
