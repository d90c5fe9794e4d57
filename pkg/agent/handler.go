package agent

import (
	"github.com/pkg/errors"
)

// ErrSymbolsHidden may be returned (possibly wrapped) by Handler.Inject or
// Handler.LoadDylib to indicate that the failure was caused by symbols that
// the running process doesn't export. The agent reports an unhide
// notification before reporting the failure.
var ErrSymbolsHidden = errors.New("symbols hidden")

// Handler performs commands inside the running process. Its methods are
// invoked one at a time.
type Handler interface {
	// Log displays a message to the developer.
	Log(message string)
	// LoadDylib loads the dynamic module at the specified path.
	LoadDylib(path string) error
	// Inject swaps in the implementation of the named type from the dynamic
	// module at the specified path.
	Inject(typeName, path string) error
	// ToolchainPath returns the path of the toolchain used to build the
	// running process.
	ToolchainPath() (string, error)
}
