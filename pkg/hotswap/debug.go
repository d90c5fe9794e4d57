package hotswap

import (
	"os"
)

// DebugEnabled controls whether or not debugging is enabled for hotswap. It is
// set automatically based on the HOTSWAP_DEBUG environment variable.
var DebugEnabled bool

func init() {
	// Check whether or not debugging should be enabled.
	DebugEnabled = os.Getenv("HOTSWAP_DEBUG") == "1"
}
