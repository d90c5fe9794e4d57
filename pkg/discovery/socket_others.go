//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package discovery

import (
	"syscall"
)

// reuseControl is a no-op on platforms without SO_REUSEPORT.
func reuseControl(_, _ string, _ syscall.RawConn) error {
	return nil
}
