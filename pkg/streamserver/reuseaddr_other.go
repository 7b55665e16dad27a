//go:build !linux

package streamserver

import "syscall"

// setReuseAddr is a no-op outside Linux; platforms without SO_REUSEADDR
// tuning simply rely on the OS default TIME_WAIT behavior.
func setReuseAddr(network, address string, c syscall.RawConn) error {
	return nil
}
