//go:build linux

package streamserver

import "syscall"

// setReuseAddr sets SO_REUSEADDR so rapid start/stop cycles on the
// same port do not fail to bind.
func setReuseAddr(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
