//go:build linux || darwin || freebsd

package network

import (
	"net"
	"syscall"
)

// listenConfig sets SO_REUSEADDR so a restarted gateway or relay can rebind
// its port while old sockets sit in TIME_WAIT.
func listenConfig() net.ListenConfig {
	return net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			if err := c.Control(func(fd uintptr) {
				sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			}); err != nil {
				return err
			}
			return sockErr
		},
	}
}
