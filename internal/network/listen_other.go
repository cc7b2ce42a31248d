//go:build !linux && !darwin && !freebsd && !windows

package network

import "net"

func listenConfig() net.ListenConfig {
	return net.ListenConfig{}
}
