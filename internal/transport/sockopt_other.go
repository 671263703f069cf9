//go:build !linux && !darwin && !freebsd

package transport

import "syscall"

func reusePortControl(network, address string, rc syscall.RawConn) error {
	return nil
}
