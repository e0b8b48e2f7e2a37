//go:build !linux

package dialer

import "syscall"

const MarkSupported = false

func markControl(int) func(network, address string, c syscall.RawConn) error {
	return nil
}
