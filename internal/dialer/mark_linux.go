//go:build linux

package dialer

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// MarkSupported is true where Config.Mark can be applied.
const MarkSupported = true

func markControl(mark int) func(network, address string, c syscall.RawConn) error {
	if mark == 0 {
		return nil
	}
	return func(_, _ string, c syscall.RawConn) error {
		var ctrlErr error
		err := c.Control(func(fd uintptr) {
			ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_MARK, mark)
		})
		if err != nil {
			return err
		}
		return ctrlErr
	}
}
