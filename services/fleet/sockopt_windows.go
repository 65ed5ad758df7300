//go:build windows

package fleet

import (
	"syscall"

	"golang.org/x/sys/windows"
)

func enableBroadcast(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
