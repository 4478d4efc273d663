package launch

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// dropCapabilities clears the process's effective, permitted and
// inheritable capability sets. It runs right after pivot_root and before
// the init process assumes the container's mapped UID/GID, so that the
// setuid/setgid calls that follow have nothing left to exploit even if
// they somehow failed to drop privilege on their own.
func dropCapabilities() error {
	var header unix.CapUserHeader
	header.Version = unix.LINUX_CAPABILITY_VERSION_3

	var data [2]unix.CapUserData
	if err := unix.Capget(&header, &data[0]); err != nil {
		return fmt.Errorf("get capabilities: %w", err)
	}

	data[0].Effective, data[0].Permitted, data[0].Inheritable = 0, 0, 0
	data[1].Effective, data[1].Permitted, data[1].Inheritable = 0, 0, 0

	if err := unix.Capset(&header, &data[0]); err != nil {
		return fmt.Errorf("set capabilities: %w", err)
	}
	return nil
}
