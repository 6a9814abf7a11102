//go:build unix

package liveness

import (
	"errors"

	"golang.org/x/sys/unix"
)

// processExists checks for pid with kill(pid, 0), which probes without
// delivering a signal. EPERM means the process exists but belongs to another
// user.
func processExists(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
