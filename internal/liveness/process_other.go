//go:build !unix

package liveness

import "os"

// processExists relies on FindProcess, which opens a handle to the process
// on platforms without kill(2) and fails when it is gone.
func processExists(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = p.Release()
	return true
}
