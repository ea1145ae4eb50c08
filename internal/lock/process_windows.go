//go:build windows

package lock

import "os"

// processAlive relies on FindProcess opening a handle, which fails for
// processes that no longer exist.
func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = p.Release()
	return true
}
