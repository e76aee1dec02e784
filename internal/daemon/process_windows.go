//go:build windows

package daemon

import (
	"fmt"
	"os"
	"syscall"
)

// processAlive uses a zero signal; FindProcess alone always succeeds on Windows.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// signal delivers sig. Only os.Kill is reliable on Windows.
func signal(pid int, sig syscall.Signal) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}
	return proc.Signal(sig)
}
