//go:build !windows

package daemon

import "syscall"

// processAlive sends signal 0, which checks existence without delivering anything.
func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

func signal(pid int, sig syscall.Signal) error {
	return syscall.Kill(pid, sig)
}
