//go:build unix

package daemon

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// detachAttr puts the child in its own session so it survives the terminal.
func detachAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}

// alive probes a pid with the null signal.
func alive(pid int) bool {
	return unix.Kill(pid, 0) == nil
}

// terminate asks the watcher to shut down cleanly.
func terminate(pid int) error {
	return unix.Kill(pid, unix.SIGTERM)
}
