// Package daemon manages the background watcher process: spawning it
// detached from the terminal, recording its pid in the vault, and stopping
// or probing it later from a separate CLI invocation.
package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/agentshield/shield/internal/vault"
)

// Status describes the background watcher as seen from outside.
type Status struct {
	Running bool
	PID     int
}

// Start spawns a detached watcher process for the workspace and records its
// pid. extraArgs are passed through to the child's watch invocation.
func Start(v *vault.Vault, extraArgs ...string) (int, error) {
	if st, _ := Probe(v); st.Running {
		return 0, fmt.Errorf("watcher already running (pid %d)", st.PID)
	}

	exe, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("resolving own executable: %w", err)
	}
	if err := v.Ensure(); err != nil {
		return 0, err
	}

	args := append([]string{"watch", "--workspace", v.Root()}, extraArgs...)
	cmd := exec.Command(exe, args...)
	cmd.Dir = v.Root()
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = detachAttr()

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("spawning watcher: %w", err)
	}
	pid := cmd.Process.Pid
	if err := writePID(v, pid); err != nil {
		return pid, err
	}
	// The child belongs to its own session now; reaping is the OS's job.
	_ = cmd.Process.Release()
	return pid, nil
}

// Stop terminates the recorded watcher process and removes the pid file.
func Stop(v *vault.Vault) error {
	pid, err := readPID(v)
	if err != nil {
		return err
	}
	if !alive(pid) {
		_ = removePID(v)
		return fmt.Errorf("watcher not running (stale pid %d)", pid)
	}
	if err := terminate(pid); err != nil {
		return fmt.Errorf("stopping watcher (pid %d): %w", pid, err)
	}
	return removePID(v)
}

// Probe reports whether the recorded watcher process is alive. A pid file
// pointing at a dead process is cleaned up.
func Probe(v *vault.Vault) (Status, error) {
	pid, err := readPID(v)
	if err != nil {
		return Status{}, nil // no pid file means not running
	}
	if !alive(pid) {
		_ = removePID(v)
		return Status{PID: pid}, nil
	}
	return Status{Running: true, PID: pid}, nil
}

// WriteOwnPID records the current process as the workspace's watcher. Called
// by the watch command itself so a foreground run is also discoverable.
func WriteOwnPID(v *vault.Vault) error {
	return writePID(v, os.Getpid())
}

// ClearOwnPID removes the pid file if it still names this process.
func ClearOwnPID(v *vault.Vault) {
	if pid, err := readPID(v); err == nil && pid == os.Getpid() {
		_ = removePID(v)
	}
}

func writePID(v *vault.Vault, pid int) error {
	data := []byte(strconv.Itoa(pid) + "\n")
	if err := os.WriteFile(v.PIDPath(), data, 0o644); err != nil {
		return fmt.Errorf("writing pid file: %w", err)
	}
	return nil
}

func readPID(v *vault.Vault) (int, error) {
	data, err := os.ReadFile(v.PIDPath())
	if err != nil {
		return 0, fmt.Errorf("no watcher pid recorded: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("pid file %s is malformed", v.PIDPath())
	}
	return pid, nil
}

func removePID(v *vault.Vault) error {
	if err := os.Remove(v.PIDPath()); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
