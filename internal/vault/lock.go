package vault

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// LockStaleTTL is how old a restore lock may be before the watcher treats it
// as abandoned. A crashed restore must not wedge the watcher forever.
const LockStaleTTL = 10 * time.Minute

// lockInfo is the JSON payload written into restore.lock so an operator can
// see who is holding it.
type lockInfo struct {
	PID      int   `json:"pid"`
	LockedAt int64 `json:"lockedAt"` // epoch milliseconds
}

// AcquireRestoreLock writes the restore lock marker. It overwrites an
// existing lock: the lock is advisory and a fresh restore supersedes a stale
// one. The vault directory is created if needed.
func (v *Vault) AcquireRestoreLock() error {
	if err := v.Ensure(); err != nil {
		return err
	}
	info := lockInfo{
		PID:      os.Getpid(),
		LockedAt: time.Now().UnixMilli(),
	}
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	if err := os.WriteFile(v.LockPath(), data, 0o644); err != nil {
		return fmt.Errorf("writing restore lock: %w", err)
	}
	return nil
}

// ReleaseRestoreLock removes the restore lock marker. Missing lock is not an
// error.
func (v *Vault) ReleaseRestoreLock() error {
	if err := os.Remove(v.LockPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing restore lock: %w", err)
	}
	return nil
}

// RestoreLocked reports whether a live restore lock is present. A lock older
// than LockStaleTTL is treated as absent.
func (v *Vault) RestoreLocked() bool {
	info, err := os.Stat(v.LockPath())
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) < LockStaleTTL
}
