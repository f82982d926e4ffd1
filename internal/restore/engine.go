// Package restore reverses recorded snapshots against the live workspace.
// Every file entry is applied independently; partial success is the expected
// steady state and is surfaced through counts, not errors.
package restore

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/agentshield/shield/internal/event"
	"github.com/agentshield/shield/internal/store"
	"github.com/agentshield/shield/internal/vault"
)

// DefaultLockHold keeps the restore lock alive past the watcher's debounce
// and batch windows, so notifications caused by the restore itself are still
// being ignored when they fire.
const DefaultLockHold = 4 * time.Second

// Result counts the per-file outcomes of one restore.
type Result struct {
	Restored int // files recreated or overwritten from a blob
	Failed   int // blob missing or write refused
	Skipped  int // nothing to do for this entry
	Deleted  int // live files removed to undo a create or rename
}

// Engine applies snapshots in reverse.
type Engine struct {
	store    *store.Store
	vault    *vault.Vault
	lockHold time.Duration
	logger   *log.Logger
}

// New creates an Engine over the given store. lockHold < 0 selects
// DefaultLockHold; 0 releases the restore lock immediately (tests).
func New(s *store.Store, lockHold time.Duration, logger *log.Logger) *Engine {
	if lockHold < 0 {
		lockHold = DefaultLockHold
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[shield] ", log.LstdFlags)
	}
	return &Engine{store: s, vault: s.Vault(), lockHold: lockHold, logger: logger}
}

// RestoreSnapshot reverses every file entry of the identified snapshot. The
// id may be the literal snap_<millis> form or the bare millisecond
// timestamp. The restore lock is held for the whole operation plus the
// configured hold interval.
func (e *Engine) RestoreSnapshot(id string) (Result, error) {
	snap, ok := e.store.Find(id)
	if !ok {
		return Result{}, fmt.Errorf("snapshot %s not found", id)
	}
	return e.apply(snap)
}

// RestoreToTimestamp reverses the snapshot recorded at exactly the given
// millisecond timestamp. It is not a cross-snapshot "state as of time T"
// reconstruction.
func (e *Engine) RestoreToTimestamp(millis int64) (Result, error) {
	snap, ok := e.store.FindByTimestamp(millis)
	if !ok {
		return Result{}, fmt.Errorf("no snapshot at timestamp %d", millis)
	}
	return e.apply(snap)
}

// RestoreFile puts back the most recently backed-up content for one path as
// a plain overwrite/recreate, ignoring the event kind that produced it.
func (e *Engine) RestoreFile(relPath string) error {
	var blob string
	for _, ver := range e.store.FileHistory(relPath) {
		if ver.File.BackupPath != "" {
			blob = e.store.BlobPath(ver.File)
			break
		}
	}
	if blob == "" {
		return fmt.Errorf("no backed-up content for %s", relPath)
	}

	if err := e.vault.AcquireRestoreLock(); err != nil {
		return err
	}
	defer e.releaseAfterHold()

	if err := copyTo(blob, e.vault.Abs(relPath)); err != nil {
		return fmt.Errorf("restoring %s: %w", relPath, err)
	}
	e.logger.Printf("restored file %s", relPath)
	return nil
}

// apply reverses one snapshot entry by entry.
func (e *Engine) apply(snap store.Snapshot) (Result, error) {
	if err := e.vault.AcquireRestoreLock(); err != nil {
		return Result{}, err
	}
	defer e.releaseAfterHold()

	var res Result
	for _, f := range snap.Files {
		switch f.EventType {
		case event.Delete:
			// Recreate the deleted file from its blob.
			if e.restoreBlob(f, &res) {
				res.Restored++
			}

		case event.Rename:
			// Undo the rename: drop the new name, bring back the old.
			if f.RenamedTo != "" {
				renamed := e.vault.Abs(f.RenamedTo)
				if _, err := os.Stat(renamed); err == nil {
					if err := os.Remove(renamed); err == nil {
						res.Deleted++
					} else {
						e.logger.Printf("removing %s: %v", f.RenamedTo, err)
					}
				}
			}
			if e.restoreBlob(f, &res) {
				res.Restored++
			}

		case event.Create:
			// The file did not exist before the snapshot; remove it.
			target := e.vault.Abs(f.Path)
			if _, err := os.Stat(target); err == nil {
				if err := os.Remove(target); err == nil {
					res.Deleted++
				} else {
					e.logger.Printf("removing %s: %v", f.Path, err)
					res.Failed++
				}
			} else {
				res.Skipped++
			}

		case event.Change:
			// Overwrite the current content with the pre-event bytes.
			if e.restoreBlob(f, &res) {
				res.Restored++
			}

		default:
			res.Skipped++
		}
	}

	e.logger.Printf("restore %s: restored=%d failed=%d skipped=%d deleted=%d",
		snap.ID, res.Restored, res.Failed, res.Skipped, res.Deleted)
	return res, nil
}

// restoreBlob copies an entry's blob back to its original path. Returns
// false (and bumps Failed) when the blob is missing or unwritable.
func (e *Engine) restoreBlob(f store.SnapshotFile, res *Result) bool {
	if f.BackupPath == "" {
		res.Failed++
		return false
	}
	blob := e.store.BlobPath(f)
	if _, err := os.Stat(blob); err != nil {
		res.Failed++
		return false
	}
	if err := copyTo(blob, e.vault.Abs(f.Path)); err != nil {
		e.logger.Printf("restoring %s: %v", f.Path, err)
		res.Failed++
		return false
	}
	return true
}

// releaseAfterHold waits out the hold interval before dropping the lock, so
// the watcher has already discarded every notification the restore caused.
func (e *Engine) releaseAfterHold() {
	if e.lockHold > 0 {
		time.Sleep(e.lockHold)
	}
	if err := e.vault.ReleaseRestoreLock(); err != nil {
		e.logger.Printf("releasing restore lock: %v", err)
	}
}

func copyTo(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
