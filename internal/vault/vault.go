// Package vault defines the on-disk layout of the .shield directory inside a
// protected workspace and the advisory restore lock shared between the
// long-running watcher and one-shot restore invocations.
package vault

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DirName is the hidden vault directory at the workspace root.
	DirName = ".shield"
	// IndexFile is the snapshot index inside the vault.
	IndexFile = "index.json"
	// SnapshotsDir holds the backup blobs.
	SnapshotsDir = "snapshots"
	// LockFile is the advisory restore lock marker.
	LockFile = "restore.lock"
	// PIDFile records the background watcher's process id.
	PIDFile = "shield.pid"
	// LogFile is the watcher's activity log.
	LogFile = "shield.log"
	// IgnoreFile is the workspace's exclusion-pattern file.
	IgnoreFile = ".shieldignore"
)

// Vault locates the pieces of a workspace's .shield directory.
type Vault struct {
	root string // absolute workspace root
}

// New returns a Vault rooted at the given workspace directory. The directory
// must exist; the vault subtree is created lazily by Ensure.
func New(root string) (*Vault, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root %s is not a directory", root)
	}
	return &Vault{root: abs}, nil
}

// Root returns the absolute workspace root.
func (v *Vault) Root() string { return v.root }

// Dir returns the vault directory path.
func (v *Vault) Dir() string { return filepath.Join(v.root, DirName) }

// IndexPath returns the path of the snapshot index file.
func (v *Vault) IndexPath() string { return filepath.Join(v.Dir(), IndexFile) }

// BlobDir returns the directory holding backup blobs.
func (v *Vault) BlobDir() string { return filepath.Join(v.Dir(), SnapshotsDir) }

// LockPath returns the restore lock path.
func (v *Vault) LockPath() string { return filepath.Join(v.Dir(), LockFile) }

// PIDPath returns the daemon PID file path.
func (v *Vault) PIDPath() string { return filepath.Join(v.Dir(), PIDFile) }

// LogPath returns the activity log path.
func (v *Vault) LogPath() string { return filepath.Join(v.Dir(), LogFile) }

// IgnorePath returns the workspace's .shieldignore path.
func (v *Vault) IgnorePath() string { return filepath.Join(v.root, IgnoreFile) }

// Ensure creates the vault directory tree if it does not exist.
func (v *Vault) Ensure() error {
	if err := os.MkdirAll(v.BlobDir(), 0o755); err != nil {
		return fmt.Errorf("creating vault directories: %w", err)
	}
	return nil
}

// Rel converts an absolute path inside the workspace to a slash-separated
// workspace-relative path.
func (v *Vault) Rel(abs string) (string, error) {
	rel, err := filepath.Rel(v.root, abs)
	if err != nil {
		return "", fmt.Errorf("relativizing %s: %w", abs, err)
	}
	return filepath.ToSlash(rel), nil
}

// Abs converts a workspace-relative path back to an absolute one.
func (v *Vault) Abs(rel string) string {
	return filepath.Join(v.root, filepath.FromSlash(rel))
}
