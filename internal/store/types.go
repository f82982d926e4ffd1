package store

import (
	"fmt"
	"strings"

	"github.com/agentshield/shield/internal/backup"
	"github.com/agentshield/shield/internal/event"
)

// IndexVersion is the on-disk format version of index.json.
const IndexVersion = 2

// SnapshotFile is one captured file event inside a snapshot.
type SnapshotFile struct {
	// Path is the workspace-relative path the event happened to.
	Path string `json:"path"`
	// BackupPath is the blob filename under snapshots/. Empty for create
	// events, which have no prior content.
	BackupPath string `json:"backupPath"`
	// Size is the blob size in bytes.
	Size int64 `json:"size"`
	// EventType is the captured event kind.
	EventType event.Type `json:"eventType"`
	// RenamedTo is the destination path for rename events.
	RenamedTo string `json:"renamedTo,omitempty"`
	// Method records whether the blob was hardlinked or copied.
	Method backup.Method `json:"method,omitempty"`
}

// Snapshot is one batch of file events captured together. Immutable once
// persisted, except for removal during retention.
type Snapshot struct {
	ID        string         `json:"id"`
	Timestamp int64          `json:"timestamp"` // epoch milliseconds
	Files     []SnapshotFile `json:"files"`
	Message   string         `json:"message,omitempty"`
}

// BackupIndex is the persisted single source of truth. Every mutation is a
// whole-file rewrite.
type BackupIndex struct {
	Version   int        `json:"version"`
	Snapshots []Snapshot `json:"snapshots"`
}

// PendingChange is a reconciled file event waiting for the next batch flush.
// Produced by the watcher, consumed exactly once by CreateSnapshot.
type PendingChange struct {
	// Path is the workspace-relative path.
	Path string
	// Kind is the reconciled event kind.
	Kind event.Type
	// PreBytes is the file content before the event; nil for create.
	PreBytes []byte
	// RenamedTo is the workspace-relative destination for renames.
	RenamedTo string
}

// SnapshotID formats a snapshot id from its batch timestamp. IDs within the
// same millisecond collide; the caller batching model makes that effectively
// unreachable and the format is kept for index compatibility.
func SnapshotID(millis int64) string {
	return fmt.Sprintf("snap_%d", millis)
}

// BlobName builds the flat blob filename for a path captured at the given
// batch timestamp. Path separators are escaped so the blob dir stays flat.
func BlobName(millis int64, relPath string) string {
	return fmt.Sprintf("%d_%s", millis, strings.ReplaceAll(relPath, "/", "_"))
}
