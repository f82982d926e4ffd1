// Package store owns the snapshot index and the blob directory. It turns
// batches of reconciled file events into persisted snapshots and answers
// queries over them for restore, history and cleanup.
package store

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/agentshield/shield/internal/backup"
	"github.com/agentshield/shield/internal/event"
	"github.com/agentshield/shield/internal/exclude"
	"github.com/agentshield/shield/internal/vault"
)

// Store persists snapshots for one workspace. The index is loaded once at
// construction and held for the process lifetime; every mutation rewrites
// the index file.
type Store struct {
	mu       sync.Mutex
	vault    *vault.Vault
	matcher  *exclude.Matcher
	strategy *backup.Strategy
	index    BackupIndex
	logger   *log.Logger
}

// Open loads (or initializes) the snapshot index for the workspace. A
// corrupted or unreadable index is treated as empty rather than fatal: the
// blobs are still on disk and newer snapshots keep working.
func Open(v *vault.Vault, matcher *exclude.Matcher, logger *log.Logger) (*Store, error) {
	if err := v.Ensure(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[shield] ", log.LstdFlags)
	}

	s := &Store{
		vault:    v,
		matcher:  matcher,
		strategy: backup.New(v.BlobDir()),
		logger:   logger,
		index:    BackupIndex{Version: IndexVersion},
	}

	data, err := os.ReadFile(v.IndexPath())
	switch {
	case os.IsNotExist(err):
		// First use for this workspace.
	case err != nil:
		logger.Printf("index unreadable, starting empty: %v", err)
	default:
		var idx BackupIndex
		if jerr := json.Unmarshal(data, &idx); jerr != nil {
			logger.Printf("index corrupted, starting empty: %v", jerr)
		} else {
			s.index = idx
			s.index.Version = IndexVersion
		}
	}

	return s, nil
}

// CreateSnapshot captures a batch of pending changes as one snapshot.
//
// The whole batch shares a single timestamp. Paths the exclusion matcher now
// rejects are skipped (defense in depth behind the watcher's own filtering).
// A backup failure for one file is logged and accounted, and the rest of the
// batch proceeds. If no entries survive, no snapshot is persisted and nil is
// returned.
func (s *Store) CreateSnapshot(changes []PendingChange, message string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	millis := time.Now().UnixMilli()
	snap := Snapshot{
		ID:        SnapshotID(millis),
		Timestamp: millis,
		Message:   message,
	}

	for _, ch := range changes {
		if s.matcher != nil && s.matcher.Excluded(ch.Path) {
			continue
		}
		if !ch.Kind.Valid() {
			s.logger.Printf("dropping change with unknown kind %q for %s", ch.Kind, ch.Path)
			continue
		}

		entry := SnapshotFile{
			Path:      ch.Path,
			EventType: ch.Kind,
			RenamedTo: ch.RenamedTo,
		}

		if ch.Kind != event.Create {
			blobName := BlobName(millis, ch.Path)
			blobPath := filepath.Join(s.vault.BlobDir(), blobName)
			renamedAbs := ""
			if ch.RenamedTo != "" {
				renamedAbs = s.vault.Abs(ch.RenamedTo)
			}
			res, err := s.strategy.Backup(s.vault.Abs(ch.Path), blobPath, ch.Kind, ch.PreBytes, renamedAbs)
			if err != nil {
				s.logger.Printf("backup failed for %s (%s): %v", ch.Path, ch.Kind, err)
				continue
			}
			entry.BackupPath = blobName
			entry.Size = res.Size
			entry.Method = res.Method
		} else {
			entry.Method = backup.MethodNone
		}

		snap.Files = append(snap.Files, entry)
	}

	if len(snap.Files) == 0 {
		return nil, nil
	}

	s.index.Snapshots = append(s.index.Snapshots, snap)
	if err := s.save(); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Snapshots returns all snapshots, newest first.
func (s *Store) Snapshots() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Snapshot, len(s.index.Snapshots))
	copy(out, s.index.Snapshots)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	return out
}

// Find resolves a snapshot by id. Both the literal "snap_<millis>" form and
// the bare millisecond timestamp are accepted.
func (s *Store) Find(id string) (Snapshot, bool) {
	if !strings.HasPrefix(id, "snap_") {
		if _, err := strconv.ParseInt(id, 10, 64); err == nil {
			id = "snap_" + id
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, snap := range s.index.Snapshots {
		if snap.ID == id {
			return snap, true
		}
	}
	return Snapshot{}, false
}

// FindByTimestamp resolves the snapshot with exactly the given millisecond
// timestamp.
func (s *Store) FindByTimestamp(millis int64) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, snap := range s.index.Snapshots {
		if snap.Timestamp == millis {
			return snap, true
		}
	}
	return Snapshot{}, false
}

// FileVersion pairs a snapshot with the entry it holds for a queried path.
type FileVersion struct {
	Snapshot Snapshot
	File     SnapshotFile
}

// FileHistory returns every snapshot entry referencing the given
// workspace-relative path, newest first, regardless of event kind.
func (s *Store) FileHistory(relPath string) []FileVersion {
	var out []FileVersion
	for _, snap := range s.Snapshots() {
		for _, f := range snap.Files {
			if f.Path == relPath {
				out = append(out, FileVersion{Snapshot: snap, File: f})
			}
		}
	}
	return out
}

// LatestBackupBytes returns the most recently backed-up content for a path,
// reading the newest history entry that has a blob on disk.
func (s *Store) LatestBackupBytes(relPath string) ([]byte, bool) {
	for _, ver := range s.FileHistory(relPath) {
		if ver.File.BackupPath == "" {
			continue
		}
		data, err := os.ReadFile(s.BlobPath(ver.File))
		if err == nil {
			return data, true
		}
	}
	return nil, false
}

// BlobPath returns the absolute path of an entry's blob.
func (s *Store) BlobPath(f SnapshotFile) string {
	return filepath.Join(s.vault.BlobDir(), f.BackupPath)
}

// Vault returns the store's vault.
func (s *Store) Vault() *vault.Vault { return s.vault }

// BackupStats returns the session's backup strategy counters.
func (s *Store) BackupStats() backup.Stats { return s.strategy.Stats() }

// WorkspaceStats summarizes the index for operator display.
type WorkspaceStats struct {
	Snapshots   int
	TotalFiles  int
	TotalBytes  int64
	UniqueFiles int
}

// Stats aggregates snapshot counts and sizes across the index.
func (s *Store) Stats() WorkspaceStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	unique := make(map[string]struct{})
	var st WorkspaceStats
	st.Snapshots = len(s.index.Snapshots)
	for _, snap := range s.index.Snapshots {
		for _, f := range snap.Files {
			unique[f.Path] = struct{}{}
			st.TotalFiles++
			st.TotalBytes += f.Size
		}
	}
	st.UniqueFiles = len(unique)
	return st
}

// save rewrites the whole index file. Must be called with mu held.
func (s *Store) save() error {
	data, err := json.MarshalIndent(&s.index, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding index: %w", err)
	}
	if err := os.WriteFile(s.vault.IndexPath(), data, 0o644); err != nil {
		return fmt.Errorf("writing index: %w", err)
	}
	return nil
}
