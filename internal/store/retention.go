package store

import (
	"os"
	"path/filepath"
	"sort"
	"time"
)

// CleanResult reports what an age-based cleanup removed.
type CleanResult struct {
	Removed    int   // snapshots pruned
	FreedBytes int64 // on-disk bytes reclaimed from blobs
}

// CleanOldSnapshots prunes every snapshot older than maxAgeDays and deletes
// the blobs it owns. Blob sizes are measured on disk before deletion so the
// freed-bytes figure reflects reality, not index bookkeeping. The index is
// rewritten with only the survivors, then empty subdirectories left under
// the blob store are removed.
//
// This is the only code path that physically deletes blobs.
func (s *Store) CleanOldSnapshots(maxAgeDays int) (CleanResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UnixMilli() - int64(maxAgeDays)*24*60*60*1000

	var res CleanResult
	keep := s.index.Snapshots[:0]
	for _, snap := range s.index.Snapshots {
		if snap.Timestamp >= cutoff {
			keep = append(keep, snap)
			continue
		}
		for _, f := range snap.Files {
			if f.BackupPath == "" {
				continue
			}
			blob := filepath.Join(s.vault.BlobDir(), f.BackupPath)
			if info, err := os.Stat(blob); err == nil {
				res.FreedBytes += info.Size()
				if err := os.Remove(blob); err != nil {
					s.logger.Printf("removing blob %s: %v", blob, err)
				}
			}
		}
		res.Removed++
	}

	if res.Removed == 0 {
		return res, nil
	}

	s.index.Snapshots = keep
	if err := s.save(); err != nil {
		return res, err
	}

	s.removeEmptyBlobDirs()
	return res, nil
}

// removeEmptyBlobDirs deletes now-empty subdirectories under the blob store,
// deepest first. The blob dir itself is kept.
func (s *Store) removeEmptyBlobDirs() {
	var dirs []string
	root := s.vault.BlobDir()
	filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err == nil && d.IsDir() && path != root {
			dirs = append(dirs, path)
		}
		return nil
	})

	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err == nil && len(entries) == 0 {
			os.Remove(dir)
		}
	}
}
