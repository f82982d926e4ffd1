// Package backup decides, per captured file event, how the pre-event content
// reaches the vault: a hardlink when the bytes still exist on disk on the
// same device, a full copy otherwise.
package backup

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/agentshield/shield/internal/event"
)

// Method records the mechanism actually used for one blob.
type Method string

const (
	// MethodHardlink means the blob shares an inode with the source.
	MethodHardlink Method = "hardlink"
	// MethodCopy means the blob is an independent byte copy.
	MethodCopy Method = "copy"
	// MethodNone means no blob was needed (create events).
	MethodNone Method = "none"
)

// Stats accumulates per-session backup accounting.
type Stats struct {
	Hardlinks  int
	Copies     int
	Failures   int
	BytesSaved int64 // approximate bytes not copied thanks to hardlinks
}

// Result reports the outcome of a single backup.
type Result struct {
	Method Method
	Size   int64 // bytes written or linked into the blob
}

// Strategy performs backups into a vault blob directory. One instance is
// constructed per workspace session and owns the device-capability cache and
// the statistics; there is no package-global state.
type Strategy struct {
	mu       sync.Mutex
	vaultDev uint64
	haveDev  bool            // vault device id resolved
	linkable map[uint64]bool // device id -> hardlinks observed to work
	stats    Stats

	// statDevice resolves a path's filesystem device id. Overridden in
	// tests to simulate cross-device layouts.
	statDevice func(string) (uint64, error)
}

// New creates a Strategy for a vault whose blobs live in blobDir. The
// directory must exist so its device id can be resolved; if it cannot be,
// every backup falls back to copying.
func New(blobDir string) *Strategy {
	s := &Strategy{
		linkable:   make(map[uint64]bool),
		statDevice: deviceOf,
	}
	if dev, err := deviceOf(blobDir); err == nil {
		s.vaultDev = dev
		s.haveDev = true
	}
	return s
}

// Backup writes the pre-event state of one file into blobPath.
//
// Decision table:
//   - create: nothing to preserve, MethodNone.
//   - delete/rename: hardlink the original if it still exists; for renames
//     fall back to hardlinking the renamed-to path (identical content); else
//     write preBytes; else fail.
//   - change: always write preBytes. The live file has (or is about to
//     have) the new content, so a link would not preserve the old version.
//
// A failed hardlink attempt degrades to a copy and caches a negative
// verdict for that device so later backups skip the attempt.
func (s *Strategy) Backup(sourcePath, blobPath string, kind event.Type, preBytes []byte, renamedTo string) (Result, error) {
	switch kind {
	case event.Create:
		return Result{Method: MethodNone}, nil

	case event.Change:
		return s.writeBytes(blobPath, preBytes)

	case event.Delete, event.Rename:
		linkFrom := ""
		if fileExists(sourcePath) {
			linkFrom = sourcePath
		} else if kind == event.Rename && renamedTo != "" && fileExists(renamedTo) {
			linkFrom = renamedTo
		}

		if linkFrom != "" {
			return s.backupExisting(linkFrom, blobPath)
		}
		if preBytes != nil {
			return s.writeBytes(blobPath, preBytes)
		}
		s.countFailure()
		return Result{}, fmt.Errorf("backup %s: source vanished and no captured bytes", sourcePath)

	default:
		s.countFailure()
		return Result{}, fmt.Errorf("backup %s: unknown event kind %q", sourcePath, kind)
	}
}

// Stats returns a copy of the accumulated counters.
func (s *Strategy) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// backupExisting preserves a file that is still on disk, preferring a
// hardlink when the device allows it.
func (s *Strategy) backupExisting(source, blobPath string) (Result, error) {
	info, err := os.Stat(source)
	if err != nil {
		s.countFailure()
		return Result{}, fmt.Errorf("stat %s: %w", source, err)
	}

	if dev, ok := s.linkCandidate(source); ok {
		if err := os.Link(source, blobPath); err == nil {
			s.mu.Lock()
			s.stats.Hardlinks++
			s.stats.BytesSaved += info.Size()
			s.linkable[dev] = true
			s.mu.Unlock()
			return Result{Method: MethodHardlink, Size: info.Size()}, nil
		}
		// Link refused (permissions, unsupported fs). Remember and copy.
		s.mu.Lock()
		s.linkable[dev] = false
		s.mu.Unlock()
	}

	if err := copyFile(source, blobPath); err != nil {
		s.countFailure()
		return Result{}, fmt.Errorf("copy %s: %w", source, err)
	}
	s.mu.Lock()
	s.stats.Copies++
	s.mu.Unlock()
	return Result{Method: MethodCopy, Size: info.Size()}, nil
}

// linkCandidate reports whether a hardlink attempt is worth making for the
// given source, returning its device id. Cross-device pairs and devices with
// a cached negative verdict are skipped outright.
func (s *Strategy) linkCandidate(source string) (uint64, bool) {
	if !s.haveDev {
		return 0, false
	}
	dev, err := s.statDevice(source)
	if err != nil {
		return 0, false
	}
	if dev != s.vaultDev {
		return 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if verdict, seen := s.linkable[dev]; seen && !verdict {
		return 0, false
	}
	return dev, true
}

func (s *Strategy) writeBytes(blobPath string, data []byte) (Result, error) {
	if err := os.WriteFile(blobPath, data, 0o644); err != nil {
		s.countFailure()
		return Result{}, fmt.Errorf("writing blob %s: %w", blobPath, err)
	}
	s.mu.Lock()
	s.stats.Copies++
	s.mu.Unlock()
	return Result{Method: MethodCopy, Size: int64(len(data))}, nil
}

func (s *Strategy) countFailure() {
	s.mu.Lock()
	s.stats.Failures++
	s.mu.Unlock()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func copyFile(src, dst string) error {
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
