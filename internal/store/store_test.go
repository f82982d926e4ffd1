package store

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/agentshield/shield/internal/backup"
	"github.com/agentshield/shield/internal/event"
	"github.com/agentshield/shield/internal/exclude"
	"github.com/agentshield/shield/internal/vault"
)

func testLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func openTestStore(t testing.TB, patterns []string) (*Store, *vault.Vault) {
	t.Helper()
	v, err := vault.New(t.TempDir())
	if err != nil {
		t.Fatalf("vault.New() failed: %v", err)
	}
	s, err := Open(v, exclude.New(patterns), testLogger())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	return s, v
}

func writeWorkspaceFile(t testing.TB, v *vault.Vault, rel, content string) {
	t.Helper()
	abs := v.Abs(rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", rel, err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", rel, err)
	}
}

// TestCreateSnapshot_Basic verifies a mixed batch becomes one snapshot with
// one timestamp and correct entries.
func TestCreateSnapshot_Basic(t *testing.T) {
	s, v := openTestStore(t, nil)
	writeWorkspaceFile(t, v, "doomed.txt", "bye")

	changes := []PendingChange{
		{Path: "modify.txt", Kind: event.Change, PreBytes: []byte("v1")},
		{Path: "doomed.txt", Kind: event.Delete},
		{Path: "fresh.txt", Kind: event.Create},
	}

	snap, err := s.CreateSnapshot(changes, "")
	if err != nil {
		t.Fatalf("CreateSnapshot() failed: %v", err)
	}
	if snap == nil {
		t.Fatal("CreateSnapshot() returned nil for a non-empty batch")
	}
	if snap.ID != SnapshotID(snap.Timestamp) {
		t.Errorf("ID = %s, timestamp = %d", snap.ID, snap.Timestamp)
	}
	if len(snap.Files) != 3 {
		t.Fatalf("got %d entries, want 3", len(snap.Files))
	}

	byPath := map[string]SnapshotFile{}
	for _, f := range snap.Files {
		byPath[f.Path] = f
	}

	if f := byPath["modify.txt"]; f.Method != backup.MethodCopy || f.BackupPath == "" {
		t.Errorf("change entry = %+v, want copied blob", f)
	}
	if f := byPath["doomed.txt"]; f.BackupPath == "" {
		t.Errorf("delete entry = %+v, want a blob", f)
	}
	if f := byPath["fresh.txt"]; f.BackupPath != "" || f.Size != 0 || f.Method != backup.MethodNone {
		t.Errorf("create entry = %+v, want no blob", f)
	}

	// Blob content for the change entry is the pre-event bytes.
	data, err := os.ReadFile(s.BlobPath(byPath["modify.txt"]))
	if err != nil || string(data) != "v1" {
		t.Errorf("change blob = %q, %v", data, err)
	}
}

// TestCreateSnapshot_AllExcludedReturnsNil verifies that a batch whose
// entries are all excluded persists nothing.
func TestCreateSnapshot_AllExcludedReturnsNil(t *testing.T) {
	s, _ := openTestStore(t, []string{"node_modules"})

	snap, err := s.CreateSnapshot([]PendingChange{
		{Path: "node_modules/a.js", Kind: event.Change, PreBytes: []byte("x")},
	}, "")
	if err != nil {
		t.Fatalf("CreateSnapshot() failed: %v", err)
	}
	if snap != nil {
		t.Fatal("excluded-only batch should not persist a snapshot")
	}
	if got := len(s.Snapshots()); got != 0 {
		t.Errorf("index has %d snapshots, want 0", got)
	}
}

// TestCreateSnapshot_ExcludedPathNeverAppears covers exclusion across all
// event kinds.
func TestCreateSnapshot_ExcludedPathNeverAppears(t *testing.T) {
	s, v := openTestStore(t, []string{"secret"})
	writeWorkspaceFile(t, v, "keep.txt", "k")

	snap, err := s.CreateSnapshot([]PendingChange{
		{Path: "secret/a", Kind: event.Change, PreBytes: []byte("x")},
		{Path: "secret/b", Kind: event.Delete, PreBytes: []byte("x")},
		{Path: "secret/c", Kind: event.Rename, RenamedTo: "secret/d", PreBytes: []byte("x")},
		{Path: "secret/e", Kind: event.Create},
		{Path: "keep.txt", Kind: event.Delete},
	}, "")
	if err != nil {
		t.Fatalf("CreateSnapshot() failed: %v", err)
	}
	if snap == nil || len(snap.Files) != 1 || snap.Files[0].Path != "keep.txt" {
		t.Fatalf("snapshot = %+v, want only keep.txt", snap)
	}
}

// TestFindAcceptsBothIDForms verifies snap_<ms> and bare millis lookups.
func TestFindAcceptsBothIDForms(t *testing.T) {
	s, _ := openTestStore(t, nil)
	snap, err := s.CreateSnapshot([]PendingChange{
		{Path: "f.txt", Kind: event.Change, PreBytes: []byte("v")},
	}, "")
	if err != nil || snap == nil {
		t.Fatalf("CreateSnapshot() = %v, %v", snap, err)
	}

	if _, ok := s.Find(snap.ID); !ok {
		t.Error("Find by literal id failed")
	}
	if _, ok := s.Find(SnapshotID(snap.Timestamp)[len("snap_"):]); !ok {
		t.Error("Find by bare millis failed")
	}
	if _, ok := s.Find("snap_1"); ok {
		t.Error("Find matched a nonexistent id")
	}
	if _, ok := s.FindByTimestamp(snap.Timestamp); !ok {
		t.Error("FindByTimestamp failed")
	}
}

// TestFileHistory verifies newest-first ordering and latest-bytes lookup.
func TestFileHistory(t *testing.T) {
	s, _ := openTestStore(t, nil)

	for _, content := range []string{"v1", "v2"} {
		snap, err := s.CreateSnapshot([]PendingChange{
			{Path: "f.txt", Kind: event.Change, PreBytes: []byte(content)},
		}, "")
		if err != nil || snap == nil {
			t.Fatalf("CreateSnapshot() = %v, %v", snap, err)
		}
	}

	hist := s.FileHistory("f.txt")
	if len(hist) != 2 {
		t.Fatalf("history length = %d, want 2", len(hist))
	}
	if hist[0].Snapshot.Timestamp < hist[1].Snapshot.Timestamp {
		t.Error("history not newest-first")
	}

	data, ok := s.LatestBackupBytes("f.txt")
	if !ok || string(data) != "v2" {
		t.Errorf("LatestBackupBytes = %q, %v, want v2", data, ok)
	}

	if got := s.FileHistory("missing.txt"); len(got) != 0 {
		t.Errorf("history for unknown path = %d entries", len(got))
	}
}

// TestOpen_CorruptIndexStartsEmpty verifies index corruption is a soft
// failure.
func TestOpen_CorruptIndexStartsEmpty(t *testing.T) {
	v, err := vault.New(t.TempDir())
	if err != nil {
		t.Fatalf("vault.New() failed: %v", err)
	}
	if err := v.Ensure(); err != nil {
		t.Fatalf("Ensure() failed: %v", err)
	}
	if err := os.WriteFile(v.IndexPath(), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("writing corrupt index: %v", err)
	}

	s, err := Open(v, exclude.New(nil), testLogger())
	if err != nil {
		t.Fatalf("Open() should tolerate corruption, got %v", err)
	}
	if got := len(s.Snapshots()); got != 0 {
		t.Errorf("snapshots = %d, want 0", got)
	}

	// The store must still be able to persist new snapshots.
	snap, err := s.CreateSnapshot([]PendingChange{
		{Path: "f.txt", Kind: event.Change, PreBytes: []byte("v")},
	}, "")
	if err != nil || snap == nil {
		t.Fatalf("CreateSnapshot() after corruption = %v, %v", snap, err)
	}
}

// TestOpen_ReloadsPersistedIndex verifies a round trip through index.json.
func TestOpen_ReloadsPersistedIndex(t *testing.T) {
	v, err := vault.New(t.TempDir())
	if err != nil {
		t.Fatalf("vault.New() failed: %v", err)
	}

	s1, err := Open(v, exclude.New(nil), testLogger())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	snap, err := s1.CreateSnapshot([]PendingChange{
		{Path: "a/b.txt", Kind: event.Change, PreBytes: []byte("v1")},
	}, "before refactor")
	if err != nil || snap == nil {
		t.Fatalf("CreateSnapshot() = %v, %v", snap, err)
	}

	s2, err := Open(v, exclude.New(nil), testLogger())
	if err != nil {
		t.Fatalf("second Open() failed: %v", err)
	}
	got, ok := s2.Find(snap.ID)
	if !ok {
		t.Fatal("persisted snapshot not found after reload")
	}
	if got.Message != "before refactor" {
		t.Errorf("Message = %q", got.Message)
	}

	// Spot-check the wire format names.
	raw, err := os.ReadFile(v.IndexPath())
	if err != nil {
		t.Fatalf("reading index: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("index is not valid JSON: %v", err)
	}
	if decoded["version"] != float64(IndexVersion) {
		t.Errorf("version = %v", decoded["version"])
	}
}

// TestStats aggregates counts across snapshots.
func TestStats(t *testing.T) {
	s, _ := openTestStore(t, nil)
	for _, p := range []string{"a.txt", "b.txt", "a.txt"} {
		if _, err := s.CreateSnapshot([]PendingChange{
			{Path: p, Kind: event.Change, PreBytes: []byte("xy")},
		}, ""); err != nil {
			t.Fatalf("CreateSnapshot() failed: %v", err)
		}
	}

	st := s.Stats()
	if st.Snapshots != 3 || st.TotalFiles != 3 || st.UniqueFiles != 2 {
		t.Errorf("stats = %+v", st)
	}
	if st.TotalBytes != 6 {
		t.Errorf("TotalBytes = %d, want 6", st.TotalBytes)
	}
}
