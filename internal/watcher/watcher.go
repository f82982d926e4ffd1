// Package watcher turns raw filesystem notifications into reconciled file
// events and flushes them to the snapshot store in batches.
//
// One goroutine owns all detector state. fsnotify events, debounce expiries,
// rename grace expiries and the batch timer are all delivered into a single
// select loop, so per-path state machines run without locks:
//
//	idle -> debouncing -> flushed            (content changes)
//	idle -> pending-deletion -> renamed      (disappearance paired with an
//	                          \-> deleted     appearance, or grace expiry)
package watcher

import (
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/agentshield/shield/internal/exclude"
	"github.com/agentshield/shield/internal/store"
	"github.com/agentshield/shield/internal/vault"
)

// Config holds the watcher's timing knobs and log sink.
type Config struct {
	// DebounceWindow is how long a path must stay quiet after a content
	// notification before its change is considered settled. Editors and
	// agents write in bursts; only the state before the whole burst is
	// preserved.
	DebounceWindow time.Duration

	// RenameGrace is how long a disappearance waits for a matching
	// appearance before it is declared a genuine delete.
	RenameGrace time.Duration

	// BatchWindow is how long after the last pending change a burst is
	// turned into one snapshot.
	BatchWindow time.Duration

	// Logger receives human-readable progress lines.
	Logger *log.Logger
}

// DefaultConfig returns the production timing defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceWindow: 1000 * time.Millisecond,
		RenameGrace:    500 * time.Millisecond,
		BatchWindow:    2000 * time.Millisecond,
		Logger:         log.New(os.Stderr, "[shield] ", log.LstdFlags),
	}
}

// trackedFile is the cached pre-event state of one live file.
type trackedFile struct {
	bytes      []byte
	observedAt time.Time
}

// pendingDeletion is a disappearance waiting out the rename grace window.
type pendingDeletion struct {
	path     string // workspace-relative
	preBytes []byte
	since    time.Time
}

// timer expiry kinds delivered into the event loop.
type timerKind int

const (
	timerDebounce timerKind = iota
	timerDeleteGrace
	timerBatch
)

type timerMsg struct {
	kind timerKind
	path string
	// seq pins the message to the timer arming that produced it. A timer can
	// fire and queue its message in the same instant a raw event re-arms the
	// path; the stale message must not settle the fresh state.
	seq uint64
}

// Watcher is the change detector and rename reconciler for one workspace.
type Watcher struct {
	vault   *vault.Vault
	store   *store.Store
	matcher *exclude.Matcher
	config  *Config
	fsw     *fsnotify.Watcher

	// State below is owned by the event loop goroutine.
	tracked     map[string]trackedFile
	debouncing  map[string]*time.Timer
	debounceSeq map[string]uint64
	pendingDels []pendingDeletion
	graceTimers map[string]*time.Timer
	graceSeq    map[string]uint64
	pending     map[string]store.PendingChange
	batchTimer  *time.Timer

	timerC chan timerMsg
	done   chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// New creates a Watcher. Start must be called before events are processed.
func New(v *vault.Vault, s *store.Store, matcher *exclude.Matcher, config *Config) (*Watcher, error) {
	if config == nil {
		config = DefaultConfig()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	return &Watcher{
		vault:       v,
		store:       s,
		matcher:     matcher,
		config:      config,
		fsw:         fsw,
		tracked:     make(map[string]trackedFile),
		debouncing:  make(map[string]*time.Timer),
		debounceSeq: make(map[string]uint64),
		graceTimers: make(map[string]*time.Timer),
		graceSeq:    make(map[string]uint64),
		pending:     make(map[string]store.PendingChange),
		timerC:      make(chan timerMsg, 128),
		done:        make(chan struct{}),
	}, nil
}

// Start walks the workspace once to seed the tracked-state cache and the
// recursive watch, then begins processing notifications.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("watcher already running")
	}

	if err := w.vault.Ensure(); err != nil {
		return err
	}
	if err := w.seed(); err != nil {
		return err
	}

	w.running = true
	w.wg.Add(1)
	go w.loop()

	w.config.Logger.Printf("watching %s (%d files tracked)", w.vault.Root(), len(w.tracked))
	return nil
}

// Stop shuts the watcher down and flushes any still-pending changes into a
// final snapshot.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)
	if err := w.fsw.Close(); err != nil {
		w.config.Logger.Printf("closing fsnotify watcher: %v", err)
	}
	w.wg.Wait()

	// The loop has exited; its state is safe to touch from here.
	w.stopTimers()
	w.flush()
	return nil
}

// IsRunning reports whether the watcher is active.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// seed walks the tree, adding directory watches and caching every file's
// current bytes so the first change to a pre-existing file has a correct
// "before" state.
func (w *Watcher) seed() error {
	root := w.vault.Root()
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if path == w.vault.Dir() {
			return filepath.SkipDir
		}
		rel, rerr := w.vault.Rel(path)
		if rerr != nil {
			return nil
		}
		if rel != "." && w.matcher.Excluded(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if werr := w.fsw.Add(path); werr != nil {
				w.config.Logger.Printf("cannot watch %s: %v", path, werr)
			}
			return nil
		}
		if data, rerr := os.ReadFile(path); rerr == nil {
			w.tracked[rel] = trackedFile{bytes: data, observedAt: time.Now()}
		}
		return nil
	})
}

// loop is the single-threaded event loop owning all detector state.
func (w *Watcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleRaw(ev)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.config.Logger.Printf("watch error: %v", err)

		case msg := <-w.timerC:
			w.handleTimer(msg)
		}
	}
}

// handleRaw classifies one raw fsnotify notification.
func (w *Watcher) handleRaw(ev fsnotify.Event) {
	abs := ev.Name
	if abs == w.vault.Dir() || strings.HasPrefix(abs, w.vault.Dir()+string(os.PathSeparator)) {
		return
	}
	rel, err := w.vault.Rel(abs)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return
	}
	if w.matcher.Excluded(rel) {
		return
	}
	// The detector must not record the restore engine's own writes.
	if w.vault.RestoreLocked() {
		return
	}

	info, statErr := os.Stat(abs)
	if statErr != nil {
		// Gone from disk: one half of a rename, or a true delete.
		w.noteDisappearance(rel)
		return
	}

	if info.IsDir() {
		if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
			w.watchNewTree(abs)
		}
		return
	}

	if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
		w.noteAppearance(rel)
		return
	}
	if ev.Has(fsnotify.Write) {
		w.restartDebounce(rel)
	}
	// Chmod-only notifications are ignored.
}

// watchNewTree adds watches for a directory that appeared after startup and
// routes the files already inside it as appearances.
func (w *Watcher) watchNewTree(dir string) {
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, rerr := w.vault.Rel(path)
		if rerr != nil || w.matcher.Excluded(rel) {
			if d.IsDir() && rerr == nil {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if werr := w.fsw.Add(path); werr != nil {
				w.config.Logger.Printf("cannot watch %s: %v", path, werr)
			}
			return nil
		}
		w.noteAppearance(rel)
		return nil
	})
}

// stopTimers cancels every outstanding timer. Called after the loop exits.
func (w *Watcher) stopTimers() {
	for _, t := range w.debouncing {
		t.Stop()
	}
	w.debouncing = make(map[string]*time.Timer)
	for _, t := range w.graceTimers {
		t.Stop()
	}
	w.graceTimers = make(map[string]*time.Timer)
	if w.batchTimer != nil {
		w.batchTimer.Stop()
		w.batchTimer = nil
	}
}

// sendTimer delivers a timer expiry into the event loop. AfterFunc callbacks
// run on their own goroutines; the channel hop keeps state single-threaded.
func (w *Watcher) sendTimer(msg timerMsg) {
	select {
	case w.timerC <- msg:
	case <-w.done:
	}
}
