package watcher

import (
	"bytes"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/agentshield/shield/internal/event"
	"github.com/agentshield/shield/internal/store"
)

// restartDebounce (re)arms the per-path debounce timer. Only the quiet
// period after the *last* notification of a burst produces a change.
func (w *Watcher) restartDebounce(rel string) {
	if t, ok := w.debouncing[rel]; ok {
		t.Stop()
	}
	w.debounceSeq[rel]++
	seq := w.debounceSeq[rel]
	w.debouncing[rel] = time.AfterFunc(w.config.DebounceWindow, func() {
		w.sendTimer(timerMsg{kind: timerDebounce, path: rel, seq: seq})
	})
}

// noteDisappearance records a path that vanished from disk as a pending
// deletion and starts its rename grace window. The last known bytes come
// from the tracked-state cache, or failing that from the most recent backup
// blob for the path.
func (w *Watcher) noteDisappearance(rel string) {
	// A burst that ends in deletion has no change to record.
	if t, ok := w.debouncing[rel]; ok {
		t.Stop()
		delete(w.debouncing, rel)
	}

	for _, pd := range w.pendingDels {
		if pd.path == rel {
			return // already waiting out the grace window
		}
	}

	var pre []byte
	if tf, ok := w.tracked[rel]; ok {
		pre = tf.bytes
	} else if data, ok := w.store.LatestBackupBytes(rel); ok {
		pre = data
	} else {
		// No content of its own: a directory, or a file we never saw. A
		// renamed or deleted directory surfaces only as its own
		// disappearance (its children move without events), so sweep the
		// children we were tracking under it into their own
		// reconciliation; each pairs with an appearance under the new
		// name or settles as a delete.
		w.sweepVanishedChildren(rel)
		return
	}
	delete(w.tracked, rel)

	w.pendingDels = append(w.pendingDels, pendingDeletion{path: rel, preBytes: pre, since: time.Now()})
	w.graceSeq[rel]++
	seq := w.graceSeq[rel]
	w.graceTimers[rel] = time.AfterFunc(w.config.RenameGrace, func() {
		w.sendTimer(timerMsg{kind: timerDeleteGrace, path: rel, seq: seq})
	})
}

// sweepVanishedChildren routes every tracked path under a vanished
// directory through disappearance handling, in sorted order so pairing with
// the new tree's walk order lines up for plain directory renames.
func (w *Watcher) sweepVanishedChildren(dir string) {
	prefix := dir + "/"
	var children []string
	for p := range w.tracked {
		if strings.HasPrefix(p, prefix) {
			children = append(children, p)
		}
	}
	sort.Strings(children)
	for _, child := range children {
		w.noteDisappearance(child)
	}
}

// noteAppearance handles a path that exists on disk after a create or
// rename-class notification.
func (w *Watcher) noteAppearance(rel string) {
	// A reappearance of a path we just saw vanish is a content change in
	// disguise (delete + recreate), not a rename.
	for i, pd := range w.pendingDels {
		if pd.path == rel {
			w.clearPendingDeletion(i)
			w.tracked[rel] = trackedFile{bytes: pd.preBytes, observedAt: time.Now()}
			w.restartDebounce(rel)
			return
		}
	}

	// Pair with the oldest pending deletion of a different path. This is
	// a heuristic: in a burst of unrelated deletes and creates the first
	// match wins.
	if len(w.pendingDels) > 0 {
		pd := w.pendingDels[0]
		w.clearPendingDeletion(0)
		w.trackCurrent(rel)
		w.enqueue(store.PendingChange{
			Path:      pd.path,
			Kind:      event.Rename,
			PreBytes:  pd.preBytes,
			RenamedTo: rel,
		})
		return
	}

	if _, ok := w.tracked[rel]; ok {
		// Already tracked: some editors replace files on save, which
		// surfaces as create-class notifications. Route to debounce.
		w.restartDebounce(rel)
		return
	}

	// A genuinely new file. No prior content exists to preserve.
	w.trackCurrent(rel)
	w.enqueue(store.PendingChange{Path: rel, Kind: event.Create})
}

// handleTimer dispatches expirations delivered into the event loop.
func (w *Watcher) handleTimer(msg timerMsg) {
	switch msg.kind {
	case timerDebounce:
		w.settleChange(msg.path, msg.seq)
	case timerDeleteGrace:
		w.settleDeletion(msg.path, msg.seq)
	case timerBatch:
		w.flush()
	}
}

// settleChange fires when a path stayed quiet for the whole debounce
// window: the burst is over and exactly one change is recorded for it.
func (w *Watcher) settleChange(rel string, seq uint64) {
	if _, ok := w.debouncing[rel]; !ok {
		return // cancelled by a later disappearance
	}
	if w.debounceSeq[rel] != seq {
		return // superseded by a re-armed timer
	}
	delete(w.debouncing, rel)

	abs := w.vault.Abs(rel)
	data, err := os.ReadFile(abs)
	if err != nil {
		// Vanished between the timer firing and the read.
		w.noteDisappearance(rel)
		return
	}

	prev, wasTracked := w.tracked[rel]
	w.tracked[rel] = trackedFile{bytes: data, observedAt: time.Now()}

	if !wasTracked {
		w.enqueue(store.PendingChange{Path: rel, Kind: event.Create})
		return
	}
	if bytes.Equal(prev.bytes, data) {
		return // burst settled back to the original content
	}
	w.enqueue(store.PendingChange{Path: rel, Kind: event.Change, PreBytes: prev.bytes})
}

// settleDeletion fires when a disappearance outlived the rename grace
// window unpaired: it is a genuine delete.
func (w *Watcher) settleDeletion(rel string, seq uint64) {
	if w.graceSeq[rel] != seq {
		return // superseded by a newer disappearance of the same path
	}
	for i, pd := range w.pendingDels {
		if pd.path == rel {
			w.clearPendingDeletion(i)
			w.enqueue(store.PendingChange{Path: rel, Kind: event.Delete, PreBytes: pd.preBytes})
			return
		}
	}
}

// clearPendingDeletion drops entry i and cancels its grace timer.
func (w *Watcher) clearPendingDeletion(i int) {
	rel := w.pendingDels[i].path
	if t, ok := w.graceTimers[rel]; ok {
		t.Stop()
		delete(w.graceTimers, rel)
	}
	w.pendingDels = append(w.pendingDels[:i], w.pendingDels[i+1:]...)
}

// trackCurrent caches the on-disk bytes of a newly live path.
func (w *Watcher) trackCurrent(rel string) {
	data, err := os.ReadFile(w.vault.Abs(rel))
	if err != nil {
		return
	}
	w.tracked[rel] = trackedFile{bytes: data, observedAt: time.Now()}
}

// enqueue adds a reconciled change to the pending batch, deduplicated by
// path (latest wins), and restarts the batch window.
func (w *Watcher) enqueue(pc store.PendingChange) {
	w.pending[pc.Path] = pc
	w.config.Logger.Printf("%s: %s", pc.Kind, pc.Path)

	if w.batchTimer != nil {
		w.batchTimer.Stop()
	}
	w.batchTimer = time.AfterFunc(w.config.BatchWindow, func() {
		w.sendTimer(timerMsg{kind: timerBatch})
	})
}

// flush turns the pending batch into one snapshot. Consumed exactly once:
// the queue is cleared before the store runs the backups.
func (w *Watcher) flush() {
	if len(w.pending) == 0 {
		return
	}
	changes := make([]store.PendingChange, 0, len(w.pending))
	for _, pc := range w.pending {
		changes = append(changes, pc)
	}
	w.pending = make(map[string]store.PendingChange)

	snap, err := w.store.CreateSnapshot(changes, "")
	if err != nil {
		w.config.Logger.Printf("snapshot failed: %v", err)
		return
	}
	if snap == nil {
		return // everything in the batch was excluded
	}
	w.config.Logger.Printf("snapshot %s: %d file(s)", snap.ID, len(snap.Files))
}
