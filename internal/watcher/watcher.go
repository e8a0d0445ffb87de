package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/gur-shatz/go-integrity/internal/log"
	"github.com/gur-shatz/go-integrity/internal/verify"
)

const refreshInterval = 60 * time.Second

// fileStat holds the cached stat info for a file, used to skip
// re-hashing files whose mtime and size haven't changed.
type fileStat struct {
	modTime time.Time
	size    int64
}

// OnChangeFunc is called with the entries whose status changed, sorted by
// path, and the status each had before the change.
type OnChangeFunc func(changed []verify.Result, previous map[string]verify.Status)

// Watcher re-verifies manifest entries when their files change on disk.
// It never rewrites the manifest.
type Watcher struct {
	entries      map[string]string // manifest path -> stored digest
	algorithm    string
	pollInterval time.Duration
	debounce     time.Duration
	onChange     OnChangeFunc
	log          *log.Logger

	byClean     map[string]string // filepath.Clean(path) -> manifest path
	current     map[string]verify.Result
	statCache   map[string]fileStat
	trackedDirs map[string]bool
	fsw         *fsnotify.Watcher
	dirty       bool

	pending     map[string]verify.Result
	pendingFrom map[string]verify.Status
}

// New creates a new Watcher for the given manifest entries.
func New(entries map[string]string, algorithm string, pollInterval, debounce time.Duration, onChange OnChangeFunc, logger *log.Logger) *Watcher {
	byClean := make(map[string]string, len(entries))
	for p := range entries {
		byClean[filepath.Clean(p)] = p
	}
	return &Watcher{
		entries:      entries,
		algorithm:    algorithm,
		pollInterval: pollInterval,
		debounce:     debounce,
		onChange:     onChange,
		log:          logger,
		byClean:      byClean,
		current:      make(map[string]verify.Result, len(entries)),
		statCache:    make(map[string]fileStat, len(entries)),
	}
}

// SetCurrent seeds the watcher with the initial verification and populates
// the stat cache so the first tick can skip unchanged files.
func (this *Watcher) SetCurrent(report *verify.Report) {
	for _, r := range report.Results {
		this.current[r.Path] = r
		if info, err := os.Stat(r.Path); err == nil {
			this.statCache[r.Path] = fileStat{modTime: info.ModTime(), size: info.Size()}
		}
	}
}

// Run starts the watch loop. Blocks until the context is cancelled.
func (this *Watcher) Run(ctx context.Context) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		this.log.Error("fsnotify init failed: %v, falling back to polling", err)
		this.runPollOnly(ctx)
		return
	}
	this.fsw = fsw
	defer this.fsw.Close()

	this.syncWatches()
	this.log.Verbose("Watching %d directories via fsnotify", len(this.trackedDirs))

	pollTicker := time.NewTicker(this.pollInterval)
	defer pollTicker.Stop()

	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()

	var debounceTimer *time.Timer
	var debounceC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-this.fsw.Events:
			if !ok {
				return
			}
			if event.Op == fsnotify.Chmod {
				continue
			}
			if _, tracked := this.byClean[filepath.Clean(event.Name)]; tracked {
				this.dirty = true
			}

		case _, ok := <-this.fsw.Errors:
			if !ok {
				return
			}
			// On any fsnotify error (including overflow), force a scan
			this.dirty = true

		case <-pollTicker.C:
			if !this.dirty {
				continue
			}
			this.dirty = false
			if this.scan(ctx) {
				debounceTimer, debounceC = this.resetDebounce(debounceTimer)
			}

		case <-debounceC:
			debounceTimer, debounceC = nil, nil
			this.flush()

		case <-refreshTicker.C:
			this.syncWatches()
			this.log.Verbose("Refreshed watches: %d directories", len(this.trackedDirs))
			this.dirty = true
		}
	}
}

// runPollOnly is the fallback when fsnotify is unavailable.
func (this *Watcher) runPollOnly(ctx context.Context) {
	ticker := time.NewTicker(this.pollInterval)
	defer ticker.Stop()

	var debounceTimer *time.Timer
	var debounceC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case <-ticker.C:
			if this.scan(ctx) {
				debounceTimer, debounceC = this.resetDebounce(debounceTimer)
			}

		case <-debounceC:
			debounceTimer, debounceC = nil, nil
			this.flush()
		}
	}
}

func (this *Watcher) resetDebounce(t *time.Timer) (*time.Timer, <-chan time.Time) {
	if t != nil {
		t.Stop()
	}
	t = time.NewTimer(this.debounce)
	return t, t.C
}

// syncWatches adds an fsnotify watch for the parent directory of every
// entry. Directories that do not exist yet are retried on refresh.
func (this *Watcher) syncWatches() {
	dirs := make(map[string]bool)
	for clean := range this.byClean {
		dirs[filepath.Dir(clean)] = true
	}

	if this.trackedDirs == nil {
		this.trackedDirs = make(map[string]bool)
	}
	for dir := range dirs {
		if this.trackedDirs[dir] {
			continue
		}
		if err := this.fsw.Add(dir); err != nil {
			this.log.Verbose("watch %s: %v", dir, err)
			continue
		}
		this.trackedDirs[dir] = true
	}
}

// scan re-verifies every entry, using stat to skip unchanged files, and
// records status transitions as pending. Returns true if any were found.
func (this *Watcher) scan(ctx context.Context) bool {
	found := false
	for path, stored := range this.entries {
		if ctx.Err() != nil {
			return found
		}

		prev, seen := this.current[path]
		var r verify.Result

		info, err := os.Stat(path)
		if err == nil {
			st := fileStat{modTime: info.ModTime(), size: info.Size()}
			cached, ok := this.statCache[path]
			this.statCache[path] = st
			if ok && cached == st && seen && (prev.Status == verify.Intact || prev.Status == verify.Changed) {
				continue
			}
			r = verify.Check(path, stored, this.algorithm)
		} else {
			delete(this.statCache, path)
			r = verify.Check(path, stored, this.algorithm)
		}

		this.current[path] = r
		if seen && prev.Status == r.Status {
			continue
		}
		if this.pending == nil {
			this.pending = make(map[string]verify.Result)
			this.pendingFrom = make(map[string]verify.Status)
		}
		if _, already := this.pendingFrom[path]; !already && seen {
			this.pendingFrom[path] = prev.Status
		}
		this.pending[path] = r
		found = true
	}
	return found
}

// flush delivers merged pending transitions, dropping entries that ended
// up back in their original status.
func (this *Watcher) flush() {
	var changed []verify.Result
	previous := make(map[string]verify.Status, len(this.pendingFrom))
	for path, r := range this.pending {
		from, ok := this.pendingFrom[path]
		if ok && from == r.Status {
			continue
		}
		if ok {
			previous[path] = from
		}
		changed = append(changed, r)
	}
	this.pending = nil
	this.pendingFrom = nil

	if len(changed) == 0 {
		return
	}
	sort.Slice(changed, func(i, j int) bool {
		return changed[i].Path < changed[j].Path
	})
	this.onChange(changed, previous)
}
