package binding

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"mdsync/internal/mdsync"
)

// Change is an external modification of a bound file.
type Change struct {
	TabID    string
	Location Location
	ModTime  time.Time
}

// RootFunc returns the OS directory of a vault, or false for vaults that
// are not on the local filesystem.
type RootFunc func(vaultID string) (string, bool)

// Watcher turns filesystem notifications for bound files into Changes.
// Only directories that contain a bound file are watched; call Sync after
// the bindings change.
type Watcher struct {
	binder *Binder
	roots  RootFunc
	logger mdsync.Logger
	fsw    *fsnotify.Watcher
	events chan Change

	mu       sync.Mutex
	dirs     map[string]bool
	files    map[string]string // OS path -> tab id
	reported map[string]time.Time
}

func NewWatcher(binder *Binder, roots RootFunc, logger mdsync.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	return &Watcher{
		binder:   binder,
		roots:    roots,
		logger:   logger,
		fsw:      fsw,
		events:   make(chan Change, 16),
		dirs:     make(map[string]bool),
		files:    make(map[string]string),
		reported: make(map[string]time.Time),
	}, nil
}

// Events delivers detected changes.
func (w *Watcher) Events() <-chan Change { return w.events }

// Sync aligns the watched directories with the current bindings.
func (w *Watcher) Sync() error {
	files := make(map[string]string)
	dirs := make(map[string]bool)
	for tabID, loc := range w.binder.Bindings() {
		root, ok := w.roots(loc.VaultID)
		if !ok {
			continue
		}
		p := filepath.Join(root, filepath.FromSlash(loc.Path))
		files[p] = tabID
		dirs[filepath.Dir(p)] = true
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for d := range w.dirs {
		if !dirs[d] {
			if err := w.fsw.Remove(d); err != nil {
				w.logger.Debug("unwatching directory failed", "dir", d, "error", err)
			}
		}
	}
	for d := range dirs {
		if !w.dirs[d] {
			if err := w.fsw.Add(d); err != nil {
				return fmt.Errorf("watching %s: %w", d, err)
			}
		}
	}
	w.dirs = dirs
	w.files = files
	return nil
}

// Run processes notifications until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Chmod) {
				continue
			}
			if c, ok := w.check(ev.Name); ok {
				select {
				case w.events <- c:
				case <-ctx.Done():
					return nil
				}
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("file watcher error", "error", err)
		}
	}
}

// check asks the binder whether the file behind an event really changed.
// Each disk modification time is reported once.
func (w *Watcher) check(name string) (Change, bool) {
	w.mu.Lock()
	tabID, ok := w.files[filepath.Clean(name)]
	w.mu.Unlock()
	if !ok {
		return Change{}, false
	}

	changed, diskTime, err := w.binder.CheckExternalChange(tabID)
	if err != nil {
		w.logger.Debug("checking external change failed", "tab", tabID, "error", err)
		return Change{}, false
	}
	if !changed {
		return Change{}, false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if last, seen := w.reported[tabID]; seen && last.Equal(diskTime) {
		return Change{}, false
	}
	w.reported[tabID] = diskTime
	loc, _ := w.binder.Binding(tabID)
	w.logger.Info("file changed on disk", "tab", tabID, "file", loc.String())
	return Change{TabID: tabID, Location: loc, ModTime: diskTime}, true
}

func (w *Watcher) Close() error {
	return w.fsw.Close()
}
