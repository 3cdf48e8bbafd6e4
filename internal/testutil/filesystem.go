package testutil

import (
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"mdsync/internal/mdsync"
)

// memNode is a file or directory in a MemDir tree.
type memNode struct {
	name     string
	isDir    bool
	content  []byte
	modTime  time.Time
	children map[string]*memNode
}

// memTree is shared by every handle derived from one root.
type memTree struct {
	mu         sync.RWMutex
	clock      mdsync.Clock
	permission mdsync.PermissionState
	requested  mdsync.PermissionState // state RequestPermission switches to
	writes     int
}

// MemDir is an in-memory DirHandle for tests. Handles derived from the same
// root share one tree and one permission state.
type MemDir struct {
	tree    *memTree
	node    *memNode
	locator string
}

var _ mdsync.DirHandle = (*MemDir)(nil)

// NewMemDir creates an empty granted directory named name.
// ModTimes come from clock, or the wall clock when clock is nil.
func NewMemDir(name string, clock mdsync.Clock) *MemDir {
	if clock == nil {
		clock = mdsync.RealClock{}
	}
	tree := &memTree{
		clock:      clock,
		permission: mdsync.PermissionGranted,
		requested:  mdsync.PermissionGranted,
	}
	root := &memNode{name: name, isDir: true, modTime: clock.Now(), children: map[string]*memNode{}}
	return &MemDir{tree: tree, node: root, locator: "mem://" + name}
}

// SetPermission changes what QueryPermission reports.
func (d *MemDir) SetPermission(state mdsync.PermissionState) {
	d.tree.mu.Lock()
	defer d.tree.mu.Unlock()
	d.tree.permission = state
}

// SetRequestResult changes what RequestPermission grants.
func (d *MemDir) SetRequestResult(state mdsync.PermissionState) {
	d.tree.mu.Lock()
	defer d.tree.mu.Unlock()
	d.tree.requested = state
}

// WriteCount returns how many file writes went through this tree.
func (d *MemDir) WriteCount() int {
	d.tree.mu.RLock()
	defer d.tree.mu.RUnlock()
	return d.tree.writes
}

// AddFile creates a file at a slash-separated path, creating parents.
func (d *MemDir) AddFile(p string, content string) {
	d.tree.mu.Lock()
	defer d.tree.mu.Unlock()

	parts := strings.Split(strings.Trim(p, "/"), "/")
	dir := d.node
	for _, part := range parts[:len(parts)-1] {
		dir = d.ensureDirLocked(dir, part)
	}
	name := parts[len(parts)-1]
	dir.children[name] = &memNode{name: name, content: []byte(content), modTime: d.tree.clock.Now()}
}

// AddDirectory creates a directory at a slash-separated path.
func (d *MemDir) AddDirectory(p string) {
	d.tree.mu.Lock()
	defer d.tree.mu.Unlock()

	dir := d.node
	for _, part := range strings.Split(strings.Trim(p, "/"), "/") {
		dir = d.ensureDirLocked(dir, part)
	}
}

// SetModTime overrides a file's modification time.
func (d *MemDir) SetModTime(p string, t time.Time) error {
	d.tree.mu.Lock()
	defer d.tree.mu.Unlock()

	n := d.lookupLocked(p)
	if n == nil {
		return &fs.PathError{Op: "chtimes", Path: p, Err: mdsync.ErrNotFound}
	}
	n.modTime = t
	return nil
}

// ReadFile returns a file's content by slash-separated path.
func (d *MemDir) ReadFile(p string) (string, bool) {
	d.tree.mu.RLock()
	defer d.tree.mu.RUnlock()

	n := d.lookupLocked(p)
	if n == nil || n.isDir {
		return "", false
	}
	return string(n.content), true
}

// Exists reports whether a file or directory exists at p.
func (d *MemDir) Exists(p string) bool {
	d.tree.mu.RLock()
	defer d.tree.mu.RUnlock()
	return d.lookupLocked(p) != nil
}

func (d *MemDir) ensureDirLocked(parent *memNode, name string) *memNode {
	child, ok := parent.children[name]
	if !ok || !child.isDir {
		child = &memNode{name: name, isDir: true, modTime: d.tree.clock.Now(), children: map[string]*memNode{}}
		parent.children[name] = child
	}
	return child
}

func (d *MemDir) lookupLocked(p string) *memNode {
	n := d.node
	for _, part := range strings.Split(strings.Trim(p, "/"), "/") {
		if part == "" {
			continue
		}
		if !n.isDir {
			return nil
		}
		child, ok := n.children[part]
		if !ok {
			return nil
		}
		n = child
	}
	return n
}

func (d *MemDir) Name() string    { return d.node.name }
func (d *MemDir) Locator() string { return d.locator }

func (d *MemDir) QueryPermission() (mdsync.PermissionState, error) {
	d.tree.mu.RLock()
	defer d.tree.mu.RUnlock()
	return d.tree.permission, nil
}

func (d *MemDir) RequestPermission() (mdsync.PermissionState, error) {
	d.tree.mu.Lock()
	defer d.tree.mu.Unlock()
	d.tree.permission = d.tree.requested
	return d.tree.permission, nil
}

func (d *MemDir) checkAccessLocked(op, name string) error {
	if d.tree.permission != mdsync.PermissionGranted {
		return &fs.PathError{Op: op, Path: path.Join(d.locator, name), Err: mdsync.ErrPermissionDenied}
	}
	return nil
}

func (d *MemDir) Dir(name string, create bool) (mdsync.DirHandle, error) {
	d.tree.mu.Lock()
	defer d.tree.mu.Unlock()

	if err := d.checkAccessLocked("opendir", name); err != nil {
		return nil, err
	}
	child, ok := d.node.children[name]
	switch {
	case ok && child.isDir:
	case !ok && create:
		child = d.ensureDirLocked(d.node, name)
	default:
		return nil, &fs.PathError{Op: "opendir", Path: name, Err: mdsync.ErrNotFound}
	}
	return &MemDir{tree: d.tree, node: child, locator: path.Join(d.locator, name)}, nil
}

func (d *MemDir) File(name string, create bool) (mdsync.FileHandle, error) {
	d.tree.mu.Lock()
	defer d.tree.mu.Unlock()

	if err := d.checkAccessLocked("open", name); err != nil {
		return nil, err
	}
	child, ok := d.node.children[name]
	switch {
	case ok && !child.isDir:
	case !ok && create:
		child = &memNode{name: name, modTime: d.tree.clock.Now()}
		d.node.children[name] = child
	default:
		return nil, &fs.PathError{Op: "open", Path: name, Err: mdsync.ErrNotFound}
	}
	return &memFile{tree: d.tree, node: child}, nil
}

func (d *MemDir) Entries() ([]mdsync.DirEntry, error) {
	d.tree.mu.RLock()
	defer d.tree.mu.RUnlock()

	if err := d.checkAccessLocked("readdir", ""); err != nil {
		return nil, err
	}
	entries := make([]mdsync.DirEntry, 0, len(d.node.children))
	for name, child := range d.node.children {
		kind := mdsync.KindFile
		if child.isDir {
			kind = mdsync.KindDirectory
		}
		entries = append(entries, mdsync.DirEntry{Name: name, Kind: kind})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (d *MemDir) RemoveEntry(name string, recursive bool) error {
	d.tree.mu.Lock()
	defer d.tree.mu.Unlock()

	if err := d.checkAccessLocked("remove", name); err != nil {
		return err
	}
	child, ok := d.node.children[name]
	if !ok {
		return &fs.PathError{Op: "remove", Path: name, Err: mdsync.ErrNotFound}
	}
	if child.isDir && len(child.children) > 0 && !recursive {
		return fmt.Errorf("directory not empty: %s", name)
	}
	delete(d.node.children, name)
	return nil
}

type memFile struct {
	tree *memTree
	node *memNode
}

func (f *memFile) Name() string { return f.node.name }

func (f *memFile) Read() ([]byte, error) {
	f.tree.mu.RLock()
	defer f.tree.mu.RUnlock()
	return append([]byte(nil), f.node.content...), nil
}

func (f *memFile) Write(data []byte) error {
	f.tree.mu.Lock()
	defer f.tree.mu.Unlock()
	f.node.content = append([]byte(nil), data...)
	f.node.modTime = f.tree.clock.Now()
	f.tree.writes++
	return nil
}

func (f *memFile) Stat() (mdsync.FileInfo, error) {
	f.tree.mu.RLock()
	defer f.tree.mu.RUnlock()
	return mdsync.FileInfo{Name: f.node.name, Size: int64(len(f.node.content)), ModTime: f.node.modTime}, nil
}

// MemOpener reopens MemDirs by locator, standing in for a persisted handle
// store's OS opener.
type MemOpener struct {
	mu   sync.Mutex
	dirs map[string]*MemDir
}

var _ mdsync.HandleOpener = (*MemOpener)(nil)

func NewMemOpener(dirs ...*MemDir) *MemOpener {
	o := &MemOpener{dirs: map[string]*MemDir{}}
	for _, d := range dirs {
		o.dirs[d.Locator()] = d
	}
	return o
}

func (o *MemOpener) Add(d *MemDir) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dirs[d.Locator()] = d
}

func (o *MemOpener) Open(locator string) (mdsync.DirHandle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	d, ok := o.dirs[locator]
	if !ok {
		return nil, fmt.Errorf("unknown locator %s: %w", locator, mdsync.ErrNotFound)
	}
	return d, nil
}
