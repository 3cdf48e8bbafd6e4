package cloud

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"mdsync/internal/mdsync"
)

type memoryEntry struct {
	file   mdsync.RemoteFile
	parent string
	folder bool
	data   []byte
}

// MemoryBackend is an in-memory implementation of mdsync.CloudBackend.
// Modification times come from the clock, so tests control ordering.
// This implementation is safe for concurrent use.
type MemoryBackend struct {
	clock   mdsync.Clock
	entries map[string]*memoryEntry // id -> entry
	nextID  int
	mu      sync.RWMutex
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend(clock mdsync.Clock) *MemoryBackend {
	if clock == nil {
		clock = mdsync.RealClock{}
	}
	return &MemoryBackend{clock: clock, entries: make(map[string]*memoryEntry)}
}

func (m *MemoryBackend) newIDLocked() string {
	m.nextID++
	return "mem-" + strconv.Itoa(m.nextID)
}

func (m *MemoryBackend) fileLocked(id string) (*memoryEntry, error) {
	e, ok := m.entries[id]
	if !ok || e.folder {
		return nil, &mdsync.RemoteError{Kind: mdsync.RemoteNotFound, StatusCode: 404, Message: fmt.Sprintf("file not found: %s", id)}
	}
	return e, nil
}

// FindOrCreateFolder returns the folder called name under parentID,
// creating it when missing.
func (m *MemoryBackend) FindOrCreateFolder(_ context.Context, name, parentID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.entries {
		if e.folder && e.parent == parentID && e.file.Name == name {
			return id, nil
		}
	}
	id := m.newIDLocked()
	m.entries[id] = &memoryEntry{
		file:   mdsync.RemoteFile{ID: id, Name: name, ModifiedTime: m.clock.Now()},
		parent: parentID,
		folder: true,
	}
	return id, nil
}

// FindFile returns the newest file called name, restricted to folderID
// when it is set.
func (m *MemoryBackend) FindFile(_ context.Context, name, folderID string) (*mdsync.RemoteFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *mdsync.RemoteFile
	for _, e := range m.entries {
		if e.folder || e.file.Name != name {
			continue
		}
		if folderID != "" && e.parent != folderID {
			continue
		}
		if best == nil || e.file.ModifiedTime.After(best.ModifiedTime) {
			f := e.file
			best = &f
		}
	}
	return best, nil
}

func (m *MemoryBackend) FileStatus(_ context.Context, id string) (*mdsync.RemoteFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, err := m.fileLocked(id)
	if err != nil {
		return nil, err
	}
	f := e.file
	return &f, nil
}

func (m *MemoryBackend) Download(_ context.Context, id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, err := m.fileLocked(id)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), e.data...), nil
}

func (m *MemoryBackend) Create(_ context.Context, name, folderID string, data []byte) (*mdsync.RemoteFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.newIDLocked()
	e := &memoryEntry{
		file:   mdsync.RemoteFile{ID: id, Name: name, ModifiedTime: m.clock.Now(), Size: int64(len(data))},
		parent: folderID,
		data:   append([]byte(nil), data...),
	}
	m.entries[id] = e
	f := e.file
	return &f, nil
}

func (m *MemoryBackend) Update(_ context.Context, id string, data []byte) (*mdsync.RemoteFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.fileLocked(id)
	if err != nil {
		return nil, err
	}
	e.data = append([]byte(nil), data...)
	e.file.Size = int64(len(data))
	e.file.ModifiedTime = m.clock.Now()
	f := e.file
	return &f, nil
}

func (m *MemoryBackend) Copy(_ context.Context, id, name, folderID string) (*mdsync.RemoteFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, err := m.fileLocked(id)
	if err != nil {
		return nil, err
	}
	newID := m.newIDLocked()
	e := &memoryEntry{
		file:   mdsync.RemoteFile{ID: newID, Name: name, ModifiedTime: m.clock.Now(), Size: src.file.Size},
		parent: folderID,
		data:   append([]byte(nil), src.data...),
	}
	m.entries[newID] = e
	f := e.file
	return &f, nil
}

// List returns files in folderID whose names start with prefix, ordered by
// name descending.
func (m *MemoryBackend) List(_ context.Context, folderID, prefix string) ([]mdsync.RemoteFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []mdsync.RemoteFile
	for _, e := range m.entries {
		if !e.folder && e.parent == folderID && strings.HasPrefix(e.file.Name, prefix) {
			out = append(out, e.file)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name > out[j].Name })
	return out, nil
}

func (m *MemoryBackend) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[id]; !ok {
		return &mdsync.RemoteError{Kind: mdsync.RemoteNotFound, StatusCode: 404, Message: fmt.Sprintf("file not found: %s", id)}
	}
	delete(m.entries, id)
	return nil
}

// Touch rewrites a file as another client would, bumping its modification
// time to the clock's current value.
func (m *MemoryBackend) Touch(id string, data []byte) error {
	_, err := m.Update(context.Background(), id, data)
	return err
}

var _ mdsync.CloudBackend = (*MemoryBackend)(nil)
