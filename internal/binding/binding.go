// Package binding ties editor tabs to files inside vaults.
//
// The bindings live beside the tab records rather than inside them: a tab
// id maps to a vault file and each vault file maps back to at most one tab.
package binding

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"mdsync/internal/fsadapter"
	"mdsync/internal/mdsync"
	"mdsync/internal/tabs"
)

// BindingsKey is where bindings are kept between runs.
const BindingsKey = "mdsync-tab-bindings"

// ExternalChangeTolerance absorbs clock and timestamp rounding skew when
// comparing a file's modification time to the last known one.
const ExternalChangeTolerance = 2 * time.Second

// Location names a file inside a vault.
type Location struct {
	VaultID string
	Path    string
}

func (l Location) String() string { return l.VaultID + ":" + l.Path }

// Vaults resolves a vault id to its storage adapter. *registry.Registry
// implements it.
type Vaults interface {
	Adapter(vaultID string) (*fsadapter.Adapter, error)
}

// TabStore is the part of *tabs.Store the binder drives.
type TabStore interface {
	Tab(id string) (tabs.Tab, bool)
	ActiveTab() (tabs.Tab, bool)
	SetActiveTab(id string) (bool, error)
	OpenTab(name, content, filePath string) (string, error)
	UpdateContent(id, content string) bool
}

type binding struct {
	loc     Location
	modTime time.Time
}

type storedBinding struct {
	VaultID string    `json:"vaultId"`
	Path    string    `json:"path"`
	ModTime time.Time `json:"modTime"`
}

// Binder keeps the tab to file map. With a KVStore the map survives
// restarts; without one it lives only in memory.
type Binder struct {
	vaults Vaults
	tabs   TabStore
	kv     mdsync.KVStore
	logger mdsync.Logger

	mu     sync.Mutex
	byTab  map[string]*binding
	byFile map[Location]string
}

func New(vaults Vaults, tabStore TabStore, kv mdsync.KVStore, logger mdsync.Logger) *Binder {
	return &Binder{
		vaults: vaults,
		tabs:   tabStore,
		kv:     kv,
		logger: logger,
		byTab:  make(map[string]*binding),
		byFile: make(map[Location]string),
	}
}

// Load restores persisted bindings whose tab is still open.
func (b *Binder) Load() error {
	if b.kv == nil {
		return nil
	}
	data, err := b.kv.Get(BindingsKey)
	if err != nil {
		return fmt.Errorf("loading tab bindings: %w", err)
	}
	if data == nil {
		return nil
	}
	var stored map[string]storedBinding
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("decoding tab bindings: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.byTab)
	clear(b.byFile)
	for id, sb := range stored {
		if _, open := b.tabs.Tab(id); !open {
			continue
		}
		loc := normalize(Location{VaultID: sb.VaultID, Path: sb.Path})
		b.byTab[id] = &binding{loc: loc, modTime: sb.ModTime}
		b.byFile[loc] = id
	}
	return nil
}

func (b *Binder) persistLocked() error {
	if b.kv == nil {
		return nil
	}
	stored := make(map[string]storedBinding, len(b.byTab))
	for id, bd := range b.byTab {
		stored[id] = storedBinding{VaultID: bd.loc.VaultID, Path: bd.loc.Path, ModTime: bd.modTime}
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encoding tab bindings: %w", err)
	}
	if err := b.kv.Put(BindingsKey, data); err != nil {
		return fmt.Errorf("saving tab bindings: %w", err)
	}
	return nil
}

func (b *Binder) persistOrWarnLocked() {
	if err := b.persistLocked(); err != nil {
		b.logger.Warn("persisting tab bindings failed", "error", err)
	}
}

// DisplayName is the tab title for a file: its base name without a
// markdown extension.
func DisplayName(p string) string {
	name := path.Base(strings.ReplaceAll(p, `\`, "/"))
	lower := strings.ToLower(name)
	for _, ext := range []string{".markdown", ".md"} {
		if strings.HasSuffix(lower, ext) {
			return name[:len(name)-len(ext)]
		}
	}
	return name
}

func normalize(loc Location) Location {
	loc.Path = strings.Join(fsadapter.SplitPath(loc.Path), "/")
	return loc
}

// OpenFile shows a vault file in a tab. When the file is already bound to
// an open tab that tab is activated and created is false.
func (b *Binder) OpenFile(vaultID, p string) (tabID string, created bool, err error) {
	loc := normalize(Location{VaultID: vaultID, Path: p})

	b.mu.Lock()
	existing, ok := b.byFile[loc]
	b.mu.Unlock()
	if ok {
		if _, open := b.tabs.Tab(existing); open {
			if _, err := b.tabs.SetActiveTab(existing); err != nil {
				return "", false, err
			}
			return existing, false, nil
		}
		b.unbind(existing)
	}

	a, err := b.vaults.Adapter(vaultID)
	if err != nil {
		return "", false, err
	}
	data, err := a.ReadFile(loc.Path)
	if err != nil {
		return "", false, fmt.Errorf("opening %s: %w", loc, err)
	}
	st, err := a.Stat(loc.Path)
	if err != nil {
		return "", false, fmt.Errorf("opening %s: %w", loc, err)
	}

	id, err := b.tabs.OpenTab(DisplayName(loc.Path), string(data), loc.Path)
	if err != nil {
		return "", false, err
	}
	b.mu.Lock()
	b.byTab[id] = &binding{loc: loc, modTime: st.ModTime}
	b.byFile[loc] = id
	err = b.persistLocked()
	b.mu.Unlock()
	b.logger.Debug("file opened", "tab", id, "file", loc.String())
	return id, true, err
}

func (b *Binder) unbind(tabID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bd, ok := b.byTab[tabID]; ok {
		delete(b.byFile, bd.loc)
		delete(b.byTab, tabID)
		b.persistOrWarnLocked()
	}
}

// Binding returns the file bound to tabID.
func (b *Binder) Binding(tabID string) (Location, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bd, ok := b.byTab[tabID]; ok {
		return bd.loc, true
	}
	return Location{}, false
}

// TabFor returns the tab bound to a file.
func (b *Binder) TabFor(vaultID, p string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.byFile[normalize(Location{VaultID: vaultID, Path: p})]
	return id, ok
}

// Bindings returns a snapshot of all bindings keyed by tab id.
func (b *Binder) Bindings() map[string]Location {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]Location, len(b.byTab))
	for id, bd := range b.byTab {
		out[id] = bd.loc
	}
	return out
}

// SaveActive writes the active tab back to its file. It reports false,
// with no error, when the tab is not bound to a file; the caller then
// persists the content some other way.
func (b *Binder) SaveActive() (bool, error) {
	tab, ok := b.tabs.ActiveTab()
	if !ok {
		return false, nil
	}
	return b.SaveTab(tab.ID)
}

// SaveTab writes a tab's content to its bound file. See SaveActive.
func (b *Binder) SaveTab(tabID string) (bool, error) {
	b.mu.Lock()
	bd, ok := b.byTab[tabID]
	var loc Location
	if ok {
		loc = bd.loc
	}
	b.mu.Unlock()
	if !ok {
		return false, nil
	}
	tab, ok := b.tabs.Tab(tabID)
	if !ok {
		return false, nil
	}

	a, err := b.vaults.Adapter(loc.VaultID)
	if err != nil {
		return false, err
	}
	if err := a.WriteFile(loc.Path, []byte(tab.Content)); err != nil {
		return false, fmt.Errorf("saving %s: %w", loc, err)
	}
	st, err := a.Stat(loc.Path)
	if err != nil {
		return false, fmt.Errorf("saving %s: %w", loc, err)
	}
	b.setModTime(tabID, st.ModTime)
	b.logger.Debug("file saved", "tab", tabID, "file", loc.String())
	return true, nil
}

func (b *Binder) setModTime(tabID string, t time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bd, ok := b.byTab[tabID]; ok {
		bd.modTime = t
		b.persistOrWarnLocked()
	}
}

// CheckExternalChange reports whether the bound file was modified since it
// was last read or written here. Differences within
// ExternalChangeTolerance are ignored. Unbound tabs report false.
func (b *Binder) CheckExternalChange(tabID string) (changed bool, diskTime time.Time, err error) {
	b.mu.Lock()
	bd, ok := b.byTab[tabID]
	var known binding
	if ok {
		known = *bd
	}
	b.mu.Unlock()
	if !ok {
		return false, time.Time{}, nil
	}

	a, err := b.vaults.Adapter(known.loc.VaultID)
	if err != nil {
		return false, time.Time{}, err
	}
	st, err := a.Stat(known.loc.Path)
	if err != nil {
		return false, time.Time{}, fmt.Errorf("checking %s: %w", known.loc, err)
	}
	diff := st.ModTime.Sub(known.modTime)
	if diff < 0 {
		diff = -diff
	}
	return diff > ExternalChangeTolerance, st.ModTime, nil
}

// Reload replaces a tab's content with its file's current content.
func (b *Binder) Reload(tabID string) error {
	loc, ok := b.Binding(tabID)
	if !ok {
		return fmt.Errorf("tab %s is not bound to a file: %w", tabID, mdsync.ErrNotFound)
	}
	a, err := b.vaults.Adapter(loc.VaultID)
	if err != nil {
		return err
	}
	data, err := a.ReadFile(loc.Path)
	if err != nil {
		return fmt.Errorf("reloading %s: %w", loc, err)
	}
	st, err := a.Stat(loc.Path)
	if err != nil {
		return fmt.Errorf("reloading %s: %w", loc, err)
	}
	b.tabs.UpdateContent(tabID, string(data))
	b.setModTime(tabID, st.ModTime)
	return nil
}

// Prune drops bindings whose tab is no longer open. It is meant to be
// registered with tabs.Store.OnChange.
func (b *Binder) Prune(open []tabs.Tab) {
	keep := make(map[string]bool, len(open))
	for _, t := range open {
		keep[t.ID] = true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	pruned := 0
	for id, bd := range b.byTab {
		if !keep[id] {
			delete(b.byFile, bd.loc)
			delete(b.byTab, id)
			pruned++
		}
	}
	if pruned > 0 {
		b.persistOrWarnLocked()
	}
}

// Clear drops every binding. Opening or closing a vault calls it.
func (b *Binder) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.byTab)
	clear(b.byFile)
	b.persistOrWarnLocked()
}
