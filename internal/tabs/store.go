package tabs

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"mdsync/internal/mdsync"
)

// WelcomeTabName names the tab created on first start.
const WelcomeTabName = "Welcome"

// WelcomeContent is the body of the first tab ever created.
const WelcomeContent = "# Welcome\n\nWrite markdown here. Diagrams go in fenced `mermaid` blocks:\n\n```mermaid\ngraph LR\n  A[Edit] --> B[Sync]\n```\n"

// Store is the in-memory tab set, persisted to a KVStore after every change.
type Store struct {
	kv    mdsync.KVStore
	clock mdsync.Clock
	ids   mdsync.IDGenerator

	mu         sync.Mutex
	tabs       []Tab
	folders    []Folder
	active     string
	fontSize   int
	showEditor *bool
	listeners  []func([]Tab)
}

func NewStore(kv mdsync.KVStore, clock mdsync.Clock, ids mdsync.IDGenerator) *Store {
	return &Store{kv: kv, clock: clock, ids: ids, fontSize: DefaultFontSize}
}

// OnChange registers fn to run with the current tab set after tabs are
// added, removed or replaced.
func (s *Store) OnChange(fn func([]Tab)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Store) notifyLocked() func() {
	snapshot := slices.Clone(s.tabs)
	listeners := slices.Clone(s.listeners)
	return func() {
		for _, fn := range listeners {
			fn(snapshot)
		}
	}
}

// Initialize loads the stored document, or creates the welcome tab when
// nothing valid is stored.
func (s *Store) Initialize() error {
	loaded, err := s.Load()
	if err != nil {
		return err
	}
	if loaded {
		return nil
	}
	_, err = s.AddTab(WelcomeTabName)
	return err
}

// Load replaces the state with the stored document. It reports false when
// nothing valid is stored.
func (s *Store) Load() (bool, error) {
	data, err := s.kv.Get(StorageKey)
	if err != nil {
		return false, fmt.Errorf("loading tabs: %w", err)
	}
	if data == nil {
		return false, nil
	}
	doc, err := Parse(data)
	if err != nil {
		if errors.Is(err, ErrInvalidDocument) {
			return false, nil
		}
		return false, err
	}
	s.mu.Lock()
	s.applyLocked(doc)
	notify := s.notifyLocked()
	s.mu.Unlock()
	notify()
	return true, nil
}

func (s *Store) applyLocked(doc *Document) {
	s.tabs = slices.Clone(doc.Tabs)
	s.folders = slices.Clone(doc.Folders)
	s.active = doc.ActiveTabID
	s.fontSize = doc.FontSize
	s.showEditor = doc.ShowEditor
}

// Replace installs a document loaded from elsewhere (a cloud download or a
// restored backup) and persists it.
func (s *Store) Replace(data []byte) error {
	doc, err := Parse(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.applyLocked(doc)
	err = s.saveLocked()
	notify := s.notifyLocked()
	s.mu.Unlock()
	notify()
	return err
}

// Snapshot returns the current document.
func (s *Store) Snapshot() *Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() *Document {
	return &Document{
		Tabs:        slices.Clone(s.tabs),
		Folders:     slices.Clone(s.folders),
		ActiveTabID: s.active,
		FontSize:    s.fontSize,
		ShowEditor:  s.showEditor,
	}
}

// Save persists the current state.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	data, err := s.snapshotLocked().Marshal()
	if err != nil {
		return err
	}
	if err := s.kv.Put(StorageKey, data); err != nil {
		return fmt.Errorf("saving tabs: %w", err)
	}
	return nil
}

func (s *Store) newID() string {
	suffix := strings.ToLower(strings.ReplaceAll(s.ids.New(), "-", ""))
	if len(suffix) > 9 {
		suffix = suffix[:9]
	}
	return fmt.Sprintf("tab-%d-%s", s.clock.Now().UnixMilli(), suffix)
}

// AddTab opens a new empty tab and activates it. The first tab ever
// created gets the welcome content. An empty name becomes "Untitled N".
func (s *Store) AddTab(name string) (string, error) {
	s.mu.Lock()
	content := ""
	if len(s.tabs) == 0 {
		content = WelcomeContent
	}
	id, err := s.addLocked(name, content, "")
	notify := s.notifyLocked()
	s.mu.Unlock()
	notify()
	return id, err
}

// OpenTab adds an activated tab with the given content, bound to filePath.
func (s *Store) OpenTab(name, content, filePath string) (string, error) {
	s.mu.Lock()
	id, err := s.addLocked(name, content, filePath)
	notify := s.notifyLocked()
	s.mu.Unlock()
	notify()
	return id, err
}

func (s *Store) addLocked(name, content, filePath string) (string, error) {
	if name == "" {
		name = fmt.Sprintf("Untitled %d", len(s.tabs)+1)
	}
	tab := Tab{
		ID:        s.newID(),
		Name:      name,
		Content:   content,
		CreatedAt: s.clock.Now().UnixMilli(),
		FilePath:  filePath,
	}
	s.tabs = append(s.tabs, tab)
	s.active = tab.ID
	return tab.ID, s.saveLocked()
}

// RemoveTab closes a tab. Closing the active tab activates the next tab,
// or the previous one when it was last; closing the only tab opens a
// fresh one. Unknown ids are ignored.
func (s *Store) RemoveTab(id string) error {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return nil
	}
	s.tabs = slices.Delete(s.tabs, i, i+1)

	var err error
	switch {
	case len(s.tabs) == 0:
		s.active = ""
		_, err = s.addLocked("", "", "")
	case s.active == id:
		s.active = s.tabs[min(i, len(s.tabs)-1)].ID
		err = s.saveLocked()
	default:
		err = s.saveLocked()
	}
	notify := s.notifyLocked()
	s.mu.Unlock()
	notify()
	return err
}

func (s *Store) indexLocked(id string) int {
	return slices.IndexFunc(s.tabs, func(t Tab) bool { return t.ID == id })
}

// SetActiveTab activates an existing tab. It reports false for unknown ids.
func (s *Store) SetActiveTab(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexLocked(id) < 0 {
		return false, nil
	}
	s.active = id
	return true, s.saveLocked()
}

// UpdateContent changes a tab's content in memory; callers Save when
// they are ready to persist.
func (s *Store) UpdateContent(id, content string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return false
	}
	s.tabs[i].Content = content
	return true
}

// RenameTab trims name and ignores blank names.
func (s *Store) RenameTab(id, name string) (bool, error) {
	name = strings.TrimSpace(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 || name == "" {
		return false, nil
	}
	s.tabs[i].Name = name
	return true, s.saveLocked()
}

// SetFontSize stores size clamped to the allowed range.
func (s *Store) SetFontSize(size int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fontSize = ClampFontSize(size)
	return s.saveLocked()
}

func (s *Store) FontSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fontSize
}

// Tabs returns a copy of the open tabs in display order.
func (s *Store) Tabs() []Tab {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.tabs)
}

// Tab returns the tab with id.
func (s *Store) Tab(id string) (Tab, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.tabs[i], true
	}
	return Tab{}, false
}

// ActiveTab returns the active tab, if any.
func (s *Store) ActiveTab() (Tab, bool) {
	s.mu.Lock()
	id := s.active
	s.mu.Unlock()
	return s.Tab(id)
}
