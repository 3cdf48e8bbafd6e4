package tabs

import (
	"errors"
	"slices"
	"testing"
	"time"

	"mdsync/internal/testutil"
)

func newTestStore(t *testing.T) (*Store, *testutil.StubClock) {
	t.Helper()
	clock := testutil.FixedClock()
	return NewStore(testutil.NewTestDatabase(t), clock, testutil.NewStubIDGenerator()), clock
}

func tabIDs(tabs []Tab) []string {
	ids := make([]string, len(tabs))
	for i, tab := range tabs {
		ids[i] = tab.ID
	}
	return ids
}

func TestInitialize(t *testing.T) {
	t.Parallel()
	s, clock := newTestStore(t)
	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	tabs := s.Tabs()
	if len(tabs) != 1 {
		t.Fatalf("tabs = %d, want 1", len(tabs))
	}
	want := "tab-1705314600000-id1"
	if tabs[0].ID != want || tabs[0].Name != WelcomeTabName || tabs[0].Content != WelcomeContent {
		t.Errorf("welcome tab = %+v, want id %s", tabs[0], want)
	}
	if tabs[0].CreatedAt != clock.Now().UnixMilli() {
		t.Errorf("CreatedAt = %d", tabs[0].CreatedAt)
	}

	second, err := s.AddTab("")
	if err != nil {
		t.Fatal(err)
	}
	tab, _ := s.Tab(second)
	if tab.Name != "Untitled 2" || tab.Content != "" {
		t.Errorf("second tab = %+v", tab)
	}
}

func TestRemoveTab(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		active     int
		remove     int
		wantActive int // index into the original ids
	}{
		{"active middle activates next", 1, 1, 2},
		{"active last activates previous", 2, 2, 1},
		{"inactive keeps active", 0, 2, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, _ := newTestStore(t)
			var ids []string
			for range 3 {
				id, err := s.AddTab("")
				if err != nil {
					t.Fatal(err)
				}
				ids = append(ids, id)
			}
			if ok, err := s.SetActiveTab(ids[tt.active]); !ok || err != nil {
				t.Fatalf("SetActiveTab() = %v, %v", ok, err)
			}
			if err := s.RemoveTab(ids[tt.remove]); err != nil {
				t.Fatal(err)
			}
			active, _ := s.ActiveTab()
			if active.ID != ids[tt.wantActive] {
				t.Errorf("active = %s, want %s", active.ID, ids[tt.wantActive])
			}
		})
	}

	t.Run("last tab is replaced", func(t *testing.T) {
		t.Parallel()
		s, _ := newTestStore(t)
		id, _ := s.AddTab("only")
		if err := s.RemoveTab(id); err != nil {
			t.Fatal(err)
		}
		tabs := s.Tabs()
		if len(tabs) != 1 || tabs[0].ID == id {
			t.Fatalf("tabs after removing the last = %+v", tabs)
		}
		if active, ok := s.ActiveTab(); !ok || active.ID != tabs[0].ID {
			t.Errorf("active = %+v", active)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		t.Parallel()
		s, _ := newTestStore(t)
		s.AddTab("a")
		if err := s.RemoveTab("nope"); err != nil {
			t.Fatal(err)
		}
		if len(s.Tabs()) != 1 {
			t.Error("unknown id removed a tab")
		}
	})
}

func TestRenameAndFontSize(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	id, _ := s.AddTab("draft")

	if ok, _ := s.RenameTab(id, "   "); ok {
		t.Error("blank rename accepted")
	}
	if ok, _ := s.RenameTab(id, "  final  "); !ok {
		t.Error("rename rejected")
	}
	if tab, _ := s.Tab(id); tab.Name != "final" {
		t.Errorf("name = %q, want final", tab.Name)
	}
	if ok, _ := s.SetActiveTab("missing"); ok {
		t.Error("SetActiveTab(missing) = true")
	}

	for _, tc := range []struct{ in, want int }{{4, 10}, {30, 24}, {16, 16}} {
		if err := s.SetFontSize(tc.in); err != nil {
			t.Fatal(err)
		}
		if got := s.FontSize(); got != tc.want {
			t.Errorf("SetFontSize(%d) -> %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	clock := testutil.FixedClock()
	db := testutil.NewTestDatabase(t)
	s := NewStore(db, clock, testutil.NewStubIDGenerator())

	a, _ := s.OpenTab("a", "alpha", "notes/a.md")
	clock.Advance(time.Millisecond)
	b, _ := s.AddTab("b")
	s.UpdateContent(b, "beta")
	s.mu.Lock()
	s.folders = []Folder{{ID: "f1", Name: "work", CreatedAt: 1, Expanded: true}}
	s.tabs[1].FolderID = "f1"
	s.mu.Unlock()
	if err := s.Save(); err != nil {
		t.Fatal(err)
	}

	loaded := NewStore(db, clock, testutil.NewStubIDGenerator())
	ok, err := loaded.Load()
	if err != nil || !ok {
		t.Fatalf("Load() = %v, %v", ok, err)
	}
	if got, want := tabIDs(loaded.Tabs()), []string{a, b}; !slices.Equal(got, want) {
		t.Errorf("ids = %v, want %v", got, want)
	}
	if !slices.Equal(loaded.Tabs(), s.Tabs()) {
		t.Errorf("tabs = %+v, want %+v", loaded.Tabs(), s.Tabs())
	}
	if got := loaded.Snapshot().Folders; len(got) != 1 || got[0] != s.Snapshot().Folders[0] {
		t.Errorf("folders = %+v", got)
	}
	if active, _ := loaded.ActiveTab(); active.ID != b {
		t.Errorf("active = %s, want %s", active.ID, b)
	}
}

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		data       string
		wantErr    bool
		wantFont   int
		wantActive string
	}{
		{"valid", `{"tabs":[{"id":"t1","name":"a","content":"","createdAt":1}],"activeTabId":"t1","fontSize":16}`, false, 16, "t1"},
		{"font too large", `{"tabs":[{"id":"t1"}],"activeTabId":"t1","fontSize":99}`, false, 24, "t1"},
		{"font too small", `{"tabs":[{"id":"t1"}],"activeTabId":"t1","fontSize":-3}`, false, 10, "t1"},
		{"fractional font", `{"tabs":[{"id":"t1"}],"fontSize":15.6}`, false, 16, "t1"},
		{"unknown active", `{"tabs":[{"id":"t1"},{"id":"t2"}],"activeTabId":"zz","fontSize":14}`, false, 14, "t1"},
		{"null active", `{"tabs":[{"id":"t1"},{"id":"t2"}],"activeTabId":null,"fontSize":14}`, false, 14, "t1"},
		{"null folder", `{"tabs":[{"id":"t1","folderId":null}],"fontSize":14}`, false, 14, "t1"},
		{"missing tabs", `{"fontSize":14}`, true, 0, ""},
		{"tabs not array", `{"tabs":"x","fontSize":14}`, true, 0, ""},
		{"font not number", `{"tabs":[{"id":"t1"}],"fontSize":"big"}`, true, 0, ""},
		{"missing font", `{"tabs":[{"id":"t1"}]}`, true, 0, ""},
		{"empty tabs", `{"tabs":[],"fontSize":14}`, true, 0, ""},
		{"garbage", `not json`, true, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			doc, err := Parse([]byte(tt.data))
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidDocument) {
					t.Errorf("Parse() error = %v, want ErrInvalidDocument", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if doc.FontSize != tt.wantFont {
				t.Errorf("FontSize = %d, want %d", doc.FontSize, tt.wantFont)
			}
			if doc.ActiveTabID != tt.wantActive {
				t.Errorf("ActiveTabID = %q, want %q", doc.ActiveTabID, tt.wantActive)
			}
		})
	}
}

func TestLoadInvalidFallsBack(t *testing.T) {
	t.Parallel()
	db := testutil.NewTestDatabase(t)
	if err := db.Put(StorageKey, []byte(`{"tabs":[],"fontSize":14}`)); err != nil {
		t.Fatal(err)
	}
	s := NewStore(db, testutil.FixedClock(), testutil.NewStubIDGenerator())
	if err := s.Initialize(); err != nil {
		t.Fatal(err)
	}
	if tabs := s.Tabs(); len(tabs) != 1 || tabs[0].Name != WelcomeTabName {
		t.Errorf("tabs = %+v, want the welcome tab", tabs)
	}
}

func TestReplaceNotifies(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	var seen [][]string
	s.OnChange(func(tabs []Tab) { seen = append(seen, tabIDs(tabs)) })

	if err := s.Replace([]byte(`{"tabs":[{"id":"remote"}],"fontSize":12}`)); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 1 || !slices.Equal(seen[0], []string{"remote"}) {
		t.Errorf("notifications = %v", seen)
	}
	if s.FontSize() != 12 {
		t.Errorf("FontSize = %d, want 12", s.FontSize())
	}
	if err := s.Replace([]byte(`{}`)); !errors.Is(err, ErrInvalidDocument) {
		t.Errorf("Replace(invalid) error = %v", err)
	}
}
