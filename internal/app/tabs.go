package app

import (
	"fmt"
	"time"

	"mdsync/internal/binding"
	"mdsync/internal/mdsync"
	"mdsync/internal/tabs"
)

// TabInfo is one row of the tab listing.
type TabInfo struct {
	Tab    tabs.Tab
	Active bool
	// Bound is set when the tab shows a vault file.
	Bound    bool
	Location binding.Location
}

// Tabs lists open tabs with their bindings.
func (a *App) Tabs() []TabInfo {
	active, _ := a.tabs.ActiveTab()
	bindings := a.binder.Bindings()
	all := a.tabs.Tabs()
	out := make([]TabInfo, len(all))
	for i, t := range all {
		loc, bound := bindings[t.ID]
		out[i] = TabInfo{Tab: t, Active: t.ID == active.ID, Bound: bound, Location: loc}
	}
	return out
}

// OpenNote opens a vault file in a tab, or activates the tab already
// showing it.
func (a *App) OpenNote(idOrName, path string) (tabID string, created bool, err error) {
	v, err := a.vault(idOrName)
	if err != nil {
		return "", false, err
	}
	if e := a.registry.FindFileByPath(v.ID, path); e == nil {
		a.logger.Debug("opening a file outside the vault tree", "vault", v.Name, "path", path)
	}
	return a.binder.OpenFile(v.ID, path)
}

// NewTab opens an unbound tab.
func (a *App) NewTab(name, content string) (string, error) {
	id, err := a.tabs.AddTab(name)
	if err != nil {
		return "", err
	}
	if content != "" {
		a.tabs.UpdateContent(id, content)
		if err := a.tabs.Save(); err != nil {
			return "", err
		}
	}
	return id, nil
}

// ActivateTab makes id the active tab.
func (a *App) ActivateTab(id string) error {
	ok, err := a.tabs.SetActiveTab(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("tab %s: %w", id, mdsync.ErrNotFound)
	}
	return nil
}

// EditTab replaces a tab's content and saves it: to its vault file when
// bound, otherwise only to the tab document. It reports whether a file
// was written.
func (a *App) EditTab(id, content string) (bool, error) {
	if !a.tabs.UpdateContent(id, content) {
		return false, fmt.Errorf("tab %s: %w", id, mdsync.ErrNotFound)
	}
	if err := a.tabs.Save(); err != nil {
		return false, err
	}
	if _, err := a.Reconnect(); err != nil {
		return false, err
	}
	return a.binder.SaveTab(id)
}

// SaveActiveTab writes the active tab to its file. Unbound tabs report
// false with no error.
func (a *App) SaveActiveTab() (bool, error) {
	if err := a.tabs.Save(); err != nil {
		return false, err
	}
	if _, err := a.Reconnect(); err != nil {
		return false, err
	}
	return a.binder.SaveActive()
}

// RenameTab trims and applies a new tab name.
func (a *App) RenameTab(id, name string) (bool, error) {
	return a.tabs.RenameTab(id, name)
}

// CloseTab closes a tab. Its binding is pruned by the tab store listener.
func (a *App) CloseTab(id string) error {
	if _, ok := a.tabs.Tab(id); !ok {
		return fmt.Errorf("tab %s: %w", id, mdsync.ErrNotFound)
	}
	return a.tabs.RemoveTab(id)
}

// ExternalChange is a bound tab whose file changed outside the editor.
type ExternalChange struct {
	TabID    string
	Location binding.Location
	DiskTime time.Time
}

// CheckTabs lists bound tabs whose files were modified externally.
func (a *App) CheckTabs() ([]ExternalChange, error) {
	if _, err := a.Reconnect(); err != nil {
		return nil, err
	}
	var out []ExternalChange
	for id, loc := range a.binder.Bindings() {
		changed, diskTime, err := a.binder.CheckExternalChange(id)
		if err != nil {
			a.logger.Warn("checking external change failed", "tab", id, "file", loc.String(), "error", err)
			continue
		}
		if changed {
			out = append(out, ExternalChange{TabID: id, Location: loc, DiskTime: diskTime})
		}
	}
	return out, nil
}

// ReloadTab replaces a bound tab's content with its file.
func (a *App) ReloadTab(id string) error {
	if _, err := a.Reconnect(); err != nil {
		return err
	}
	if err := a.binder.Reload(id); err != nil {
		return err
	}
	return a.tabs.Save()
}

// SetFontSize stores the editor font size, clamped to the allowed range.
func (a *App) SetFontSize(size int) (int, error) {
	if err := a.tabs.SetFontSize(size); err != nil {
		return 0, err
	}
	return a.tabs.FontSize(), nil
}
