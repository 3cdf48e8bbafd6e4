package app

import (
	"errors"
	"fmt"
	"path/filepath"

	"mdsync/internal/fs"
	"mdsync/internal/mdsync"
	"mdsync/internal/registry"
)

// Reconnect reopens persisted vaults once per App. Later calls return the
// first result.
func (a *App) Reconnect() (*registry.ReconnectResult, error) {
	a.reconnectOnce.Do(func() {
		a.reconnected, a.reconnectErr = a.registry.Reconnect()
		if a.reconnectErr == nil {
			for _, p := range a.reconnected.Pending {
				a.logger.Info("vault needs permission", "vault", p.Name, "permission", string(p.Permission), "error", p.Err)
			}
		}
	})
	return a.reconnected, a.reconnectErr
}

// vault resolves a vault by id or name among the reconnected vaults.
func (a *App) vault(idOrName string) (*registry.Vault, error) {
	if _, err := a.Reconnect(); err != nil {
		return nil, err
	}
	return a.registry.VaultByName(idOrName)
}

// AddVault resolves rawPath and registers it as a vault.
func (a *App) AddVault(rawPath string) (*registry.Vault, error) {
	if _, err := a.Reconnect(); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(rawPath)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	dir, err := fs.OpenDir(abs)
	if err != nil {
		return nil, err
	}
	v, err := a.registry.AddVault(dir)
	if err != nil {
		return nil, err
	}
	a.binder.Clear()
	a.logger.Info("vault added", "vault", v.Name, "id", v.ID, "path", abs)
	return v, nil
}

// VaultInfo is one row of the vault listing.
type VaultInfo struct {
	ID         string
	Name       string
	Locator    string
	Connected  bool
	Permission mdsync.PermissionState
	Error      string
}

// ListVaults returns connected vaults followed by those awaiting permission.
func (a *App) ListVaults() ([]VaultInfo, error) {
	res, err := a.Reconnect()
	if err != nil {
		return nil, err
	}
	var out []VaultInfo
	for _, v := range a.registry.Vaults() {
		out = append(out, VaultInfo{
			ID:         v.ID,
			Name:       v.Name,
			Locator:    v.Root.Locator(),
			Connected:  true,
			Permission: mdsync.PermissionGranted,
		})
	}
	for _, p := range res.Pending {
		if _, err := a.registry.Vault(p.ID); err == nil {
			continue
		}
		info := VaultInfo{ID: p.ID, Name: p.Name, Permission: p.Permission}
		if p.Err != nil {
			info.Error = p.Err.Error()
		}
		out = append(out, info)
	}
	return out, nil
}

// GrantVault asks again for permission on a pending vault.
func (a *App) GrantVault(idOrName string) (*registry.Vault, error) {
	id, _, err := a.resolveAny(idOrName)
	if err != nil {
		return nil, err
	}
	return a.registry.RequestVaultPermission(id)
}

// RemoveVault forgets a vault, its handle and its git configuration.
func (a *App) RemoveVault(idOrName string) error {
	id, name, err := a.resolveAny(idOrName)
	if err != nil {
		return err
	}
	if err := a.registry.RemoveVault(id); err != nil {
		return err
	}
	a.binder.Clear()
	if err := a.creds.RemoveVaultConfig(id); err != nil {
		return fmt.Errorf("removing git config: %w", err)
	}
	a.logger.Info("vault removed", "vault", name, "id", id)
	return nil
}

// resolveAny finds a connected or pending vault by id or name.
func (a *App) resolveAny(idOrName string) (id, name string, err error) {
	if v, err := a.vault(idOrName); err == nil {
		return v.ID, v.Name, nil
	} else if !errors.Is(err, mdsync.ErrNotFound) {
		return "", "", err
	}
	for _, p := range a.reconnected.Pending {
		if p.ID == idOrName || p.Name == idOrName {
			return p.ID, p.Name, nil
		}
	}
	return "", "", fmt.Errorf("vault %s: %w", idOrName, mdsync.ErrNotFound)
}

// VaultTree returns the markdown tree of a vault, refreshed from storage.
func (a *App) VaultTree(idOrName string) (*registry.Vault, error) {
	v, err := a.vault(idOrName)
	if err != nil {
		return nil, err
	}
	if err := a.registry.RefreshVault(v.ID); err != nil {
		return nil, err
	}
	return a.registry.Vault(v.ID)
}

// CreateNote creates a markdown file in a vault directory.
func (a *App) CreateNote(idOrName, dir, name, content string) (*registry.Entry, error) {
	v, err := a.vault(idOrName)
	if err != nil {
		return nil, err
	}
	return a.registry.CreateFile(v.ID, dir, name, content)
}

// IsPermissionError reports whether err means a vault needs a re-grant.
func IsPermissionError(err error) bool {
	return registry.IsPermissionError(err)
}
