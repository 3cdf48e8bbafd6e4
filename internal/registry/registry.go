// Package registry tracks the directories a user has opened as vaults.
//
// Each vault's handle is persisted in a HandleStore. At startup Reconnect
// reopens every persisted handle independently and activates only those
// whose permission is still granted; the rest wait for an explicit
// RequestVaultPermission.
package registry

import (
	"errors"
	"fmt"
	iofs "io/fs"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"mdsync/internal/fs"
	"mdsync/internal/fsadapter"
	"mdsync/internal/mdsync"
)

// Vault is an active, readable vault.
type Vault struct {
	ID         string
	Name       string
	Root       mdsync.DirHandle
	Entries    []*Entry
	AddedAt    time.Time
	LastOpened time.Time
}

// Ref returns the identity the sync engines work with.
func (v *Vault) Ref() mdsync.VaultRef {
	return mdsync.VaultRef{ID: v.ID, Name: v.Name, Root: v.Root}
}

// Options configures tree building.
type Options struct {
	// Ignore patterns hide entries in every vault, in addition to each
	// vault's own ignore file.
	Ignore []string
}

// Registry holds the active vaults.
type Registry struct {
	handles  mdsync.HandleStore
	opener   mdsync.HandleOpener
	adapters *fsadapter.Cache
	clock    mdsync.Clock
	ids      mdsync.IDGenerator
	logger   mdsync.Logger
	ignore   []string

	mu     sync.Mutex
	vaults []*Vault
}

func New(handles mdsync.HandleStore, opener mdsync.HandleOpener, adapters *fsadapter.Cache, clock mdsync.Clock, ids mdsync.IDGenerator, logger mdsync.Logger, opts Options) *Registry {
	if adapters == nil {
		adapters = fsadapter.NewCache(clock)
	}
	return &Registry{
		handles:  handles,
		opener:   opener,
		adapters: adapters,
		clock:    clock,
		ids:      ids,
		logger:   logger,
		ignore:   opts.Ignore,
	}
}

func (r *Registry) readTree(root mdsync.DirHandle) ([]*Entry, error) {
	m := fs.NewIgnoreMatcher(r.ignore)
	lines, err := fs.ParseIgnoreFile(root)
	if err != nil {
		r.logger.Warn("reading vault ignore file failed", "vault", root.Name(), "error", err)
	} else if len(lines) > 0 {
		m = m.Merge(fs.NewIgnoreMatcher(lines))
	}
	return newTreeBuilder(m).build(root, "")
}

func (r *Registry) activeLocked(id string) *Vault {
	for _, v := range r.vaults {
		if v.ID == id {
			return v
		}
	}
	return nil
}

// AddVault asks for access to root and registers it. Vaults are
// deduplicated by display name, so two directories with the same leaf name
// cannot both be open.
func (r *Registry) AddVault(root mdsync.DirHandle) (*Vault, error) {
	state, err := root.RequestPermission()
	if err != nil {
		return nil, fmt.Errorf("requesting access to %s: %w", root.Name(), err)
	}
	if state != mdsync.PermissionGranted {
		return nil, fmt.Errorf("access to %s %s: %w", root.Name(), state, mdsync.ErrPermissionDenied)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	name := root.Name()
	for _, v := range r.vaults {
		if v.Name == name {
			return nil, fmt.Errorf("%s: %w", name, mdsync.ErrDuplicateVault)
		}
	}

	entries, err := r.readTree(root)
	if err != nil {
		return nil, fmt.Errorf("reading vault %s: %w", name, err)
	}

	now := r.clock.Now()
	rec := &mdsync.HandleRecord{
		ID:         r.ids.New(),
		Name:       name,
		Locator:    root.Locator(),
		AddedAt:    now,
		LastOpened: now,
	}
	if err := r.handles.SaveHandle(rec); err != nil {
		return nil, fmt.Errorf("saving vault handle: %w", err)
	}

	v := &Vault{ID: rec.ID, Name: name, Root: root, Entries: entries, AddedAt: now, LastOpened: now}
	r.vaults = append(r.vaults, v)
	r.logger.Info("vault added", "vault", v.ID, "name", name)
	return v, nil
}

// PendingVault is a persisted vault that did not reconnect.
type PendingVault struct {
	ID         string
	Name       string
	Permission mdsync.PermissionState
	// Err is set when the handle could not be reopened or read.
	Err error
}

// ReconnectResult lists what Reconnect activated and what still needs a
// re-grant.
type ReconnectResult struct {
	Connected []*Vault
	Pending   []PendingVault
}

// Reconnect reopens all persisted vaults. Each one is attempted on its own
// and only queries permission; a vault that is not granted, or fails to
// read, is reported as pending and never blocks the others.
func (r *Registry) Reconnect() (*ReconnectResult, error) {
	recs, err := r.handles.ListHandles()
	if err != nil {
		return nil, fmt.Errorf("listing vault handles: %w", err)
	}

	type attempt struct {
		vault   *Vault
		pending PendingVault
	}
	attempts := make([]attempt, len(recs))
	var wg sync.WaitGroup
	for i, rec := range recs {
		wg.Go(func() {
			v, state, err := r.reconnectOne(rec)
			attempts[i] = attempt{vault: v, pending: PendingVault{ID: rec.ID, Name: rec.Name, Permission: state, Err: err}}
		})
	}
	wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	res := &ReconnectResult{}
	for _, a := range attempts {
		if a.vault == nil {
			res.Pending = append(res.Pending, a.pending)
			continue
		}
		if existing := r.activeLocked(a.vault.ID); existing != nil {
			res.Connected = append(res.Connected, existing)
			continue
		}
		r.vaults = append(r.vaults, a.vault)
		res.Connected = append(res.Connected, a.vault)
	}
	r.logger.Info("vaults reconnected", "connected", len(res.Connected), "pending", len(res.Pending))
	return res, nil
}

func (r *Registry) reconnectOne(rec *mdsync.HandleRecord) (*Vault, mdsync.PermissionState, error) {
	root, err := r.opener.Open(rec.Locator)
	if err != nil {
		r.logger.Warn("reopening vault handle failed", "vault", rec.ID, "error", err)
		return nil, mdsync.PermissionDenied, err
	}
	state, err := root.QueryPermission()
	if err != nil {
		r.logger.Warn("querying vault permission failed", "vault", rec.ID, "error", err)
		return nil, mdsync.PermissionDenied, err
	}
	if state != mdsync.PermissionGranted {
		r.logger.Debug("vault needs permission", "vault", rec.ID, "state", state)
		return nil, state, nil
	}
	v, err := r.activate(rec, root)
	if err != nil {
		return nil, state, err
	}
	return v, state, nil
}

// activate reads a granted root and stamps its last-opened time.
func (r *Registry) activate(rec *mdsync.HandleRecord, root mdsync.DirHandle) (*Vault, error) {
	entries, err := r.readTree(root)
	if err != nil {
		r.logger.Warn("reading vault failed", "vault", rec.ID, "error", err)
		return nil, fmt.Errorf("reading vault %s: %w", rec.Name, err)
	}
	now := r.clock.Now()
	if err := r.handles.TouchHandle(rec.ID, now); err != nil {
		r.logger.Warn("updating vault last-opened failed", "vault", rec.ID, "error", err)
	}
	return &Vault{ID: rec.ID, Name: rec.Name, Root: root, Entries: entries, AddedAt: rec.AddedAt, LastOpened: now}, nil
}

// RequestVaultPermission is the explicit re-grant for a pending vault.
func (r *Registry) RequestVaultPermission(id string) (*Vault, error) {
	r.mu.Lock()
	if v := r.activeLocked(id); v != nil {
		r.mu.Unlock()
		return v, nil
	}
	r.mu.Unlock()

	rec, err := r.handles.FindHandle(id)
	if err != nil {
		return nil, fmt.Errorf("loading vault handle: %w", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("vault %s: %w", id, mdsync.ErrNotFound)
	}
	root, err := r.opener.Open(rec.Locator)
	if err != nil {
		return nil, fmt.Errorf("reopening vault %s: %w", rec.Name, err)
	}
	state, err := root.RequestPermission()
	if err != nil {
		return nil, fmt.Errorf("requesting access to %s: %w", rec.Name, err)
	}
	if state != mdsync.PermissionGranted {
		return nil, fmt.Errorf("access to %s %s: %w", rec.Name, state, mdsync.ErrPermissionDenied)
	}
	v, err := r.activate(rec, root)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing := r.activeLocked(id); existing != nil {
		return existing, nil
	}
	r.vaults = append(r.vaults, v)
	r.logger.Info("vault permission granted", "vault", id)
	return v, nil
}

// Pending returns persisted vaults that are not active.
func (r *Registry) Pending() ([]*mdsync.HandleRecord, error) {
	recs, err := r.handles.ListHandles()
	if err != nil {
		return nil, fmt.Errorf("listing vault handles: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.DeleteFunc(recs, func(rec *mdsync.HandleRecord) bool {
		return r.activeLocked(rec.ID) != nil
	}), nil
}

// Vaults returns the active vaults in the order they were activated.
func (r *Registry) Vaults() []*Vault {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.vaults)
}

// Vault returns the active vault with id.
func (r *Registry) Vault(id string) (*Vault, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v := r.activeLocked(id); v != nil {
		return v, nil
	}
	return nil, fmt.Errorf("vault %s is not open: %w", id, mdsync.ErrNotFound)
}

// VaultByName resolves a vault by id or display name.
func (r *Registry) VaultByName(name string) (*Vault, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.vaults {
		if v.ID == name || v.Name == name {
			return v, nil
		}
	}
	return nil, fmt.Errorf("vault %s is not open: %w", name, mdsync.ErrNotFound)
}

// CloseVault deactivates a vault but keeps its persisted handle.
func (r *Registry) CloseVault(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.vaults)
	r.vaults = slices.DeleteFunc(r.vaults, func(v *Vault) bool { return v.ID == id })
	r.adapters.Clear(id)
	return len(r.vaults) != n
}

// RemoveVault forgets a vault entirely.
func (r *Registry) RemoveVault(id string) error {
	if err := r.handles.DeleteHandle(id); err != nil {
		return fmt.Errorf("deleting vault handle: %w", err)
	}
	r.CloseVault(id)
	r.logger.Info("vault removed", "vault", id)
	return nil
}

// RefreshVault rereads the tree, keeping expanded directories expanded.
func (r *Registry) RefreshVault(id string) error {
	v, err := r.Vault(id)
	if err != nil {
		return err
	}
	entries, err := r.readTree(v.Root)
	if err != nil {
		return fmt.Errorf("reading vault %s: %w", v.Name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	keepExpanded(v.Entries, entries)
	v.Entries = entries
	return nil
}

// FindFileByPath returns the entry at p, or nil.
func (r *Registry) FindFileByPath(vaultID, p string) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.activeLocked(vaultID)
	if v == nil {
		return nil
	}
	return find(v.Entries, p)
}

// ToggleDirectoryExpanded flips a directory's expanded flag and returns the
// new value.
func (r *Registry) ToggleDirectoryExpanded(vaultID, p string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.activeLocked(vaultID)
	if v == nil {
		return false, fmt.Errorf("vault %s is not open: %w", vaultID, mdsync.ErrNotFound)
	}
	e := find(v.Entries, p)
	if e == nil || !e.IsDir() {
		return false, fmt.Errorf("directory %s: %w", p, mdsync.ErrNotFound)
	}
	e.Expanded = !e.Expanded
	return e.Expanded, nil
}

// Adapter returns the cached path-addressed view of a vault.
func (r *Registry) Adapter(vaultID string) (*fsadapter.Adapter, error) {
	v, err := r.Vault(vaultID)
	if err != nil {
		return nil, err
	}
	return r.adapters.Get(v.ID, v.Root), nil
}

// CreateFile writes a new markdown file under dir. A name without a
// markdown extension gets ".md".
func (r *Registry) CreateFile(vaultID, dir, name, content string) (*Entry, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("invalid file name %q", name)
	}
	if !IsMarkdown(name) {
		name += ".md"
	}
	a, err := r.Adapter(vaultID)
	if err != nil {
		return nil, err
	}
	p := path.Join(strings.Join(fsadapter.SplitPath(dir), "/"), name)
	if a.Exists(p) {
		return nil, fmt.Errorf("creating %s: %w", p, iofs.ErrExist)
	}
	if err := a.WriteFile(p, []byte(content)); err != nil {
		return nil, fmt.Errorf("creating %s: %w", p, err)
	}
	if err := r.RefreshVault(vaultID); err != nil {
		return nil, err
	}
	e := r.FindFileByPath(vaultID, p)
	if e == nil {
		return nil, fmt.Errorf("created %s but it is hidden from the tree: %w", p, mdsync.ErrNotFound)
	}
	return e, nil
}

// IsPermissionError reports whether err means access must be re-granted.
func IsPermissionError(err error) bool {
	return errors.Is(err, mdsync.ErrPermissionDenied)
}
