// Package gitsync keeps vaults in sync with a Git remote. Repositories are
// read and written through the vault's storage adapter, so the same engine
// runs over OS directories and in-memory handles.
package gitsync

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/filesystem"

	"mdsync/internal/credstore"
	"mdsync/internal/fsadapter"
	"mdsync/internal/github"
	"mdsync/internal/mdsync"
)

const (
	// DefaultBranch is used when the current branch cannot be detected.
	DefaultBranch = "main"

	// DefaultRemote is the remote name used when none is configured.
	DefaultRemote = "origin"

	// ObsidianGitMarker is the directory a foreign git plugin installs.
	ObsidianGitMarker = ".obsidian/plugins/obsidian-git"

	// CloneDepth bounds history fetched by Clone.
	CloneDepth = 10

	tokenUsername = "x-access-token"
	fallbackName  = "md-viewer"
	fallbackEmail = "md-viewer@local"
)

// DefaultGitignore is written on init when the vault has no ignore file.
const DefaultGitignore = `# Obsidian
.obsidian/workspace.json
.obsidian/workspace-mobile.json
.obsidian/plugins/*/data.json
.trash/

# System files
.DS_Store
Thumbs.db
`

// Options tune an Engine.
type Options struct {
	// ProxyURL routes git transport through an HTTP proxy when set.
	ProxyURL string
	// DefaultBranch overrides DefaultBranch.
	DefaultBranch string
	// AuthorName and AuthorEmail are used when credentials carry no identity.
	AuthorName  string
	AuthorEmail string
	// CloneDepth overrides CloneDepth. Negative clones full history.
	CloneDepth int
	// Messages generates commit messages for the ai style.
	Messages MessageGenerator
}

// Engine runs git operations against vaults. One Engine serves every vault;
// callers must not issue concurrent operations for the same vault.
type Engine struct {
	store  *credstore.Store
	cache  *fsadapter.Cache
	api    *github.Client
	clock  mdsync.Clock
	logger mdsync.Logger
	opts   Options
}

// New creates an Engine.
func New(store *credstore.Store, adapters *fsadapter.Cache, api *github.Client, clock mdsync.Clock, logger mdsync.Logger, opts Options) *Engine {
	if clock == nil {
		clock = mdsync.RealClock{}
	}
	if logger == nil {
		logger = mdsync.NewNopLogger()
	}
	if opts.DefaultBranch == "" {
		opts.DefaultBranch = DefaultBranch
	}
	if opts.AuthorName == "" {
		opts.AuthorName = fallbackName
	}
	if opts.AuthorEmail == "" {
		opts.AuthorEmail = fallbackEmail
	}
	return &Engine{
		store:  store,
		cache:  adapters,
		api:    api,
		clock:  clock,
		logger: logger,
		opts:   opts,
	}
}

// adapter returns the cached storage adapter for v.
func (e *Engine) adapter(v mdsync.VaultRef) *fsadapter.Adapter {
	return e.cache.Get(v.ID, v.Root)
}

// storage builds go-git storage over the vault's .git directory.
func (e *Engine) storage(a *fsadapter.Adapter) (*filesystem.Storage, error) {
	dot, err := a.Billy().Chroot(".git")
	if err != nil {
		return nil, fmt.Errorf("opening .git: %w", err)
	}
	return filesystem.NewStorage(dot, cache.NewObjectLRUDefault()), nil
}

// open opens the vault's repository.
func (e *Engine) open(v mdsync.VaultRef) (*git.Repository, *fsadapter.Adapter, error) {
	a := e.adapter(v)
	st, err := e.storage(a)
	if err != nil {
		return nil, nil, err
	}
	repo, err := git.Open(st, a.Billy())
	if err != nil {
		return nil, nil, fmt.Errorf("opening repository: %w", err)
	}
	return repo, a, nil
}

// auth returns basic auth carrying the stored token, or nil without one.
func (e *Engine) auth() (transport.AuthMethod, error) {
	creds, err := e.store.Credentials()
	if err != nil {
		return nil, err
	}
	if creds == nil || creds.Token == "" {
		return nil, nil
	}
	return &githttp.BasicAuth{Username: tokenUsername, Password: creds.Token}, nil
}

func (e *Engine) proxy() transport.ProxyOptions {
	return transport.ProxyOptions{URL: e.opts.ProxyURL}
}

// author returns the commit signature from stored credentials.
func (e *Engine) author() *object.Signature {
	sig := &object.Signature{Name: e.opts.AuthorName, Email: e.opts.AuthorEmail, When: e.clock.Now()}
	creds, err := e.store.Credentials()
	if err != nil {
		e.logger.Warn("reading author identity", "error", err)
		return sig
	}
	if creds != nil {
		if creds.UserName != "" {
			sig.Name = creds.UserName
		}
		if creds.UserEmail != "" {
			sig.Email = creds.UserEmail
		}
	}
	return sig
}

// remote returns the configured remote, or nil.
func (e *Engine) remote(v mdsync.VaultRef) (*credstore.RemoteConfig, error) {
	cfg, err := e.store.VaultConfig(v.ID, v.Name)
	if err != nil {
		return nil, err
	}
	return cfg.Remote, nil
}

// ensureRemote makes the repository's remote match rc.
func ensureRemote(repo *git.Repository, rc *credstore.RemoteConfig) error {
	existing, err := repo.Remote(rc.Name)
	if err == nil {
		urls := existing.Config().URLs
		if len(urls) > 0 && urls[0] == rc.URL {
			return nil
		}
		if err := repo.DeleteRemote(rc.Name); err != nil {
			return fmt.Errorf("removing remote %s: %w", rc.Name, err)
		}
	} else if !errors.Is(err, git.ErrRemoteNotFound) {
		return fmt.Errorf("reading remote %s: %w", rc.Name, err)
	}
	if _, err := repo.CreateRemote(&config.RemoteConfig{Name: rc.Name, URLs: []string{rc.URL}}); err != nil {
		return fmt.Errorf("adding remote %s: %w", rc.Name, err)
	}
	return nil
}

// IsGitRepo reports whether the vault has a .git/HEAD entry.
func (e *Engine) IsGitRepo(v mdsync.VaultRef) bool {
	names, err := e.adapter(v).Readdir(".git")
	if err != nil {
		return false
	}
	for _, n := range names {
		if n == "HEAD" {
			return true
		}
	}
	return false
}

// HasObsidianGit reports whether the foreign git plugin is installed.
func (e *Engine) HasObsidianGit(v mdsync.VaultRef) bool {
	_, err := e.adapter(v).Readdir(ObsidianGitMarker)
	return err == nil
}

// currentBranch returns the branch HEAD points at, including an unborn one.
func currentBranch(repo *git.Repository) (string, error) {
	head, err := repo.Storer.Reference(plumbing.HEAD)
	if err != nil {
		return "", err
	}
	if head.Type() == plumbing.SymbolicReference {
		return head.Target().Short(), nil
	}
	return "", nil
}

func (e *Engine) branchOrDefault(repo *git.Repository) string {
	if b, err := currentBranch(repo); err == nil && b != "" {
		return b
	}
	return e.opts.DefaultBranch
}

// CurrentBranch returns the checked-out branch, or "" when undetectable.
func (e *Engine) CurrentBranch(v mdsync.VaultRef) string {
	repo, _, err := e.open(v)
	if err != nil {
		return ""
	}
	b, err := currentBranch(repo)
	if err != nil {
		return ""
	}
	return b
}

// Remotes lists the repository's remotes.
func (e *Engine) Remotes(v mdsync.VaultRef) ([]credstore.RemoteConfig, error) {
	repo, _, err := e.open(v)
	if err != nil {
		return nil, err
	}
	remotes, err := repo.Remotes()
	if err != nil {
		return nil, fmt.Errorf("listing remotes: %w", err)
	}
	out := make([]credstore.RemoteConfig, 0, len(remotes))
	for _, r := range remotes {
		rc := credstore.RemoteConfig{Name: r.Config().Name}
		if urls := r.Config().URLs; len(urls) > 0 {
			rc.URL = urls[0]
		}
		out = append(out, rc)
	}
	return out, nil
}

// Status inspects the repository. A vault without .git/HEAD reports only
// the plugin marker; the in-memory sync state is merged from the store.
func (e *Engine) Status(v mdsync.VaultRef) credstore.VaultStatus {
	cfg, err := e.store.VaultConfig(v.ID, v.Name)
	if err != nil {
		e.logger.Warn("reading vault config", "vault", v.ID, "error", err)
	}
	st := credstore.VaultStatus{
		LastSyncTime:   cfg.Status.LastSyncTime,
		SyncStatus:     cfg.Status.SyncStatus,
		ErrorMessage:   cfg.Status.ErrorMessage,
		HasObsidianGit: e.HasObsidianGit(v),
	}
	if st.SyncStatus == "" {
		st.SyncStatus = credstore.StatusIdle
	}
	if !e.IsGitRepo(v) {
		return st
	}
	st.IsGitRepo = true

	repo, _, err := e.open(v)
	if err != nil {
		e.logger.Warn("opening repository for status", "vault", v.ID, "error", err)
		return st
	}
	remotes, err := repo.Remotes()
	if err == nil {
		st.HasRemote = len(remotes) > 0
	}
	branch, err := currentBranch(repo)
	if err == nil {
		st.CurrentBranch = branch
	}
	if changes, err := e.ChangedFiles(v); err == nil {
		st.ChangedFilesCount = len(changes)
	} else {
		e.logger.Warn("computing changed files", "vault", v.ID, "error", err)
	}
	if st.HasRemote && branch != "" {
		remoteName := DefaultRemote
		if cfg.Remote != nil && cfg.Remote.Name != "" {
			remoteName = cfg.Remote.Name
		}
		st.HasUnpushedCommits = hasUnpushed(repo, remoteName, branch)
	}
	return st
}

// hasUnpushed compares the local tip to the tracking ref. A ref that cannot
// be resolved counts as unpushed.
func hasUnpushed(repo *git.Repository, remoteName, branch string) bool {
	local, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		return true
	}
	tracking, err := repo.Reference(plumbing.NewRemoteReferenceName(remoteName, branch), true)
	if err != nil {
		return true
	}
	return local.Hash() != tracking.Hash()
}

// Refresh recomputes the vault's status and caches it in the store.
func (e *Engine) Refresh(v mdsync.VaultRef) credstore.VaultStatus {
	st := e.Status(v)
	e.store.UpdateVaultStatus(v.ID, func(s *credstore.VaultStatus) {
		s.IsGitRepo = st.IsGitRepo
		s.HasRemote = st.HasRemote
		s.CurrentBranch = st.CurrentBranch
		s.ChangedFilesCount = st.ChangedFilesCount
		s.HasUnpushedCommits = st.HasUnpushedCommits
		s.HasObsidianGit = st.HasObsidianGit
	})
	return st
}

// begin creates the vault's config if needed and claims the vault with
// status. It fails with mdsync.ErrVaultBusy while another operation on the
// vault is in flight.
func (e *Engine) begin(v mdsync.VaultRef, status credstore.SyncStatus) error {
	if _, err := e.store.VaultConfig(v.ID, v.Name); err != nil {
		return err
	}
	return e.store.TryBegin(v.ID, status)
}

func (e *Engine) now() time.Time { return e.clock.Now() }
