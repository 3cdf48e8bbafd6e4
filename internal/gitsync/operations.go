package gitsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/index"

	"mdsync/internal/credstore"
	"mdsync/internal/mdsync"
)

// Init creates a repository on the default branch, writes the default
// ignore file when none exists, and commits it as the initial commit.
// Storage failures are returned.
func (e *Engine) Init(ctx context.Context, v mdsync.VaultRef) error {
	if err := e.begin(v, credstore.StatusSyncing); err != nil {
		return err
	}
	if err := e.initRepository(v); err != nil {
		e.store.SetError(v.ID, err.Error())
		return err
	}
	e.Refresh(v)
	e.store.RecordSync(v.ID)
	e.logger.Info("git repository initialized", "vault", v.ID, "branch", e.opts.DefaultBranch)
	return nil
}

func (e *Engine) initRepository(v mdsync.VaultRef) error {
	a := e.adapter(v)
	st, err := e.storage(a)
	if err != nil {
		return err
	}
	repo, err := git.InitWithOptions(st, a.Billy(), git.InitOptions{
		DefaultBranch: plumbing.NewBranchReferenceName(e.opts.DefaultBranch),
	})
	if err != nil {
		return fmt.Errorf("initializing repository: %w", err)
	}

	if !a.Exists(".gitignore") {
		if err := a.WriteFile(".gitignore", []byte(DefaultGitignore)); err != nil {
			return fmt.Errorf("writing .gitignore: %w", err)
		}
	}

	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("opening worktree: %w", err)
	}
	if _, err := wt.Add(".gitignore"); err != nil {
		return fmt.Errorf("staging .gitignore: %w", err)
	}
	if _, err := wt.Commit("Initial commit", &git.CommitOptions{Author: e.author()}); err != nil {
		return fmt.Errorf("creating initial commit: %w", err)
	}
	return nil
}

// Commit stages every change, including deletions, and commits with
// message. It returns "" without error when there is nothing to commit.
func (e *Engine) Commit(ctx context.Context, v mdsync.VaultRef, message string) (string, error) {
	if err := e.begin(v, credstore.StatusCommitting); err != nil {
		return "", err
	}
	hash, err := e.commit(v, message)
	if err != nil {
		e.store.SetError(v.ID, err.Error())
		return "", err
	}
	e.store.ClearError(v.ID)
	if hash != "" {
		e.Refresh(v)
	}
	return hash, nil
}

func (e *Engine) commit(v mdsync.VaultRef, message string) (string, error) {
	changes, err := e.ChangedFiles(v)
	if err != nil {
		return "", err
	}
	repo, _, err := e.open(v)
	if err != nil {
		return "", err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("opening worktree: %w", err)
	}

	for _, c := range changes {
		if c.Kind == ChangeDeleted {
			if _, err := wt.Remove(c.Path); err != nil && !errors.Is(err, index.ErrEntryNotFound) {
				return "", fmt.Errorf("staging deletion of %s: %w", c.Path, err)
			}
			continue
		}
		if _, err := wt.Add(c.Path); err != nil {
			return "", fmt.Errorf("staging %s: %w", c.Path, err)
		}
	}

	hash, err := wt.Commit(message, &git.CommitOptions{Author: e.author()})
	if errors.Is(err, git.ErrEmptyCommit) {
		e.logger.Debug("nothing to commit", "vault", v.ID)
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("committing: %w", err)
	}
	e.logger.Info("committed", "vault", v.ID, "commit", hash.String(), "files", len(changes))
	return hash.String(), nil
}

// Clone fetches url into the vault on a single branch with bounded depth
// and records it as the vault's remote.
func (e *Engine) Clone(ctx context.Context, v mdsync.VaultRef, url string) error {
	if err := e.begin(v, credstore.StatusPulling); err != nil {
		return err
	}
	if err := e.clone(ctx, v, url); err != nil {
		e.store.SetError(v.ID, mdsync.RemoteMessage(err))
		return err
	}
	if err := e.store.SetVaultRemote(v.ID, v.Name, url, DefaultRemote); err != nil {
		e.store.SetError(v.ID, err.Error())
		return err
	}
	e.Refresh(v)
	e.store.RecordSync(v.ID)
	e.logger.Info("repository cloned", "vault", v.ID, "url", url)
	return nil
}

func (e *Engine) clone(ctx context.Context, v mdsync.VaultRef, url string) error {
	a := e.adapter(v)
	st, err := e.storage(a)
	if err != nil {
		return err
	}
	auth, err := e.auth()
	if err != nil {
		return err
	}
	depth := e.opts.CloneDepth
	if depth == 0 {
		depth = CloneDepth
	}
	if depth < 0 {
		depth = 0
	}
	_, err = git.CloneContext(ctx, st, a.Billy(), &git.CloneOptions{
		URL:          url,
		RemoteName:   DefaultRemote,
		Auth:         auth,
		SingleBranch: true,
		Depth:        depth,
		ProxyOptions: e.proxy(),
	})
	if err != nil {
		return fmt.Errorf("cloning %s: %w", url, classify(err))
	}
	return nil
}

// SetRemote points the vault at url under name, replacing an existing
// remote of that name.
func (e *Engine) SetRemote(ctx context.Context, v mdsync.VaultRef, url, name string) error {
	if name == "" {
		name = DefaultRemote
	}
	repo, _, err := e.open(v)
	if err != nil {
		return err
	}
	if err := ensureRemote(repo, &credstore.RemoteConfig{Name: name, URL: url}); err != nil {
		return err
	}
	if err := e.store.SetVaultRemote(v.ID, v.Name, url, name); err != nil {
		return err
	}
	e.Refresh(v)
	e.logger.Info("remote set", "vault", v.ID, "remote", name, "url", url)
	return nil
}

// Reset deletes the vault's .git directory, forgets its remote and drops
// the cached adapter. Failure to delete .git is logged and ignored.
func (e *Engine) Reset(ctx context.Context, v mdsync.VaultRef) error {
	if err := e.begin(v, credstore.StatusSyncing); err != nil {
		return err
	}
	if err := v.Root.RemoveEntry(".git", true); err != nil {
		e.logger.Warn("removing .git", "vault", v.ID, "error", err)
	}
	if err := e.store.ClearVaultRemote(v.ID); err != nil {
		e.store.SetError(v.ID, err.Error())
		return err
	}
	e.cache.Clear(v.ID)
	e.logger.Info("git state reset", "vault", v.ID)
	return nil
}
