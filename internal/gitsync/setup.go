package gitsync

import (
	"context"
	"fmt"

	"mdsync/internal/credstore"
	"mdsync/internal/github"
	"mdsync/internal/mdsync"
)

// SmartSetup connects a vault to a GitHub repository. It checks whether url
// exists, creates it when missing and create is set, records it as the
// vault's remote, and pushes immediately when the repository is new.
func (e *Engine) SmartSetup(ctx context.Context, v mdsync.VaultRef, url string, create, private bool) SetupResult {
	if e.api == nil {
		return SetupResult{Outcome: OutcomeFailure, Error: "hosting API not configured"}
	}
	exists, err := e.api.RepoExists(ctx, url)
	if err != nil {
		return SetupResult{Outcome: OutcomeFailure, Error: mdsync.RemoteMessage(err)}
	}
	if !exists && !create {
		return SetupResult{Outcome: OutcomeFailure, Error: "Repository does not exist on GitHub"}
	}

	finalURL := url
	if !exists {
		ref, ok := github.ParseURL(url)
		if !ok {
			return SetupResult{Outcome: OutcomeFailure, Error: fmt.Sprintf("not a GitHub repository URL: %s", url)}
		}
		repo, err := e.api.CreateRepo(ctx, ref.Repo, private, github.DefaultRepoDescription)
		if err != nil {
			return SetupResult{Outcome: OutcomeFailure, Error: mdsync.RemoteMessage(err)}
		}
		if repo.CloneURL != "" {
			finalURL = repo.CloneURL
		}
		e.logger.Info("remote repository created", "vault", v.ID, "repo", repo.FullName, "private", private)
	}

	if err := e.SetRemote(ctx, v, finalURL, DefaultRemote); err != nil {
		return SetupResult{Outcome: OutcomeFailure, URL: finalURL, Created: !exists, Error: err.Error()}
	}

	if !exists {
		if err := e.begin(v, credstore.StatusPushing); err != nil {
			return SetupResult{Outcome: OutcomeFailure, URL: finalURL, Created: true, Error: err.Error()}
		}
		pr := e.push(ctx, v)
		if pr.Outcome != OutcomeSuccess {
			e.store.SetError(v.ID, pr.Error)
			return SetupResult{Outcome: OutcomeFailure, URL: finalURL, Created: true, Error: pr.Error}
		}
		e.store.RecordSync(v.ID)
		e.Refresh(v)
	}
	return SetupResult{Outcome: OutcomeSuccess, URL: finalURL, Created: !exists}
}

// RepoExists reports whether url names an existing GitHub repository.
func (e *Engine) RepoExists(ctx context.Context, url string) (bool, error) {
	if e.api == nil {
		return false, fmt.Errorf("hosting API: %w", mdsync.ErrNotConfigured)
	}
	return e.api.RepoExists(ctx, url)
}

// CreateRemoteRepo creates a repository for the vault on GitHub.
func (e *Engine) CreateRemoteRepo(ctx context.Context, name string, private bool) (*github.Repo, error) {
	if e.api == nil {
		return nil, fmt.Errorf("hosting API: %w", mdsync.ErrNotConfigured)
	}
	return e.api.CreateRepo(ctx, name, private, github.DefaultRepoDescription)
}

// Username returns the login of the token's account.
func (e *Engine) Username(ctx context.Context) (string, error) {
	if e.api == nil {
		return "", fmt.Errorf("hosting API: %w", mdsync.ErrNotConfigured)
	}
	u, err := e.api.CurrentUser(ctx)
	if err != nil {
		return "", err
	}
	return u.Login, nil
}
