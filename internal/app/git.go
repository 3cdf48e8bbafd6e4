package app

import (
	"context"
	"fmt"

	"mdsync/internal/credstore"
	"mdsync/internal/github"
	"mdsync/internal/gitsync"
	"mdsync/internal/mdsync"
	"mdsync/internal/registry"
)

// SetGitCredentials stores the token and author identity. A missing user
// name is looked up from the hosting API with the new token.
func (a *App) SetGitCredentials(ctx context.Context, c credstore.Credentials) error {
	if c.Token == "" {
		return fmt.Errorf("token is required")
	}
	if err := a.creds.SetCredentials(c); err != nil {
		return err
	}
	if c.UserName != "" {
		return nil
	}
	login, err := a.git.Username(ctx)
	if err != nil {
		a.logger.Warn("looking up account name failed", "error", err)
		return nil
	}
	c.UserName = login
	return a.creds.SetCredentials(c)
}

// GitCredentials returns the stored credentials, or nil.
func (a *App) GitCredentials() (*credstore.Credentials, error) {
	return a.creds.Credentials()
}

// ClearGitCredentials forgets the token and identity.
func (a *App) ClearGitCredentials() error {
	return a.creds.ClearCredentials()
}

// GitStatusReport combines repository state with stored configuration.
type GitStatusReport struct {
	Vault    string
	Status   credstore.VaultStatus
	Remote   *credstore.RemoteConfig
	Settings credstore.SyncSettings
	Changes  []gitsync.FileChange
	// HasCredentials is set when an access token is stored.
	HasCredentials bool
}

// GitStatus inspects a vault's repository. LastSyncTime comes from the
// recorded sync history.
func (a *App) GitStatus(idOrName string) (*GitStatusReport, error) {
	v, err := a.vault(idOrName)
	if err != nil {
		return nil, err
	}
	ref := v.Ref()
	cfg, err := a.creds.VaultConfig(v.ID, v.Name)
	if err != nil {
		return nil, err
	}
	st := a.git.Refresh(ref)
	last, err := a.LastSyncTime(v.ID)
	if err != nil {
		return nil, err
	}
	if last != nil {
		st.LastSyncTime = last
	}
	hasCreds, err := a.creds.HasCredentials()
	if err != nil {
		return nil, err
	}
	report := &GitStatusReport{Vault: v.Name, Status: st, Remote: cfg.Remote, Settings: cfg.SyncSettings, HasCredentials: hasCreds}
	if st.IsGitRepo {
		if report.Changes, err = a.git.ChangedFiles(ref); err != nil {
			return nil, err
		}
	}
	return report, nil
}

// GitInit initializes a repository in a vault.
func (a *App) GitInit(ctx context.Context, idOrName string) error {
	v, err := a.vault(idOrName)
	if err != nil {
		return err
	}
	return a.git.Init(ctx, v.Ref())
}

// GitCommit stages everything and commits. An empty message is generated
// from the vault's commit style. It returns "" when nothing changed.
func (a *App) GitCommit(ctx context.Context, idOrName, message string) (string, error) {
	v, err := a.vault(idOrName)
	if err != nil {
		return "", err
	}
	if err := a.claimable(v); err != nil {
		return "", err
	}
	ref := v.Ref()
	var hash string
	var commitErr error
	err = a.track(mdsync.OpGitCommit, v.ID, func() (string, string) {
		if message == "" {
			cfg, err := a.creds.VaultConfig(v.ID, v.Name)
			if err != nil {
				commitErr = err
				return "failure", err.Error()
			}
			changes, err := a.git.ChangedFiles(ref)
			if err != nil {
				commitErr = err
				return "failure", err.Error()
			}
			message = a.git.CommitMessage(ctx, changes, cfg.SyncSettings, v.Name)
		}
		hash, commitErr = a.git.Commit(ctx, ref, message)
		if commitErr != nil {
			return "failure", commitErr.Error()
		}
		if hash == "" {
			return "success", "nothing to commit"
		}
		return "success", hash
	})
	if commitErr != nil {
		return "", commitErr
	}
	return hash, err
}

// GitPull pulls the vault's remote. It refuses while another operation on
// the same vault is running.
func (a *App) GitPull(ctx context.Context, idOrName string) (gitsync.PullResult, error) {
	v, err := a.vault(idOrName)
	if err != nil {
		return gitsync.PullResult{}, err
	}
	if err := a.claimable(v); err != nil {
		return gitsync.PullResult{}, err
	}
	var res gitsync.PullResult
	err = a.track(mdsync.OpGitPull, v.ID, func() (string, string) {
		res = a.git.Pull(ctx, v.Ref())
		return string(res.Outcome), resultMessage(res.Error, fmt.Sprintf("%d files updated", res.UpdatedFiles))
	})
	a.refreshTree(v.ID, res.UpdatedFiles)
	return res, err
}

// GitPush pushes the current branch.
func (a *App) GitPush(ctx context.Context, idOrName string) (gitsync.PushResult, error) {
	v, err := a.vault(idOrName)
	if err != nil {
		return gitsync.PushResult{}, err
	}
	if err := a.claimable(v); err != nil {
		return gitsync.PushResult{}, err
	}
	var res gitsync.PushResult
	err = a.track(mdsync.OpGitPush, v.ID, func() (string, string) {
		res = a.git.Push(ctx, v.Ref())
		return string(res.Outcome), resultMessage(res.Error, fmt.Sprintf("%d commits pushed", res.CommitsPushed))
	})
	return res, err
}

// GitSync runs pull, commit and push. It refuses like GitPull.
func (a *App) GitSync(ctx context.Context, idOrName string) (gitsync.SyncResult, error) {
	v, err := a.vault(idOrName)
	if err != nil {
		return gitsync.SyncResult{}, err
	}
	if err := a.claimable(v); err != nil {
		return gitsync.SyncResult{}, err
	}
	var res gitsync.SyncResult
	err = a.track(mdsync.OpGitSync, v.ID, func() (string, string) {
		res = a.git.Sync(ctx, v.Ref())
		return string(res.Outcome), resultMessage(res.Error,
			fmt.Sprintf("pulled %d, pushed %d", res.PulledFiles, res.PushedCommits))
	})
	a.refreshTree(v.ID, res.PulledFiles)
	return res, err
}

// claimable fails with ErrVaultBusy while another operation on the vault
// is in flight, so a refused operation leaves no history entry.
func (a *App) claimable(v *registry.Vault) error {
	if a.creds.IsVaultSyncing(v.ID) {
		return fmt.Errorf("vault %s: %w", v.Name, mdsync.ErrVaultBusy)
	}
	return nil
}

func (a *App) refreshTree(vaultID string, changed int) {
	if changed == 0 {
		return
	}
	if err := a.registry.RefreshVault(vaultID); err != nil {
		a.logger.Warn("refreshing vault tree failed", "vault", vaultID, "error", err)
	}
}

func resultMessage(errMsg, success string) string {
	if errMsg != "" {
		return errMsg
	}
	return success
}

// GitClone clones url into an empty vault.
func (a *App) GitClone(ctx context.Context, idOrName, url string) error {
	v, err := a.vault(idOrName)
	if err != nil {
		return err
	}
	if err := a.git.Clone(ctx, v.Ref(), url); err != nil {
		return err
	}
	return a.registry.RefreshVault(v.ID)
}

// GitSetRemote points a vault at url.
func (a *App) GitSetRemote(ctx context.Context, idOrName, url, name string) error {
	v, err := a.vault(idOrName)
	if err != nil {
		return err
	}
	if name == "" {
		name = gitsync.DefaultRemote
	}
	return a.git.SetRemote(ctx, v.Ref(), url, name)
}

// GitSetup connects a vault to a GitHub repository, creating it when
// create is set. An empty url suggests one from the vault name and the
// account login.
func (a *App) GitSetup(ctx context.Context, idOrName, url string, create, private bool) (gitsync.SetupResult, error) {
	v, err := a.vault(idOrName)
	if err != nil {
		return gitsync.SetupResult{}, err
	}
	if url == "" {
		login, err := a.git.Username(ctx)
		if err != nil {
			return gitsync.SetupResult{}, fmt.Errorf("looking up account: %w", err)
		}
		url = fmt.Sprintf("https://github.com/%s/%s.git", login, github.SuggestRepoName(v.Name))
	}
	if !a.git.IsGitRepo(v.Ref()) {
		if err := a.git.Init(ctx, v.Ref()); err != nil {
			return gitsync.SetupResult{}, err
		}
	}
	return a.git.SmartSetup(ctx, v.Ref(), url, create, private), nil
}

// GitReset removes the repository and the stored remote.
func (a *App) GitReset(ctx context.Context, idOrName string) error {
	v, err := a.vault(idOrName)
	if err != nil {
		return err
	}
	return a.git.Reset(ctx, v.Ref())
}

// UpdateGitSettings changes a vault's sync settings.
func (a *App) UpdateGitSettings(idOrName string, fn func(*credstore.SyncSettings)) (credstore.SyncSettings, error) {
	v, err := a.vault(idOrName)
	if err != nil {
		return credstore.SyncSettings{}, err
	}
	if _, err := a.creds.VaultConfig(v.ID, v.Name); err != nil {
		return credstore.SyncSettings{}, err
	}
	if err := a.creds.UpdateSyncSettings(v.ID, fn); err != nil {
		return credstore.SyncSettings{}, err
	}
	cfg, err := a.creds.VaultConfig(v.ID, v.Name)
	return cfg.SyncSettings, err
}

// pullOnly reports whether automatic sync may only pull a vault: a foreign
// git plugin manages it and the coexistence mode defers to that plugin.
func (a *App) pullOnly(ref mdsync.VaultRef, settings credstore.SyncSettings) bool {
	switch settings.ObsidianGitMode {
	case credstore.CoexistPullOnly:
		return true
	case credstore.CoexistFull:
		return false
	default:
		return a.git.HasObsidianGit(ref)
	}
}
