package app

import (
	"context"
	"errors"
	"time"

	"mdsync/internal/binding"
	"mdsync/internal/cloudsync"
	"mdsync/internal/credstore"
	"mdsync/internal/fs"
	"mdsync/internal/gitsync"
	"mdsync/internal/mdsync"
)

// DaemonTick is how often the daemon looks for due work.
const DaemonTick = time.Minute

// scheduler remembers when each automatic sync last ran.
type scheduler struct {
	lastCloud time.Time
	lastGit   map[string]time.Time
}

// RunDaemon keeps vaults and the tab document in sync until ctx is done.
// On start it pulls vaults that ask for it, then every tick it runs the
// cloud auto-sync and a git sync for each vault whose interval elapsed.
// Bound files changed on disk are reported in the log.
func (a *App) RunDaemon(ctx context.Context) error {
	if _, err := a.Reconnect(); err != nil {
		return err
	}
	if err := a.cloud.Initialize(ctx); err != nil {
		a.logger.Warn("cloud initialization failed", "error", err)
	}

	s := &scheduler{lastGit: make(map[string]time.Time)}
	a.startupPull(ctx, s)

	w, err := binding.NewWatcher(a.binder, a.vaultRoot, a.logger)
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Sync(); err != nil {
		a.logger.Warn("watching bound files failed", "error", err)
	}
	go w.Run(ctx)

	a.logger.Info("daemon started", "cloud_interval_min", a.cfg.Sync.SyncIntervalMinutes)
	ticker := time.NewTicker(DaemonTick)
	defer ticker.Stop()
	a.autoSyncPass(ctx, s)
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("daemon stopped")
			return nil
		case c := <-w.Events():
			a.logger.Info("bound file changed outside the editor; reload the tab to pick it up",
				"tab", c.TabID, "file", c.Location.String(), "modified", c.ModTime)
		case <-ticker.C:
			a.autoSyncPass(ctx, s)
			if err := w.Sync(); err != nil {
				a.logger.Warn("watching bound files failed", "error", err)
			}
		}
	}
}

// vaultRoot returns the OS directory of a connected local vault.
func (a *App) vaultRoot(vaultID string) (string, bool) {
	v, err := a.registry.Vault(vaultID)
	if err != nil {
		return "", false
	}
	if d, ok := v.Root.(*fs.OSDir); ok {
		return d.Locator(), true
	}
	return "", false
}

// gitVaults refreshes every connected vault's repository status and
// returns the configs of vaults that are repositories with a remote.
func (a *App) gitVaults() []credstore.VaultConfig {
	for _, v := range a.registry.Vaults() {
		if _, ok, err := a.creds.FindVaultConfig(v.ID); err == nil && ok {
			a.git.Refresh(v.Ref())
		}
	}
	cfgs, err := a.creds.GitEnabledVaults()
	if err != nil {
		a.logger.Error("listing git vaults failed", "error", err)
		return nil
	}
	var out []credstore.VaultConfig
	for _, c := range cfgs {
		if c.Remote != nil {
			out = append(out, c)
		}
	}
	return out
}

func (a *App) startupPull(ctx context.Context, s *scheduler) {
	for _, c := range a.gitVaults() {
		if !c.SyncSettings.AutoPullOnStartup {
			continue
		}
		res, err := a.GitPull(ctx, c.VaultID)
		if err != nil {
			a.logger.Warn("startup pull failed", "vault", c.VaultName, "error", err)
			continue
		}
		a.logger.Info("startup pull", "vault", c.VaultName, "outcome", string(res.Outcome), "files", res.UpdatedFiles)
	}
}

// autoSyncPass runs whatever automatic sync is due.
func (a *App) autoSyncPass(ctx context.Context, s *scheduler) {
	now := a.clock.Now()

	cloudInterval := time.Duration(a.cfg.Sync.SyncIntervalMinutes) * time.Minute
	if a.cfg.Sync.AutoSync && a.cfg.Sync.Provider != "local" && now.Sub(s.lastCloud) >= cloudInterval {
		s.lastCloud = now
		a.cloudAutoSync(ctx)
	}

	for _, c := range a.gitVaults() {
		if !c.SyncSettings.AutoSyncEnabled {
			continue
		}
		interval := time.Duration(c.SyncSettings.AutoSyncInterval) * time.Minute
		if last, ok := s.lastGit[c.VaultID]; ok && now.Sub(last) < interval {
			continue
		}
		if a.creds.IsVaultSyncing(c.VaultID) {
			a.logger.Debug("skipping busy vault", "vault", c.VaultName)
			continue
		}
		s.lastGit[c.VaultID] = now
		a.gitAutoSync(ctx, c)
	}
}

func (a *App) cloudAutoSync(ctx context.Context) {
	var res cloudsync.SyncResult
	err := a.track(mdsync.OpCloudSync, "", func() (string, string) {
		res = a.cloud.AutoSync(ctx, a.tabs.Snapshot(), a.cfg.Sync.BackupEnabled, a.cfg.Sync.BackupRetentionDays)
		return string(res.Outcome), resultMessage(res.Error, syncSummary(res))
	})
	if err != nil {
		a.logger.Error("recording cloud sync failed", "error", err)
	}
	switch res.Outcome {
	case cloudsync.OutcomeConflict, cloudsync.OutcomePaused:
		a.logger.Warn("cloud auto-sync paused; resolve with cloud sync --force or cloud load --resolve")
	case cloudsync.OutcomeFailure:
		a.logger.Warn("cloud auto-sync failed", "error", res.Error)
	}
}

func (a *App) gitAutoSync(ctx context.Context, c credstore.VaultConfig) {
	v, err := a.registry.Vault(c.VaultID)
	if err != nil {
		return
	}
	if a.pullOnly(v.Ref(), c.SyncSettings) {
		res, err := a.GitPull(ctx, v.ID)
		if errors.Is(err, mdsync.ErrVaultBusy) {
			return
		}
		a.logGitResult(v.Name, "pull", string(res.Outcome), res.Error, err)
		return
	}
	res, err := a.GitSync(ctx, v.ID)
	if errors.Is(err, mdsync.ErrVaultBusy) {
		return
	}
	a.logGitResult(v.Name, "sync", string(res.Outcome), res.Error, err)
}

func (a *App) logGitResult(vault, op, outcome, msg string, err error) {
	switch {
	case err != nil:
		a.logger.Error("git auto-"+op+" failed", "vault", vault, "error", err)
	case outcome == string(gitsync.OutcomeSuccess):
		a.logger.Info("git auto-"+op, "vault", vault)
	default:
		a.logger.Warn("git auto-"+op+" did not complete", "vault", vault, "outcome", outcome, "error", msg)
	}
}
