package app

import (
	"context"
	"fmt"
	"time"

	"mdsync/internal/cloud"
	"mdsync/internal/cloudsync"
	"mdsync/internal/mdsync"
)

// CloudAuthURL starts an interactive sign-in.
func (a *App) CloudAuthURL() (string, error) {
	return a.cloud.AuthURL()
}

// CloudCallback completes sign-in from the redirect URL or its fragment.
func (a *App) CloudCallback(ctx context.Context, redirect string) (*cloud.UserInfo, error) {
	return a.cloud.HandleCallback(ctx, redirect)
}

// CloudSetClientID stores the OAuth client id.
func (a *App) CloudSetClientID(id string) error {
	return a.cloud.SetClientID(id)
}

// CloudStatus reports sign-in and conflict state. Stored credentials are
// loaded and silently refreshed when possible.
func (a *App) CloudStatus(ctx context.Context) (cloudsync.Status, error) {
	if err := a.cloud.Initialize(ctx); err != nil {
		return cloudsync.Status{}, err
	}
	return a.cloud.Status()
}

// CloudSignOut forgets the token, identity and file references.
func (a *App) CloudSignOut() error {
	return a.cloud.SignOut()
}

// CloudClearConflict clears the conflict flag without resolving it.
func (a *App) CloudClearConflict() error {
	return a.cloud.ClearConflict()
}

// CloudClearSyncFile forgets the remote file reference.
func (a *App) CloudClearSyncFile() error {
	return a.cloud.ClearSyncFile()
}

// CloudSync uploads the tab document. force overwrites a newer remote
// document, resolving a conflict in favor of local data.
func (a *App) CloudSync(ctx context.Context, force bool) (cloudsync.SyncResult, error) {
	if err := a.cloud.Initialize(ctx); err != nil {
		return cloudsync.SyncResult{}, err
	}
	var res cloudsync.SyncResult
	err := a.track(mdsync.OpCloudSync, "", func() (string, string) {
		doc := a.tabs.Snapshot()
		if force {
			res = a.cloud.ResolveWithLocal(ctx, doc, a.cfg.Sync.BackupEnabled, a.cfg.Sync.BackupRetentionDays)
		} else {
			res = a.cloud.SyncWithBackup(ctx, doc, a.cfg.Sync.BackupEnabled, a.cfg.Sync.BackupRetentionDays, false)
		}
		return string(res.Outcome), resultMessage(res.Error, syncSummary(res))
	})
	return res, err
}

func syncSummary(res cloudsync.SyncResult) string {
	switch res.Outcome {
	case cloudsync.OutcomeConflict:
		if res.ConflictCloudTime != nil {
			return "cloud modified at " + res.ConflictCloudTime.UTC().Format(time.RFC3339)
		}
		return "cloud document is newer"
	case cloudsync.OutcomePaused:
		return "auto-sync paused by a conflict"
	}
	msg := "uploaded"
	if res.Backup != "" {
		msg += ", backup " + res.Backup
	}
	if res.BackupsDeleted > 0 {
		msg += fmt.Sprintf(", %d old backups deleted", res.BackupsDeleted)
	}
	return msg
}

// CloudLoad replaces the local tabs with the remote document. With
// resolve set it also clears a pending conflict.
func (a *App) CloudLoad(ctx context.Context, resolve bool) (cloudsync.LoadResult, error) {
	if err := a.cloud.Initialize(ctx); err != nil {
		return cloudsync.LoadResult{}, err
	}
	var res cloudsync.LoadResult
	var replaceErr error
	err := a.track(mdsync.OpCloudLoad, "", func() (string, string) {
		if resolve {
			res = a.cloud.ResolveWithCloud(ctx)
		} else {
			res = a.cloud.Load(ctx)
		}
		if res.Outcome != cloudsync.OutcomeSuccess {
			return string(res.Outcome), resultMessage(res.Error, "no cloud document")
		}
		if replaceErr = a.tabs.Replace(res.Data); replaceErr != nil {
			return "failure", replaceErr.Error()
		}
		a.binder.Clear()
		return "success", fmt.Sprintf("%d tabs loaded", len(a.tabs.Tabs()))
	})
	if replaceErr != nil {
		return res, fmt.Errorf("applying cloud document: %w", replaceErr)
	}
	return res, err
}

// CloudCheck asks whether the remote document changed since the last sync.
func (a *App) CloudCheck(ctx context.Context) (cloudsync.UpdateStatus, error) {
	if err := a.cloud.Initialize(ctx); err != nil {
		return cloudsync.UpdateError, err
	}
	return a.cloud.CheckForUpdates(ctx)
}

// CloudBackup creates a timestamped backup of the remote document.
func (a *App) CloudBackup(ctx context.Context) (cloudsync.BackupResult, error) {
	if err := a.cloud.Initialize(ctx); err != nil {
		return cloudsync.BackupResult{}, err
	}
	return a.cloud.ManualBackup(ctx), nil
}

// CloudBackups lists the backup folder, newest first.
func (a *App) CloudBackups(ctx context.Context) ([]cloudsync.Backup, error) {
	if err := a.cloud.Initialize(ctx); err != nil {
		return nil, err
	}
	return a.cloud.ListBackups(ctx)
}

// CloudCleanupBackups applies the configured retention now.
func (a *App) CloudCleanupBackups(ctx context.Context) (int, error) {
	if err := a.cloud.Initialize(ctx); err != nil {
		return 0, err
	}
	return a.cloud.CleanupBackups(ctx, a.cfg.Sync.BackupRetentionDays)
}

// CloudRestore replaces the local tabs with a backup. The remote document
// is left alone until the next sync.
func (a *App) CloudRestore(ctx context.Context, backupID string) error {
	if err := a.cloud.Initialize(ctx); err != nil {
		return err
	}
	data, err := a.cloud.RestoreFromBackup(ctx, backupID)
	if err != nil {
		return err
	}
	if err := a.tabs.Replace(data); err != nil {
		return fmt.Errorf("applying backup: %w", err)
	}
	a.binder.Clear()
	a.logger.Info("restored from backup", "backup", backupID)
	return nil
}
