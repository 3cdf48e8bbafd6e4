package cloudsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"mdsync/internal/mdsync"
)

const (
	backupPrefix      = "backup-"
	dateLayout        = "2006-01-02"
	manualStampLayout = "2006-01-02T15-04-05"
)

var dailyBackupPattern = regexp.MustCompile(`backup-(\d{4}-\d{2}-\d{2})\.json`)

// encodeDocument pretty-prints the document. Raw JSON is re-indented.
func encodeDocument(data any) ([]byte, error) {
	var raw []byte
	switch v := data.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		b, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encoding document: %w", err)
		}
		return b, nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	return buf.Bytes(), nil
}

// requireTokenLocked fails when there is no usable token. A token that
// expired during the session is dropped here.
func (e *Engine) requireTokenLocked() error {
	if e.opts.BackendAuth {
		return nil
	}
	if e.token != "" && !e.clock.Now().Before(e.expiry) {
		if err := e.clearAuthLocked(false); err != nil {
			return err
		}
	}
	if e.token == "" {
		return &mdsync.RemoteError{Kind: mdsync.RemoteAuth, Message: "Not signed in to Google", Err: mdsync.ErrUnauthenticated}
	}
	return nil
}

// noteErrorLocked invalidates the token on an authentication failure.
func (e *Engine) noteErrorLocked(op string, err error) {
	e.logger.Error(op+" failed", "error", err)
	if errors.Is(err, mdsync.ErrUnauthenticated) && e.token != "" {
		if cerr := e.clearAuthLocked(false); cerr != nil {
			e.logger.Warn("clearing rejected token failed", "error", cerr)
		}
	}
}

func (e *Engine) ensureFoldersLocked(ctx context.Context) error {
	dep := e.opts.Deployment
	if e.folderID == "" {
		id, err := e.backend.FindOrCreateFolder(ctx, FolderName(dep), "")
		if err != nil {
			return fmt.Errorf("preparing sync folder: %w", err)
		}
		if err := e.putString(folderIDKey(dep), id); err != nil {
			return fmt.Errorf("saving sync folder id: %w", err)
		}
		e.folderID = id
	}
	if e.backupFolderID == "" {
		id, err := e.backend.FindOrCreateFolder(ctx, BackupFolderName, e.folderID)
		if err != nil {
			return fmt.Errorf("preparing backup folder: %w", err)
		}
		if err := e.putString(backupFolderKey(dep), id); err != nil {
			return fmt.Errorf("saving backup folder id: %w", err)
		}
		e.backupFolderID = id
	}
	return nil
}

// migrateLocked copies the legacy single file into the folder layout when
// the folder has no document yet. The legacy file is left in place.
func (e *Engine) migrateLocked(ctx context.Context) (bool, error) {
	existing, err := e.backend.FindFile(ctx, DataFileName, e.folderID)
	if err != nil || existing != nil {
		return false, err
	}
	legacy, err := e.backend.FindFile(ctx, LegacyFileName(e.opts.Deployment), "")
	if err != nil || legacy == nil {
		return false, err
	}
	data, err := e.backend.Download(ctx, legacy.ID)
	if err != nil {
		return false, fmt.Errorf("reading legacy file: %w", err)
	}
	f, err := e.backend.Create(ctx, DataFileName, e.folderID, data)
	if err != nil {
		return false, fmt.Errorf("copying legacy file: %w", err)
	}
	if err := e.setFileIDLocked(f.ID); err != nil {
		return false, err
	}
	e.logger.Info("migrated legacy cloud file", "legacy_id", legacy.ID, "file_id", f.ID)
	return true, nil
}

// checkRemoteLocked reports whether the remote file changed after the last
// recorded sync.
func (e *Engine) checkRemoteLocked(ctx context.Context, id string) (time.Time, bool, error) {
	status, err := e.backend.FileStatus(ctx, id)
	if err != nil {
		return time.Time{}, false, err
	}
	last := e.state.LastCloudModified
	return status.ModifiedTime, last != nil && status.ModifiedTime.After(*last), nil
}

func (e *Engine) today() string {
	return e.clock.Now().UTC().Format(dateLayout)
}

// createDailyBackupLocked copies the document into today's backup unless
// that backup already exists.
func (e *Engine) createDailyBackupLocked(ctx context.Context, sourceID string) (string, error) {
	name := backupPrefix + e.today() + ".json"
	existing, err := e.backend.FindFile(ctx, name, e.backupFolderID)
	if err != nil {
		return "", err
	}
	created := ""
	if existing == nil {
		if _, err := e.backend.Copy(ctx, sourceID, name, e.backupFolderID); err != nil {
			return "", err
		}
		created = name
	}
	if err := e.putString(lastBackupKey(e.opts.Deployment), e.today()); err != nil {
		return "", fmt.Errorf("saving backup date: %w", err)
	}
	return created, nil
}

func (e *Engine) listBackupsLocked(ctx context.Context) ([]Backup, error) {
	files, err := e.backend.List(ctx, e.backupFolderID, backupPrefix)
	if err != nil {
		return nil, fmt.Errorf("listing backups: %w", err)
	}
	out := make([]Backup, 0, len(files))
	for _, f := range files {
		date := f.Name
		if m := dailyBackupPattern.FindStringSubmatch(f.Name); m != nil {
			date = m[1]
		}
		out = append(out, Backup{ID: f.ID, Name: f.Name, Date: date, ModifiedTime: f.ModifiedTime})
	}
	return out, nil
}

// cleanupLocked deletes daily backups dated before now - retentionDays.
// Manual backups carry no parseable date and are kept.
func (e *Engine) cleanupLocked(ctx context.Context, retentionDays int) (int, error) {
	backups, err := e.listBackupsLocked(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := e.clock.Now().AddDate(0, 0, -retentionDays)
	deleted := 0
	for _, b := range backups {
		date, err := time.Parse(dateLayout, b.Date)
		if err != nil || !date.Before(cutoff) {
			continue
		}
		if err := e.backend.Delete(ctx, b.ID); err != nil {
			e.logger.Warn("deleting old backup failed", "name", b.Name, "error", err)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		e.logger.Info("deleted old backups", "count", deleted, "retention_days", retentionDays)
	}
	return deleted, nil
}

// SyncWithBackup writes data as the canonical remote document. Unless force
// is set, a remote document modified after the last recorded sync is left
// untouched and a conflict is reported; the conflict also pauses automatic
// sync. With backups enabled the first sync of each day copies the current
// remote document into the backup folder and prunes backups older than
// retentionDays.
func (e *Engine) SyncWithBackup(ctx context.Context, data any, backupEnabled bool, retentionDays int, force bool) SyncResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureLoadedLocked(); err != nil {
		return syncFailure(err)
	}
	return e.syncLocked(ctx, data, backupEnabled, retentionDays, force)
}

func (e *Engine) syncLocked(ctx context.Context, data any, backupEnabled bool, retentionDays int, force bool) SyncResult {
	content, err := encodeDocument(data)
	if err != nil {
		return syncFailure(err)
	}
	if err := e.requireTokenLocked(); err != nil {
		return syncFailure(err)
	}
	if err := e.ensureFoldersLocked(ctx); err != nil {
		e.noteErrorLocked("cloud sync", err)
		return syncFailure(err)
	}

	var res SyncResult
	res.Migrated, err = e.migrateLocked(ctx)
	if err != nil {
		if errors.Is(err, mdsync.ErrUnauthenticated) {
			e.noteErrorLocked("cloud sync", err)
			return syncFailure(err)
		}
		e.logger.Warn("legacy migration failed", "error", err)
	}

	existing, err := e.backend.FindFile(ctx, DataFileName, e.folderID)
	if err != nil {
		e.noteErrorLocked("cloud sync", err)
		return syncFailure(err)
	}

	if existing != nil && !force {
		remote, newer, err := e.checkRemoteLocked(ctx, existing.ID)
		if err != nil {
			e.noteErrorLocked("cloud sync", err)
			return syncFailure(fmt.Errorf("checking file status: %w", err))
		}
		if newer {
			e.logger.Warn("cloud conflict detected", "remote_modified", remote, "last_synced", *e.state.LastCloudModified)
			if err := e.markConflictLocked(remote); err != nil {
				return syncFailure(err)
			}
			return SyncResult{
				Outcome:           OutcomeConflict,
				Migrated:          res.Migrated,
				ConflictCloudTime: &remote,
				Kind:              mdsync.RemoteConflict,
				Error:             "remote document changed since the last sync",
			}
		}
	}

	if backupEnabled && existing != nil {
		last, err := e.getString(lastBackupKey(e.opts.Deployment))
		if err != nil {
			return syncFailure(fmt.Errorf("loading backup date: %w", err))
		}
		if last != e.today() {
			if res.Backup, err = e.createDailyBackupLocked(ctx, existing.ID); err != nil {
				e.logger.Warn("daily backup failed", "error", err)
			} else if res.BackupsDeleted, err = e.cleanupLocked(ctx, retentionDays); err != nil {
				e.logger.Warn("backup cleanup failed", "error", err)
			}
		}
	}

	var written *mdsync.RemoteFile
	if existing != nil {
		written, err = e.backend.Update(ctx, existing.ID, content)
	} else {
		written, err = e.backend.Create(ctx, DataFileName, e.folderID, content)
	}
	if err != nil {
		e.noteErrorLocked("cloud sync", err)
		return syncFailure(err)
	}
	if err := e.setFileIDLocked(written.ID); err != nil {
		return syncFailure(err)
	}

	now := e.clock.Now()
	modified := written.ModifiedTime
	e.state.LastCloudModified = &modified
	e.state.LastSyncTime = &now
	if force {
		e.state.HasConflict = false
		e.state.ConflictCloudTime = nil
		e.state.AutoSyncPaused = false
	}
	if err := e.saveStateLocked(); err != nil {
		return syncFailure(err)
	}

	e.logger.Info("cloud sync complete", "file_id", written.ID, "forced", force, "bytes", len(content))
	res.Outcome = OutcomeSuccess
	res.ModifiedTime = modified
	return res
}

// Load fetches the remote document and records its modification time as
// the new baseline. A remote file that disappeared clears the stored
// reference.
func (e *Engine) Load(ctx context.Context) LoadResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureLoadedLocked(); err != nil {
		return loadFailure(err)
	}
	return e.loadLocked(ctx)
}

func (e *Engine) loadLocked(ctx context.Context) LoadResult {
	if err := e.requireTokenLocked(); err != nil {
		return loadFailure(err)
	}
	if e.fileID == "" {
		f, err := e.findExistingLocked(ctx)
		if err != nil {
			e.noteErrorLocked("cloud load", err)
			return loadFailure(err)
		}
		if f == nil {
			return LoadResult{Outcome: OutcomeNoData, Error: "no cloud document"}
		}
		if err := e.setFileIDLocked(f.ID); err != nil {
			return loadFailure(err)
		}
	}

	data, err := e.backend.Download(ctx, e.fileID)
	if errors.Is(err, mdsync.ErrNotFound) {
		e.logger.Warn("cloud document disappeared", "file_id", e.fileID)
		if err := e.setFileIDLocked(""); err != nil {
			return loadFailure(err)
		}
		return LoadResult{Outcome: OutcomeNoData, Error: "no cloud document"}
	}
	if err != nil {
		e.noteErrorLocked("cloud load", err)
		return loadFailure(err)
	}
	if !json.Valid(data) {
		return LoadResult{Outcome: OutcomeFailure, Error: "cloud document is not valid JSON"}
	}

	if status, err := e.backend.FileStatus(ctx, e.fileID); err != nil {
		e.logger.Warn("updating cloud modified time after load failed", "error", err)
	} else {
		e.state.LastCloudModified = &status.ModifiedTime
	}
	now := e.clock.Now()
	e.state.LastSyncTime = &now
	if err := e.saveStateLocked(); err != nil {
		return loadFailure(err)
	}
	return LoadResult{Outcome: OutcomeSuccess, Data: data}
}

// CheckForUpdates compares the remote modification time with the last
// recorded one. The first check only records the baseline. A newer remote
// marks a conflict and pauses automatic sync.
func (e *Engine) CheckForUpdates(ctx context.Context) (UpdateStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureLoadedLocked(); err != nil {
		return UpdateError, err
	}
	return e.checkForUpdatesLocked(ctx)
}

func (e *Engine) checkForUpdatesLocked(ctx context.Context) (UpdateStatus, error) {
	if err := e.requireTokenLocked(); err != nil {
		return UpdateError, err
	}
	if err := e.ensureFoldersLocked(ctx); err != nil {
		e.noteErrorLocked("cloud update check", err)
		return UpdateError, err
	}
	existing, err := e.backend.FindFile(ctx, DataFileName, e.folderID)
	if err != nil {
		e.noteErrorLocked("cloud update check", err)
		return UpdateError, err
	}
	if existing == nil {
		return NoCloudFile, nil
	}
	remote, newer, err := e.checkRemoteLocked(ctx, existing.ID)
	if err != nil {
		e.noteErrorLocked("cloud update check", err)
		return UpdateError, err
	}
	if e.state.LastCloudModified == nil {
		e.state.LastCloudModified = &remote
		return UpToDate, e.saveStateLocked()
	}
	if newer {
		return CloudNewer, e.markConflictLocked(remote)
	}
	return UpToDate, nil
}

// AutoSync is the background variant of SyncWithBackup. It does nothing
// while paused and never resolves a conflict on its own.
func (e *Engine) AutoSync(ctx context.Context, data any, backupEnabled bool, retentionDays int) SyncResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureLoadedLocked(); err != nil {
		return syncFailure(err)
	}
	if e.state.AutoSyncPaused {
		return SyncResult{Outcome: OutcomePaused, ConflictCloudTime: e.state.ConflictCloudTime}
	}
	status, err := e.checkForUpdatesLocked(ctx)
	if status == CloudNewer {
		return SyncResult{Outcome: OutcomeConflict, ConflictCloudTime: e.state.ConflictCloudTime, Kind: mdsync.RemoteConflict}
	}
	if err != nil {
		e.logger.Warn("pre-sync update check failed", "error", err)
	}
	return e.syncLocked(ctx, data, backupEnabled, retentionDays, false)
}

// ResolveWithCloud discards local state: it loads the remote document and
// clears the conflict.
func (e *Engine) ResolveWithCloud(ctx context.Context) LoadResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureLoadedLocked(); err != nil {
		return loadFailure(err)
	}
	res := e.loadLocked(ctx)
	if res.Outcome == OutcomeSuccess {
		if err := e.clearConflictLocked(); err != nil {
			return loadFailure(err)
		}
	}
	return res
}

// ResolveWithLocal force-pushes data over the remote document and clears
// the conflict.
func (e *Engine) ResolveWithLocal(ctx context.Context, data any, backupEnabled bool, retentionDays int) SyncResult {
	return e.SyncWithBackup(ctx, data, backupEnabled, retentionDays, true)
}

// ManualBackup copies the remote document into a timestamped backup. It
// refuses when the remote changed since the last sync.
func (e *Engine) ManualBackup(ctx context.Context) BackupResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureLoadedLocked(); err != nil {
		return backupFailure(err)
	}
	if err := e.requireTokenLocked(); err != nil {
		return backupFailure(err)
	}
	if err := e.ensureFoldersLocked(ctx); err != nil {
		e.noteErrorLocked("manual backup", err)
		return backupFailure(err)
	}
	existing, err := e.backend.FindFile(ctx, DataFileName, e.folderID)
	if err != nil {
		e.noteErrorLocked("manual backup", err)
		return backupFailure(err)
	}
	if existing == nil {
		return BackupResult{Outcome: OutcomeNoData, Error: "No cloud data to backup. Please sync first."}
	}

	remote, newer, err := e.checkRemoteLocked(ctx, existing.ID)
	if err != nil {
		e.noteErrorLocked("manual backup", err)
		return backupFailure(err)
	}
	if newer {
		if err := e.markConflictLocked(remote); err != nil {
			return backupFailure(err)
		}
		return BackupResult{Outcome: OutcomeConflict, ConflictCloudTime: &remote, Kind: mdsync.RemoteConflict}
	}

	name := backupPrefix + e.clock.Now().UTC().Format(manualStampLayout) + ".json"
	if _, err := e.backend.Copy(ctx, existing.ID, name, e.backupFolderID); err != nil {
		e.noteErrorLocked("manual backup", err)
		return backupFailure(fmt.Errorf("creating backup: %w", err))
	}
	e.logger.Info("manual backup created", "name", name)
	return BackupResult{Outcome: OutcomeSuccess, Name: name}
}

// ListBackups re-reads the backup folder, newest name first.
func (e *Engine) ListBackups(ctx context.Context) ([]Backup, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureLoadedLocked(); err != nil {
		return nil, err
	}
	if err := e.requireTokenLocked(); err != nil {
		return nil, err
	}
	if err := e.ensureFoldersLocked(ctx); err != nil {
		e.noteErrorLocked("listing backups", err)
		return nil, err
	}
	backups, err := e.listBackupsLocked(ctx)
	if err != nil {
		e.noteErrorLocked("listing backups", err)
	}
	return backups, err
}

// CleanupBackups deletes daily backups older than retentionDays.
func (e *Engine) CleanupBackups(ctx context.Context, retentionDays int) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureLoadedLocked(); err != nil {
		return 0, err
	}
	if err := e.requireTokenLocked(); err != nil {
		return 0, err
	}
	if err := e.ensureFoldersLocked(ctx); err != nil {
		return 0, err
	}
	return e.cleanupLocked(ctx, retentionDays)
}

// RestoreFromBackup returns the contents of a backup. It does not touch
// the canonical document.
func (e *Engine) RestoreFromBackup(ctx context.Context, id string) (json.RawMessage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureLoadedLocked(); err != nil {
		return nil, err
	}
	if err := e.requireTokenLocked(); err != nil {
		return nil, err
	}
	data, err := e.backend.Download(ctx, id)
	if err != nil {
		e.noteErrorLocked("restore from backup", err)
		return nil, fmt.Errorf("failed to restore from backup: %w", err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("backup %s is not valid JSON", id)
	}
	return data, nil
}
