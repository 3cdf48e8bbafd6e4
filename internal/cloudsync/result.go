package cloudsync

import (
	"encoding/json"
	"time"

	"mdsync/internal/mdsync"
)

// Outcome tags the result of a cloud operation.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeConflict Outcome = "conflict"
	OutcomeFailure  Outcome = "failure"
	// OutcomeNoData means there is no remote document to act on.
	OutcomeNoData Outcome = "no-data"
	// OutcomePaused means automatic sync is paused by an unresolved conflict.
	OutcomePaused Outcome = "paused"
)

// UpdateStatus is the answer of CheckForUpdates.
type UpdateStatus string

const (
	UpToDate    UpdateStatus = "up-to-date"
	CloudNewer  UpdateStatus = "cloud-newer"
	NoCloudFile UpdateStatus = "no-cloud-file"
	UpdateError UpdateStatus = "error"
)

// SyncResult reports a push of the local document.
type SyncResult struct {
	Outcome Outcome
	// Migrated is set when a legacy file was copied into the folder layout.
	Migrated bool
	// Backup names the dated backup created before the write.
	Backup         string
	BackupsDeleted int
	ModifiedTime   time.Time
	// ConflictCloudTime is the remote modification time that caused a conflict.
	ConflictCloudTime *time.Time
	Kind              mdsync.RemoteKind
	Error             string
}

// LoadResult reports a fetch of the remote document.
type LoadResult struct {
	Outcome Outcome
	Data    json.RawMessage
	Kind    mdsync.RemoteKind
	Error   string
}

// BackupResult reports a manual backup.
type BackupResult struct {
	Outcome           Outcome
	Name              string
	ConflictCloudTime *time.Time
	Kind              mdsync.RemoteKind
	Error             string
}

// Backup is one entry of the backup folder.
type Backup struct {
	ID   string
	Name string
	// Date is the YYYY-MM-DD part of a daily backup name, or the full name.
	Date         string
	ModifiedTime time.Time
}

func syncFailure(err error) SyncResult {
	return SyncResult{Outcome: OutcomeFailure, Kind: mdsync.RemoteKindOf(err), Error: mdsync.RemoteMessage(err)}
}

func loadFailure(err error) LoadResult {
	return LoadResult{Outcome: OutcomeFailure, Kind: mdsync.RemoteKindOf(err), Error: mdsync.RemoteMessage(err)}
}

func backupFailure(err error) BackupResult {
	return BackupResult{Outcome: OutcomeFailure, Kind: mdsync.RemoteKindOf(err), Error: mdsync.RemoteMessage(err)}
}
