package mdsync

import "time"

// KVStore is a small string-keyed document store for settings, credentials
// and cached remote state. Get returns nil, nil for a missing key.
type KVStore interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Delete(key string) error
}

// HandleRecord is a persisted directory capability.
type HandleRecord struct {
	ID         string
	Name       string
	Locator    string
	AddedAt    time.Time
	LastOpened time.Time
}

// HandleStore persists vault handles across restarts. It must tolerate
// concurrent reads while several vaults reconnect.
type HandleStore interface {
	SaveHandle(rec *HandleRecord) error
	// FindHandle returns nil, nil when id is unknown.
	FindHandle(id string) (*HandleRecord, error)
	ListHandles() ([]*HandleRecord, error)
	DeleteHandle(id string) error
	TouchHandle(id string, at time.Time) error
}

// Sync operation kinds recorded in history.
const (
	OpGitSync   = "git_sync"
	OpGitPull   = "git_pull"
	OpGitPush   = "git_push"
	OpGitCommit = "git_commit"
	OpCloudSync = "cloud_sync"
	OpCloudLoad = "cloud_load"
)

// Sync operation statuses.
const (
	OpRunning  = "running"
	OpSuccess  = "success"
	OpConflict = "conflict"
	OpFailed   = "failed"
)

// SyncOperation is one recorded sync-affecting operation.
type SyncOperation struct {
	ID         int64
	VaultID    string // empty for cloud operations
	Kind       string
	Status     string
	Message    string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// HistoryStore records sync operations.
type HistoryStore interface {
	CreateSyncOperation(vaultID, kind string, startedAt time.Time) (*SyncOperation, error)
	FinishSyncOperation(id int64, status, message string, finishedAt time.Time) error
	// LastSuccessfulSync returns nil, nil when the vault never synced.
	LastSuccessfulSync(vaultID, kind string) (*time.Time, error)
	ListSyncOperations(vaultID string, limit int) ([]*SyncOperation, error)
}

// Database bundles the persistent stores behind one connection.
type Database interface {
	KVStore
	HandleStore
	HistoryStore

	// CheckMigrations verifies the schema is up to date.
	CheckMigrations() error
	Close() error
}
