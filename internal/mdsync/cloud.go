package mdsync

import (
	"context"
	"time"
)

// RemoteFile is a file or folder in a cloud backend.
type RemoteFile struct {
	ID           string
	Name         string
	ModifiedTime time.Time
	Size         int64
}

// CloudBackend stores the canonical document and its backups.
// Folder and file identifiers are opaque to callers.
type CloudBackend interface {
	// FindOrCreateFolder returns the id of the folder called name under
	// parentID (the backend root when parentID is empty).
	FindOrCreateFolder(ctx context.Context, name, parentID string) (string, error)

	// FindFile looks a file up by name. An empty folderID searches the whole
	// backend and returns the most recently modified match.
	// Returns nil, nil when nothing matches.
	FindFile(ctx context.Context, name, folderID string) (*RemoteFile, error)

	// FileStatus returns current metadata. Fails with ErrNotFound.
	FileStatus(ctx context.Context, id string) (*RemoteFile, error)

	// Download returns the file contents. Fails with ErrNotFound.
	Download(ctx context.Context, id string) ([]byte, error)

	Create(ctx context.Context, name, folderID string, data []byte) (*RemoteFile, error)
	Update(ctx context.Context, id string, data []byte) (*RemoteFile, error)
	Copy(ctx context.Context, id, name, folderID string) (*RemoteFile, error)

	// List returns files in folderID whose names start with prefix,
	// ordered by name descending.
	List(ctx context.Context, folderID, prefix string) ([]RemoteFile, error)

	Delete(ctx context.Context, id string) error
}
