package mdsync

import "time"

// PermissionState is the access state of a directory capability.
type PermissionState string

const (
	PermissionGranted PermissionState = "granted"
	PermissionPrompt  PermissionState = "prompt"
	PermissionDenied  PermissionState = "denied"
)

// EntryKind distinguishes files from directories in a listing.
type EntryKind int

const (
	KindFile EntryKind = iota
	KindDirectory
)

func (k EntryKind) String() string {
	if k == KindDirectory {
		return "directory"
	}
	return "file"
}

// DirEntry is one child of a directory handle.
type DirEntry struct {
	Name string
	Kind EntryKind
}

// FileInfo describes a file behind a FileHandle.
type FileInfo struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// DirHandle is a capability granting access to one directory tree.
// Child lookups fail with an error matching ErrNotFound when the entry is
// missing or has the other kind.
type DirHandle interface {
	// Name is the directory's own name (the leaf of its path).
	Name() string

	// Locator identifies the underlying directory so a handle store can
	// reopen it after a restart.
	Locator() string

	// QueryPermission reports the current access state without prompting.
	QueryPermission() (PermissionState, error)

	// RequestPermission asks for access, possibly interactively.
	RequestPermission() (PermissionState, error)

	// Dir returns the child directory, creating it when create is set.
	Dir(name string, create bool) (DirHandle, error)

	// File returns the child file, creating an empty one when create is set.
	File(name string, create bool) (FileHandle, error)

	// Entries lists direct children in no particular order.
	Entries() ([]DirEntry, error)

	// RemoveEntry deletes a child. Non-empty directories require recursive.
	RemoveEntry(name string, recursive bool) error
}

// FileHandle is a capability for a single file.
type FileHandle interface {
	Name() string
	Read() ([]byte, error)
	// Write replaces the file's contents.
	Write(data []byte) error
	Stat() (FileInfo, error)
}

// HandleOpener reopens a persisted handle from its locator.
type HandleOpener interface {
	Open(locator string) (DirHandle, error)
}

// VaultRef identifies a vault to the sync engines: its stable id, display
// name and root directory.
type VaultRef struct {
	ID   string
	Name string
	Root DirHandle
}
