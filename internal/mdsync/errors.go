package mdsync

import (
	"errors"
	"fmt"
	"io/fs"
)

var (
	// ErrNotFound marks lookups of entries that do not exist. It is the same
	// value as fs.ErrNotExist so os.IsNotExist and errors.Is both match.
	ErrNotFound = fs.ErrNotExist

	// ErrPermissionDenied marks access that was refused or revoked.
	ErrPermissionDenied = fs.ErrPermission

	ErrConflict        = errors.New("concurrent modification detected")
	ErrUnauthenticated = errors.New("credentials missing or expired")
	ErrNotConfigured   = errors.New("not configured")
	ErrDuplicateVault  = errors.New("vault with this name is already open")
	ErrVaultBusy       = errors.New("vault has a sync operation in progress")
)

// RemoteKind classifies failures that happen at a transport boundary.
type RemoteKind string

const (
	RemoteEmpty    RemoteKind = "empty_remote"
	RemoteNotFound RemoteKind = "not_found"
	RemoteAuth     RemoteKind = "auth"
	RemoteConflict RemoteKind = "conflict"
	RemoteNetwork  RemoteKind = "network"
	RemoteAPI      RemoteKind = "api"
)

// RemoteError is the single structured error produced by every transport:
// git smart HTTP, the hosting API, and the cloud storage APIs.
type RemoteError struct {
	Kind       RemoteKind
	StatusCode int
	Message    string
	Err        error
}

func (e *RemoteError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Is lets callers branch on the generic sentinels.
func (e *RemoteError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == RemoteNotFound
	case ErrUnauthenticated:
		return e.Kind == RemoteAuth
	case ErrConflict:
		return e.Kind == RemoteConflict
	}
	return false
}

// RemoteKindOf returns the classification of err, or "" when err did not
// come from a transport.
func RemoteKindOf(err error) RemoteKind {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}

// RemoteMessage returns the remote's own message when available, falling
// back to err.Error().
func RemoteMessage(err error) string {
	var re *RemoteError
	if errors.As(err, &re) && re.Message != "" {
		return re.Message
	}
	return err.Error()
}
