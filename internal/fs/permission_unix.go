//go:build unix

package fs

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"mdsync/internal/mdsync"
)

// accessState maps access(2) on the directory to a permission state.
// A missing directory is denied; one that exists but refuses read, write or
// traversal needs the user to fix access and re-grant.
func accessState(path string) (mdsync.PermissionState, error) {
	err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK)
	switch {
	case err == nil:
		return mdsync.PermissionGranted, nil
	case errors.Is(err, unix.ENOENT), errors.Is(err, unix.ENOTDIR):
		return mdsync.PermissionDenied, nil
	case errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM), errors.Is(err, unix.EROFS):
		return mdsync.PermissionPrompt, nil
	default:
		return mdsync.PermissionDenied, fmt.Errorf("checking access to %s: %w", path, err)
	}
}
