//go:build !unix

package fs

import (
	"errors"
	"io/fs"
	"os"

	"mdsync/internal/mdsync"
)

func accessState(path string) (mdsync.PermissionState, error) {
	f, err := os.Open(path)
	switch {
	case err == nil:
		f.Close()
		return mdsync.PermissionGranted, nil
	case errors.Is(err, fs.ErrNotExist):
		return mdsync.PermissionDenied, nil
	case errors.Is(err, fs.ErrPermission):
		return mdsync.PermissionPrompt, nil
	default:
		return mdsync.PermissionDenied, err
	}
}
