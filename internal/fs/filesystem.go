package fs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"mdsync/internal/mdsync"
)

// OSDir is a DirHandle backed by a real directory.
type OSDir struct {
	path string
}

var _ mdsync.DirHandle = (*OSDir)(nil)

// OpenDir validates rawPath and returns a handle for it.
// Symlinks, devices and other special files are rejected.
func OpenDir(rawPath string) (*OSDir, error) {
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return nil, fmt.Errorf("resolving absolute path: %w", err)
	}

	info, err := os.Lstat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat path: %w", err)
	}

	if info.Mode()&os.ModeSymlink != 0 {
		return nil, fmt.Errorf("symlinks not supported: %s", absPath)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", absPath)
	}

	return &OSDir{path: absPath}, nil
}

// Opener reopens persisted OS handles by locator.
type Opener struct{}

var _ mdsync.HandleOpener = Opener{}

// Open returns a handle for the directory at locator without requiring it to
// exist, so that a missing directory surfaces as a denied permission instead
// of a failed reconnection.
func (Opener) Open(locator string) (mdsync.DirHandle, error) {
	if !filepath.IsAbs(locator) {
		return nil, fmt.Errorf("handle locator must be absolute: %s", locator)
	}
	return &OSDir{path: filepath.Clean(locator)}, nil
}

func (d *OSDir) Name() string    { return filepath.Base(d.path) }
func (d *OSDir) Locator() string { return d.path }

func (d *OSDir) QueryPermission() (mdsync.PermissionState, error) {
	return accessState(d.path)
}

// RequestPermission re-checks the directory. An OS directory cannot be
// elevated from here; the user fixes access outside and asks again.
func (d *OSDir) RequestPermission() (mdsync.PermissionState, error) {
	return accessState(d.path)
}

func (d *OSDir) Dir(name string, create bool) (mdsync.DirHandle, error) {
	p, err := d.child(name)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(p)
	switch {
	case err == nil && info.IsDir():
		return &OSDir{path: p}, nil
	case err == nil:
		return nil, &fs.PathError{Op: "opendir", Path: p, Err: mdsync.ErrNotFound}
	case errors.Is(err, fs.ErrNotExist) && create:
		if err := os.Mkdir(p, 0755); err != nil && !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("creating directory: %w", err)
		}
		return &OSDir{path: p}, nil
	default:
		return nil, err
	}
}

func (d *OSDir) File(name string, create bool) (mdsync.FileHandle, error) {
	p, err := d.child(name)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(p)
	switch {
	case err == nil && !info.IsDir():
		return &OSFile{path: p}, nil
	case err == nil:
		return nil, &fs.PathError{Op: "open", Path: p, Err: mdsync.ErrNotFound}
	case errors.Is(err, fs.ErrNotExist) && create:
		f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("creating file: %w", err)
		}
		f.Close()
		return &OSFile{path: p}, nil
	default:
		return nil, err
	}
}

func (d *OSDir) Entries() ([]mdsync.DirEntry, error) {
	dirEntries, err := os.ReadDir(d.path)
	if err != nil {
		return nil, err
	}

	entries := make([]mdsync.DirEntry, 0, len(dirEntries))
	for _, de := range dirEntries {
		// Only regular files and directories are exposed.
		switch {
		case de.IsDir():
			entries = append(entries, mdsync.DirEntry{Name: de.Name(), Kind: mdsync.KindDirectory})
		case de.Type().IsRegular():
			entries = append(entries, mdsync.DirEntry{Name: de.Name(), Kind: mdsync.KindFile})
		}
	}
	return entries, nil
}

func (d *OSDir) RemoveEntry(name string, recursive bool) error {
	p, err := d.child(name)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(p); err != nil {
		return err
	}
	if recursive {
		return os.RemoveAll(p)
	}
	return os.Remove(p)
}

// child joins a single path segment onto the directory.
func (d *OSDir) child(name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid entry name %q", name)
	}
	return filepath.Join(d.path, name), nil
}

// OSFile is a FileHandle backed by a real file.
type OSFile struct {
	path string
}

var _ mdsync.FileHandle = (*OSFile)(nil)

func (f *OSFile) Name() string { return filepath.Base(f.path) }

func (f *OSFile) Read() ([]byte, error) {
	return os.ReadFile(f.path)
}

// Write replaces the file atomically: data goes to a temp file in the same
// directory which is then renamed over the target.
func (f *OSFile) Write(data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".mdsync-tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write content: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func (f *OSFile) Stat() (mdsync.FileInfo, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		return mdsync.FileInfo{}, err
	}
	return mdsync.FileInfo{Name: info.Name(), Size: info.Size(), ModTime: info.ModTime()}, nil
}
