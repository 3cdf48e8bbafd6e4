// Package fsadapter exposes a directory handle as a path-addressed
// filesystem: read, write, delete, list, stat and rename over relative paths.
package fsadapter

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"mdsync/internal/mdsync"
)

// Stat describes an entry. The root and all directories report Dir=true.
type Stat struct {
	Name    string
	Dir     bool
	Size    int64
	ModTime time.Time
}

// Adapter translates paths into handle traversals. Paths may use '/' or '\'
// separators; empty and "." segments are dropped.
type Adapter struct {
	root  mdsync.DirHandle
	clock mdsync.Clock
	open  openFiles
}

// New creates an Adapter rooted at root.
func New(root mdsync.DirHandle, clock mdsync.Clock) *Adapter {
	if clock == nil {
		clock = mdsync.RealClock{}
	}
	return &Adapter{root: root, clock: clock}
}

// Root returns the handle the adapter was built on.
func (a *Adapter) Root() mdsync.DirHandle { return a.root }

// SplitPath normalizes p into its segments.
func SplitPath(p string) []string {
	raw := strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' })
	parts := raw[:0]
	for _, s := range raw {
		if s == "." {
			continue
		}
		parts = append(parts, s)
	}
	return parts
}

// notFound builds the error every missing lookup returns.
func notFound(op, p string) error {
	return &fs.PathError{Op: op, Path: p, Err: mdsync.ErrNotFound}
}

// IsNotFound reports whether err marks a missing entry.
func IsNotFound(err error) bool {
	return errors.Is(err, mdsync.ErrNotFound)
}

// dir walks to the directory at segments.
func (a *Adapter) dir(op, p string, segments []string, create bool) (mdsync.DirHandle, error) {
	current := a.root
	for _, seg := range segments {
		next, err := current.Dir(seg, create)
		if err != nil {
			if errors.Is(err, mdsync.ErrPermissionDenied) {
				return nil, err
			}
			return nil, notFound(op, p)
		}
		current = next
	}
	return current, nil
}

// parent splits p into its parent directory handle and leaf name.
func (a *Adapter) parent(op, p string, create bool) (mdsync.DirHandle, string, error) {
	segments := SplitPath(p)
	if len(segments) == 0 {
		return nil, "", &fs.PathError{Op: op, Path: p, Err: fs.ErrInvalid}
	}
	dir, err := a.dir(op, p, segments[:len(segments)-1], create)
	if err != nil {
		return nil, "", err
	}
	return dir, segments[len(segments)-1], nil
}

// ReadFile returns the contents of the file at p.
func (a *Adapter) ReadFile(p string) ([]byte, error) {
	dir, name, err := a.parent("read", p, false)
	if err != nil {
		return nil, err
	}
	fh, err := dir.File(name, false)
	if err != nil {
		if errors.Is(err, mdsync.ErrPermissionDenied) {
			return nil, err
		}
		return nil, notFound("read", p)
	}
	data, err := fh.Read()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", p, err)
	}
	return data, nil
}

// WriteFile replaces the file at p, creating it and its parents.
func (a *Adapter) WriteFile(p string, data []byte) error {
	dir, name, err := a.parent("write", p, true)
	if err != nil {
		return fmt.Errorf("failed to write file %s: %w", p, err)
	}
	fh, err := dir.File(name, true)
	if err != nil {
		return fmt.Errorf("failed to write file %s: %w", p, err)
	}
	if err := fh.Write(data); err != nil {
		return fmt.Errorf("failed to write file %s: %w", p, err)
	}
	return nil
}

// Unlink removes the file at p.
func (a *Adapter) Unlink(p string) error {
	dir, name, err := a.parent("unlink", p, false)
	if err != nil {
		return err
	}
	if err := dir.RemoveEntry(name, false); err != nil {
		if errors.Is(err, mdsync.ErrPermissionDenied) {
			return err
		}
		return notFound("unlink", p)
	}
	return nil
}

// Readdir lists the names of the entries in the directory at p.
func (a *Adapter) Readdir(p string) ([]string, error) {
	dir, err := a.dir("readdir", p, SplitPath(p), false)
	if err != nil {
		return nil, err
	}
	entries, err := dir.Entries()
	if err != nil {
		if errors.Is(err, mdsync.ErrPermissionDenied) {
			return nil, err
		}
		return nil, notFound("readdir", p)
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names, nil
}

// ReaddirEntries is Readdir with entry kinds.
func (a *Adapter) ReaddirEntries(p string) ([]mdsync.DirEntry, error) {
	dir, err := a.dir("readdir", p, SplitPath(p), false)
	if err != nil {
		return nil, err
	}
	entries, err := dir.Entries()
	if err != nil {
		if errors.Is(err, mdsync.ErrPermissionDenied) {
			return nil, err
		}
		return nil, notFound("readdir", p)
	}
	return entries, nil
}

// Mkdir creates the directory at p. Creation is always recursive and
// idempotent; recursive is accepted for interface parity.
func (a *Adapter) Mkdir(p string, recursive bool) error {
	if _, err := a.dir("mkdir", p, SplitPath(p), true); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", p, err)
	}
	return nil
}

// Rmdir removes the directory at p. Non-empty directories need recursive.
func (a *Adapter) Rmdir(p string, recursive bool) error {
	dir, name, err := a.parent("rmdir", p, false)
	if err != nil {
		return err
	}
	if err := dir.RemoveEntry(name, recursive); err != nil {
		if IsNotFound(err) {
			return notFound("rmdir", p)
		}
		return fmt.Errorf("removing directory %s: %w", p, err)
	}
	return nil
}

// Stat describes the entry at p. The root is always a directory.
func (a *Adapter) Stat(p string) (*Stat, error) {
	segments := SplitPath(p)
	if len(segments) == 0 {
		return &Stat{Name: a.root.Name(), Dir: true, ModTime: a.clock.Now()}, nil
	}

	dir, name, err := a.parent("stat", p, false)
	if err != nil {
		return nil, err
	}
	if fh, err := dir.File(name, false); err == nil {
		info, err := fh.Stat()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		return &Stat{Name: name, Size: info.Size, ModTime: info.ModTime}, nil
	}
	if _, err := dir.Dir(name, false); err == nil {
		return &Stat{Name: name, Dir: true, ModTime: a.clock.Now()}, nil
	}
	return nil, notFound("stat", p)
}

// Exists reports whether p names a file or directory.
func (a *Adapter) Exists(p string) bool {
	_, err := a.Stat(p)
	return err == nil
}

// Rename moves a file by reading, writing the new name, then unlinking the
// old one. A failure between the last two steps leaves both names present.
func (a *Adapter) Rename(oldPath, newPath string) error {
	data, err := a.ReadFile(oldPath)
	if err != nil {
		return err
	}
	if err := a.WriteFile(newPath, data); err != nil {
		return err
	}
	if err := a.Unlink(oldPath); err != nil {
		return fmt.Errorf("removing %s after copy: %w", oldPath, err)
	}
	return nil
}
