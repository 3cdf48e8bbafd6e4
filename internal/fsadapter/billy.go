package fsadapter

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-git/go-billy/v5"
)

var tempCounter atomic.Uint64

// Billy exposes the adapter as a billy.Filesystem so go-git can use a
// directory handle as both its worktree and its object store.
func (a *Adapter) Billy() billy.Filesystem {
	return &billyFS{a: a, base: "/"}
}

type billyFS struct {
	a    *Adapter
	base string
}

var _ billy.Filesystem = (*billyFS)(nil)

func (b *billyFS) full(name string) string {
	return path.Join(b.base, name)
}

func (b *billyFS) Capabilities() billy.Capability {
	return billy.WriteCapability | billy.ReadCapability | billy.ReadAndWriteCapability |
		billy.SeekCapability | billy.TruncateCapability
}

func (b *billyFS) Create(filename string) (billy.File, error) {
	return b.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
}

func (b *billyFS) Open(filename string) (billy.File, error) {
	return b.OpenFile(filename, os.O_RDONLY, 0)
}

func (b *billyFS) OpenFile(filename string, flag int, _ os.FileMode) (billy.File, error) {
	p := b.full(filename)

	b.a.open.mu.Lock()
	defer b.a.open.mu.Unlock()
	if b.a.open.files == nil {
		b.a.open.files = map[string]*sharedContent{}
	}

	// Handles opened on a path that is already open share its buffer, so a
	// reader sees bytes a concurrent writer has not flushed yet.
	if c, ok := b.a.open.files[p]; ok {
		if flag&os.O_CREATE != 0 && flag&os.O_EXCL != 0 {
			return nil, &fs.PathError{Op: "open", Path: filename, Err: fs.ErrExist}
		}
		c.mu.Lock()
		c.refs++
		if flag&os.O_TRUNC != 0 {
			c.data = nil
			c.dirty = true
		}
		c.mu.Unlock()
		return &billyFile{fs: b, name: filename, path: p, c: c, flag: flag}, nil
	}

	data, err := b.a.ReadFile(p)
	exists := err == nil
	if err != nil && !IsNotFound(err) {
		return nil, err
	}
	if !exists {
		if flag&os.O_CREATE == 0 {
			return nil, &fs.PathError{Op: "open", Path: filename, Err: fs.ErrNotExist}
		}
		if st, err := b.a.Stat(p); err == nil && st.Dir {
			return nil, &fs.PathError{Op: "open", Path: filename, Err: fs.ErrExist}
		}
	}
	if exists && flag&os.O_CREATE != 0 && flag&os.O_EXCL != 0 {
		return nil, &fs.PathError{Op: "open", Path: filename, Err: fs.ErrExist}
	}

	c := &sharedContent{data: data, refs: 1}
	if flag&os.O_TRUNC != 0 {
		c.data = nil
		c.dirty = true
	}
	if !exists {
		// Materialize the file now so Stat and ReadDir see it before Close.
		if err := b.a.WriteFile(p, nil); err != nil {
			return nil, err
		}
	}
	b.a.open.files[p] = c
	return &billyFile{fs: b, name: filename, path: p, c: c, flag: flag}, nil
}

// release drops one reference to the content open at p.
func (b *billyFS) release(p string, c *sharedContent) {
	b.a.open.mu.Lock()
	defer b.a.open.mu.Unlock()
	c.mu.Lock()
	c.refs--
	last := c.refs == 0
	c.mu.Unlock()
	if last && b.a.open.files[p] == c {
		delete(b.a.open.files, p)
	}
}

func (b *billyFS) Stat(filename string) (os.FileInfo, error) {
	st, err := b.a.Stat(b.full(filename))
	if err != nil {
		if IsNotFound(err) {
			return nil, &fs.PathError{Op: "stat", Path: filename, Err: fs.ErrNotExist}
		}
		return nil, err
	}
	return newFileInfo(st), nil
}

func (b *billyFS) Lstat(filename string) (os.FileInfo, error) {
	return b.Stat(filename)
}

func (b *billyFS) Rename(oldpath, newpath string) error {
	return b.a.Rename(b.full(oldpath), b.full(newpath))
}

func (b *billyFS) Remove(filename string) error {
	p := b.full(filename)
	st, err := b.a.Stat(p)
	if err != nil {
		return &fs.PathError{Op: "remove", Path: filename, Err: fs.ErrNotExist}
	}
	if st.Dir {
		return b.a.Rmdir(p, false)
	}
	return b.a.Unlink(p)
}

func (b *billyFS) Join(elem ...string) string {
	return path.Join(elem...)
}

func (b *billyFS) TempFile(dir, prefix string) (billy.File, error) {
	name := path.Join(dir, prefix+strconv.FormatInt(time.Now().UnixNano(), 36)+"-"+strconv.FormatUint(tempCounter.Add(1), 10))
	return b.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
}

func (b *billyFS) ReadDir(p string) ([]os.FileInfo, error) {
	full := b.full(p)
	entries, err := b.a.ReaddirEntries(full)
	if err != nil {
		if IsNotFound(err) {
			return nil, &fs.PathError{Op: "readdir", Path: p, Err: fs.ErrNotExist}
		}
		return nil, err
	}

	infos := make([]os.FileInfo, 0, len(entries))
	for _, e := range entries {
		st, err := b.a.Stat(path.Join(full, e.Name))
		if err != nil {
			// Entry vanished between listing and stat.
			continue
		}
		infos = append(infos, newFileInfo(st))
	}
	return infos, nil
}

func (b *billyFS) MkdirAll(filename string, _ os.FileMode) error {
	return b.a.Mkdir(b.full(filename), true)
}

func (b *billyFS) Symlink(_, _ string) error {
	return billy.ErrNotSupported
}

func (b *billyFS) Readlink(link string) (string, error) {
	return "", &fs.PathError{Op: "readlink", Path: link, Err: billy.ErrNotSupported}
}

func (b *billyFS) Chroot(p string) (billy.Filesystem, error) {
	return &billyFS{a: b.a, base: b.full(p)}, nil
}

func (b *billyFS) Root() string {
	return b.base
}

// sharedContent is the buffer behind every open handle on one path.
type sharedContent struct {
	mu    sync.Mutex
	data  []byte
	refs  int
	dirty bool
}

// openFiles tracks buffers of files currently open through Billy.
type openFiles struct {
	mu    sync.Mutex
	files map[string]*sharedContent
}

// billyFile is one handle on a buffered file. Contents are written back to
// the directory handle whenever a handle that modified them is closed.
type billyFile struct {
	fs     *billyFS
	name   string
	path   string
	c      *sharedContent
	pos    int64
	flag   int
	closed bool
}

func (f *billyFile) Name() string { return f.name }

func (f *billyFile) Read(p []byte) (int, error) {
	if f.closed {
		return 0, os.ErrClosed
	}
	f.c.mu.Lock()
	defer f.c.mu.Unlock()
	if f.pos >= int64(len(f.c.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.c.data[f.pos:])
	f.pos += int64(n)
	return n, nil
}

func (f *billyFile) ReadAt(p []byte, off int64) (int, error) {
	if f.closed {
		return 0, os.ErrClosed
	}
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	f.c.mu.Lock()
	defer f.c.mu.Unlock()
	if off >= int64(len(f.c.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.c.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *billyFile) Write(p []byte) (int, error) {
	if f.closed {
		return 0, os.ErrClosed
	}
	if f.flag&(os.O_WRONLY|os.O_RDWR) == 0 {
		return 0, &fs.PathError{Op: "write", Path: f.name, Err: errors.New("file opened read-only")}
	}
	f.c.mu.Lock()
	defer f.c.mu.Unlock()
	if f.flag&os.O_APPEND != 0 {
		f.pos = int64(len(f.c.data))
	}
	end := f.pos + int64(len(p))
	if end > int64(len(f.c.data)) {
		grown := make([]byte, end)
		copy(grown, f.c.data)
		f.c.data = grown
	}
	copy(f.c.data[f.pos:], p)
	f.pos = end
	f.c.dirty = true
	return len(p), nil
}

func (f *billyFile) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = f.pos + offset
	case io.SeekEnd:
		f.c.mu.Lock()
		next = int64(len(f.c.data)) + offset
		f.c.mu.Unlock()
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("negative position %d", next)
	}
	f.pos = next
	return next, nil
}

func (f *billyFile) Close() error {
	if f.closed {
		return os.ErrClosed
	}
	f.closed = true

	f.c.mu.Lock()
	var data []byte
	flush := f.c.dirty
	if flush {
		data = append([]byte(nil), f.c.data...)
		f.c.dirty = false
	}
	f.c.mu.Unlock()

	f.fs.release(f.path, f.c)
	if !flush {
		return nil
	}
	return f.fs.a.WriteFile(f.path, data)
}

func (f *billyFile) Lock() error   { return nil }
func (f *billyFile) Unlock() error { return nil }

func (f *billyFile) Truncate(size int64) error {
	if size < 0 {
		return fmt.Errorf("negative size %d", size)
	}
	f.c.mu.Lock()
	defer f.c.mu.Unlock()
	if size <= int64(len(f.c.data)) {
		f.c.data = f.c.data[:size]
	} else {
		grown := make([]byte, size)
		copy(grown, f.c.data)
		f.c.data = grown
	}
	f.c.dirty = true
	return nil
}

type fileInfo struct {
	st *Stat
}

func newFileInfo(st *Stat) os.FileInfo { return fileInfo{st: st} }

func (i fileInfo) Name() string       { return i.st.Name }
func (i fileInfo) Size() int64        { return i.st.Size }
func (i fileInfo) ModTime() time.Time { return i.st.ModTime }
func (i fileInfo) IsDir() bool        { return i.st.Dir }
func (i fileInfo) Sys() any           { return nil }

func (i fileInfo) Mode() os.FileMode {
	if i.st.Dir {
		return os.ModeDir | 0755
	}
	return 0644
}
