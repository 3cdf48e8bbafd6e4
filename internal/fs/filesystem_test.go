package fs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"mdsync/internal/mdsync"
)

func newTestDir(t *testing.T) (*OSDir, string) {
	t.Helper()
	dir := t.TempDir()
	d, err := OpenDir(dir)
	if err != nil {
		t.Fatalf("OpenDir() error = %v", err)
	}
	return d, dir
}

func TestOpenDir(t *testing.T) {
	t.Run("rejects regular files", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		p := filepath.Join(dir, "note.md")
		if err := os.WriteFile(p, []byte("x"), 0644); err != nil {
			t.Fatalf("writing file: %v", err)
		}
		if _, err := OpenDir(p); err == nil {
			t.Error("OpenDir() on a file should fail")
		}
	})

	t.Run("rejects symlinks", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		link := filepath.Join(dir, "link")
		if err := os.Symlink(dir, link); err != nil {
			t.Skipf("symlinks unavailable: %v", err)
		}
		if _, err := OpenDir(link); err == nil {
			t.Error("OpenDir() on a symlink should fail")
		}
	})

	t.Run("name and locator", func(t *testing.T) {
		t.Parallel()
		d, dir := newTestDir(t)
		if d.Locator() != dir {
			t.Errorf("Locator() = %q, want %q", d.Locator(), dir)
		}
		if d.Name() != filepath.Base(dir) {
			t.Errorf("Name() = %q, want %q", d.Name(), filepath.Base(dir))
		}
	})
}

func TestOSDir_FileAndDir(t *testing.T) {
	t.Parallel()
	d, dir := newTestDir(t)

	if _, err := d.File("missing.md", false); !errors.Is(err, mdsync.ErrNotFound) {
		t.Fatalf("File(missing) error = %v, want ErrNotFound", err)
	}

	sub, err := d.Dir("notes", true)
	if err != nil {
		t.Fatalf("Dir(create) error = %v", err)
	}
	fh, err := sub.File("a.md", true)
	if err != nil {
		t.Fatalf("File(create) error = %v", err)
	}
	if err := fh.Write([]byte("# A")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "notes", "a.md"))
	if err != nil {
		t.Fatalf("reading written file: %v", err)
	}
	if string(data) != "# A" {
		t.Errorf("content = %q, want %q", data, "# A")
	}

	info, err := fh.Stat()
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Size != 3 {
		t.Errorf("Size = %d, want 3", info.Size)
	}

	// A file looked up as a directory is reported as missing.
	if _, err := sub.Dir("a.md", false); !errors.Is(err, mdsync.ErrNotFound) {
		t.Errorf("Dir(file) error = %v, want ErrNotFound", err)
	}

	if _, err := d.File("../escape.md", true); err == nil {
		t.Error("File() accepted a path with separators")
	}
}

func TestOSDir_EntriesAndRemove(t *testing.T) {
	t.Parallel()
	d, dir := newTestDir(t)

	if err := os.MkdirAll(filepath.Join(dir, "sub", "deep"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "root.md"), []byte("r"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	entries, err := d.Entries()
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	kinds := map[string]mdsync.EntryKind{}
	for _, e := range entries {
		kinds[e.Name] = e.Kind
	}
	if kinds["sub"] != mdsync.KindDirectory || kinds["root.md"] != mdsync.KindFile || len(kinds) != 2 {
		t.Errorf("Entries() = %v", entries)
	}

	if err := d.RemoveEntry("sub", false); err == nil {
		t.Error("RemoveEntry(non-empty, false) should fail")
	}
	if err := d.RemoveEntry("sub", true); err != nil {
		t.Fatalf("RemoveEntry(recursive) error = %v", err)
	}
	if err := d.RemoveEntry("sub", true); !errors.Is(err, mdsync.ErrNotFound) {
		t.Errorf("RemoveEntry(gone) error = %v, want ErrNotFound", err)
	}
}

func TestOSDir_QueryPermission(t *testing.T) {
	t.Run("existing directory is granted", func(t *testing.T) {
		t.Parallel()
		d, _ := newTestDir(t)
		state, err := d.QueryPermission()
		if err != nil {
			t.Fatalf("QueryPermission() error = %v", err)
		}
		if state != mdsync.PermissionGranted {
			t.Errorf("state = %q, want granted", state)
		}
	})

	t.Run("missing directory is denied", func(t *testing.T) {
		t.Parallel()
		h, err := Opener{}.Open(filepath.Join(t.TempDir(), "gone"))
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		state, err := h.QueryPermission()
		if err != nil {
			t.Fatalf("QueryPermission() error = %v", err)
		}
		if state != mdsync.PermissionDenied {
			t.Errorf("state = %q, want denied", state)
		}
	})

	t.Run("relative locator rejected", func(t *testing.T) {
		t.Parallel()
		if _, err := (Opener{}).Open("relative/dir"); err == nil {
			t.Error("Open(relative) should fail")
		}
	})
}
