package registry

import (
	"fmt"
	"path"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"mdsync/internal/fs"
	"mdsync/internal/mdsync"
)

// Entry is a file or directory node of a vault tree.
type Entry struct {
	Name string
	// Path is slash-separated and relative to the vault root.
	Path     string
	Kind     mdsync.EntryKind
	Size     int64
	ModTime  time.Time
	Children []*Entry
	Expanded bool
}

func (e *Entry) IsDir() bool { return e.Kind == mdsync.KindDirectory }

// IsMarkdown reports whether name has a markdown extension.
func IsMarkdown(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".md", ".markdown":
		return true
	}
	return false
}

// treeBuilder reads a directory handle into Entries. Hidden entries and
// non-markdown files are skipped and directories without any markdown
// descendant are pruned.
type treeBuilder struct {
	ignore *fs.IgnoreMatcher
	// collate.Collator is not safe for concurrent use; one per build.
	collator *collate.Collator
}

func newTreeBuilder(ignore *fs.IgnoreMatcher) *treeBuilder {
	return &treeBuilder{
		ignore:   ignore,
		collator: collate.New(language.Und, collate.Numeric, collate.IgnoreCase),
	}
}

func (b *treeBuilder) build(dir mdsync.DirHandle, prefix string) ([]*Entry, error) {
	children, err := dir.Entries()
	if err != nil {
		return nil, fmt.Errorf("listing %q: %w", displayPath(prefix), err)
	}

	var out []*Entry
	for _, de := range children {
		if strings.HasPrefix(de.Name, ".") {
			continue
		}
		rel := path.Join(prefix, de.Name)
		isDir := de.Kind == mdsync.KindDirectory
		if b.ignore.Match(rel, isDir) {
			continue
		}

		if isDir {
			sub, err := dir.Dir(de.Name, false)
			if err != nil {
				return nil, fmt.Errorf("opening %q: %w", rel, err)
			}
			nested, err := b.build(sub, rel)
			if err != nil {
				return nil, err
			}
			if len(nested) == 0 {
				continue
			}
			out = append(out, &Entry{Name: de.Name, Path: rel, Kind: mdsync.KindDirectory, Children: nested})
			continue
		}

		if !IsMarkdown(de.Name) {
			continue
		}
		fh, err := dir.File(de.Name, false)
		if err != nil {
			return nil, fmt.Errorf("opening %q: %w", rel, err)
		}
		info, err := fh.Stat()
		if err != nil {
			return nil, fmt.Errorf("stat %q: %w", rel, err)
		}
		out = append(out, &Entry{Name: de.Name, Path: rel, Kind: mdsync.KindFile, Size: info.Size, ModTime: info.ModTime})
	}

	b.sort(out)
	return out, nil
}

// sort orders directories first, then by numeric-aware name.
func (b *treeBuilder) sort(entries []*Entry) {
	slices.SortFunc(entries, func(x, y *Entry) int {
		if x.IsDir() != y.IsDir() {
			if x.IsDir() {
				return -1
			}
			return 1
		}
		return b.collator.CompareString(x.Name, y.Name)
	})
}

func displayPath(p string) string {
	if p == "" {
		return "/"
	}
	return p
}

// find walks entries along a slash-separated path.
func find(entries []*Entry, p string) *Entry {
	p = strings.Trim(strings.ReplaceAll(p, `\`, "/"), "/")
	if p == "" {
		return nil
	}
	for _, e := range entries {
		if e.Path == p {
			return e
		}
		if e.IsDir() && strings.HasPrefix(p, e.Path+"/") {
			return find(e.Children, p)
		}
	}
	return nil
}

// keepExpanded copies the expanded flag of directories that survive a rebuild.
func keepExpanded(old, fresh []*Entry) {
	for _, e := range fresh {
		if !e.IsDir() {
			continue
		}
		if prev := find(old, e.Path); prev != nil && prev.IsDir() {
			e.Expanded = prev.Expanded
		}
		keepExpanded(old, e.Children)
	}
}
