package fs

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"path"
	"strings"

	"mdsync/internal/mdsync"
)

// IgnoreFileName is read from a vault root to hide entries from its tree.
const IgnoreFileName = ".mdsyncignore"

// ignorePattern is a parsed ignore pattern with its matching strategy.
type ignorePattern struct {
	pattern   string
	matchPath bool // true = match against the vault-relative path; false = basename only
	dirOnly   bool // pattern had a trailing '/'
}

// IgnoreMatcher checks vault-relative paths against a set of ignore patterns.
// Patterns without '/' match against the entry's basename only.
// Patterns with '/' match against the full slash-separated path from the vault root.
// A trailing '/' restricts a pattern to directories.
type IgnoreMatcher struct {
	patterns []ignorePattern
}

// NewIgnoreMatcher creates an IgnoreMatcher from raw pattern strings.
// Blank lines and lines starting with '#' are skipped.
func NewIgnoreMatcher(rawPatterns []string) *IgnoreMatcher {
	var patterns []ignorePattern
	for _, raw := range rawPatterns {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		dirOnly := strings.HasSuffix(raw, "/")
		raw = strings.TrimSuffix(strings.TrimPrefix(raw, "/"), "/")
		if raw == "" {
			continue
		}
		patterns = append(patterns, ignorePattern{
			pattern:   raw,
			matchPath: strings.Contains(raw, "/"),
			dirOnly:   dirOnly,
		})
	}
	return &IgnoreMatcher{patterns: patterns}
}

// Merge returns a matcher holding the patterns of both m and other.
func (m *IgnoreMatcher) Merge(other *IgnoreMatcher) *IgnoreMatcher {
	if other == nil {
		return m
	}
	merged := make([]ignorePattern, 0, len(m.patterns)+len(other.patterns))
	merged = append(merged, m.patterns...)
	merged = append(merged, other.patterns...)
	return &IgnoreMatcher{patterns: merged}
}

// Match reports whether the entry at relativePath should be hidden.
func (m *IgnoreMatcher) Match(relativePath string, isDir bool) bool {
	if m == nil || len(m.patterns) == 0 || relativePath == "" {
		return false
	}

	normalized := strings.Trim(strings.ReplaceAll(relativePath, `\`, "/"), "/")
	basename := path.Base(normalized)

	for _, p := range m.patterns {
		if p.dirOnly && !isDir {
			continue
		}
		var matched bool
		var err error
		if p.matchPath {
			matched, err = path.Match(p.pattern, normalized)
		} else {
			matched, err = path.Match(p.pattern, basename)
		}
		if err != nil {
			// Bad pattern: skip it.
			continue
		}
		if matched {
			return true
		}
	}
	return false
}

// ParseIgnoreFile reads the vault's ignore file and returns the raw lines.
// Returns nil and no error if the file does not exist.
func ParseIgnoreFile(root mdsync.DirHandle) ([]string, error) {
	fh, err := root.File(IgnoreFileName, false)
	if err != nil {
		if errors.Is(err, mdsync.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}

	data, err := fh.Read()
	if err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}

	var patterns []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		patterns = append(patterns, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning ignore file: %w", err)
	}
	return patterns, nil
}
