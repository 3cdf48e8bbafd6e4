package gitsync

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"github.com/go-git/go-git/v5/plumbing/object"

	"mdsync/internal/fsadapter"
	"mdsync/internal/mdsync"
)

// ChangeKind classifies a working-tree change against HEAD.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeDeleted  ChangeKind = "deleted"
)

// FileChange is one changed path. Name is the last path segment.
type FileChange struct {
	Path string
	Name string
	Kind ChangeKind
}

// fileState is a path's presence and blob hash on one side.
type fileState struct {
	present bool
	hash    plumbing.Hash
}

// classifyChange decides a path's change from its HEAD and working-tree
// states alone. ok is false when both sides are identical.
func classifyChange(head, work fileState) (kind ChangeKind, ok bool) {
	switch {
	case head.present == work.present && head.hash == work.hash:
		return "", false
	case !head.present:
		return ChangeAdded, true
	case !work.present:
		return ChangeDeleted, true
	default:
		return ChangeModified, true
	}
}

// diffStates classifies every path in head or work, ordered by path.
func diffStates(head, work map[string]plumbing.Hash) []FileChange {
	paths := make(map[string]struct{}, len(head)+len(work))
	for p := range head {
		paths[p] = struct{}{}
	}
	for p := range work {
		paths[p] = struct{}{}
	}

	var changes []FileChange
	for p := range paths {
		h, inHead := head[p]
		w, inWork := work[p]
		kind, ok := classifyChange(fileState{inHead, h}, fileState{inWork, w})
		if !ok {
			continue
		}
		changes = append(changes, FileChange{Path: p, Name: path.Base(p), Kind: kind})
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return changes
}

// ChangedFiles compares the working tree with HEAD. Untracked files matched
// by .gitignore are skipped; .git is never walked.
func (e *Engine) ChangedFiles(v mdsync.VaultRef) ([]FileChange, error) {
	repo, a, err := e.open(v)
	if err != nil {
		return nil, err
	}
	head, err := headFiles(repo)
	if err != nil {
		return nil, err
	}
	work, err := worktreeFiles(a, head)
	if err != nil {
		return nil, err
	}
	return diffStates(head, work), nil
}

// headFiles maps every path in HEAD's tree to its blob hash. An unborn HEAD
// yields an empty map.
func headFiles(repo *git.Repository) (map[string]plumbing.Hash, error) {
	ref, err := repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return map[string]plumbing.Hash{}, nil
		}
		return nil, fmt.Errorf("resolving HEAD: %w", err)
	}
	tree, err := commitTree(repo, ref.Hash())
	if err != nil {
		return nil, err
	}
	return treeFiles(tree)
}

func commitTree(repo *git.Repository, h plumbing.Hash) (*object.Tree, error) {
	commit, err := repo.CommitObject(h)
	if err != nil {
		return nil, fmt.Errorf("reading commit %s: %w", h, err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("reading tree of %s: %w", h, err)
	}
	return tree, nil
}

func treeFiles(tree *object.Tree) (map[string]plumbing.Hash, error) {
	files := map[string]plumbing.Hash{}
	err := tree.Files().ForEach(func(f *object.File) error {
		files[f.Name] = f.Hash
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking tree: %w", err)
	}
	return files, nil
}

// worktreeFiles hashes every file in the working tree. Tracked paths are
// always included even when an ignore pattern matches them.
func worktreeFiles(a *fsadapter.Adapter, tracked map[string]plumbing.Hash) (map[string]plumbing.Hash, error) {
	patterns, err := gitignore.ReadPatterns(a.Billy(), nil)
	if err != nil {
		return nil, fmt.Errorf("reading ignore patterns: %w", err)
	}
	matcher := gitignore.NewMatcher(patterns)

	files := map[string]plumbing.Hash{}
	var walk func(dir []string) error
	walk = func(dir []string) error {
		entries, err := a.ReaddirEntries(strings.Join(dir, "/"))
		if err != nil {
			return err
		}
		for _, ent := range entries {
			parts := append(append([]string(nil), dir...), ent.Name)
			p := strings.Join(parts, "/")

			if ent.Kind == mdsync.KindDirectory {
				if len(dir) == 0 && ent.Name == ".git" {
					continue
				}
				if matcher.Match(parts, true) && !trackedUnder(tracked, p) {
					continue
				}
				if err := walk(parts); err != nil {
					return err
				}
				continue
			}

			if _, ok := tracked[p]; !ok && matcher.Match(parts, false) {
				continue
			}
			data, err := a.ReadFile(p)
			if err != nil {
				return err
			}
			files[p] = plumbing.ComputeHash(plumbing.BlobObject, data)
		}
		return nil
	}
	if err := walk(nil); err != nil {
		return nil, fmt.Errorf("walking working tree: %w", err)
	}
	return files, nil
}

func trackedUnder(tracked map[string]plumbing.Hash, dir string) bool {
	prefix := dir + "/"
	for p := range tracked {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}
