package gitsync

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"mdsync/internal/fsadapter"
	"mdsync/internal/mdsync"
)

// sideChanges maps each path a side changed since the merge base to its
// new entry, or to nil when the side deleted it.
type sideChanges map[string]*object.TreeEntry

func changesSince(base *object.Tree, c *object.Commit) (sideChanges, error) {
	tree, err := c.Tree()
	if err != nil {
		return nil, fmt.Errorf("reading tree of %s: %w", c.Hash, err)
	}
	changes, err := object.DiffTree(base, tree)
	if err != nil {
		return nil, fmt.Errorf("diffing trees: %w", err)
	}
	out := sideChanges{}
	for _, ch := range changes {
		if ch.From.Name != "" && ch.From.Name != ch.To.Name {
			out[ch.From.Name] = nil
		}
		if ch.To.Name != "" {
			entry := ch.To.TreeEntry
			out[ch.To.Name] = &entry
		}
	}
	return out, nil
}

func sameEntry(a, b *object.TreeEntry) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Hash == b.Hash && a.Mode == b.Mode
}

// conflicting lists paths both sides changed to different results.
func conflicting(ours, theirs sideChanges) []string {
	var out []string
	for p, o := range ours {
		t, ok := theirs[p]
		if ok && !sameEntry(o, t) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// threeWayMerge joins diverged local and remote histories. Paths changed on
// only one side are taken from that side; a path changed on both sides to
// different content is a conflict and nothing is written. On success the
// branch points at a new merge commit and the working tree holds its files.
func (e *Engine) threeWayMerge(v mdsync.VaultRef, repo *git.Repository, a *fsadapter.Adapter, branch string, local, remote *object.Commit) PullResult {
	bases, err := local.MergeBase(remote)
	if err != nil {
		return pullFailure(fmt.Errorf("finding merge base: %w", err))
	}
	if len(bases) == 0 {
		return PullResult{
			Outcome: OutcomeConflict,
			Kind:    mdsync.RemoteConflict,
			Error:   "local and remote histories are unrelated",
		}
	}
	baseTree, err := bases[0].Tree()
	if err != nil {
		return pullFailure(fmt.Errorf("reading merge base tree: %w", err))
	}
	ours, err := changesSince(baseTree, local)
	if err != nil {
		return pullFailure(err)
	}
	theirs, err := changesSince(baseTree, remote)
	if err != nil {
		return pullFailure(err)
	}
	if files := conflicting(ours, theirs); len(files) > 0 {
		e.logger.Warn("local and remote changed the same files", "vault", v.ID, "files", len(files))
		return PullResult{
			Outcome:       OutcomeConflict,
			ConflictFiles: files,
			Kind:          mdsync.RemoteConflict,
			Error:         "local and remote changed the same files",
		}
	}

	localTree, err := local.Tree()
	if err != nil {
		return pullFailure(fmt.Errorf("reading local tree: %w", err))
	}
	treeHash, err := mergeTrees(repo.Storer, localTree, theirs)
	if err != nil {
		return pullFailure(err)
	}
	msg := fmt.Sprintf("Merge remote changes into %s", branch)
	mergeHash, err := e.writeCommit(repo.Storer, treeHash, msg, local.Hash, remote.Hash)
	if err != nil {
		return pullFailure(err)
	}
	merged, err := repo.CommitObject(mergeHash)
	if err != nil {
		return pullFailure(fmt.Errorf("reading merge commit: %w", err))
	}

	res := e.fastForward(v, repo, a, local, merged)
	if res.Outcome == OutcomeSuccess {
		res.FastForward = false
		res.MergeCommit = mergeHash.String()
		e.logger.Info("merged remote changes", "vault", v.ID, "commit", res.MergeCommit, "files", res.UpdatedFiles)
	}
	return res
}

// mergeTrees applies theirs onto the files of tree and stores the result.
func mergeTrees(s storer.EncodedObjectStorer, tree *object.Tree, theirs sideChanges) (plumbing.Hash, error) {
	files := map[string]object.TreeEntry{}
	err := tree.Files().ForEach(func(f *object.File) error {
		files[f.Name] = object.TreeEntry{Name: path.Base(f.Name), Mode: f.Mode, Hash: f.Hash}
		return nil
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("listing local tree: %w", err)
	}
	for p, entry := range theirs {
		if entry == nil {
			delete(files, p)
			continue
		}
		files[p] = object.TreeEntry{Name: path.Base(p), Mode: entry.Mode, Hash: entry.Hash}
	}
	return writeTree(s, files)
}

type treeNode struct {
	entries  []object.TreeEntry
	children map[string]*treeNode
}

// writeTree stores nested tree objects for a flat path -> entry map and
// returns the root tree hash.
func writeTree(s storer.EncodedObjectStorer, files map[string]object.TreeEntry) (plumbing.Hash, error) {
	root := &treeNode{children: map[string]*treeNode{}}
	for p, entry := range files {
		parts := strings.Split(p, "/")
		node := root
		for _, dir := range parts[:len(parts)-1] {
			child, ok := node.children[dir]
			if !ok {
				child = &treeNode{children: map[string]*treeNode{}}
				node.children[dir] = child
			}
			node = child
		}
		entry.Name = parts[len(parts)-1]
		node.entries = append(node.entries, entry)
	}
	return root.write(s)
}

func (n *treeNode) write(s storer.EncodedObjectStorer) (plumbing.Hash, error) {
	entries := append([]object.TreeEntry(nil), n.entries...)
	for name, child := range n.children {
		h, err := child.write(s)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		entries = append(entries, object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: h})
	}
	// Git orders tree entries as if directory names ended in a slash.
	sort.Slice(entries, func(i, j int) bool { return treeSortKey(entries[i]) < treeSortKey(entries[j]) })

	obj := s.NewEncodedObject()
	if err := (&object.Tree{Entries: entries}).Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("encoding tree: %w", err)
	}
	h, err := s.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("storing tree: %w", err)
	}
	return h, nil
}

func treeSortKey(e object.TreeEntry) string {
	if e.Mode == filemode.Dir {
		return e.Name + "/"
	}
	return e.Name
}

// writeCommit stores a commit of tree with the given parents, authored by
// the configured identity.
func (e *Engine) writeCommit(s storer.EncodedObjectStorer, tree plumbing.Hash, message string, parents ...plumbing.Hash) (plumbing.Hash, error) {
	sig := e.author()
	c := &object.Commit{
		Author:       *sig,
		Committer:    *sig,
		Message:      message,
		TreeHash:     tree,
		ParentHashes: parents,
	}
	obj := s.NewEncodedObject()
	if err := c.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("encoding commit: %w", err)
	}
	h, err := s.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("storing commit: %w", err)
	}
	return h, nil
}
