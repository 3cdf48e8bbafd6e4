package gitsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/go-git/go-git/v5/utils/merkletrie"

	"mdsync/internal/credstore"
	"mdsync/internal/fsadapter"
	"mdsync/internal/github"
	"mdsync/internal/mdsync"
)

var errNoRemote = errors.New("no remote configured")

// Pull fetches the current branch from the vault's remote and
// fast-forwards onto it, or merges when both sides have new commits. An
// empty or missing remote branch is a success with nothing updated. Files
// changed differently on both sides, or incoming changes to files edited
// locally, are reported as a conflict.
func (e *Engine) Pull(ctx context.Context, v mdsync.VaultRef) PullResult {
	if err := e.begin(v, credstore.StatusPulling); err != nil {
		return pullFailure(err)
	}
	res := e.pull(ctx, v)
	switch res.Outcome {
	case OutcomeSuccess:
		e.store.RecordSync(v.ID)
		e.Refresh(v)
	case OutcomeConflict:
		e.store.SetConflict(v.ID, res.Error)
	default:
		e.store.SetError(v.ID, res.Error)
	}
	return res
}

func (e *Engine) pull(ctx context.Context, v mdsync.VaultRef) PullResult {
	rc, err := e.remote(v)
	if err != nil {
		return pullFailure(err)
	}
	if rc == nil {
		return pullFailure(errNoRemote)
	}
	repo, a, err := e.open(v)
	if err != nil {
		return pullFailure(err)
	}
	if err := ensureRemote(repo, rc); err != nil {
		return pullFailure(err)
	}
	auth, err := e.auth()
	if err != nil {
		return pullFailure(err)
	}

	branch := e.branchOrDefault(repo)
	trackingName := plumbing.NewRemoteReferenceName(rc.Name, branch)
	refSpec := config.RefSpec(fmt.Sprintf("+%s:%s", plumbing.NewBranchReferenceName(branch), trackingName))

	err = repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName:   rc.Name,
		RemoteURL:    rc.URL,
		RefSpecs:     []config.RefSpec{refSpec},
		Auth:         auth,
		ProxyOptions: e.proxy(),
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		err = classify(err)
		if isEmptyRemote(err) {
			e.logger.Info("remote is empty, nothing to pull", "vault", v.ID, "branch", branch)
			return PullResult{Outcome: OutcomeSuccess}
		}
		e.logger.Warn("fetch failed", "vault", v.ID, "error", err)
		return pullFailure(err)
	}

	tracking, err := repo.Reference(trackingName, true)
	if err != nil {
		e.logger.Info("remote branch missing, nothing to pull", "vault", v.ID, "branch", branch)
		return PullResult{Outcome: OutcomeSuccess}
	}
	return e.merge(v, repo, a, branch, tracking.Hash())
}

// merge fast-forwards branch to remote when possible and falls back to a
// three-way merge when the histories diverged.
func (e *Engine) merge(v mdsync.VaultRef, repo *git.Repository, a *fsadapter.Adapter, branch string, remote plumbing.Hash) PullResult {
	var local plumbing.Hash
	if ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true); err == nil {
		local = ref.Hash()
	}
	if local == remote {
		return PullResult{Outcome: OutcomeSuccess, FastForward: true}
	}

	remoteCommit, err := repo.CommitObject(remote)
	if err != nil {
		return pullFailure(fmt.Errorf("reading fetched commit: %w", err))
	}

	var localCommit *object.Commit
	if !local.IsZero() {
		localCommit, err = repo.CommitObject(local)
		if err != nil {
			return pullFailure(fmt.Errorf("reading local commit: %w", err))
		}
		ahead, err := remoteCommit.IsAncestor(localCommit)
		if err != nil {
			return pullFailure(fmt.Errorf("comparing histories: %w", err))
		}
		if ahead {
			return PullResult{Outcome: OutcomeSuccess, FastForward: true}
		}
		ff, err := localCommit.IsAncestor(remoteCommit)
		if err != nil {
			return pullFailure(fmt.Errorf("comparing histories: %w", err))
		}
		if !ff {
			return e.threeWayMerge(v, repo, a, branch, localCommit, remoteCommit)
		}
	}

	return e.fastForward(v, repo, a, localCommit, remoteCommit)
}

// fastForward moves the branch to "to" and rewrites the files that differ
// from "from" in the working tree. Incoming changes to locally modified
// files abort with a conflict and leave everything untouched.
func (e *Engine) fastForward(v mdsync.VaultRef, repo *git.Repository, a *fsadapter.Adapter, from, to *object.Commit) PullResult {
	var fromTree *object.Tree
	if from != nil {
		t, err := from.Tree()
		if err != nil {
			return pullFailure(fmt.Errorf("reading local tree: %w", err))
		}
		fromTree = t
	}
	toTree, err := to.Tree()
	if err != nil {
		return pullFailure(fmt.Errorf("reading fetched tree: %w", err))
	}
	changes, err := object.DiffTree(fromTree, toTree)
	if err != nil {
		return pullFailure(fmt.Errorf("diffing trees: %w", err))
	}

	local, err := e.ChangedFiles(v)
	if err != nil {
		return pullFailure(err)
	}
	dirty := make(map[string]bool, len(local))
	for _, c := range local {
		dirty[c.Path] = true
	}
	var blocked []string
	for _, ch := range changes {
		for _, p := range changePaths(ch) {
			if dirty[p] {
				blocked = append(blocked, p)
			}
		}
	}
	if len(blocked) > 0 {
		sort.Strings(blocked)
		return PullResult{
			Outcome:       OutcomeConflict,
			ConflictFiles: blocked,
			Kind:          mdsync.RemoteConflict,
			Error:         "local changes would be overwritten by pull",
		}
	}

	for _, ch := range changes {
		if err := applyChange(a, ch); err != nil {
			return pullFailure(err)
		}
	}

	wt, err := repo.Worktree()
	if err != nil {
		return pullFailure(fmt.Errorf("opening worktree: %w", err))
	}
	if err := wt.Reset(&git.ResetOptions{Commit: to.Hash, Mode: git.MixedReset}); err != nil {
		return pullFailure(fmt.Errorf("updating index: %w", err))
	}
	e.logger.Info("branch updated", "vault", v.ID, "commit", to.Hash.String(), "files", len(changes))
	return PullResult{Outcome: OutcomeSuccess, UpdatedFiles: len(changes), FastForward: true}
}

func changePaths(ch *object.Change) []string {
	var paths []string
	if ch.From.Name != "" {
		paths = append(paths, ch.From.Name)
	}
	if ch.To.Name != "" && ch.To.Name != ch.From.Name {
		paths = append(paths, ch.To.Name)
	}
	return paths
}

// applyChange writes one tree change into the working tree.
func applyChange(a *fsadapter.Adapter, ch *object.Change) error {
	action, err := ch.Action()
	if err != nil {
		return fmt.Errorf("reading change: %w", err)
	}
	if action == merkletrie.Delete {
		if err := a.Unlink(ch.From.Name); err != nil && !fsadapter.IsNotFound(err) {
			return fmt.Errorf("removing %s: %w", ch.From.Name, err)
		}
		return nil
	}

	_, to, err := ch.Files()
	if err != nil {
		return fmt.Errorf("reading %s: %w", ch.To.Name, err)
	}
	r, err := to.Reader()
	if err != nil {
		return fmt.Errorf("reading %s: %w", ch.To.Name, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading %s: %w", ch.To.Name, err)
	}
	if err := a.WriteFile(ch.To.Name, data); err != nil {
		return err
	}
	if action == merkletrie.Modify && ch.From.Name != ch.To.Name {
		if err := a.Unlink(ch.From.Name); err != nil && !fsadapter.IsNotFound(err) {
			return fmt.Errorf("removing %s: %w", ch.From.Name, err)
		}
	}
	return nil
}

// Push sends the current branch to the vault's remote.
func (e *Engine) Push(ctx context.Context, v mdsync.VaultRef) PushResult {
	if err := e.begin(v, credstore.StatusPushing); err != nil {
		return pushFailure(err)
	}
	res := e.push(ctx, v)
	switch res.Outcome {
	case OutcomeSuccess:
		e.store.RecordSync(v.ID)
		e.Refresh(v)
	case OutcomeConflict:
		e.store.SetConflict(v.ID, res.Error)
	default:
		e.store.SetError(v.ID, res.Error)
	}
	return res
}

func (e *Engine) push(ctx context.Context, v mdsync.VaultRef) PushResult {
	rc, err := e.remote(v)
	if err != nil {
		return pushFailure(err)
	}
	if rc == nil {
		return pushFailure(errNoRemote)
	}
	repo, _, err := e.open(v)
	if err != nil {
		return pushFailure(err)
	}
	if err := ensureRemote(repo, rc); err != nil {
		return pushFailure(err)
	}
	auth, err := e.auth()
	if err != nil {
		return pushFailure(err)
	}

	branch := e.branchOrDefault(repo)
	local, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		return pushFailure(fmt.Errorf("branch %s has no commits: %w", branch, err))
	}
	pending := countAhead(repo, local.Hash(), plumbing.NewRemoteReferenceName(rc.Name, branch))

	ref := plumbing.NewBranchReferenceName(branch)
	err = repo.PushContext(ctx, &git.PushOptions{
		RemoteName:   rc.Name,
		RemoteURL:    rc.URL,
		RefSpecs:     []config.RefSpec{config.RefSpec(fmt.Sprintf("%s:%s", ref, ref))},
		Auth:         auth,
		ProxyOptions: e.proxy(),
	})
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return PushResult{Outcome: OutcomeSuccess}
	}
	if err != nil {
		err = classify(err)
		e.logger.Warn("push failed", "vault", v.ID, "error", err)
		if errors.Is(err, mdsync.ErrConflict) {
			return PushResult{Outcome: OutcomeConflict, Kind: mdsync.RemoteConflict, Error: mdsync.RemoteMessage(err)}
		}
		return pushFailure(err)
	}

	// go-git only updates tracking refs matched by the fetch refspec.
	tracking := plumbing.NewHashReference(plumbing.NewRemoteReferenceName(rc.Name, branch), local.Hash())
	if err := repo.Storer.SetReference(tracking); err != nil {
		e.logger.Warn("updating tracking ref", "vault", v.ID, "error", err)
	}
	e.logger.Info("pushed", "vault", v.ID, "branch", branch, "commits", pending)
	return PushResult{Outcome: OutcomeSuccess, CommitsPushed: pending}
}

// countAhead counts commits reachable from tip but not from the tracking
// ref. Without a tracking ref every reachable commit counts.
func countAhead(repo *git.Repository, tip plumbing.Hash, tracking plumbing.ReferenceName) int {
	var stop plumbing.Hash
	if ref, err := repo.Reference(tracking, true); err == nil {
		stop = ref.Hash()
	}
	if stop == tip {
		return 0
	}

	seen := map[plumbing.Hash]bool{}
	if !stop.IsZero() {
		if base, err := repo.CommitObject(stop); err == nil {
			iter := object.NewCommitPreorderIter(base, nil, nil)
			_ = iter.ForEach(func(c *object.Commit) error {
				seen[c.Hash] = true
				return nil
			})
		}
	}

	start, err := repo.CommitObject(tip)
	if err != nil {
		return 0
	}
	count := 0
	iter := object.NewCommitPreorderIter(start, seen, nil)
	_ = iter.ForEach(func(c *object.Commit) error {
		if seen[c.Hash] {
			return storer.ErrStop
		}
		count++
		return nil
	})
	return count
}

// Sync pulls, commits local changes with a generated message, and pushes
// when a commit or merge was made. The pull is skipped when the hosting API reports
// the remote has no branches. The first failure or conflict stops the
// cycle and is returned with the counts gathered so far.
func (e *Engine) Sync(ctx context.Context, v mdsync.VaultRef) SyncResult {
	if err := e.begin(v, credstore.StatusSyncing); err != nil {
		return SyncResult{Outcome: OutcomeFailure, Error: err.Error()}
	}
	res := e.sync(ctx, v)
	switch res.Outcome {
	case OutcomeSuccess:
		e.store.RecordSync(v.ID)
		e.Refresh(v)
	case OutcomeConflict:
		e.store.SetConflict(v.ID, res.Error)
	default:
		e.store.SetError(v.ID, res.Error)
	}
	e.logger.Info("sync finished", "vault", v.ID, "outcome", string(res.Outcome),
		"pulled", res.PulledFiles, "pushed", res.PushedCommits)
	return res
}

func (e *Engine) sync(ctx context.Context, v mdsync.VaultRef) SyncResult {
	cfg, err := e.store.VaultConfig(v.ID, v.Name)
	if err != nil {
		return SyncResult{Outcome: OutcomeFailure, Error: err.Error()}
	}
	if cfg.Remote == nil {
		return SyncResult{Outcome: OutcomeFailure, Error: errNoRemote.Error()}
	}

	var res SyncResult
	merged := false
	if !e.remoteKnownEmpty(ctx, cfg.Remote.URL) {
		e.store.SetSyncStatus(v.ID, credstore.StatusPulling)
		pr := e.pull(ctx, v)
		res.PulledFiles = pr.UpdatedFiles
		merged = pr.MergeCommit != ""
		if pr.Outcome != OutcomeSuccess {
			res.Outcome = pr.Outcome
			res.ConflictFiles = pr.ConflictFiles
			res.Kind = pr.Kind
			res.Error = pr.Error
			return res
		}
	}

	e.store.SetSyncStatus(v.ID, credstore.StatusCommitting)
	changes, err := e.ChangedFiles(v)
	if err != nil {
		res.Outcome, res.Error = OutcomeFailure, err.Error()
		return res
	}
	message := e.CommitMessage(ctx, changes, cfg.SyncSettings, v.Name)
	hash, err := e.commit(v, message)
	if err != nil {
		res.Outcome, res.Error = OutcomeFailure, err.Error()
		return res
	}
	res.Commit = hash

	if hash != "" || merged {
		e.store.SetSyncStatus(v.ID, credstore.StatusPushing)
		pr := e.push(ctx, v)
		res.PushedCommits = pr.CommitsPushed
		if pr.Outcome != OutcomeSuccess {
			res.Outcome = pr.Outcome
			res.Kind = pr.Kind
			res.Error = pr.Error
			return res
		}
	}
	res.Outcome = OutcomeSuccess
	return res
}

// remoteKnownEmpty asks the hosting API whether url has no branches. URLs
// the API does not serve are never known to be empty.
func (e *Engine) remoteKnownEmpty(ctx context.Context, url string) bool {
	if e.api == nil {
		return false
	}
	if _, ok := github.ParseURL(url); !ok {
		return false
	}
	return e.api.RemoteIsEmpty(ctx, url)
}
