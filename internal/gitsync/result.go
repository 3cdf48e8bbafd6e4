package gitsync

import "mdsync/internal/mdsync"

// Outcome tags the result of a sync-flow operation.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeConflict Outcome = "conflict"
	OutcomeFailure  Outcome = "failure"
)

// PullResult reports a pull. UpdatedFiles counts working-tree paths
// rewritten by a fast-forward or merge; ConflictFiles lists paths both
// sides changed.
type PullResult struct {
	Outcome       Outcome
	UpdatedFiles  int
	FastForward   bool
	// MergeCommit is set when diverged histories were joined by a merge.
	MergeCommit   string
	ConflictFiles []string
	Kind          mdsync.RemoteKind
	Error         string
}

// PushResult reports a push.
type PushResult struct {
	Outcome       Outcome
	CommitsPushed int
	Kind          mdsync.RemoteKind
	Error         string
}

// SyncResult reports a full pull, commit, push cycle. Counts are filled in
// up to the stage that stopped the cycle.
type SyncResult struct {
	Outcome       Outcome
	PulledFiles   int
	Commit        string
	PushedCommits int
	ConflictFiles []string
	Kind          mdsync.RemoteKind
	Error         string
}

// SetupResult reports SmartSetup.
type SetupResult struct {
	Outcome Outcome
	URL     string
	Created bool
	Error   string
}

func pullFailure(err error) PullResult {
	return PullResult{Outcome: OutcomeFailure, Kind: mdsync.RemoteKindOf(err), Error: mdsync.RemoteMessage(err)}
}

func pushFailure(err error) PushResult {
	return PushResult{Outcome: OutcomeFailure, Kind: mdsync.RemoteKindOf(err), Error: mdsync.RemoteMessage(err)}
}
