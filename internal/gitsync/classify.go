package gitsync

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"mdsync/internal/mdsync"
)

// classify translates a go-git transport error into a RemoteError. It is the
// only place git transport failures are interpreted.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var re *mdsync.RemoteError
	if errors.As(err, &re) {
		return err
	}

	switch {
	case errors.Is(err, transport.ErrEmptyRemoteRepository),
		errors.Is(err, git.NoMatchingRefSpecError{}),
		errors.Is(err, plumbing.ErrReferenceNotFound):
		return &mdsync.RemoteError{Kind: mdsync.RemoteEmpty, Message: "remote has no commits on this branch", Err: err}
	case errors.Is(err, transport.ErrRepositoryNotFound):
		return &mdsync.RemoteError{Kind: mdsync.RemoteNotFound, StatusCode: 404, Message: "repository not found", Err: err}
	case errors.Is(err, transport.ErrAuthenticationRequired):
		return &mdsync.RemoteError{Kind: mdsync.RemoteAuth, StatusCode: 401, Message: "authentication required", Err: err}
	case errors.Is(err, transport.ErrAuthorizationFailed):
		return &mdsync.RemoteError{Kind: mdsync.RemoteAuth, StatusCode: 403, Message: "authorization failed", Err: err}
	case errors.Is(err, transport.ErrInvalidAuthMethod):
		return &mdsync.RemoteError{Kind: mdsync.RemoteAuth, Message: "invalid auth method", Err: err}
	case errors.Is(err, git.ErrNonFastForwardUpdate),
		errors.Is(err, git.ErrForceNeeded),
		strings.Contains(err.Error(), "non-fast-forward"):
		return &mdsync.RemoteError{Kind: mdsync.RemoteConflict, Message: "remote has commits not present locally", Err: err}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &mdsync.RemoteError{Kind: mdsync.RemoteNetwork, Err: err}
	}

	var herr *githttp.Err
	if errors.As(err, &herr) && herr.Response != nil {
		return &mdsync.RemoteError{Kind: mdsync.RemoteAPI, StatusCode: herr.Response.StatusCode, Message: herr.Reason, Err: err}
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return &mdsync.RemoteError{Kind: mdsync.RemoteNetwork, Err: err}
	}
	return &mdsync.RemoteError{Kind: mdsync.RemoteAPI, Err: err}
}

// isEmptyRemote reports whether err means there is nothing to pull yet.
// A missing repository counts: it may have just been created.
func isEmptyRemote(err error) bool {
	switch mdsync.RemoteKindOf(err) {
	case mdsync.RemoteEmpty, mdsync.RemoteNotFound:
		return true
	}
	return false
}
