package cloudsync

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"mdsync/internal/cloud"
	"mdsync/internal/mdsync"
)

const (
	// DefaultAuthURL is the OAuth authorization endpoint.
	DefaultAuthURL = "https://accounts.google.com/o/oauth2/v2/auth"

	// DefaultRedirectURI is where the provider sends the browser back.
	DefaultRedirectURI = "http://localhost"

	silentStatePrefix = "silent_refresh_"
)

// Scopes requested at sign-in.
var Scopes = []string{
	"https://www.googleapis.com/auth/drive.file",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
}

var (
	ErrStateMismatch = errors.New("OAuth state validation failed")
	ErrNoToken       = errors.New("no access token in callback")
)

// UserInfoFetcher resolves the account behind a token. *cloud.Drive
// implements it.
type UserInfoFetcher interface {
	UserInfo(ctx context.Context, token string) (*cloud.UserInfo, error)
}

// Reauthorizer runs an authorization URL without user interaction and
// returns the redirect fragment. It must honor ctx cancellation.
type Reauthorizer interface {
	Reauthorize(ctx context.Context, authURL string) (fragment string, err error)
}

func (e *Engine) buildAuthURL(state, prompt string) (string, error) {
	if e.clientID == "" {
		return "", fmt.Errorf("please set the OAuth client id first: %w", mdsync.ErrNotConfigured)
	}
	u, err := url.Parse(e.opts.AuthURL)
	if err != nil {
		return "", fmt.Errorf("parsing auth url: %w", err)
	}
	q := u.Query()
	q.Set("client_id", e.clientID)
	q.Set("redirect_uri", e.opts.RedirectURI)
	q.Set("response_type", "token")
	q.Set("scope", strings.Join(Scopes, " "))
	q.Set("state", state)
	q.Set("prompt", prompt)
	q.Set("include_granted_scopes", "true")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// AuthURL starts an interactive sign-in. A fresh state token is persisted
// and must come back unchanged through HandleCallback.
func (e *Engine) AuthURL() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureLoadedLocked(); err != nil {
		return "", err
	}
	state := strings.ReplaceAll(e.ids.New(), "-", "")
	authURL, err := e.buildAuthURL(state, "select_account")
	if err != nil {
		return "", err
	}
	if err := e.putString(oauthStateKey, state); err != nil {
		return "", fmt.Errorf("saving oauth state: %w", err)
	}
	return authURL, nil
}

type callbackParams struct {
	token    string
	state    string
	lifetime time.Duration
	errCode  string
}

// parseFragment accepts a full redirect URL or just its fragment.
func parseFragment(raw string) (callbackParams, error) {
	if _, frag, ok := strings.Cut(raw, "#"); ok {
		raw = frag
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return callbackParams{}, fmt.Errorf("parsing callback: %w", err)
	}
	p := callbackParams{
		token:    values.Get("access_token"),
		state:    values.Get("state"),
		lifetime: DefaultTokenLifetime,
		errCode:  values.Get("error"),
	}
	if s := values.Get("expires_in"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			p.lifetime = time.Duration(n) * time.Second
		}
	}
	return p, nil
}

// HandleCallback completes an interactive sign-in from the redirect
// fragment. A state mismatch is a hard failure and nothing is stored.
// After the identity is saved the engine looks for an existing document
// so a new device resumes the same remote file.
func (e *Engine) HandleCallback(ctx context.Context, fragment string) (*cloud.UserInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureLoadedLocked(); err != nil {
		return nil, err
	}

	p, err := parseFragment(fragment)
	if err != nil {
		return nil, err
	}
	if p.token == "" {
		if p.errCode != "" {
			return nil, fmt.Errorf("authorization failed: %s", p.errCode)
		}
		return nil, ErrNoToken
	}

	saved, err := e.getString(oauthStateKey)
	if err != nil {
		return nil, fmt.Errorf("loading oauth state: %w", err)
	}
	if err := e.kv.Delete(oauthStateKey); err != nil {
		return nil, fmt.Errorf("clearing oauth state: %w", err)
	}
	if saved == "" || p.state != saved {
		e.logger.Warn("oauth state mismatch")
		return nil, ErrStateMismatch
	}

	user, err := e.users.UserInfo(ctx, p.token)
	if err != nil {
		return nil, fmt.Errorf("failed to get user info: %w", err)
	}
	if err := e.saveTokenLocked(p.token, p.lifetime); err != nil {
		return nil, err
	}
	if err := e.putJSON(userKey, user); err != nil {
		return nil, fmt.Errorf("saving user info: %w", err)
	}
	e.user = user
	e.logger.Info("signed in to cloud sync", "email", user.Email)

	if e.fileID == "" {
		if f, err := e.findExistingLocked(ctx); err != nil {
			e.logger.Warn("searching for existing sync file failed", "error", err)
		} else if f != nil {
			if err := e.setFileIDLocked(f.ID); err != nil {
				return nil, err
			}
		}
	}
	u := *user
	return &u, nil
}

// findExistingLocked returns the canonical document, or the newest legacy
// file when only the old layout exists.
func (e *Engine) findExistingLocked(ctx context.Context) (*mdsync.RemoteFile, error) {
	if err := e.ensureFoldersLocked(ctx); err != nil {
		return nil, err
	}
	f, err := e.backend.FindFile(ctx, DataFileName, e.folderID)
	if err != nil || f != nil {
		return f, err
	}
	return e.backend.FindFile(ctx, LegacyFileName(e.opts.Deployment), "")
}

// trySilentReauthLocked attempts a no-UI token refresh bounded by the
// silent timeout. Any failure leaves the engine waiting for interactive
// sign-in.
func (e *Engine) trySilentReauthLocked(ctx context.Context) bool {
	if e.opts.Reauthorizer == nil || e.clientID == "" {
		return false
	}
	state := silentStatePrefix + strings.ReplaceAll(e.ids.New(), "-", "")
	authURL, err := e.buildAuthURL(state, "none")
	if err != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.SilentTimeout)
	defer cancel()

	type result struct {
		fragment string
		err      error
	}
	done := make(chan result, 1)
	go func() {
		frag, err := e.opts.Reauthorizer.Reauthorize(ctx, authURL)
		done <- result{frag, err}
	}()

	var r result
	select {
	case r = <-done:
	case <-ctx.Done():
		e.logger.Info("silent reauthorization timed out")
		return false
	}
	if r.err != nil {
		e.logger.Info("silent reauthorization failed", "error", r.err)
		return false
	}
	p, err := parseFragment(r.fragment)
	if err != nil || p.token == "" || p.state != state {
		e.logger.Info("silent reauthorization denied")
		return false
	}
	if err := e.saveTokenLocked(p.token, p.lifetime); err != nil {
		e.logger.Warn("saving refreshed token failed", "error", err)
		return false
	}
	e.logger.Info("silent reauthorization succeeded")
	return true
}

// Initialize loads persisted state and tries a silent refresh when the
// token expired. A remote modification time is recorded only when none is
// known yet, so remote edits made while offline still surface as conflicts.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureLoadedLocked(); err != nil {
		return err
	}

	if e.user != nil && e.token == "" {
		e.trySilentReauthLocked(ctx)
	}
	if e.token == "" {
		return nil
	}

	if e.fileID == "" {
		f, err := e.findExistingLocked(ctx)
		if err != nil {
			e.logger.Warn("searching for existing sync file failed", "error", err)
			return nil
		}
		if f == nil {
			return nil
		}
		if err := e.setFileIDLocked(f.ID); err != nil {
			return err
		}
	}

	if e.state.LastCloudModified != nil {
		return nil
	}
	f, err := e.backend.FileStatus(ctx, e.fileID)
	if err != nil {
		e.logger.Warn("checking initial cloud file status failed", "error", err)
		return nil
	}
	e.state.LastCloudModified = &f.ModifiedTime
	return e.saveStateLocked()
}
