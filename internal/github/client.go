// Package github talks to the GitHub REST API: repository existence,
// creation, branch listing and the authenticated user.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"mdsync/internal/mdsync"
)

// DefaultBaseURL is the public GitHub API endpoint.
const DefaultBaseURL = "https://api.github.com"

// DefaultRepoDescription is used when CreateRepo gets no description.
const DefaultRepoDescription = "Obsidian vault synced by md-viewer"

// TokenFunc returns the bearer token for a request. An empty token fails the
// request with mdsync.ErrUnauthenticated before anything is sent.
type TokenFunc func() (string, error)

// Client is a small, rate-limited GitHub API client.
type Client struct {
	baseURL string
	token   TokenFunc
	http    *http.Client
	limiter *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRateLimit sets the sustained request rate and burst.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// NewClient creates a client. An empty baseURL means DefaultBaseURL.
func NewClient(baseURL string, token TokenFunc, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(10), 5),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Repo is the subset of the repository resource mdsync uses.
type Repo struct {
	Name          string `json:"name"`
	FullName      string `json:"full_name"`
	Private       bool   `json:"private"`
	CloneURL      string `json:"clone_url"`
	DefaultBranch string `json:"default_branch"`
}

// Branch is one entry of the branch listing.
type Branch struct {
	Name   string `json:"name"`
	Commit struct {
		SHA string `json:"sha"`
	} `json:"commit"`
}

// User is the authenticated account.
type User struct {
	Login string `json:"login"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// do sends a request and returns the response for 2xx and 404 statuses.
// Everything else is decoded into a RemoteError.
func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	token, err := c.token()
	if err != nil {
		return nil, fmt.Errorf("loading token: %w", err)
	}
	if token == "" {
		return nil, fmt.Errorf("github: %w", mdsync.ErrUnauthenticated)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &mdsync.RemoteError{Kind: mdsync.RemoteNetwork, Err: err}
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &mdsync.RemoteError{Kind: mdsync.RemoteNetwork, Err: err}
	}
	if resp.StatusCode/100 == 2 || resp.StatusCode == http.StatusNotFound {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, decodeError(resp)
}

// decodeError maps a failed response to a RemoteError carrying the API's
// own message.
func decodeError(resp *http.Response) error {
	var payload struct {
		Message string `json:"message"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &payload); err != nil || payload.Message == "" {
		payload.Message = fmt.Sprintf("GitHub API error: %d", resp.StatusCode)
	}

	kind := mdsync.RemoteAPI
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = mdsync.RemoteAuth
	case http.StatusNotFound:
		kind = mdsync.RemoteNotFound
	case http.StatusConflict:
		kind = mdsync.RemoteConflict
	}
	return &mdsync.RemoteError{Kind: kind, StatusCode: resp.StatusCode, Message: payload.Message}
}

func notFound(resp *http.Response) error {
	defer resp.Body.Close()
	return decodeError(resp)
}

// RepoExists reports whether the repository named by rawURL exists:
// 200 means yes, 404 means no, and anything else is an error.
func (c *Client) RepoExists(ctx context.Context, rawURL string) (bool, error) {
	ref, ok := ParseURL(rawURL)
	if !ok {
		return false, fmt.Errorf("invalid GitHub URL: %s", rawURL)
	}

	resp, err := c.do(ctx, http.MethodGet, "/repos/"+ref.Owner+"/"+ref.Repo, nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}
	return false, decodeError(resp)
}

// CreateRepo creates a repository for the authenticated user without any
// initial content and returns its HTTPS clone URL.
func (c *Client) CreateRepo(ctx context.Context, name string, private bool, description string) (*Repo, error) {
	if description == "" {
		description = DefaultRepoDescription
	}
	body := map[string]any{
		"name":        name,
		"description": description,
		"private":     private,
		"auto_init":   false,
	}

	resp, err := c.do(ctx, http.MethodPost, "/user/repos", body)
	if err != nil {
		return nil, fmt.Errorf("creating repository %s: %w", name, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("creating repository %s: %w", name, notFound(resp))
	}
	defer resp.Body.Close()

	var repo Repo
	if err := json.NewDecoder(resp.Body).Decode(&repo); err != nil {
		return nil, fmt.Errorf("decoding created repository: %w", err)
	}
	return &repo, nil
}

// ListBranches returns the branches of owner/repo.
func (c *Client) ListBranches(ctx context.Context, owner, repo string) ([]Branch, error) {
	resp, err := c.do(ctx, http.MethodGet, "/repos/"+owner+"/"+repo+"/branches", nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, notFound(resp)
	}
	defer resp.Body.Close()

	var branches []Branch
	if err := json.NewDecoder(resp.Body).Decode(&branches); err != nil {
		return nil, fmt.Errorf("decoding branches: %w", err)
	}
	return branches, nil
}

// RemoteIsEmpty reports whether the repository behind rawURL has no
// branches. Missing credentials, an unparseable URL, and any API or network
// failure all count as empty, so a brand-new remote is never pulled from.
func (c *Client) RemoteIsEmpty(ctx context.Context, rawURL string) bool {
	ref, ok := ParseURL(rawURL)
	if !ok {
		return true
	}
	branches, err := c.ListBranches(ctx, ref.Owner, ref.Repo)
	if err != nil {
		return true
	}
	return len(branches) == 0
}

// CurrentUser returns the account the token belongs to.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	resp, err := c.do(ctx, http.MethodGet, "/user", nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, notFound(resp)
	}
	defer resp.Body.Close()

	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("decoding user: %w", err)
	}
	if user.Login == "" {
		return nil, errors.New("github: user response has no login")
	}
	return &user, nil
}
