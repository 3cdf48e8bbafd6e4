package github

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"mdsync/internal/mdsync"
)

func staticToken(tok string) TokenFunc {
	return func() (string, error) { return tok, nil }
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, staticToken("tok-123"), WithHTTPClient(srv.Client()), WithRateLimit(1000, 100))
}

func TestClient_RepoExists(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   int
		body     string
		want     bool
		wantErr  bool
		wantKind mdsync.RemoteKind
		wantMsg  string
	}{
		{name: "exists", status: http.StatusOK, body: `{"name":"notes"}`, want: true},
		{name: "missing", status: http.StatusNotFound, body: `{"message":"Not Found"}`, want: false},
		{name: "forbidden", status: http.StatusForbidden, body: `{"message":"Bad credentials"}`, wantErr: true, wantKind: mdsync.RemoteAuth, wantMsg: "Bad credentials"},
		{name: "server error", status: http.StatusBadGateway, body: `oops`, wantErr: true, wantKind: mdsync.RemoteAPI, wantMsg: "GitHub API error: 502"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/repos/ada/notes" {
					t.Errorf("path = %s", r.URL.Path)
				}
				if got := r.Header.Get("Authorization"); got != "Bearer tok-123" {
					t.Errorf("Authorization = %q", got)
				}
				if got := r.Header.Get("Accept"); got != "application/vnd.github.v3+json" {
					t.Errorf("Accept = %q", got)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			got, err := c.RepoExists(context.Background(), "https://github.com/ada/notes.git")
			if (err != nil) != tt.wantErr {
				t.Fatalf("RepoExists() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("RepoExists() = %v, want %v", got, tt.want)
			}
			if tt.wantErr {
				if kind := mdsync.RemoteKindOf(err); kind != tt.wantKind {
					t.Errorf("kind = %q, want %q", kind, tt.wantKind)
				}
				if msg := mdsync.RemoteMessage(err); msg != tt.wantMsg {
					t.Errorf("message = %q, want %q", msg, tt.wantMsg)
				}
			}
		})
	}
}

func TestClient_RepoExists_InvalidURL(t *testing.T) {
	t.Parallel()
	c := NewClient("http://unused.invalid", staticToken("t"))
	if _, err := c.RepoExists(context.Background(), "https://gitlab.com/a/b"); err == nil {
		t.Error("RepoExists() with non-GitHub URL succeeded")
	}
}

func TestClient_MissingToken(t *testing.T) {
	t.Parallel()
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	defer srv.Close()

	c := NewClient(srv.URL, staticToken(""))
	_, err := c.RepoExists(context.Background(), "https://github.com/a/b")
	if !errors.Is(err, mdsync.ErrUnauthenticated) {
		t.Errorf("error = %v, want ErrUnauthenticated", err)
	}
	if called {
		t.Error("request sent without a token")
	}
}

func TestClient_CreateRepo(t *testing.T) {
	t.Parallel()

	t.Run("posts without auto init", func(t *testing.T) {
		t.Parallel()
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || r.URL.Path != "/user/repos" {
				t.Errorf("%s %s", r.Method, r.URL.Path)
			}
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body["name"] != "notes" || body["private"] != true || body["auto_init"] != false {
				t.Errorf("body = %v", body)
			}
			if body["description"] != DefaultRepoDescription {
				t.Errorf("description = %v", body["description"])
			}
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"name":"notes","full_name":"ada/notes","private":true,"clone_url":"https://github.com/ada/notes.git"}`))
		})

		repo, err := c.CreateRepo(context.Background(), "notes", true, "")
		if err != nil {
			t.Fatalf("CreateRepo() error = %v", err)
		}
		if repo.CloneURL != "https://github.com/ada/notes.git" {
			t.Errorf("CloneURL = %q", repo.CloneURL)
		}
	})

	t.Run("surfaces the API message", func(t *testing.T) {
		t.Parallel()
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			w.Write([]byte(`{"message":"name already exists on this account"}`))
		})

		_, err := c.CreateRepo(context.Background(), "notes", false, "mine")
		if err == nil {
			t.Fatal("CreateRepo() error = nil")
		}
		if msg := mdsync.RemoteMessage(err); msg != "name already exists on this account" {
			t.Errorf("message = %q", msg)
		}
	})
}

func TestClient_RemoteIsEmpty(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		url    string
		want   bool
	}{
		{name: "has branches", status: 200, body: `[{"name":"main","commit":{"sha":"abc"}}]`, url: "https://github.com/ada/notes", want: false},
		{name: "no branches", status: 200, body: `[]`, url: "https://github.com/ada/notes", want: true},
		{name: "not found", status: 404, body: `{"message":"Not Found"}`, url: "https://github.com/ada/notes", want: true},
		{name: "conflict", status: 409, body: `{"message":"Git Repository is empty."}`, url: "https://github.com/ada/notes", want: true},
		{name: "unparseable url", status: 200, body: `[{"name":"main"}]`, url: "not a url", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/repos/ada/notes/branches" {
					t.Errorf("path = %s", r.URL.Path)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			if got := c.RemoteIsEmpty(context.Background(), tt.url); got != tt.want {
				t.Errorf("RemoteIsEmpty() = %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("no credentials", func(t *testing.T) {
		t.Parallel()
		c := NewClient("http://unused.invalid", staticToken(""))
		if !c.RemoteIsEmpty(context.Background(), "https://github.com/a/b") {
			t.Error("RemoteIsEmpty() without token = false")
		}
	})
}

func TestClient_CurrentUser(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/user" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"login":"ada","name":"Ada Lovelace"}`))
	})

	u, err := c.CurrentUser(context.Background())
	if err != nil {
		t.Fatalf("CurrentUser() error = %v", err)
	}
	if u.Login != "ada" || u.Name != "Ada Lovelace" {
		t.Errorf("CurrentUser() = %+v", u)
	}
}
