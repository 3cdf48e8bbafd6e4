package cloudsync

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"mdsync/internal/cloud"
	"mdsync/internal/mdsync"
	"mdsync/internal/testutil"
)

type fakeUsers struct {
	user *cloud.UserInfo
	err  error
}

func (f fakeUsers) UserInfo(_ context.Context, token string) (*cloud.UserInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	u := *f.user
	return &u, nil
}

type testEnv struct {
	engine  *Engine
	backend *cloud.MemoryBackend
	kv      mdsync.KVStore
	clock   *testutil.StubClock
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	clock := testutil.FixedClock()
	db := testutil.NewTestDatabase(t)
	backend := cloud.NewMemoryBackend(clock)
	if opts.ClientID == "" {
		opts.ClientID = "client-123"
	}
	if opts.Deployment == "" {
		opts.Deployment = "notes.example"
	}
	users := fakeUsers{user: &cloud.UserInfo{Email: "ada@example.com", Name: "Ada"}}
	eng := New(db, testutil.NewTestEncryptor(), backend, users, clock, testutil.NewStubIDGenerator(), nil, opts)
	return &testEnv{engine: eng, backend: backend, kv: db, clock: clock}
}

// signIn runs the full redirect flow with the given token.
func (env *testEnv) signIn(t *testing.T, token string) {
	t.Helper()
	authURL, err := env.engine.AuthURL()
	if err != nil {
		t.Fatalf("AuthURL() error = %v", err)
	}
	u, err := url.Parse(authURL)
	if err != nil {
		t.Fatal(err)
	}
	state := u.Query().Get("state")
	if _, err := env.engine.HandleCallback(context.Background(), "http://localhost/#access_token="+token+"&state="+state+"&expires_in=3600"); err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}
}

func TestAuthURL(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{RedirectURI: "http://localhost:8080/cb"})
	raw, err := env.engine.AuthURL()
	if err != nil {
		t.Fatal(err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if got := u.Scheme + "://" + u.Host + u.Path; got != DefaultAuthURL {
		t.Errorf("endpoint = %q", got)
	}
	q := u.Query()
	want := map[string]string{
		"client_id":              "client-123",
		"redirect_uri":           "http://localhost:8080/cb",
		"response_type":          "token",
		"prompt":                 "select_account",
		"include_granted_scopes": "true",
		"state":                  "id1",
	}
	for k, v := range want {
		if q.Get(k) != v {
			t.Errorf("%s = %q, want %q", k, q.Get(k), v)
		}
	}
	if !strings.Contains(q.Get("scope"), "drive.file") || !strings.Contains(q.Get("scope"), "userinfo.email") {
		t.Errorf("scope = %q", q.Get("scope"))
	}
}

func TestAuthURLRequiresClientID(t *testing.T) {
	t.Parallel()
	clock := testutil.FixedClock()
	eng := New(testutil.NewTestDatabase(t), testutil.NewTestEncryptor(), cloud.NewMemoryBackend(clock), fakeUsers{}, clock, nil, nil, Options{})
	if _, err := eng.AuthURL(); !errors.Is(err, mdsync.ErrNotConfigured) {
		t.Errorf("AuthURL() error = %v, want ErrNotConfigured", err)
	}
}

func TestHandleCallback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("state mismatch stores nothing", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, Options{})
		if _, err := env.engine.AuthURL(); err != nil {
			t.Fatal(err)
		}
		_, err := env.engine.HandleCallback(ctx, "#access_token=tok&state=forged")
		if !errors.Is(err, ErrStateMismatch) {
			t.Fatalf("error = %v, want ErrStateMismatch", err)
		}
		st, _ := env.engine.Status()
		if st.Connected || st.User != nil {
			t.Errorf("status after mismatch = %+v", st)
		}
		// The state is single use.
		if _, err := env.engine.HandleCallback(ctx, "#access_token=tok&state=id1"); !errors.Is(err, ErrStateMismatch) {
			t.Errorf("replayed callback error = %v", err)
		}
	})

	t.Run("missing token", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, Options{})
		if _, err := env.engine.HandleCallback(ctx, "#state=id1"); !errors.Is(err, ErrNoToken) {
			t.Errorf("error = %v, want ErrNoToken", err)
		}
		if _, err := env.engine.HandleCallback(ctx, "#error=access_denied"); err == nil || !strings.Contains(err.Error(), "access_denied") {
			t.Errorf("error = %v, want access_denied", err)
		}
	})

	t.Run("success with default lifetime", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, Options{})
		if _, err := env.engine.AuthURL(); err != nil {
			t.Fatal(err)
		}
		user, err := env.engine.HandleCallback(ctx, "access_token=tok-1&state=id1")
		if err != nil {
			t.Fatal(err)
		}
		if user.Email != "ada@example.com" {
			t.Errorf("user = %+v", user)
		}
		st, _ := env.engine.Status()
		if !st.Connected || st.NeedsReauthorization {
			t.Errorf("status = %+v", st)
		}
		if st.TokenExpiry == nil || !st.TokenExpiry.Equal(env.clock.Now().Add(time.Hour)) {
			t.Errorf("expiry = %v", st.TokenExpiry)
		}
		if tok, _ := env.engine.AccessToken(); tok != "tok-1" {
			t.Errorf("AccessToken() = %q", tok)
		}
	})

	t.Run("user info failure", func(t *testing.T) {
		t.Parallel()
		clock := testutil.FixedClock()
		eng := New(testutil.NewTestDatabase(t), testutil.NewTestEncryptor(), cloud.NewMemoryBackend(clock),
			fakeUsers{err: errors.New("boom")}, clock, testutil.NewStubIDGenerator(), nil, Options{ClientID: "c"})
		if _, err := eng.AuthURL(); err != nil {
			t.Fatal(err)
		}
		if _, err := eng.HandleCallback(ctx, "#access_token=t&state=id1"); err == nil {
			t.Fatal("expected error")
		}
		if _, err := eng.AccessToken(); !errors.Is(err, mdsync.ErrUnauthenticated) {
			t.Errorf("token stored despite user info failure: %v", err)
		}
	})

	t.Run("finds existing document", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t, Options{})
		folder, _ := env.backend.FindOrCreateFolder(ctx, FolderName("notes.example"), "")
		if _, err := env.backend.Create(ctx, DataFileName, folder, []byte(`{"tabs":[]}`)); err != nil {
			t.Fatal(err)
		}
		env.signIn(t, "tok")
		st, _ := env.engine.Status()
		if !st.HasSyncFile {
			t.Fatal("existing document not adopted")
		}
		res := env.engine.Load(ctx)
		if res.Outcome != OutcomeSuccess || string(res.Data) != `{"tabs":[]}` {
			t.Errorf("Load() = %+v", res)
		}
	})
}

func TestTokenExpiryKeepsIdentity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t, Options{})
	env.signIn(t, "tok")
	if res := env.engine.SyncWithBackup(ctx, map[string]int{"v": 1}, false, 7, false); res.Outcome != OutcomeSuccess {
		t.Fatalf("sync = %+v", res)
	}

	env.clock.Advance(2 * time.Hour)
	// A fresh engine over the same storage sees an expired token.
	users := fakeUsers{user: &cloud.UserInfo{Email: "ada@example.com"}}
	again := New(env.kv, testutil.NewTestEncryptor(), env.backend, users, env.clock, testutil.NewStubIDGenerator(), nil, Options{ClientID: "client-123", Deployment: "notes.example"})
	st, err := again.Status()
	if err != nil {
		t.Fatal(err)
	}
	if st.Connected || !st.NeedsReauthorization {
		t.Errorf("status = %+v, want needs reauthorization", st)
	}
	if st.User == nil || st.User.Email != "ada@example.com" || !st.HasSyncFile {
		t.Errorf("identity or file reference lost: %+v", st)
	}
	res := again.SyncWithBackup(ctx, map[string]int{"v": 2}, false, 7, false)
	if res.Outcome != OutcomeFailure || res.Kind != mdsync.RemoteAuth {
		t.Errorf("sync without token = %+v", res)
	}
}

type stubReauth struct {
	fragment func(authURL string) string
	delay    time.Duration
	err      error
}

func (s stubReauth) Reauthorize(ctx context.Context, authURL string) (string, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if s.err != nil {
		return "", s.err
	}
	return s.fragment(authURL), nil
}

func echoState(token string) func(string) string {
	return func(authURL string) string {
		u, _ := url.Parse(authURL)
		if u.Query().Get("prompt") != "none" {
			return "error=interaction_required"
		}
		return "access_token=" + token + "&state=" + u.Query().Get("state")
	}
}

func TestInitializeSilentReauth(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name      string
		reauth    Reauthorizer
		wantToken bool
	}{
		{name: "success", reauth: stubReauth{fragment: echoState("fresh")}, wantToken: true},
		{name: "denied", reauth: stubReauth{err: errors.New("login required")}},
		{name: "wrong state", reauth: stubReauth{fragment: func(string) string { return "access_token=x&state=other" }}},
		{name: "timeout", reauth: stubReauth{fragment: echoState("late"), delay: time.Second}},
		{name: "none configured"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, Options{})
			env.signIn(t, "old")
			env.clock.Advance(2 * time.Hour)

			eng := New(env.kv, testutil.NewTestEncryptor(), env.backend, fakeUsers{user: &cloud.UserInfo{}}, env.clock,
				testutil.NewStubIDGenerator(), nil, Options{
					ClientID:      "client-123",
					Deployment:    "notes.example",
					Reauthorizer:  tt.reauth,
					SilentTimeout: 50 * time.Millisecond,
				})
			if err := eng.Initialize(ctx); err != nil {
				t.Fatal(err)
			}
			tok, err := eng.AccessToken()
			if tt.wantToken {
				if tok != "fresh" {
					t.Errorf("AccessToken() = %q, %v", tok, err)
				}
				return
			}
			if !errors.Is(err, mdsync.ErrUnauthenticated) {
				t.Errorf("AccessToken() = %q, %v, want unauthenticated", tok, err)
			}
		})
	}
}

func TestSignOutAndClearSyncFile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t, Options{})
	env.signIn(t, "tok")
	env.engine.SyncWithBackup(ctx, json.RawMessage(`{"a":1}`), false, 7, false)

	if err := env.engine.ClearSyncFile(); err != nil {
		t.Fatal(err)
	}
	st, _ := env.engine.Status()
	if st.HasSyncFile || !st.Connected {
		t.Errorf("after ClearSyncFile status = %+v", st)
	}

	if err := env.engine.SignOut(); err != nil {
		t.Fatal(err)
	}
	st, _ = env.engine.Status()
	if st.Connected || st.NeedsReauthorization || st.User != nil || st.LastSyncTime != nil {
		t.Errorf("after SignOut status = %+v", st)
	}
	if raw, _ := env.kv.Get(folderIDKey("notes.example")); raw != nil {
		t.Error("folder id survived sign out")
	}
}
