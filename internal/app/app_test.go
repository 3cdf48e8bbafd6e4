package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport/client"
	"github.com/go-git/go-git/v5/plumbing/transport/file"

	"mdsync/internal/cloudsync"
	"mdsync/internal/config"
	"mdsync/internal/credstore"
	"mdsync/internal/gitsync"
	"mdsync/internal/mdsync"
	"mdsync/internal/testutil"
)

func TestMain(m *testing.M) {
	// Local remotes are served by git-upload-pack and git-receive-pack, which
	// negotiate fetches that carry local-only commits.
	client.InstallProtocol("file", file.DefaultClient)
	os.Exit(m.Run())
}

func newTestApp(t *testing.T, clock mdsync.Clock, mutate func(*config.Config)) *App {
	t.Helper()
	cfg := config.NewConfig("test-host", t.TempDir())
	cfg.Database.Type = "memory"
	cfg.Encryption.Type = "test"
	cfg.Cloud.Type = "memory"
	if mutate != nil {
		mutate(cfg)
	}
	a, err := NewApp(context.Background(), cfg, Options{Operation: "test", Clock: clock})
	if err != nil {
		t.Fatalf("NewApp() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func newBareRemote(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "remote.git")
	_, err := git.PlainInitWithOptions(dir, &git.PlainInitOptions{
		Bare:        true,
		InitOptions: git.InitOptions{DefaultBranch: plumbing.Main},
	})
	if err != nil {
		t.Fatalf("PlainInit() error = %v", err)
	}
	return dir
}

func TestVaultsAndTabs(t *testing.T) {
	a := newTestApp(t, nil, nil)
	root := filepath.Join(t.TempDir(), "notes")
	writeFile(t, root, "daily/today.md", "# today")
	writeFile(t, root, "ignored.txt", "x")

	v, err := a.AddVault(root)
	if err != nil {
		t.Fatalf("AddVault() error = %v", err)
	}
	if _, err := a.AddVault(root); !errors.Is(err, mdsync.ErrDuplicateVault) {
		t.Errorf("second AddVault() error = %v, want ErrDuplicateVault", err)
	}

	vaults, err := a.ListVaults()
	if err != nil {
		t.Fatal(err)
	}
	if len(vaults) != 1 || vaults[0].Name != "notes" || !vaults[0].Connected {
		t.Fatalf("ListVaults() = %+v", vaults)
	}

	tree, err := a.VaultTree("notes")
	if err != nil {
		t.Fatal(err)
	}
	if len(tree.Entries) != 1 || tree.Entries[0].Name != "daily" {
		t.Errorf("tree = %+v, want only the daily directory", tree.Entries)
	}

	tabID, created, err := a.OpenNote(v.Name, "daily/today.md")
	if err != nil || !created {
		t.Fatalf("OpenNote() = %v, %v", created, err)
	}
	if again, created, _ := a.OpenNote(v.ID, "daily/today.md"); created || again != tabID {
		t.Errorf("reopen = %s, %v; want the existing tab", again, created)
	}

	wrote, err := a.EditTab(tabID, "# edited")
	if err != nil || !wrote {
		t.Fatalf("EditTab() = %v, %v", wrote, err)
	}
	data, err := os.ReadFile(filepath.Join(root, "daily", "today.md"))
	if err != nil || string(data) != "# edited" {
		t.Errorf("file = %q, %v", data, err)
	}

	changes, err := a.CheckTabs()
	if err != nil || len(changes) != 0 {
		t.Fatalf("CheckTabs() after own save = %+v, %v", changes, err)
	}
	p := writeFile(t, root, "daily/today.md", "# from elsewhere")
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(p, future, future); err != nil {
		t.Fatal(err)
	}
	changes, err = a.CheckTabs()
	if err != nil || len(changes) != 1 || changes[0].TabID != tabID {
		t.Fatalf("CheckTabs() = %+v, %v", changes, err)
	}
	if err := a.ReloadTab(tabID); err != nil {
		t.Fatal(err)
	}
	for _, info := range a.Tabs() {
		if info.Tab.ID == tabID && (info.Tab.Content != "# from elsewhere" || !info.Bound || !info.Active) {
			t.Errorf("reloaded tab = %+v", info)
		}
	}

	unbound, err := a.NewTab("scratch", "draft")
	if err != nil {
		t.Fatal(err)
	}
	if wrote, err := a.SaveActiveTab(); err != nil || wrote {
		t.Errorf("SaveActiveTab() on %s = %v, %v; want false, nil", unbound, wrote, err)
	}

	entry, err := a.CreateNote("notes", "daily", "tomorrow", "# tomorrow")
	if err != nil {
		t.Fatal(err)
	}
	if entry.Path != "daily/tomorrow.md" {
		t.Errorf("CreateNote() path = %q", entry.Path)
	}

	if err := a.RemoveVault("notes"); err != nil {
		t.Fatal(err)
	}
	if vaults, _ := a.ListVaults(); len(vaults) != 0 {
		t.Errorf("vaults after remove = %+v", vaults)
	}
	for _, info := range a.Tabs() {
		if info.Bound {
			t.Errorf("tab %s still bound after its vault was removed", info.Tab.ID)
		}
	}
}

func TestCloudSyncAndLoad(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, nil, nil)

	res, err := a.CloudSync(ctx, false)
	if err != nil || res.Outcome != cloudsync.OutcomeSuccess {
		t.Fatalf("CloudSync() = %+v, %v", res, err)
	}
	synced := len(a.Tabs())

	if _, err := a.NewTab("local only", ""); err != nil {
		t.Fatal(err)
	}
	load, err := a.CloudLoad(ctx, false)
	if err != nil || load.Outcome != cloudsync.OutcomeSuccess {
		t.Fatalf("CloudLoad() = %+v, %v", load, err)
	}
	if got := len(a.Tabs()); got != synced {
		t.Errorf("tabs after load = %d, want %d", got, synced)
	}

	ops, err := a.History("", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 2 || ops[0].Kind != mdsync.OpCloudLoad || ops[1].Kind != mdsync.OpCloudSync {
		t.Fatalf("history = %+v", ops)
	}
	for _, op := range ops {
		if op.Status != mdsync.OpSuccess || op.FinishedAt == nil {
			t.Errorf("operation %s = %s finished=%v", op.Kind, op.Status, op.FinishedAt)
		}
	}
}

func TestGitOperations(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, nil, nil)
	root := filepath.Join(t.TempDir(), "vault")
	writeFile(t, root, "a.md", "# A")
	if _, err := a.AddVault(root); err != nil {
		t.Fatal(err)
	}

	if err := a.GitInit(ctx, "vault"); err != nil {
		t.Fatalf("GitInit() error = %v", err)
	}
	hash, err := a.GitCommit(ctx, "vault", "")
	if err != nil || hash == "" {
		t.Fatalf("GitCommit() = %q, %v", hash, err)
	}
	if again, err := a.GitCommit(ctx, "vault", ""); err != nil || again != "" {
		t.Errorf("idle GitCommit() = %q, %v; want nothing to commit", again, err)
	}

	if err := a.GitSetRemote(ctx, "vault", newBareRemote(t), ""); err != nil {
		t.Fatal(err)
	}
	res, err := a.GitSync(ctx, "vault")
	if err != nil || res.Outcome != gitsync.OutcomeSuccess {
		t.Fatalf("GitSync() = %+v, %v", res, err)
	}

	report, err := a.GitStatus("vault")
	if err != nil {
		t.Fatal(err)
	}
	if !report.Status.IsGitRepo || report.Remote == nil || len(report.Changes) != 0 || report.Status.LastSyncTime == nil {
		t.Errorf("GitStatus() = %+v", report)
	}

	settings, err := a.UpdateGitSettings("vault", func(s *credstore.SyncSettings) {
		s.AutoSyncEnabled = true
		s.AutoSyncInterval = 500
	})
	if err != nil {
		t.Fatal(err)
	}
	if !settings.AutoSyncEnabled || settings.AutoSyncInterval != 60 {
		t.Errorf("settings = %+v, want auto-sync every 60 minutes", settings)
	}

	if report.HasCredentials {
		t.Error("HasCredentials = true before any token was stored")
	}
	if err := a.SetGitCredentials(ctx, credstore.Credentials{Token: "tok", UserName: "Ada"}); err != nil {
		t.Fatal(err)
	}
	if report, err := a.GitStatus("vault"); err != nil || !report.HasCredentials {
		t.Errorf("GitStatus() after storing a token = %+v, %v", report, err)
	}
}

func TestGitOperationsRefuseBusyVault(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t, nil, nil)
	root := filepath.Join(t.TempDir(), "vault")
	writeFile(t, root, "a.md", "# A")
	v, err := a.AddVault(root)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.GitInit(ctx, "vault"); err != nil {
		t.Fatal(err)
	}
	if err := a.GitSetRemote(ctx, "vault", newBareRemote(t), ""); err != nil {
		t.Fatal(err)
	}

	if err := a.creds.TryBegin(v.ID, credstore.StatusSyncing); err != nil {
		t.Fatal(err)
	}
	ops := map[string]func() error{
		"commit": func() error { _, err := a.GitCommit(ctx, "vault", "msg"); return err },
		"pull":   func() error { _, err := a.GitPull(ctx, "vault"); return err },
		"push":   func() error { _, err := a.GitPush(ctx, "vault"); return err },
		"sync":   func() error { _, err := a.GitSync(ctx, "vault"); return err },
	}
	for name, run := range ops {
		if err := run(); !errors.Is(err, mdsync.ErrVaultBusy) {
			t.Errorf("%s on busy vault error = %v, want ErrVaultBusy", name, err)
		}
	}
	if history, _ := a.History("vault", 10); len(history) != 0 {
		t.Errorf("refused operations recorded history: %+v", history)
	}

	a.creds.ClearError(v.ID)
	if _, err := a.GitCommit(ctx, "vault", "add a"); err != nil {
		t.Errorf("GitCommit() after release error = %v", err)
	}
}

func TestAutoSyncPass(t *testing.T) {
	ctx := context.Background()
	clock := testutil.FixedClock()
	a := newTestApp(t, clock, func(cfg *config.Config) {
		cfg.Sync.AutoSync = true
		cfg.Sync.Provider = "google"
	})
	root := filepath.Join(t.TempDir(), "vault")
	writeFile(t, root, "a.md", "# A")
	if _, err := a.AddVault(root); err != nil {
		t.Fatal(err)
	}
	if err := a.GitInit(ctx, "vault"); err != nil {
		t.Fatal(err)
	}
	if err := a.GitSetRemote(ctx, "vault", newBareRemote(t), ""); err != nil {
		t.Fatal(err)
	}
	if _, err := a.UpdateGitSettings("vault", func(s *credstore.SyncSettings) { s.AutoSyncEnabled = true }); err != nil {
		t.Fatal(err)
	}

	kinds := func() map[string]int {
		ops, err := a.History("", 50)
		if err != nil {
			t.Fatal(err)
		}
		n := make(map[string]int)
		for _, op := range ops {
			n[op.Kind]++
		}
		return n
	}

	s := &scheduler{lastGit: make(map[string]time.Time)}
	a.autoSyncPass(ctx, s)
	if got := kinds(); got[mdsync.OpCloudSync] != 1 || got[mdsync.OpGitSync] != 1 {
		t.Fatalf("first pass history = %v", got)
	}

	a.autoSyncPass(ctx, s)
	if got := kinds(); got[mdsync.OpCloudSync] != 1 || got[mdsync.OpGitSync] != 1 {
		t.Errorf("pass before the interval ran again: %v", got)
	}

	clock.Advance(5 * time.Minute)
	a.autoSyncPass(ctx, s)
	if got := kinds(); got[mdsync.OpCloudSync] != 2 || got[mdsync.OpGitSync] != 2 {
		t.Errorf("pass after the interval = %v", got)
	}
}
