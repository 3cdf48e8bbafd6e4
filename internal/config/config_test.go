package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := &Config{
		HostID:     "test-host-abc",
		Deployment: "notes.example.com",
		BaseDir:    "/home/user/.local/share/mdsync",
		LogDir:     "/home/user/.local/share/mdsync/log",
		Database:   DatabaseConfig{Type: "sqlite", DataDir: "/home/user/.local/share/mdsync/db"},
		Encryption: EncryptionConfig{Type: "age", KeyPath: "/home/user/.local/share/mdsync/keys/mdsync.key"},
		Git: GitConfig{
			AuthorName:    "Ada",
			AuthorEmail:   "ada@example.com",
			ProxyURL:      "http://proxy.local:8080",
			DefaultBranch: "trunk",
		},
		Cloud: CloudConfig{Type: "s3", S3Bucket: "notes", S3Region: "eu-west-1"},
		Sync: SyncConfig{
			Provider:            "google",
			AutoSync:            true,
			SyncIntervalMinutes: 15,
			BackupEnabled:       true,
			BackupRetentionDays: 10,
		},
		Filesystem: FilesystemConfig{Ignore: []string{"drafts/", "*.tmp.md"}},
	}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.HostID != original.HostID {
		t.Errorf("HostID = %q, want %q", got.HostID, original.HostID)
	}
	if got.Deployment != original.Deployment {
		t.Errorf("Deployment = %q, want %q", got.Deployment, original.Deployment)
	}
	if got.Git != original.Git {
		t.Errorf("Git = %+v, want %+v", got.Git, original.Git)
	}
	if got.Cloud != original.Cloud {
		t.Errorf("Cloud = %+v, want %+v", got.Cloud, original.Cloud)
	}
	if got.Sync != original.Sync {
		t.Errorf("Sync = %+v, want %+v", got.Sync, original.Sync)
	}
	if got.Encryption.KeyPath != original.Encryption.KeyPath {
		t.Errorf("Encryption.KeyPath = %q, want %q", got.Encryption.KeyPath, original.Encryption.KeyPath)
	}
	if len(got.Filesystem.Ignore) != 2 {
		t.Fatalf("len(Filesystem.Ignore) = %d, want 2", len(got.Filesystem.Ignore))
	}
}

func TestRead_ClampsSyncSettings(t *testing.T) {
	tests := []struct {
		name          string
		toml          string
		wantInterval  int
		wantRetention int
	}{
		{"defaults when unset", "", 5, 7},
		{"below range", "[sync]\nsync_interval_minutes = -3\nbackup_retention_days = -1\n", 1, 1},
		{"above range", "[sync]\nsync_interval_minutes = 500\nbackup_retention_days = 90\n", 60, 30},
		{"in range", "[sync]\nsync_interval_minutes = 30\nbackup_retention_days = 14\n", 30, 14},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Manager{}
			got, err := m.Read(strings.NewReader(tt.toml))
			if err != nil {
				t.Fatalf("Read() error = %v", err)
			}
			if got.Sync.SyncIntervalMinutes != tt.wantInterval {
				t.Errorf("SyncIntervalMinutes = %d, want %d", got.Sync.SyncIntervalMinutes, tt.wantInterval)
			}
			if got.Sync.BackupRetentionDays != tt.wantRetention {
				t.Errorf("BackupRetentionDays = %d, want %d", got.Sync.BackupRetentionDays, tt.wantRetention)
			}
			if got.Git.DefaultBranch != "main" && !strings.Contains(tt.toml, "default_branch") {
				t.Errorf("Git.DefaultBranch = %q, want main", got.Git.DefaultBranch)
			}
		})
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("host-1", "/data/mdsync")

	if cfg.HostID != "host-1" {
		t.Errorf("HostID = %q, want %q", cfg.HostID, "host-1")
	}
	if cfg.LogDir != "/data/mdsync/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/mdsync/log")
	}
	if cfg.Encryption.KeyPath != "/data/mdsync/keys/mdsync.key" {
		t.Errorf("Encryption.KeyPath = %q", cfg.Encryption.KeyPath)
	}
	if cfg.Sync.SyncIntervalMinutes != DefaultSyncIntervalMinutes {
		t.Errorf("SyncIntervalMinutes = %d", cfg.Sync.SyncIntervalMinutes)
	}
	if cfg.Sync.BackupEnabled {
		t.Error("BackupEnabled defaults to true, want false")
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "mdsync.toml")
		cfg := NewConfig("h1", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "mdsync.toml")
		cfg := NewConfig("h1", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}

		err := Init(path, cfg)
		if err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mdsync.toml")
	cfg := NewConfig("h1", dir)
	if err := Init(path, cfg); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	cfg.Sync.SyncIntervalMinutes = 120
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := ReadFromFile(path)
	if err != nil {
		t.Fatalf("ReadFromFile() error = %v", err)
	}
	if got.Sync.SyncIntervalMinutes != MaxSyncIntervalMinutes {
		t.Errorf("SyncIntervalMinutes = %d, want %d", got.Sync.SyncIntervalMinutes, MaxSyncIntervalMinutes)
	}
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "mdsync.toml")
		cfg := NewConfig("read-test", dir)
		cfg.Database = DatabaseConfig{Type: "memory"}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.HostID != "read-test" {
			t.Errorf("HostID = %q, want %q", got.HostID, "read-test")
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		_, err := ReadFromFile("/nonexistent/path/mdsync.toml")
		if err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}
