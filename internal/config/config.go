package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Sync settings bounds.
const (
	DefaultSyncIntervalMinutes = 5
	MinSyncIntervalMinutes     = 1
	MaxSyncIntervalMinutes     = 60

	DefaultBackupRetentionDays = 7
	MinBackupRetentionDays     = 1
	MaxBackupRetentionDays     = 30
)

// Config represents the main configuration for mdsync.
type Config struct {
	HostID     string           `toml:"host_id"`
	Deployment string           `toml:"deployment"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Database   DatabaseConfig   `toml:"database"`
	Encryption EncryptionConfig `toml:"encryption"`
	Git        GitConfig        `toml:"git"`
	Cloud      CloudConfig      `toml:"cloud"`
	Sync       SyncConfig       `toml:"sync"`
	Filesystem FilesystemConfig `toml:"filesystem"`
}

// DatabaseConfig represents configuration for the local state database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// EncryptionConfig locates the age identity that seals tokens at rest.
type EncryptionConfig struct {
	Type    string `toml:"type"` // "age" (default) or "test"
	KeyPath string `toml:"key_path"`
}

// GitConfig holds defaults for the git engine.
type GitConfig struct {
	AuthorName    string `toml:"author_name,omitempty"`
	AuthorEmail   string `toml:"author_email,omitempty"`
	ProxyURL      string `toml:"proxy_url,omitempty"`
	APIBaseURL    string `toml:"api_base_url,omitempty"` // defaults to https://api.github.com
	DefaultBranch string `toml:"default_branch,omitempty"`
}

// CloudConfig selects the cloud backend holding the canonical document.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type CloudConfig struct {
	Type string `toml:"type"` // "drive", "s3" or "memory"

	// Drive-specific fields (only used when Type == "drive")
	ClientID    string `toml:"client_id,omitempty"`
	RedirectURI string `toml:"redirect_uri,omitempty"`
	APIBaseURL  string `toml:"api_base_url,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"`
}

// SyncConfig holds the cloud sync preferences.
type SyncConfig struct {
	Provider            string `toml:"provider"` // "local" or "google"
	AutoSync            bool   `toml:"auto_sync"`
	SyncIntervalMinutes int    `toml:"sync_interval_minutes"`
	BackupEnabled       bool   `toml:"backup_enabled"`
	BackupRetentionDays int    `toml:"backup_retention_days"`
}

// FilesystemConfig holds filesystem-related settings.
type FilesystemConfig struct {
	Ignore []string `toml:"ignore"`
}

// NewConfig creates a new Config with the provided values and default paths.
func NewConfig(hostID, baseDir string) *Config {
	return &Config{
		HostID:     hostID,
		Deployment: "localhost",
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Encryption: EncryptionConfig{
			Type:    "age",
			KeyPath: filepath.Join(baseDir, "keys", "mdsync.key"),
		},
		Git: GitConfig{
			DefaultBranch: "main",
		},
		Cloud: CloudConfig{Type: "drive"},
		Sync: SyncConfig{
			Provider:            "local",
			SyncIntervalMinutes: DefaultSyncIntervalMinutes,
			BackupRetentionDays: DefaultBackupRetentionDays,
		},
	}
}

// Normalize clamps sync settings into their allowed ranges, replacing unset
// values with defaults.
func (c *Config) Normalize() {
	c.Sync.SyncIntervalMinutes = clamp(c.Sync.SyncIntervalMinutes,
		DefaultSyncIntervalMinutes, MinSyncIntervalMinutes, MaxSyncIntervalMinutes)
	c.Sync.BackupRetentionDays = clamp(c.Sync.BackupRetentionDays,
		DefaultBackupRetentionDays, MinBackupRetentionDays, MaxBackupRetentionDays)
	if c.Sync.Provider == "" {
		c.Sync.Provider = "local"
	}
	if c.Git.DefaultBranch == "" {
		c.Git.DefaultBranch = "main"
	}
	if c.Deployment == "" {
		c.Deployment = "localhost"
	}
}

func clamp(v, def, lo, hi int) int {
	if v == 0 {
		return def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Normalize()
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes cfg to path. It refuses to overwrite an existing file.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}

// Save overwrites the config file at path.
func Save(path string, cfg *Config) error {
	cfg.Normalize()
	return writeToFile(path, cfg)
}
