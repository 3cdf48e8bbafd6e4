package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Environment variables that override default locations.
const (
	EnvConfigPath = "MDSYNC_CONFIG_PATH"
	EnvHome       = "MDSYNC_HOME"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - MDSYNC_CONFIG_PATH: config file location (default: ~/.config/mdsync.toml)
//   - MDSYNC_HOME: base directory for mdsync data (default: ~/.local/share/mdsync)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

func getConfigPath() (string, error) {
	if path := os.Getenv(EnvConfigPath); path != "" {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "mdsync.toml"), nil
}

// getBaseDir follows the XDG data directory layout unless MDSYNC_HOME is set.
func getBaseDir() (string, error) {
	if path := os.Getenv(EnvHome); path != "" {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "mdsync"), nil
}
