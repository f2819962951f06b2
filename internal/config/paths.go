package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// dirPerms is used when creating config, data, input, and output directories.
const dirPerms = 0o755

// DefaultConfigPath returns the platform config file location, typically
// ~/.config/topdf/config.toml on Linux.
func DefaultConfigPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		// No resolvable home — fall back to the working directory.
		return "topdf.toml"
	}

	return filepath.Join(base, "topdf", "config.toml")
}

// DefaultDataDir returns where topdf keeps its token, journal, and lock
// files: $XDG_DATA_HOME/topdf or ~/.local/share/topdf.
func DefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "topdf")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ".topdf"
	}

	return filepath.Join(home, ".local", "share", "topdf")
}

// EnsureDir creates the directory (and parents) if it does not exist.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, dirPerms); err != nil {
		return fmt.Errorf("creating directory %s: %w", path, err)
	}

	return nil
}

// joinData joins a file name onto the data dir, tolerating an unset dir
// for tests that only exercise path logic.
func joinData(dataDir, name string) string {
	if dataDir == "" {
		return name
	}

	return filepath.Join(dataDir, name)
}
