package config

import (
	"os"
	"path/filepath"
)

// StateDirFor returns the absolute, home-expanded form of a configured
// StateDir, creating it if it does not yet exist.
func StateDirFor(cfg *Configuration) (string, error) {
	dir := expandHomePath(cfg.StateDir)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

// DatabasePath returns the SQLite database path under the configured StateDir.
func DatabasePath(cfg *Configuration) (string, error) {
	dir, err := StateDirFor(cfg)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "specwright.db"), nil
}

// ProjectConfigDir returns the directory holding the project-level config file.
func ProjectConfigDir() string {
	return ".specwright"
}
