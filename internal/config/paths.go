package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	configDirName = "duckypad_daemon"
	configName    = "config.json"

	// location used by the predecessor auto-switcher
	legacyDirName = "duckypad_autoswitcher"
	legacyName    = "config.txt"
)

// userConfigDir is swapped in tests
var userConfigDir = os.UserConfigDir

// DefaultPath returns <UserConfigDir>/duckypad_daemon/config.json
func DefaultPath() (string, error) {
	dir, err := userConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine config directory: %w", err)
	}
	return filepath.Join(dir, configDirName, configName), nil
}

// LegacyPath returns <UserConfigDir>/duckypad_autoswitcher/config.txt
func LegacyPath() (string, error) {
	dir, err := userConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine config directory: %w", err)
	}
	return filepath.Join(dir, legacyDirName, legacyName), nil
}

// ResolvePath picks the rules file: an explicit path wins, then the default
// location if present, then the legacy location if present, and finally the
// default location, which the Store will create.
func ResolvePath(explicit string) (string, error) {
	if explicit != "" {
		return filepath.Clean(explicit), nil
	}

	defaultPath, err := DefaultPath()
	if err != nil {
		return "", err
	}
	if fileExists(defaultPath) {
		return defaultPath, nil
	}

	legacyPath, err := LegacyPath()
	if err != nil {
		return "", err
	}
	if fileExists(legacyPath) {
		return legacyPath, nil
	}

	return defaultPath, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
