package config

import (
	"os"
	"path/filepath"
)

// DefaultDataDir returns the default archive directory based on the host OS.
// It prefers standard locations when available and falls back to a dotdir
// in the user's home directory.
func DefaultDataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil || homeDir == "" {
		return "./archive"
	}

	// XDG (Linux) override
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "archive")
	}

	// Common Linux/Unix system dir
	if isDir("/var/lib") {
		return "/var/lib/archive"
	}

	// macOS: ~/Library/Application Support/Archive
	if isDir(filepath.Join(homeDir, "Library")) {
		return filepath.Join(homeDir, "Library", "Application Support", "Archive")
	}

	// Windows: %USERPROFILE%/AppData/Local/Archive
	if isDir(filepath.Join(homeDir, "AppData")) {
		return filepath.Join(homeDir, "AppData", "Local", "Archive")
	}

	// Fallback: ~/.archive
	return filepath.Join(homeDir, ".archive")
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
