// Package paths resolves the corpus root, the configuration directory and
// the ledger data directory.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
)

const appName = "quire"

// Directory and file names relative to the corpus root.
const (
	// DataDirName holds the ledger (JSONL files and the SQLite cache).
	DataDirName = ".quire-db"

	// ProjectFileName is the per-corpus configuration file.
	ProjectFileName = "quire.yaml"

	// FeaturesDirName holds one directory per feature.
	FeaturesDirName = "features"
)

// Environment variables that override the defaults.
const (
	EnvRoot      = "QUIRE_ROOT"
	EnvConfigDir = "QUIRE_CONFIG_DIR"
	EnvDataDir   = "QUIRE_DATA_DIR"
)

// platformDir is swapped in tests.
var platformDir = struct {
	homeDir       func() (string, error)
	userConfigDir func() (string, error)
}{
	homeDir:       os.UserHomeDir,
	userConfigDir: os.UserConfigDir,
}

// DefaultConfigDir returns the per-user configuration directory.
//
// Linux:   $XDG_CONFIG_HOME/quire (fallback ~/.config/quire)
// macOS:   ~/Library/Application Support/quire
// Windows: %APPDATA%/quire
func DefaultConfigDir() (string, error) {
	if runtime.GOOS == "linux" {
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, appName), nil
		}
		home, err := platformDir.homeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".config", appName), nil
	}
	dir, err := platformDir.userConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, appName), nil
}

// ResolveRoot returns the corpus root: flag > QUIRE_ROOT > working
// directory. The result is absolute.
func ResolveRoot(flag string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	if env := os.Getenv(EnvRoot); env != "" {
		return filepath.Abs(env)
	}
	return os.Getwd()
}

// ResolveConfigDir returns the configuration directory: flag >
// QUIRE_CONFIG_DIR > DefaultConfigDir.
func ResolveConfigDir(flag string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	if env := os.Getenv(EnvConfigDir); env != "" {
		return filepath.Abs(env)
	}
	return DefaultConfigDir()
}

// ResolveDataDir returns the ledger directory: flag > configured value >
// QUIRE_DATA_DIR > <root>/.quire-db. A relative configured value is taken
// relative to root.
func ResolveDataDir(flag, configured, root string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	if configured != "" {
		if filepath.IsAbs(configured) {
			return filepath.Clean(configured), nil
		}
		return filepath.Abs(filepath.Join(root, configured))
	}
	if env := os.Getenv(EnvDataDir); env != "" {
		return filepath.Abs(env)
	}
	return filepath.Abs(filepath.Join(root, DataDirName))
}

// FeatureDir returns the directory of feature under root.
func FeatureDir(root, feature string) string {
	return filepath.Join(root, FeaturesDirName, feature)
}
