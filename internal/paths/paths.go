// Package paths resolves the configuration directory, the dataset root and
// the run ledger directory. None of them is ever inferred from the working
// directory.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/mesh-intelligence/labelkit/pkg/types"
)

const appName = "labelkit"

// DefaultDataDirName is the ledger directory created inside the dataset root.
const DefaultDataDirName = ".labelkit"

// Environment variable names for directory overrides.
const (
	EnvConfigDir   = "LABELKIT_CONFIG_DIR"
	EnvDatasetRoot = "LABELKIT_DATASET_ROOT"
	EnvDataDir     = "LABELKIT_DATA_DIR"
)

// platformDir holds platform-detection functions that can be overridden in tests.
var platformDir = struct {
	homeDir       func() (string, error)
	userConfigDir func() (string, error)
}{
	homeDir:       os.UserHomeDir,
	userConfigDir: os.UserConfigDir,
}

// DefaultConfigDir returns the platform-specific default configuration directory.
//
// Linux:   $XDG_CONFIG_HOME/labelkit (fallback ~/.config/labelkit)
// macOS:   ~/Library/Application Support/labelkit
// Windows: %APPDATA%/labelkit
func DefaultConfigDir() (string, error) {
	switch runtime.GOOS {
	case "linux":
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, appName), nil
		}
		home, err := platformDir.homeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".config", appName), nil
	default:
		dir, err := platformDir.userConfigDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, appName), nil
	}
}

// ResolveConfigDir returns the configuration directory following the
// precedence chain: flag > LABELKIT_CONFIG_DIR env > DefaultConfigDir().
func ResolveConfigDir(flag string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	if env := os.Getenv(EnvConfigDir); env != "" {
		return filepath.Abs(env)
	}
	return DefaultConfigDir()
}

// ResolveDatasetRoot returns the dataset root following the precedence chain:
// flag > configYAMLValue > LABELKIT_DATASET_ROOT env. With none set it returns
// ErrDatasetRootUnset.
func ResolveDatasetRoot(flag, configYAMLValue string) (string, error) {
	for _, v := range []string{flag, configYAMLValue, os.Getenv(EnvDatasetRoot)} {
		if v != "" {
			return filepath.Abs(v)
		}
	}
	return "", fmt.Errorf("%w: pass --root, set dataset_root in config.yaml or %s", types.ErrDatasetRootUnset, EnvDatasetRoot)
}

// ResolveDataDir returns the ledger directory following the precedence chain:
// flag > configYAMLValue > LABELKIT_DATA_DIR env > <root>/.labelkit.
// A relative config value is taken relative to the dataset root.
func ResolveDataDir(flag, configYAMLValue, root string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	if configYAMLValue != "" {
		if filepath.IsAbs(configYAMLValue) {
			return filepath.Clean(configYAMLValue), nil
		}
		return filepath.Join(root, configYAMLValue), nil
	}
	if env := os.Getenv(EnvDataDir); env != "" {
		return filepath.Abs(env)
	}
	if root == "" {
		return "", types.ErrDatasetRootUnset
	}
	return filepath.Join(root, DefaultDataDirName), nil
}
