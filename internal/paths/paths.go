// Package paths resolves the questbook configuration and data directories.
package paths

import (
	"os"
	"path/filepath"
)

// Working-directory-relative defaults.
const (
	DefaultConfigDirName = ".questbook"
	DefaultDataDirName   = ".questbook-db"
)

// Environment variable names for directory overrides.
const (
	EnvConfigDir = "QUESTBOOK_CONFIG_DIR"
	EnvDataDir   = "QUESTBOOK_DATA_DIR"
)

// Resolver resolves directories against a working directory and an
// environment lookup. The zero value is not usable; see Default.
type Resolver struct {
	Getwd  func() (string, error)
	Getenv func(string) string
}

// Default returns a Resolver backed by the process environment.
func Default() Resolver {
	return Resolver{Getwd: os.Getwd, Getenv: os.Getenv}
}

// ConfigDir returns the configuration directory:
// flag > QUESTBOOK_CONFIG_DIR > $(CWD)/.questbook.
func (r Resolver) ConfigDir(flag string) (string, error) {
	return r.resolve(DefaultConfigDirName, flag, r.Getenv(EnvConfigDir))
}

// DataDir returns the data directory:
// flag > config data_dir > QUESTBOOK_DATA_DIR > $(CWD)/.questbook-db.
func (r Resolver) DataDir(flag, configValue string) (string, error) {
	return r.resolve(DefaultDataDirName, flag, configValue, r.Getenv(EnvDataDir))
}

func (r Resolver) resolve(defaultName string, candidates ...string) (string, error) {
	cwd, err := r.Getwd()
	if err != nil {
		return "", err
	}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if filepath.IsAbs(c) {
			return filepath.Clean(c), nil
		}
		return filepath.Join(cwd, c), nil
	}
	return filepath.Join(cwd, defaultName), nil
}

// ResolveConfigDir resolves the configuration directory for the current process.
func ResolveConfigDir(flag string) (string, error) {
	return Default().ConfigDir(flag)
}

// ResolveDataDir resolves the data directory for the current process.
func ResolveDataDir(flag, configValue string) (string, error) {
	return Default().DataDir(flag, configValue)
}
