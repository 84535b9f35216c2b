// Package paths resolves the configuration and data directories of the flexi
// CLI. Each directory comes from the first of: command-line flag, config
// file value (data directory only), environment variable, default.
package paths

import (
	"os"
	"path/filepath"
	"runtime"
)

// Default directory names.
const (
	AppName              = "flexi"
	DefaultConfigDirName = ".flexi"
	DefaultDataDirName   = ".flexi-db"
)

// Environment variable names for directory overrides.
const (
	EnvConfigDir = "FLEXI_CONFIG_DIR"
	EnvDataDir   = "FLEXI_DATA_DIR"
)

// Resolver resolves directories against an environment. The zero value is
// not usable; start from Default().
type Resolver struct {
	GOOS          string
	Getenv        func(string) string
	Getwd         func() (string, error)
	HomeDir       func() (string, error)
	UserConfigDir func() (string, error)
}

// Default returns a resolver over the process environment.
func Default() Resolver {
	return Resolver{
		GOOS:          runtime.GOOS,
		Getenv:        os.Getenv,
		Getwd:         os.Getwd,
		HomeDir:       os.UserHomeDir,
		UserConfigDir: os.UserConfigDir,
	}
}

// platformDir returns $XDG_<xdgVar>/flexi (falling back to ~/<fallback>/flexi)
// on Linux and the user config directory elsewhere.
func (r Resolver) platformDir(xdgVar string, fallback ...string) (string, error) {
	if r.GOOS != "linux" {
		dir, err := r.UserConfigDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, AppName), nil
	}
	if xdg := r.Getenv(xdgVar); xdg != "" {
		return filepath.Join(xdg, AppName), nil
	}
	home, err := r.HomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(append(append([]string{home}, fallback...), AppName)...), nil
}

// DefaultConfigDir returns the platform configuration directory.
func (r Resolver) DefaultConfigDir() (string, error) {
	return r.platformDir("XDG_CONFIG_HOME", ".config")
}

// DefaultDataDir returns the platform data directory.
func (r Resolver) DefaultDataDir() (string, error) {
	return r.platformDir("XDG_DATA_HOME", ".local", "share")
}

// ConfigDir resolves the configuration directory: flag, then FLEXI_CONFIG_DIR,
// then the platform default.
func (r Resolver) ConfigDir(flag string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	if env := r.Getenv(EnvConfigDir); env != "" {
		return filepath.Abs(env)
	}
	return r.DefaultConfigDir()
}

// DataDir resolves the data directory: flag, then the config file value,
// then FLEXI_DATA_DIR, then .flexi-db under the working directory.
func (r Resolver) DataDir(flag, configValue string) (string, error) {
	for _, dir := range []string{flag, configValue, r.Getenv(EnvDataDir)} {
		if dir != "" {
			return filepath.Abs(dir)
		}
	}
	cwd, err := r.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, DefaultDataDirName), nil
}

// ResolveConfigDir resolves the configuration directory for the process.
func ResolveConfigDir(flag string) (string, error) {
	return Default().ConfigDir(flag)
}

// ResolveDataDir resolves the data directory for the process.
func ResolveDataDir(flag, configValue string) (string, error) {
	return Default().DataDir(flag, configValue)
}
