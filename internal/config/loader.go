package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/profileboard/profileboard/internal/constants"
)

// Loader handles loading configuration files.
type Loader struct {
	baseDir string
}

// NewLoader creates a new config loader.
// The base directory is resolved in this order:
//  1. PROFILEBOARD_CONFIG environment variable.
//  2. <user home>/.profileboard.
//  3. /tmp/profileboard (containerized environments without a home dir).
//
// The loader never fails to construct; missing files simply yield defaults
// with environment overrides applied.
func NewLoader() *Loader {
	if baseDir := os.Getenv("PROFILEBOARD_CONFIG"); baseDir != "" {
		return &Loader{baseDir: baseDir}
	}

	homeDir, err := os.UserHomeDir()
	if err == nil {
		return &Loader{baseDir: filepath.Join(homeDir, constants.DefaultDir)}
	}

	return &Loader{baseDir: "/tmp/profileboard"}
}

// BaseDir returns the data directory used for config, tokens and storage.
func (l *Loader) BaseDir() string {
	return l.baseDir
}

// ConfigPath returns the path to the config file.
func (l *Loader) ConfigPath() string {
	return filepath.Join(l.baseDir, constants.ConfigFile)
}

// TokensPath returns the default path to the dashboard token file.
func (l *Loader) TokensPath() string {
	return filepath.Join(l.baseDir, constants.TokensFile)
}

// FlagsPath returns the default path to the feature-flag file.
func (l *Loader) FlagsPath() string {
	return filepath.Join(l.baseDir, constants.FlagsFile)
}

// Load reads the config file, applies environment overrides, fills unset
// paths from the loader's base directory and validates the result.
// A missing config file is not an error.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(l.ConfigPath())
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", l.ConfigPath(), err)
		}
	case errors.Is(err, fs.ErrNotExist):
		// Defaults + env only.
	default:
		return nil, fmt.Errorf("failed to read %s: %w", l.ConfigPath(), err)
	}

	if err := LoadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if cfg.Dashboard.TokensFile == "" {
		cfg.Dashboard.TokensFile = l.TokensPath()
	}
	if cfg.Profiler.FlagsFile == "" {
		cfg.Profiler.FlagsFile = l.FlagsPath()
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = l.baseDir
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Save writes the config file, creating the base directory if needed.
func (l *Loader) Save(cfg *Config) error {
	if err := os.MkdirAll(l.baseDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(l.ConfigPath(), data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", l.ConfigPath(), err)
	}

	return nil
}
