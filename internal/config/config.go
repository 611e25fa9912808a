// Package config provides configuration loading and management.
package config

import (
	"fmt"
	"time"

	"github.com/profileboard/profileboard/internal/constants"
)

// Config is the top-level profileboard configuration.
type Config struct {
	// Log configures the process-wide logger.
	Log LogConfig `yaml:"log"`

	// Profiler configures request capture.
	Profiler ProfilerConfig `yaml:"profiler"`

	// Dashboard configures the live dashboard server.
	Dashboard DashboardConfig `yaml:"dashboard"`

	// Storage configures profile persistence.
	Storage StorageConfig `yaml:"storage"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string `yaml:"level" env:"PROFILEBOARD_LOG_LEVEL"`
	Pretty bool   `yaml:"pretty" env:"PROFILEBOARD_LOG_PRETTY"`
}

// ProfilerConfig configures the request profiler.
type ProfilerConfig struct {
	// Enabled is the initial state of the profiling flag. The live value is
	// owned by the feature-flag store and can be toggled from the dashboard.
	Enabled bool `yaml:"enabled" env:"PROFILEBOARD_PROFILER_ENABLED"`

	// SlowQueryThreshold flags individual queries slower than this.
	SlowQueryThreshold time.Duration `yaml:"slow_query_threshold" env:"PROFILEBOARD_SLOW_QUERY_THRESHOLD"`

	// ExcludePrefixes lists additional URL prefixes that are never profiled.
	ExcludePrefixes []string `yaml:"exclude_prefixes" env:"PROFILEBOARD_EXCLUDE_PREFIXES"`

	// FlagsFile is the path to the feature-flag file shared between the
	// profiler and the dashboard toggle.
	FlagsFile string `yaml:"flags_file" env:"PROFILEBOARD_FLAGS_FILE"`
}

// DashboardConfig configures the dashboard websocket server.
type DashboardConfig struct {
	Host string `yaml:"host" env:"PROFILEBOARD_DASHBOARD_HOST"`
	Port int    `yaml:"port" env:"PROFILEBOARD_DASHBOARD_PORT"`

	// PathPrefix is the URL namespace owned by the dashboard. The profiler
	// excludes it from capture to avoid profiling itself.
	PathPrefix string `yaml:"path_prefix" env:"PROFILEBOARD_DASHBOARD_PREFIX"`

	// TokensFile is the path to the dashboard token file.
	TokensFile string `yaml:"tokens_file" env:"PROFILEBOARD_TOKENS_FILE"`
}

// StorageConfig configures the DuckDB profile store.
type StorageConfig struct {
	// Path is the directory holding the profile database.
	Path string `yaml:"path" env:"PROFILEBOARD_STORAGE_PATH"`

	// Retention is how long stored profiles are kept before the sweep
	// removes them. Zero disables the sweep.
	Retention time.Duration `yaml:"retention" env:"PROFILEBOARD_RETENTION"`
}

// Default returns a configuration populated with defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Pretty: true,
		},
		Profiler: ProfilerConfig{
			Enabled:            true,
			SlowQueryThreshold: constants.DefaultSlowQueryThreshold,
		},
		Dashboard: DashboardConfig{
			Host:       constants.DefaultDashboardHost,
			Port:       constants.DefaultDashboardPort,
			PathPrefix: constants.DefaultDashboardPrefix,
		},
		Storage: StorageConfig{
			Retention: constants.DefaultRetention,
		},
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Dashboard.Port <= 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("invalid dashboard port %d", c.Dashboard.Port)
	}
	if c.Dashboard.PathPrefix == "" || c.Dashboard.PathPrefix[0] != '/' {
		return fmt.Errorf("dashboard path prefix %q must start with '/'", c.Dashboard.PathPrefix)
	}
	if c.Profiler.SlowQueryThreshold < 0 {
		return fmt.Errorf("slow query threshold must not be negative")
	}
	if c.Storage.Retention < 0 {
		return fmt.Errorf("storage retention must not be negative")
	}
	for _, p := range c.Profiler.ExcludePrefixes {
		if p == "" || p[0] != '/' {
			return fmt.Errorf("exclude prefix %q must start with '/'", p)
		}
	}
	return nil
}
