// Package constants defines shared configuration constants and defaults.
package constants

import "time"

var (
	// ConfigFile is the default config file name.
	ConfigFile = "profileboard.yaml"

	// DefaultDir is the default data directory under the user's home.
	DefaultDir = ".profileboard"

	// TokensFile is the default dashboard token file name.
	TokensFile = "tokens.yaml"

	// FlagsFile is the default feature-flag file name.
	FlagsFile = "flags.yaml"
)

// Dashboard defaults.
const (
	// DefaultDashboardPrefix is the URL namespace owned by the profiler
	// dashboard. Requests under it are never profiled.
	DefaultDashboardPrefix = "/__monitor__"

	// DefaultDashboardHost is the default bind host for the dashboard server.
	DefaultDashboardHost = "127.0.0.1"

	// DefaultDashboardPort is the default port for the dashboard server.
	DefaultDashboardPort = 8799

	// DefaultInitialProfiles is the number of recent profiles sent to a
	// session right after it authorizes.
	DefaultInitialProfiles = 50

	// DefaultHistoryLimit caps the rows returned for a history request.
	DefaultHistoryLimit = 100

	// DefaultSessionBuffer is the per-session outbound message buffer.
	DefaultSessionBuffer = 64
)

// Websocket close codes for failed authorization.
const (
	CloseUnauthorized = 4001
	CloseForbidden    = 4003
)

// Profiler defaults.
const (
	// DefaultSlowQueryThreshold flags individual queries slower than this.
	DefaultSlowQueryThreshold = 100 * time.Millisecond

	// DefaultSlowRequestThreshold is the "slow" history filter default.
	DefaultSlowRequestThreshold = 1.0

	// MaxSQLLength bounds captured SQL text.
	MaxSQLLength = 1000

	// MaxParamLength bounds each captured string parameter.
	MaxParamLength = 100

	// MaxStackLength bounds the rendered call-site trace.
	MaxStackLength = 2000

	// MaxStackFrames is the number of call-site frames kept per query.
	MaxStackFrames = 5
)

// ProfilerEnabledFlag is the feature-flag name gating profiling globally.
const ProfilerEnabledFlag = "profiler_enabled"

// Storage defaults.
const (
	// DefaultRetention is how long stored profiles are kept.
	DefaultRetention = 7 * 24 * time.Hour

	// DefaultRetentionSweepInterval is how often the retention sweep runs.
	DefaultRetentionSweepInterval = time.Hour
)
