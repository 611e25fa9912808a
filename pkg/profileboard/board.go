package profileboard

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/profileboard/profileboard/internal/auth"
	"github.com/profileboard/profileboard/internal/config"
	"github.com/profileboard/profileboard/internal/constants"
	"github.com/profileboard/profileboard/internal/dashboard"
	"github.com/profileboard/profileboard/internal/flags"
	"github.com/profileboard/profileboard/internal/hub"
	"github.com/profileboard/profileboard/internal/profiler"
	"github.com/profileboard/profileboard/internal/storage"
)

// RouteResolver maps a request to a logical view name, the stable handler
// identity profiles are grouped by.
type RouteResolver func(r *http.Request) (string, error)

// UserIDFunc extracts the acting user's identifier from a request.
type UserIDFunc func(r *http.Request) string

// Config contains options for embedding profileboard in an application.
type Config struct {
	// Config overrides the on-disk configuration. When nil the
	// configuration is loaded from the profileboard config file and
	// environment.
	Config *config.Config

	// Resolver maps requests to view names (optional). Unresolved
	// requests are profiled under the "unknown" view.
	Resolver RouteResolver

	// UserID extracts a user identifier from requests (optional).
	UserID UserIDFunc

	// StartDashboard starts the dashboard server alongside the profiler.
	StartDashboard bool

	// Logger is the logger instance (optional, defaults to zerolog.Nop()).
	Logger zerolog.Logger
}

// Board is a profileboard instance embedded in an application. It owns
// the profile store, the broadcast hub and the capture pipeline, and
// optionally the dashboard server.
type Board struct {
	logger      zerolog.Logger
	store       *storage.Store
	hub         *hub.Hub
	flags       flags.Store
	interceptor *profiler.Interceptor
	recorder    *profiler.Recorder
	logLines    *profiler.LogLineAdapter
	dashboard   *dashboard.Server
	retainStop  context.CancelFunc
}

// New creates an embedded profileboard instance.
func New(cfg Config) (*Board, error) {
	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}
	logger = logger.With().Str("component", "profileboard").Logger()

	appCfg := cfg.Config
	if appCfg == nil {
		loaded, err := config.NewLoader().Load()
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		appCfg = loaded
	} else {
		// Work on a copy so path defaults never mutate the caller's config.
		cfgCopy := *appCfg
		appCfg = &cfgCopy
	}
	if appCfg.Profiler.FlagsFile == "" {
		appCfg.Profiler.FlagsFile = filepath.Join(appCfg.Storage.Path, constants.FlagsFile)
	}
	if appCfg.Dashboard.TokensFile == "" {
		appCfg.Dashboard.TokensFile = filepath.Join(appCfg.Storage.Path, constants.TokensFile)
	}

	store, err := storage.New(appCfg.Storage.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open profile store: %w", err)
	}

	flagStore, err := flags.NewFileStore(appCfg.Profiler.FlagsFile, map[string]bool{
		constants.ProfilerEnabledFlag: appCfg.Profiler.Enabled,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to open flag store: %w", err)
	}

	broadcast := hub.New(logger)
	recorder := profiler.NewRecorder(logger)

	interceptor := profiler.NewInterceptor(profiler.InterceptorConfig{
		Flags:           flagStore,
		Storage:         store,
		Publisher:       broadcast,
		Resolver:        profiler.RouteResolver(cfg.Resolver),
		UserID:          profiler.UserIDFunc(cfg.UserID),
		DashboardPrefix: appCfg.Dashboard.PathPrefix,
		ExcludePrefixes: appCfg.Profiler.ExcludePrefixes,
		Logger:          logger,
	})

	b := &Board{
		logger:      logger,
		store:       store,
		hub:         broadcast,
		flags:       flagStore,
		interceptor: interceptor,
		recorder:    recorder,
		logLines:    profiler.NewLogLineAdapter(recorder, logger),
	}

	retainCtx, cancel := context.WithCancel(context.Background())
	b.retainStop = cancel
	go store.RetentionLoop(retainCtx, appCfg.Storage.Retention, constants.DefaultRetentionSweepInterval)

	if cfg.StartDashboard {
		server, err := dashboard.New(dashboard.Config{
			Dashboard:          appCfg.Dashboard,
			SlowQueryThreshold: appCfg.Profiler.SlowQueryThreshold,
			TokenStore:         auth.NewTokenStore(appCfg.Dashboard.TokensFile),
			Flags:              flagStore,
			Store:              store,
			Hub:                broadcast,
			Logger:             logger,
		})
		if err != nil {
			cancel()
			_ = store.Close()
			return nil, fmt.Errorf("failed to create dashboard server: %w", err)
		}
		if err := server.Start(); err != nil {
			cancel()
			_ = store.Close()
			return nil, fmt.Errorf("failed to start dashboard server: %w", err)
		}
		b.dashboard = server
	}

	logger.Info().
		Bool("dashboard", cfg.StartDashboard).
		Msg("Profileboard initialized")

	return b, nil
}

// Middleware returns the request profiling middleware. Wrap your
// application handler with it; profiled requests get a collector bound to
// their context and a finalized profile persisted and broadcast.
func (b *Board) Middleware(next http.Handler) http.Handler {
	return b.interceptor.Handler(next)
}

// ObserveQuery records one database query against the profile of the
// request bound to ctx. Call it from your database layer's hook with the
// statement, its parameters and the measured duration. A context without
// a profiled request is a no-op.
func (b *Board) ObserveQuery(ctx context.Context, sql string, params []string, duration time.Duration) {
	b.recorder.Observe(ctx, sql, params, duration)
}

// ConsumeLogLine feeds one database log line through the log-line
// adapter. Lines in the "(duration) sql; args=params" shape are captured
// as queries; anything else is ignored.
func (b *Board) ConsumeLogLine(ctx context.Context, line string) {
	b.logLines.Consume(ctx, line)
}

// ObserveAPICall records one outbound HTTP call against the profile of
// the request bound to ctx. A context without a profiled request is a
// no-op.
func (b *Board) ObserveAPICall(ctx context.Context, url, method string, duration time.Duration, statusCode int) {
	if collector, ok := profiler.FromContext(ctx); ok {
		collector.AddAPICall(url, method, duration, statusCode)
	}
}

// ProfilingEnabled reports the live state of the profiling flag.
func (b *Board) ProfilingEnabled() bool {
	return b.flags.Enabled(constants.ProfilerEnabledFlag)
}

// DashboardAddr returns the dashboard server address, or an empty string
// when the dashboard was not started.
func (b *Board) DashboardAddr() string {
	if b.dashboard == nil {
		return ""
	}
	return b.dashboard.Addr()
}

// Close drains in-flight profile writes and shuts everything down.
func (b *Board) Close() error {
	b.logger.Info().Msg("Shutting down profileboard")

	b.interceptor.Drain()
	b.retainStop()

	if b.dashboard != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := b.dashboard.Stop(ctx); err != nil {
			b.logger.Error().Err(err).Msg("Failed to stop dashboard server")
		}
	}

	return b.store.Close()
}
