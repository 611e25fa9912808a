// Package cli implements the profileboard command line interface.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/profileboard/profileboard/internal/auth"
	"github.com/profileboard/profileboard/internal/config"
	"github.com/profileboard/profileboard/internal/constants"
	"github.com/profileboard/profileboard/internal/dashboard"
	"github.com/profileboard/profileboard/internal/flags"
	"github.com/profileboard/profileboard/internal/hub"
	"github.com/profileboard/profileboard/internal/logging"
	"github.com/profileboard/profileboard/internal/storage"
)

// NewServeCmd creates the serve command, which runs the dashboard server
// against the configured profile store.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the profiling dashboard server",
		Long: `Run the standalone dashboard server.

The server exposes the live dashboard websocket endpoint and answers
history and detail queries from the profile store. Profiles are written
to the store by applications embedding the profiler middleware.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewLoader()
			cfg, err := loader.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			logger := logging.New(logging.Config{
				Level:  cfg.Log.Level,
				Pretty: cfg.Log.Pretty,
			})

			store, err := storage.New(cfg.Storage.Path, logger)
			if err != nil {
				return fmt.Errorf("failed to open profile store: %w", err)
			}
			logger.Info().Str("database", store.Path()).Msg("Profile store opened")

			flagStore, err := flags.NewFileStore(cfg.Profiler.FlagsFile, map[string]bool{
				constants.ProfilerEnabledFlag: cfg.Profiler.Enabled,
			})
			if err != nil {
				return fmt.Errorf("failed to open flag store: %w", err)
			}

			server, err := dashboard.New(dashboard.Config{
				Dashboard:          cfg.Dashboard,
				SlowQueryThreshold: cfg.Profiler.SlowQueryThreshold,
				TokenStore:         auth.NewTokenStore(cfg.Dashboard.TokensFile),
				Flags:              flagStore,
				Store:              store,
				Hub:                hub.New(logger),
				Logger:             logger,
			})
			if err != nil {
				return fmt.Errorf("failed to create dashboard server: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			go store.RetentionLoop(ctx, cfg.Storage.Retention, constants.DefaultRetentionSweepInterval)

			if err := server.Start(); err != nil {
				return fmt.Errorf("failed to start dashboard server: %w", err)
			}

			<-ctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := server.Stop(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("Dashboard server shutdown failed")
			}
			if err := store.Close(); err != nil {
				logger.Error().Err(err).Msg("Profile store close failed")
			}
			return nil
		},
	}
}
