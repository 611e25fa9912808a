// Package storage provides DuckDB persistence for finalized profiles.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/rs/zerolog"
)

// Store wraps a DuckDB connection holding profile data.
type Store struct {
	db     *sql.DB
	path   string
	logger zerolog.Logger
}

// New creates and initializes the profile database under storagePath.
// The storage directory is created if it does not exist.
func New(storagePath string, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(storagePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	dbPath := filepath.Join(storagePath, "profiles.duckdb")

	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{
		db:     db,
		path:   dbPath,
		logger: logger.With().Str("component", "storage").Logger(),
	}

	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	store.logger.Info().
		Str("path", dbPath).
		Msg("Profile store initialized")

	return store, nil
}

// Close closes the database connection gracefully.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.logger.Info().
		Str("path", s.path).
		Msg("Profile store closed")
	return nil
}

// Ping checks if the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Path returns the file path of the database.
func (s *Store) Path() string {
	return s.path
}
