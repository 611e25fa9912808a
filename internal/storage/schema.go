package storage

import (
	"fmt"
)

// initSchema creates all required tables and indexes for profile storage.
// Uses CREATE TABLE IF NOT EXISTS for idempotency across restarts.
func (s *Store) initSchema() error {
	// Wrap all DDL statements in a transaction for atomicity.
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, ddl := range schemaDDL {
		if _, err := tx.Exec(ddl); err != nil {
			return fmt.Errorf("failed to execute DDL: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schema transaction: %w", err)
	}

	return nil
}

// schemaDDL contains all DDL statements for the profile database schema.
var schemaDDL = []string{
	// One row per finalized request profile.
	`CREATE TABLE IF NOT EXISTS request_profiles (
		id TEXT PRIMARY KEY,
		timestamp TIMESTAMP NOT NULL,
		url TEXT NOT NULL,
		view_name TEXT,
		method TEXT NOT NULL,
		user_id TEXT,
		duration DOUBLE NOT NULL,
		memory_mb DOUBLE NOT NULL,
		status_code INTEGER NOT NULL,
		is_error BOOLEAN NOT NULL,
		query_count INTEGER NOT NULL,
		query_time DOUBLE NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_profiles_timestamp ON request_profiles(timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_profiles_view_name ON request_profiles(view_name)`,
	`CREATE INDEX IF NOT EXISTS idx_profiles_duration ON request_profiles(duration)`,

	// Individual queries captured within a request.
	`CREATE TABLE IF NOT EXISTS request_queries (
		profile_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		sql_text TEXT NOT NULL,
		params TEXT,
		duration DOUBLE NOT NULL,
		stack_trace TEXT,
		signature TEXT,
		timestamp TIMESTAMP NOT NULL,
		PRIMARY KEY (profile_id, seq)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_queries_signature ON request_queries(signature)`,

	// Outbound HTTP calls captured within a request.
	`CREATE TABLE IF NOT EXISTS request_api_calls (
		profile_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		url TEXT NOT NULL,
		method TEXT NOT NULL,
		duration DOUBLE NOT NULL,
		status_code INTEGER NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		PRIMARY KEY (profile_id, seq)
	)`,
}
