package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/profileboard/profileboard/internal/analyzer"
	pberrors "github.com/profileboard/profileboard/internal/errors"
	"github.com/profileboard/profileboard/internal/profiler"
)

// ErrNotFound is returned when a requested profile does not exist.
var ErrNotFound = errors.New("profile not found")

// Filter narrows profile queries and aggregations.
type Filter struct {
	// Since excludes profiles older than this timestamp.
	Since time.Time

	// ViewNameContains keeps profiles whose view name contains this
	// substring (case-insensitive). Empty means no view filter.
	ViewNameContains string

	// ErrorsOnly keeps only profiles with an error status.
	ErrorsOnly bool

	// MinDuration keeps profiles slower than this many seconds.
	MinDuration float64
}

// Stats is the aggregate over a filtered set of profiles.
type Stats struct {
	RequestCount   int     `json:"total_requests"`
	AvgDuration    float64 `json:"avg_duration"`
	AvgQueryCount  float64 `json:"avg_db_queries"`
	TotalQueryTime float64 `json:"total_db_time"`
	ErrorCount     int     `json:"error_count"`
}

// InsertProfile persists a finalized profile with its queries and API calls
// in one transaction. Each query row carries the analyzer fingerprint of
// its SQL for similar-query lookup.
func (s *Store) InsertProfile(ctx context.Context, p *profiler.Profile) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer pberrors.DeferRollback(s.logger, tx)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO request_profiles
			(id, timestamp, url, view_name, method, user_id, duration,
			 memory_mb, status_code, is_error, query_count, query_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Timestamp, p.URL, p.ViewName, p.Method, nullable(p.UserID),
		p.Duration, p.MemoryMB, p.StatusCode, p.IsError, p.QueryCount, p.QueryTime,
	)
	if err != nil {
		return fmt.Errorf("failed to insert profile: %w", err)
	}

	for seq, q := range p.Queries {
		params, err := json.Marshal(q.Params)
		if err != nil {
			return fmt.Errorf("failed to marshal query params: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO request_queries
				(profile_id, seq, sql_text, params, duration, stack_trace, signature, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, seq, q.SQL, string(params), q.Duration, q.StackTrace,
			analyzer.Fingerprint(q.SQL), q.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("failed to insert query %d: %w", seq, err)
		}
	}

	for seq, call := range p.APICalls {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO request_api_calls
				(profile_id, seq, url, method, duration, status_code, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			p.ID, seq, call.URL, call.Method, call.Duration, call.StatusCode, call.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("failed to insert api call %d: %w", seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit profile: %w", err)
	}

	s.logger.Debug().
		Str("profile_id", p.ID).
		Int("query_count", p.QueryCount).
		Msg("Profile stored")

	return nil
}

// GetProfile returns the full stored profile including queries and API
// calls, or ErrNotFound.
func (s *Store) GetProfile(ctx context.Context, id string) (*profiler.Profile, error) {
	var p profiler.Profile
	var userID sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT id, timestamp, url, view_name, method, user_id, duration,
		       memory_mb, status_code, is_error, query_count, query_time
		FROM request_profiles WHERE id = ?`, id,
	).Scan(
		&p.ID, &p.Timestamp, &p.URL, &p.ViewName, &p.Method, &userID,
		&p.Duration, &p.MemoryMB, &p.StatusCode, &p.IsError, &p.QueryCount, &p.QueryTime,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query profile: %w", err)
	}
	p.UserID = userID.String

	queries, err := s.profileQueries(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Queries = queries

	calls, err := s.profileAPICalls(ctx, id)
	if err != nil {
		return nil, err
	}
	p.APICalls = calls

	return &p, nil
}

func (s *Store) profileQueries(ctx context.Context, profileID string) ([]profiler.QueryEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sql_text, params, duration, stack_trace, timestamp
		FROM request_queries WHERE profile_id = ? ORDER BY seq`, profileID)
	if err != nil {
		return nil, fmt.Errorf("failed to query profile queries: %w", err)
	}
	defer pberrors.DeferClose(s.logger, rows, "failed to close result rows")

	var queries []profiler.QueryEvent
	for rows.Next() {
		var q profiler.QueryEvent
		var params sql.NullString
		var stack sql.NullString
		if err := rows.Scan(&q.SQL, &params, &q.Duration, &stack, &q.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan query row: %w", err)
		}
		if params.Valid && params.String != "" && params.String != "null" {
			if err := json.Unmarshal([]byte(params.String), &q.Params); err != nil {
				// Tolerate rows written by older schema versions.
				q.Params = []string{params.String}
			}
		}
		q.StackTrace = stack.String
		queries = append(queries, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating query rows: %w", err)
	}

	return queries, nil
}

func (s *Store) profileAPICalls(ctx context.Context, profileID string) ([]profiler.APICallEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT url, method, duration, status_code, timestamp
		FROM request_api_calls WHERE profile_id = ? ORDER BY seq`, profileID)
	if err != nil {
		return nil, fmt.Errorf("failed to query profile api calls: %w", err)
	}
	defer pberrors.DeferClose(s.logger, rows, "failed to close result rows")

	var calls []profiler.APICallEvent
	for rows.Next() {
		var c profiler.APICallEvent
		if err := rows.Scan(&c.URL, &c.Method, &c.Duration, &c.StatusCode, &c.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan api call row: %w", err)
		}
		calls = append(calls, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating api call rows: %w", err)
	}

	return calls, nil
}

// QueryProfiles returns profile summaries matching the filter, newest
// first, capped at limit. Summaries omit per-query detail; use GetProfile
// for the full record.
func (s *Store) QueryProfiles(ctx context.Context, filter Filter, limit int) ([]profiler.Profile, error) {
	where, args := filter.whereClause()
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, url, view_name, method, user_id, duration,
		       memory_mb, status_code, is_error, query_count, query_time
		FROM request_profiles
		`+where+`
		ORDER BY timestamp DESC
		LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer pberrors.DeferClose(s.logger, rows, "failed to close result rows")

	var profiles []profiler.Profile
	for rows.Next() {
		var p profiler.Profile
		var userID sql.NullString
		err := rows.Scan(
			&p.ID, &p.Timestamp, &p.URL, &p.ViewName, &p.Method, &userID,
			&p.Duration, &p.MemoryMB, &p.StatusCode, &p.IsError, &p.QueryCount, &p.QueryTime,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile row: %w", err)
		}
		p.UserID = userID.String
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating profile rows: %w", err)
	}

	return profiles, nil
}

// Aggregate computes dashboard statistics over the filtered set.
func (s *Store) Aggregate(ctx context.Context, filter Filter) (Stats, error) {
	where, args := filter.whereClause()

	var stats Stats
	var avgDuration, avgQueries, totalQueryTime sql.NullFloat64

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       AVG(duration),
		       AVG(query_count),
		       SUM(query_time),
		       COUNT(*) FILTER (WHERE is_error)
		FROM request_profiles
		`+where, args...,
	).Scan(&stats.RequestCount, &avgDuration, &avgQueries, &totalQueryTime, &stats.ErrorCount)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to aggregate profiles: %w", err)
	}

	stats.AvgDuration = avgDuration.Float64
	stats.AvgQueryCount = avgQueries.Float64
	stats.TotalQueryTime = totalQueryTime.Float64

	return stats, nil
}

// whereClause builds the WHERE fragment and bind arguments for a filter.
func (f Filter) whereClause() (string, []interface{}) {
	clauses := []string{}
	args := []interface{}{}

	if !f.Since.IsZero() {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, f.Since)
	}
	if f.ViewNameContains != "" {
		clauses = append(clauses, "view_name ILIKE ?")
		args = append(args, "%"+f.ViewNameContains+"%")
	}
	if f.ErrorsOnly {
		clauses = append(clauses, "is_error")
	}
	if f.MinDuration > 0 {
		clauses = append(clauses, "duration > ?")
		args = append(args, f.MinDuration)
	}

	if len(clauses) == 0 {
		return "", args
	}

	where := "WHERE " + clauses[0]
	for _, c := range clauses[1:] {
		where += " AND " + c
	}
	return where, args
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
