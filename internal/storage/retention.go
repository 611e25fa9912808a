package storage

import (
	"context"
	"fmt"
	"time"

	pberrors "github.com/profileboard/profileboard/internal/errors"
)

// DeleteOlderThan removes profiles (and their child rows) whose timestamp
// is before cutoff. Returns the number of profiles removed.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer pberrors.DeferRollback(s.logger, tx)

	// Child rows first so a failing sweep never orphans them.
	_, err = tx.ExecContext(ctx, `
		DELETE FROM request_queries WHERE profile_id IN
			(SELECT id FROM request_profiles WHERE timestamp < ?)`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired queries: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM request_api_calls WHERE profile_id IN
			(SELECT id FROM request_profiles WHERE timestamp < ?)`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired api calls: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM request_profiles WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired profiles: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit retention sweep: %w", err)
	}

	removed, _ := result.RowsAffected()
	return removed, nil
}

// RetentionLoop periodically removes profiles older than the retention
// window. It runs until the context is cancelled. A zero retention
// disables the loop.
func (s *Store) RetentionLoop(ctx context.Context, retention, interval time.Duration) {
	if retention <= 0 {
		s.logger.Info().Msg("Profile retention sweep disabled")
		return
	}

	s.logger.Info().
		Dur("retention", retention).
		Dur("interval", interval).
		Msg("Starting profile retention sweep")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.DeleteOlderThan(ctx, time.Now().Add(-retention))
			if err != nil {
				s.logger.Error().Err(err).Msg("Retention sweep failed")
				continue
			}
			if removed > 0 {
				s.logger.Info().Int64("removed", removed).Msg("Expired profiles removed")
			}
		}
	}
}
