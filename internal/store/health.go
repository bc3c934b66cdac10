package store

import (
	"context"
	"fmt"
	"time"

	"github.com/sebastian-ames3/traderadar/internal/health"
	"github.com/sebastian-ames3/traderadar/pkg/source"
)

// RecordCollection logs one collection attempt and folds it into the
// source's rollup row in the same transaction. Success resets the
// failure streak and advances last_collected_at; failure extends the
// streak and keeps the old success timestamp.
func (s *SQLiteStore) RecordCollection(ctx context.Context, src source.SourceType, success bool, itemCount int, errMsg string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record collection: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO collection_events (source, success, item_count, error_msg, occurred_at)
		VALUES (?, ?, ?, ?, ?)
	`, src, success, itemCount, errMsg, now)
	if err != nil {
		return fmt.Errorf("insert collection event %s: %w", src, err)
	}

	if success {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO source_health (source, last_collected_at, last_attempt_at, consecutive_failures, last_error, updated_at)
			VALUES (?, ?, ?, 0, '', ?)
			ON CONFLICT(source) DO UPDATE SET
				last_collected_at = excluded.last_collected_at,
				last_attempt_at = excluded.last_attempt_at,
				consecutive_failures = 0,
				last_error = '',
				updated_at = excluded.updated_at
		`, src, now, now, now)
	} else {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO source_health (source, last_attempt_at, consecutive_failures, last_error, updated_at)
			VALUES (?, ?, 1, ?, ?)
			ON CONFLICT(source) DO UPDATE SET
				last_attempt_at = excluded.last_attempt_at,
				consecutive_failures = consecutive_failures + 1,
				last_error = excluded.last_error,
				updated_at = excluded.updated_at
		`, src, now, errMsg, now)
	}
	if err != nil {
		return fmt.Errorf("upsert source health %s: %w", src, err)
	}

	return tx.Commit()
}

// ListSourceHealth returns every source's health row.
func (s *SQLiteStore) ListSourceHealth(ctx context.Context) ([]health.SourceHealth, error) {
	var rows []health.SourceHealth
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM source_health ORDER BY source"); err != nil {
		return nil, fmt.Errorf("list source health: %w", err)
	}
	return rows, nil
}

// SetHealthWindow writes recomputed 24h counters and the staleness
// flag, leaving the failure streak alone.
func (s *SQLiteStore) SetHealthWindow(ctx context.Context, src source.SourceType, collected, transcribed, errCount int, stale bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE source_health
		SET items_collected_24h = ?, items_transcribed_24h = ?, errors_24h = ?, is_stale = ?, updated_at = ?
		WHERE source = ?
	`, collected, transcribed, errCount, stale, time.Now().UTC(), src)
	if err != nil {
		return fmt.Errorf("set health window %s: %w", src, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("health window: source %s: %w", src, ErrNotFound)
	}
	return nil
}

// CountCollectionErrorsSince counts failed collection attempts for a
// source after the cutoff.
func (s *SQLiteStore) CountCollectionErrorsSince(ctx context.Context, src source.SourceType, since time.Time) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM collection_events
		WHERE source = ? AND success = 0 AND occurred_at >= ?
	`, src, since)
	if err != nil {
		return 0, fmt.Errorf("count collection errors for %s: %w", src, err)
	}
	return n, nil
}

// ListCollectionEvents returns recent attempts for a source, newest
// first.
func (s *SQLiteStore) ListCollectionEvents(ctx context.Context, src source.SourceType, limit int) ([]health.CollectionEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var events []health.CollectionEvent
	err := s.db.SelectContext(ctx, &events, `
		SELECT * FROM collection_events WHERE source = ? ORDER BY occurred_at DESC LIMIT ?
	`, src, limit)
	if err != nil {
		return nil, fmt.Errorf("list collection events for %s: %w", src, err)
	}
	return events, nil
}

// PurgeCollectionEvents deletes attempt rows older than the cutoff.
func (s *SQLiteStore) PurgeCollectionEvents(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM collection_events WHERE occurred_at < ?", before)
	if err != nil {
		return 0, fmt.Errorf("purge collection events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
