package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sebastian-ames3/traderadar/internal/alerting"
	"github.com/sebastian-ames3/traderadar/pkg/source"
)

// InsertAlert stores a new alert row.
func (s *SQLiteStore) InsertAlert(ctx context.Context, a *alerting.Alert) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (id, type, severity, source, message, acknowledged, acknowledged_by, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, 0, '', ?, ?)
	`, a.ID, a.Type, a.Severity, a.Source, a.Message, a.ExpiresAt, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert alert %s: %w", a.ID, err)
	}
	return nil
}

// FindOpenAlert returns the unacknowledged alert for a (type, source)
// pair, or nil when the pair has none.
func (s *SQLiteStore) FindOpenAlert(ctx context.Context, typ alerting.Type, src source.SourceType) (*alerting.Alert, error) {
	var a alerting.Alert
	err := s.db.GetContext(ctx, &a, `
		SELECT * FROM alerts
		WHERE type = ? AND source = ? AND acknowledged = 0
		ORDER BY created_at DESC
		LIMIT 1
	`, typ, src)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find open alert %s/%s: %w", typ, src, err)
	}
	return &a, nil
}

// ListAlerts returns alerts newest first, open ones only unless
// includeAcked is set.
func (s *SQLiteStore) ListAlerts(ctx context.Context, includeAcked bool, limit int) ([]alerting.Alert, error) {
	query := "SELECT * FROM alerts"
	if !includeAcked {
		query += " WHERE acknowledged = 0"
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	if limit <= 0 {
		limit = 100
	}

	var out []alerting.Alert
	if err := s.db.SelectContext(ctx, &out, query, limit); err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return out, nil
}

// AcknowledgeAlert closes an open alert. Returns false without error
// when the alert exists but was already acknowledged, and ErrNotFound
// when the ID is unknown.
func (s *SQLiteStore) AcknowledgeAlert(ctx context.Context, id, who string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET acknowledged = 1, acknowledged_by = ?, acknowledged_at = ?
		WHERE id = ? AND acknowledged = 0
	`, who, at, id)
	if err != nil {
		return false, fmt.Errorf("acknowledge alert %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}

	var exists int
	if err := s.db.GetContext(ctx, &exists, "SELECT COUNT(*) FROM alerts WHERE id = ?", id); err != nil {
		return false, fmt.Errorf("check alert %s: %w", id, err)
	}
	if exists == 0 {
		return false, fmt.Errorf("alert %s: %w", id, alerting.ErrNotFound)
	}
	return false, nil
}

// ExpireAlerts closes every open alert whose TTL has passed,
// attributing the acknowledgment to the given actor.
func (s *SQLiteStore) ExpireAlerts(ctx context.Context, now time.Time, by string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET acknowledged = 1, acknowledged_by = ?, acknowledged_at = ?
		WHERE acknowledged = 0 AND expires_at <= ?
	`, by, now, now)
	if err != nil {
		return 0, fmt.Errorf("expire alerts: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
