// Package health tracks whether each collection source is actually
// delivering. Collection attempts are recorded as they happen; windowed
// counters are recomputed from the raw event log so restarts cannot
// drift them.
package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sebastian-ames3/traderadar/internal/sanitize"
	"github.com/sebastian-ames3/traderadar/pkg/source"
)

// SourceHealth is the per-source pipeline health row.
type SourceHealth struct {
	Source              source.SourceType `json:"source" db:"source"`
	LastCollectedAt     *time.Time        `json:"last_collected_at,omitempty" db:"last_collected_at"`
	LastAttemptAt       *time.Time        `json:"last_attempt_at,omitempty" db:"last_attempt_at"`
	ConsecutiveFailures int               `json:"consecutive_failures" db:"consecutive_failures"`
	ItemsCollected24h   int               `json:"items_collected_24h" db:"items_collected_24h"`
	ItemsTranscribed24h int               `json:"items_transcribed_24h" db:"items_transcribed_24h"`
	Errors24h           int               `json:"errors_24h" db:"errors_24h"`
	LastError           string            `json:"last_error,omitempty" db:"last_error"`
	IsStale             bool              `json:"is_stale" db:"is_stale"`
	UpdatedAt           time.Time         `json:"updated_at" db:"updated_at"`
}

// CollectionEvent is one recorded collection attempt.
type CollectionEvent struct {
	ID         int64             `json:"id" db:"id"`
	Source     source.SourceType `json:"source" db:"source"`
	Success    bool              `json:"success" db:"success"`
	ItemCount  int               `json:"item_count" db:"item_count"`
	ErrorMsg   string            `json:"error,omitempty" db:"error_msg"`
	OccurredAt time.Time         `json:"occurred_at" db:"occurred_at"`
}

// IsStale reports whether a source's last success is older than
// threshold. A source that has never succeeded is not stale; it has no
// baseline to have gone quiet from.
func IsStale(lastCollectedAt *time.Time, now time.Time, threshold time.Duration) bool {
	if lastCollectedAt == nil {
		return false
	}
	return now.Sub(*lastCollectedAt) >= threshold
}

// Store is the persistence the tracker needs.
type Store interface {
	RecordCollection(ctx context.Context, src source.SourceType, success bool, itemCount int, errMsg string) error
	ListSourceHealth(ctx context.Context) ([]SourceHealth, error)
	SetHealthWindow(ctx context.Context, src source.SourceType, collected, transcribed, errCount int, stale bool) error
	CountItemsSince(ctx context.Context, src source.SourceType, since time.Time) (int, error)
	CountJobsCompletedSince(ctx context.Context, src source.SourceType, since time.Time) (int, error)
	CountCollectionErrorsSince(ctx context.Context, src source.SourceType, since time.Time) (int, error)
	PurgeCollectionEvents(ctx context.Context, before time.Time) (int64, error)
}

// Tracker maintains source health rows.
type Tracker struct {
	store          Store
	staleThreshold time.Duration
	eventRetention time.Duration
	log            *logrus.Entry
}

// NewTracker builds a tracker. staleThreshold controls the is_stale
// flag; events older than eventRetention are purged.
func NewTracker(store Store, staleThreshold, eventRetention time.Duration, log *logrus.Entry) *Tracker {
	if staleThreshold <= 0 {
		staleThreshold = 48 * time.Hour
	}
	if eventRetention <= 0 {
		eventRetention = 7 * 24 * time.Hour
	}
	return &Tracker{
		store:          store,
		staleThreshold: staleThreshold,
		eventRetention: eventRetention,
		log:            log,
	}
}

// RecordCollectionResult logs one collection attempt and updates the
// source's rollup: a success resets the failure streak and advances
// last_collected_at, a failure only extends the streak.
func (t *Tracker) RecordCollectionResult(ctx context.Context, src source.SourceType, success bool, itemCount int, collectErr error) error {
	errMsg := sanitize.Error(collectErr)
	if err := t.store.RecordCollection(ctx, src, success, itemCount, errMsg); err != nil {
		return fmt.Errorf("record collection for %s: %w", src, err)
	}
	return nil
}

// Recompute rebuilds the 24h counters and staleness flag for every
// known source from raw rows. It never touches consecutive_failures;
// that streak only moves when attempts happen.
func (t *Tracker) Recompute(ctx context.Context) error {
	rows, err := t.store.ListSourceHealth(ctx)
	if err != nil {
		return fmt.Errorf("list source health: %w", err)
	}

	since := time.Now().UTC().Add(-24 * time.Hour)
	var errs []error
	for _, row := range rows {
		if err := t.recomputeOne(ctx, row, since); err != nil {
			t.log.WithError(err).WithField("source", row.Source).Warn("recompute source health")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *Tracker) recomputeOne(ctx context.Context, row SourceHealth, since time.Time) error {
	collected, err := t.store.CountItemsSince(ctx, row.Source, since)
	if err != nil {
		return fmt.Errorf("count items for %s: %w", row.Source, err)
	}
	transcribed := 0
	if source.IsVideo(row.Source) {
		transcribed, err = t.store.CountJobsCompletedSince(ctx, row.Source, since)
		if err != nil {
			return fmt.Errorf("count transcribed for %s: %w", row.Source, err)
		}
	}
	errCount, err := t.store.CountCollectionErrorsSince(ctx, row.Source, since)
	if err != nil {
		return fmt.Errorf("count errors for %s: %w", row.Source, err)
	}

	stale := IsStale(row.LastCollectedAt, time.Now().UTC(), t.staleThreshold)
	if err := t.store.SetHealthWindow(ctx, row.Source, collected, transcribed, errCount, stale); err != nil {
		return fmt.Errorf("update health window for %s: %w", row.Source, err)
	}
	return nil
}

// PurgeEvents drops collection events past the retention window.
// Rollup rows keep their counters, so history loss is invisible to
// alerting.
func (t *Tracker) PurgeEvents(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-t.eventRetention)
	n, err := t.store.PurgeCollectionEvents(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge collection events: %w", err)
	}
	if n > 0 {
		t.log.WithField("purged", n).Debug("purged old collection events")
	}
	return n, nil
}

// StaleThreshold exposes the configured staleness cutoff.
func (t *Tracker) StaleThreshold() time.Duration { return t.staleThreshold }
