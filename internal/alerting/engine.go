package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sebastian-ames3/traderadar/internal/health"
	"github.com/sebastian-ames3/traderadar/internal/metrics"
	"github.com/sebastian-ames3/traderadar/internal/sanitize"
	"github.com/sebastian-ames3/traderadar/pkg/alert"
	"github.com/sebastian-ames3/traderadar/pkg/source"
)

// Store is the persistence the engine needs. FindOpenAlert returns nil
// without error when no unacknowledged alert matches.
type Store interface {
	InsertAlert(ctx context.Context, a *Alert) error
	FindOpenAlert(ctx context.Context, typ Type, src source.SourceType) (*Alert, error)
	ListAlerts(ctx context.Context, includeAcked bool, limit int) ([]Alert, error)
	AcknowledgeAlert(ctx context.Context, id, who string, at time.Time) (bool, error)
	ExpireAlerts(ctx context.Context, now time.Time, by string) (int64, error)
	ListSourceHealth(ctx context.Context) ([]health.SourceHealth, error)
	PendingJobBacklog(ctx context.Context) ([]Backlog, error)
}

// Recomputer refreshes health rollups before the rules read them.
type Recomputer interface {
	Recompute(ctx context.Context) error
}

// Engine runs the alert rules and owns alert lifecycle.
type Engine struct {
	store      Store
	health     Recomputer
	notifier   *alert.Manager
	thresholds Thresholds
	log        *logrus.Entry
	metrics    *metrics.Metrics
}

// NewEngine builds the rule engine. health and notifier may be nil.
func NewEngine(store Store, health Recomputer, notifier *alert.Manager, th Thresholds, log *logrus.Entry, m *metrics.Metrics) *Engine {
	return &Engine{
		store:      store,
		health:     health,
		notifier:   notifier,
		thresholds: th.withDefaults(),
		log:        log,
		metrics:    m,
	}
}

// RunCheck runs one full evaluation pass: close expired alerts,
// refresh health rollups, then apply every rule to every source. A
// failing source or rule is skipped, not fatal; all skipped errors
// come back joined.
func (e *Engine) RunCheck(ctx context.Context) ([]Alert, error) {
	if _, err := e.ExpireSweep(ctx); err != nil {
		return nil, err
	}

	var errs []error
	if e.health != nil {
		if err := e.health.Recompute(ctx); err != nil {
			e.log.WithError(err).Warn("health recompute before check")
			errs = append(errs, err)
		}
	}

	rows, err := e.store.ListSourceHealth(ctx)
	if err != nil {
		return nil, fmt.Errorf("list source health: %w", err)
	}

	now := time.Now().UTC()
	var created []Alert
	for _, row := range rows {
		for _, cand := range e.evaluateSource(row, now) {
			a, isNew, err := e.createIfAbsent(ctx, cand)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if isNew {
				created = append(created, *a)
			}
		}
	}

	backlog, err := e.store.PendingJobBacklog(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("pending job backlog: %w", err))
	} else {
		for _, b := range backlog {
			if !source.IsVideo(b.Source) {
				continue
			}
			age := now.Sub(b.OldestCreatedAt)
			if age < e.thresholds.BacklogAge {
				continue
			}
			a, isNew, err := e.createIfAbsent(ctx, Alert{
				Type:     TypeTranscriptionBacklog,
				Severity: SeverityHigh,
				Source:   b.Source,
				Message: fmt.Sprintf("transcription backlog for %s: %d pending, oldest waiting %s",
					b.Source, b.Pending, age.Round(time.Hour)),
			})
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if isNew {
				created = append(created, *a)
			}
		}
	}

	e.log.WithFields(logrus.Fields{
		"sources": len(rows),
		"created": len(created),
	}).Debug("alert check complete")
	return created, errors.Join(errs...)
}

// evaluateSource returns the alerts one health row currently warrants.
func (e *Engine) evaluateSource(row health.SourceHealth, now time.Time) []Alert {
	var out []Alert

	if row.ConsecutiveFailures >= e.thresholds.ConsecutiveFailures {
		msg := fmt.Sprintf("collection for %s has failed %d times in a row", row.Source, row.ConsecutiveFailures)
		if row.LastError != "" {
			msg += ": " + row.LastError
		}
		out = append(out, Alert{
			Type:     TypeCollectionFailed,
			Severity: SeverityCritical,
			Source:   row.Source,
			Message:  msg,
		})
	}

	if health.IsStale(row.LastCollectedAt, now, e.thresholds.StaleAfter) {
		age := now.Sub(*row.LastCollectedAt)
		out = append(out, Alert{
			Type:     TypeSourceStale,
			Severity: SeverityMedium,
			Source:   row.Source,
			Message: fmt.Sprintf("no successful collection from %s for %s (last %s)",
				row.Source, age.Round(time.Hour), row.LastCollectedAt.Format(time.RFC3339)),
		})
	}

	if row.Errors24h > e.thresholds.ErrorSpike {
		out = append(out, Alert{
			Type:     TypeErrorSpike,
			Severity: SeverityHigh,
			Source:   row.Source,
			Message:  fmt.Sprintf("%d collection errors from %s in the last 24h", row.Errors24h, row.Source),
		})
	}

	return out
}

// createIfAbsent inserts the alert unless the same (type, source) pair
// already has an open one. Notification happens only on insert, so a
// persisting condition pings the operator once, not every check.
func (e *Engine) createIfAbsent(ctx context.Context, cand Alert) (*Alert, bool, error) {
	existing, err := e.store.FindOpenAlert(ctx, cand.Type, cand.Source)
	if err != nil {
		return nil, false, fmt.Errorf("find open alert %s/%s: %w", cand.Type, cand.Source, err)
	}
	if existing != nil {
		return existing, false, nil
	}

	now := time.Now().UTC()
	cand.ID = uuid.New().String()
	cand.Message = sanitize.Message(cand.Message)
	cand.CreatedAt = now
	cand.ExpiresAt = now.Add(e.thresholds.TTL)
	if err := e.store.InsertAlert(ctx, &cand); err != nil {
		return nil, false, fmt.Errorf("insert alert %s/%s: %w", cand.Type, cand.Source, err)
	}
	if e.metrics != nil {
		e.metrics.AlertsCreated.WithLabelValues(string(cand.Type)).Inc()
	}
	e.log.WithFields(logrus.Fields{
		"alert":    cand.ID,
		"type":     cand.Type,
		"severity": cand.Severity,
		"source":   cand.Source,
	}).Warn(cand.Message)

	if e.notifier != nil && e.notifier.HasNotifiers() {
		n := alert.Notification{
			Type:      string(cand.Type),
			Severity:  string(cand.Severity),
			Source:    string(cand.Source),
			Message:   cand.Message,
			CreatedAt: cand.CreatedAt,
		}
		if err := e.notifier.Broadcast(ctx, n); err != nil {
			e.log.WithError(err).Warn("alert notification delivery")
		}
	}
	return &cand, true, nil
}

// Acknowledge closes an alert. Acknowledging twice is a no-op; an
// unknown ID returns ErrNotFound.
func (e *Engine) Acknowledge(ctx context.Context, id, who string) error {
	flipped, err := e.store.AcknowledgeAlert(ctx, id, who, time.Now().UTC())
	if err != nil {
		return err
	}
	if flipped {
		e.log.WithFields(logrus.Fields{"alert": id, "by": who}).Info("alert acknowledged")
	}
	return nil
}

// ExpireSweep closes unacknowledged alerts past their TTL with
// acknowledged_by set to ExpiredBy.
func (e *Engine) ExpireSweep(ctx context.Context) (int64, error) {
	n, err := e.store.ExpireAlerts(ctx, time.Now().UTC(), ExpiredBy)
	if err != nil {
		return 0, fmt.Errorf("expire alerts: %w", err)
	}
	if n > 0 {
		e.log.WithField("expired", n).Info("expired stale alerts")
	}
	return n, nil
}

// List returns alerts, open only by default.
func (e *Engine) List(ctx context.Context, includeAcked bool, limit int) ([]Alert, error) {
	return e.store.ListAlerts(ctx, includeAcked, limit)
}
