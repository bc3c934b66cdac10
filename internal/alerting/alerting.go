// Package alerting evaluates pipeline health into operator alerts.
// Rules are deliberately few and loud: a rule only fires while its
// condition holds and an acknowledged alert never comes back as the
// same row.
package alerting

import (
	"errors"
	"time"

	"github.com/sebastian-ames3/traderadar/pkg/source"
)

// ErrNotFound is returned when an alert ID does not exist.
var ErrNotFound = errors.New("alert not found")

// Type names a rule.
type Type string

const (
	TypeCollectionFailed     Type = "collection_failed"
	TypeSourceStale          Type = "source_stale"
	TypeErrorSpike           Type = "error_spike"
	TypeTranscriptionBacklog Type = "transcription_backlog"
)

// Severity ranks how urgently an operator should look.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// ExpiredBy is the actor recorded when the expiry sweep closes an
// alert nobody acknowledged.
const ExpiredBy = "system:expired"

// Alert is one operator-facing condition.
type Alert struct {
	ID             string            `json:"id" db:"id"`
	Type           Type              `json:"type" db:"type"`
	Severity       Severity          `json:"severity" db:"severity"`
	Source         source.SourceType `json:"source" db:"source"`
	Message        string            `json:"message" db:"message"`
	Acknowledged   bool              `json:"acknowledged" db:"acknowledged"`
	AcknowledgedBy string            `json:"acknowledged_by,omitempty" db:"acknowledged_by"`
	AcknowledgedAt *time.Time        `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	ExpiresAt      time.Time         `json:"expires_at" db:"expires_at"`
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
}

// Backlog summarizes pending transcription work for one source.
type Backlog struct {
	Source          source.SourceType `json:"source"`
	Pending         int               `json:"pending"`
	OldestCreatedAt time.Time         `json:"oldest_created_at"`
}

// Thresholds tunes the rules.
type Thresholds struct {
	// ConsecutiveFailures trips collection_failed.
	ConsecutiveFailures int
	// StaleAfter trips source_stale once a source that used to deliver
	// goes quiet this long.
	StaleAfter time.Duration
	// ErrorSpike trips error_spike when 24h errors exceed it.
	ErrorSpike int
	// BacklogAge trips transcription_backlog when the oldest pending
	// job is older than it.
	BacklogAge time.Duration
	// TTL is how long an unacknowledged alert lives before the sweep
	// closes it.
	TTL time.Duration
}

// DefaultThresholds returns the stock rule tuning.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ConsecutiveFailures: 2,
		StaleAfter:          48 * time.Hour,
		ErrorSpike:          5,
		BacklogAge:          24 * time.Hour,
		TTL:                 72 * time.Hour,
	}
}

func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds()
	if t.ConsecutiveFailures <= 0 {
		t.ConsecutiveFailures = d.ConsecutiveFailures
	}
	if t.StaleAfter <= 0 {
		t.StaleAfter = d.StaleAfter
	}
	if t.ErrorSpike <= 0 {
		t.ErrorSpike = d.ErrorSpike
	}
	if t.BacklogAge <= 0 {
		t.BacklogAge = d.BacklogAge
	}
	if t.TTL <= 0 {
		t.TTL = d.TTL
	}
	return t
}
