package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sebastian-ames3/traderadar/internal/metrics"
)

// Notification is the data sent to alert destinations.
type Notification struct {
	Type      string    `json:"type"`
	Severity  string    `json:"severity"`
	Source    string    `json:"source"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Notifier delivers alerts to a specific destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// Manager broadcasts notifications to all registered notifiers.
type Manager struct {
	notifiers []Notifier
	metrics   *metrics.Metrics
}

// NewManager creates a new alert manager. Metrics may be nil.
func NewManager(notifiers []Notifier, met *metrics.Metrics) *Manager {
	return &Manager{notifiers: notifiers, metrics: met}
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return len(m.notifiers) > 0
}

// Broadcast sends a notification to all registered notifiers. A failed
// destination does not stop delivery to the others; failures are
// counted per notifier and returned joined.
func (m *Manager) Broadcast(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			if m.metrics != nil {
				m.metrics.NotifyFailures.WithLabelValues(notifier.Name()).Inc()
			}
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// severityColor returns the embed color for a severity.
func severityColor(severity string) int {
	switch severity {
	case "critical":
		return 0xD7263D
	case "high":
		return 0xFF6600
	case "medium":
		return 0xF2C94C
	default:
		return 0x95A5A6
	}
}

func severityEmoji(severity string) string {
	switch severity {
	case "critical":
		return "🚨"
	case "high":
		return "🔥"
	case "medium":
		return "⚠️"
	default:
		return "ℹ️"
	}
}
