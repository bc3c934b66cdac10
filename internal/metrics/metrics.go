package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments for the pipeline. Each service
// receives the same instance; the registry is private so tests can build
// as many instances as they need.
type Metrics struct {
	registry *prometheus.Registry

	JobsProcessed   *prometheus.CounterVec
	JobsInFlight    prometheus.Gauge
	JobsByStatus    *prometheus.GaugeVec
	JobsReclaimed   prometheus.Counter
	Collections     *prometheus.CounterVec
	ItemsIngested   *prometheus.CounterVec
	DedupSkipped    *prometheus.CounterVec
	AlertsCreated   *prometheus.CounterVec
	NotifyFailures  *prometheus.CounterVec
	HarvestDuration *prometheus.HistogramVec
}

// New creates and registers all pipeline metrics.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		JobsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "traderadar_jobs_processed_total",
				Help: "Transcription jobs finished, by outcome",
			},
			[]string{"outcome"},
		),
		JobsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "traderadar_jobs_in_flight",
				Help: "Transcription jobs currently being processed",
			},
		),
		JobsByStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "traderadar_jobs_status",
				Help: "Transcription jobs in the queue, by status",
			},
			[]string{"status"},
		),
		JobsReclaimed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "traderadar_jobs_reclaimed_total",
				Help: "Stuck processing jobs returned to pending by the watchdog",
			},
		),
		Collections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "traderadar_collections_total",
				Help: "Collection attempts, by source and result",
			},
			[]string{"source", "result"},
		),
		ItemsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "traderadar_items_ingested_total",
				Help: "Content items inserted, by source",
			},
			[]string{"source"},
		),
		DedupSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "traderadar_dedup_skipped_total",
				Help: "Items skipped as already seen, by source",
			},
			[]string{"source"},
		),
		AlertsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "traderadar_alerts_created_total",
				Help: "Alerts created, by type",
			},
			[]string{"type"},
		),
		NotifyFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "traderadar_notify_failures_total",
				Help: "Alert notification delivery failures, by notifier",
			},
			[]string{"notifier"},
		),
		HarvestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "traderadar_harvest_duration_seconds",
				Help:    "End-to-end harvest duration in seconds, by content mode",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"mode"},
		),
	}

	m.registry.MustRegister(
		m.JobsProcessed,
		m.JobsInFlight,
		m.JobsByStatus,
		m.JobsReclaimed,
		m.Collections,
		m.ItemsIngested,
		m.DedupSkipped,
		m.AlertsCreated,
		m.NotifyFailures,
		m.HarvestDuration,
	)

	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
