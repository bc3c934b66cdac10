// Package ingest runs collection cycles: every enabled source is
// polled, each returned item passes validation and the dedup gate, new
// items are stored, and follow-up work is dispatched. Videos go to the
// transcription queue; text items are analyzed inline.
package ingest

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sebastian-ames3/traderadar/internal/jobs"
	"github.com/sebastian-ames3/traderadar/internal/metrics"
	"github.com/sebastian-ames3/traderadar/pkg/harvest"
	"github.com/sebastian-ames3/traderadar/pkg/source"
)

// Store is the persistence the ingest cycle needs.
type Store interface {
	IsDuplicate(ctx context.Context, src source.SourceType, id source.Identity) (bool, error)
	InsertItem(ctx context.Context, item *source.Item) error
	EnqueueJob(ctx context.Context, contentID int64, src source.SourceType, contentURL string) (*jobs.Job, bool, error)
	SetItemAnalysis(ctx context.Context, id int64, transcript string, themes []string, sentiment string) error
}

// HealthRecorder receives the outcome of each source's collection.
type HealthRecorder interface {
	RecordCollectionResult(ctx context.Context, src source.SourceType, success bool, itemCount int, collectErr error) error
}

// Analyzer extracts themes, sentiment and levels from text.
type Analyzer interface {
	Analyze(ctx context.Context, meta harvest.SourceMeta, text string) (*harvest.Result, error)
}

// LevelSink receives extracted symbol levels.
type LevelSink interface {
	ApplyHarvest(ctx context.Context, item *source.Item, res *harvest.Result) error
}

// SourceSummary is the outcome of one source's collection pass.
type SourceSummary struct {
	Source     source.SourceType `json:"source"`
	Collected  int               `json:"collected"`
	Ingested   int               `json:"ingested"`
	Duplicates int               `json:"duplicates"`
	Enqueued   int               `json:"enqueued"`
	Errors     int               `json:"errors"`
	Err        error             `json:"-"`
}

// Service orchestrates collection across all sources.
type Service struct {
	sources  []source.Source
	store    Store
	health   HealthRecorder
	analyzer Analyzer
	levels   LevelSink
	log      *logrus.Entry
	metrics  *metrics.Metrics
}

// NewService builds the ingest service. analyzer and levels may be nil
// to disable inline analysis.
func NewService(sources []source.Source, store Store, health HealthRecorder, analyzer Analyzer, levels LevelSink, log *logrus.Entry, m *metrics.Metrics) *Service {
	return &Service{
		sources:  sources,
		store:    store,
		health:   health,
		analyzer: analyzer,
		levels:   levels,
		log:      log,
		metrics:  m,
	}
}

// Sources returns the configured source types.
func (s *Service) Sources() []source.SourceType {
	out := make([]source.SourceType, 0, len(s.sources))
	for _, src := range s.sources {
		out = append(out, src.Name())
	}
	return out
}

// CollectAll runs one collection cycle. A failing source is recorded
// against its health and skipped; it never aborts the other sources.
// The returned error joins health bookkeeping failures only.
func (s *Service) CollectAll(ctx context.Context) ([]SourceSummary, error) {
	summaries := make([]SourceSummary, 0, len(s.sources))
	var errs []error

	for _, src := range s.sources {
		sum := s.collectOne(ctx, src)
		summaries = append(summaries, sum)

		if s.metrics != nil {
			result := "success"
			if sum.Err != nil {
				result = "error"
			}
			s.metrics.Collections.WithLabelValues(string(sum.Source), result).Inc()
		}
		if s.health != nil {
			if err := s.health.RecordCollectionResult(ctx, sum.Source, sum.Err == nil, sum.Ingested, sum.Err); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return summaries, errors.Join(errs...)
}

func (s *Service) collectOne(ctx context.Context, src source.Source) SourceSummary {
	sum := SourceSummary{Source: src.Name()}
	log := s.log.WithField("source", src.Name())

	items, err := src.Collect(ctx)
	if err != nil {
		sum.Err = err
		log.WithError(err).Error("collection failed")
		return sum
	}
	sum.Collected = len(items)

	for i := range items {
		s.ingestItem(ctx, log, &items[i], &sum)
	}

	log.WithFields(logrus.Fields{
		"collected":  sum.Collected,
		"ingested":   sum.Ingested,
		"duplicates": sum.Duplicates,
		"enqueued":   sum.Enqueued,
		"errors":     sum.Errors,
	}).Info("collection complete")
	return sum
}

func (s *Service) ingestItem(ctx context.Context, log *logrus.Entry, item *source.Item, sum *SourceSummary) {
	if err := item.Validate(); err != nil {
		sum.Errors++
		log.WithError(err).Warn("dropping invalid item")
		return
	}

	dup, err := s.store.IsDuplicate(ctx, item.Source, item.Identity())
	if err != nil {
		// Fail closed: without a dedup answer, skipping beats
		// double-ingesting.
		sum.Errors++
		log.WithError(err).WithField("external_id", item.ExternalID).Error("dedup check failed, skipping item")
		return
	}
	if dup {
		sum.Duplicates++
		if s.metrics != nil {
			s.metrics.DedupSkipped.WithLabelValues(string(item.Source)).Inc()
		}
		return
	}

	if err := s.store.InsertItem(ctx, item); err != nil {
		sum.Errors++
		log.WithError(err).Error("insert item")
		return
	}
	sum.Ingested++
	if s.metrics != nil {
		s.metrics.ItemsIngested.WithLabelValues(string(item.Source)).Inc()
	}

	if item.Kind == source.KindVideo {
		_, created, err := s.store.EnqueueJob(ctx, item.ID, item.Source, item.URL)
		if err != nil {
			sum.Errors++
			log.WithError(err).WithField("content_id", item.ID).Error("enqueue transcription job")
			return
		}
		if created {
			sum.Enqueued++
		}
		return
	}

	s.analyzeInline(ctx, log, item, sum)
}

// analyzeInline runs the text analysis path. Analysis failures are
// tolerated since the item itself is already stored; only storage
// failures count against the cycle.
func (s *Service) analyzeInline(ctx context.Context, log *logrus.Entry, item *source.Item, sum *SourceSummary) {
	if s.analyzer == nil || strings.TrimSpace(item.Body) == "" {
		return
	}

	meta := harvest.SourceMeta{
		Source:     item.Source,
		Kind:       item.Kind,
		Title:      item.Title,
		ExternalID: item.ExternalID,
	}
	start := time.Now()
	res, err := s.analyzer.Analyze(ctx, meta, item.Body)
	if s.metrics != nil {
		s.metrics.HarvestDuration.WithLabelValues("text").Observe(time.Since(start).Seconds())
	}
	if err != nil {
		log.WithError(err).WithField("content_id", item.ID).Warn("inline analysis failed")
		return
	}

	if err := s.store.SetItemAnalysis(ctx, item.ID, "", res.Themes, res.Sentiment); err != nil {
		sum.Errors++
		log.WithError(err).Error("store inline analysis")
		return
	}
	if s.levels != nil && len(res.Levels) > 0 {
		if err := s.levels.ApplyHarvest(ctx, item, res); err != nil {
			sum.Errors++
			log.WithError(err).Error("apply extracted levels")
		}
	}
}
