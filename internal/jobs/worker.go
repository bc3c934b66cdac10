package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sebastian-ames3/traderadar/internal/metrics"
	"github.com/sebastian-ames3/traderadar/internal/sanitize"
	"github.com/sebastian-ames3/traderadar/pkg/harvest"
	"github.com/sebastian-ames3/traderadar/pkg/source"
)

// Store is the queue persistence the worker needs.
type Store interface {
	ClaimNextJob(ctx context.Context, maxRetries int, backoff time.Duration) (*Job, error)
	MarkJobCompleted(ctx context.Context, id string) error
	MarkJobFailed(ctx context.Context, id, errMsg string) error
	ReclaimStuckJobs(ctx context.Context, threshold time.Duration, maxRetries int) (int64, error)
	JobStats(ctx context.Context) (map[Status]int, error)
	GetItem(ctx context.Context, id int64) (*source.Item, error)
	SetItemAnalysis(ctx context.Context, id int64, transcript string, themes []string, sentiment string) error
}

// Harvester produces a transcript and analysis for one content URL.
type Harvester interface {
	Harvest(ctx context.Context, contentURL string, meta harvest.SourceMeta) (*harvest.Result, error)
}

// LevelSink receives extracted symbol levels after a successful
// harvest.
type LevelSink interface {
	ApplyHarvest(ctx context.Context, item *source.Item, res *harvest.Result) error
}

// Options tunes the worker pool.
type Options struct {
	PollInterval     time.Duration
	WatchdogInterval time.Duration
	StuckThreshold   time.Duration
	MaxConcurrent    int
	MaxRetries       int
	RetryBackoff     time.Duration
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 15 * time.Second
	}
	if o.WatchdogInterval <= 0 {
		o.WatchdogInterval = 5 * time.Minute
	}
	if o.StuckThreshold <= 0 {
		o.StuckThreshold = 30 * time.Minute
	}
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 2
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RetryBackoff < 0 {
		o.RetryBackoff = 5 * time.Minute
	}
	return o
}

// Worker polls the queue and runs claimed jobs through the harvester,
// at most MaxConcurrent at a time. A watchdog pass returns jobs whose
// claimer died to the queue.
type Worker struct {
	opts      Options
	store     Store
	harvester Harvester
	levels    LevelSink
	log       *logrus.Entry
	metrics   *metrics.Metrics

	slots  chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewWorker builds a worker pool. levels may be nil when no confluence
// engine is wired.
func NewWorker(opts Options, store Store, harvester Harvester, levels LevelSink, log *logrus.Entry, m *metrics.Metrics) *Worker {
	opts = opts.withDefaults()
	return &Worker{
		opts:      opts,
		store:     store,
		harvester: harvester,
		levels:    levels,
		log:       log,
		metrics:   m,
		slots:     make(chan struct{}, opts.MaxConcurrent),
	}
}

// Start launches the polling loop. Safe to call once; repeated calls
// are no-ops until Stop.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.wg.Add(1)
	go w.run(ctx)
	w.log.WithFields(logrus.Fields{
		"poll_interval":  w.opts.PollInterval.String(),
		"max_concurrent": w.opts.MaxConcurrent,
		"max_retries":    w.opts.MaxRetries,
	}).Info("transcription worker started")
}

// Stop cancels the loop and waits for in-flight jobs to finish their
// bookkeeping.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	w.wg.Wait()
	w.log.Info("transcription worker stopped")
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	poll := time.NewTicker(w.opts.PollInterval)
	defer poll.Stop()
	watchdog := time.NewTicker(w.opts.WatchdogInterval)
	defer watchdog.Stop()

	w.dispatch(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-watchdog.C:
			w.reclaim(ctx)
		case <-poll.C:
			w.publishStats(ctx)
			w.dispatch(ctx)
		}
	}
}

// dispatch claims eligible jobs until the queue is empty or every slot
// is busy.
func (w *Worker) dispatch(ctx context.Context) {
	for {
		select {
		case w.slots <- struct{}{}:
		default:
			return
		}

		job, err := w.store.ClaimNextJob(ctx, w.opts.MaxRetries, w.opts.RetryBackoff)
		if err != nil {
			<-w.slots
			if ctx.Err() == nil {
				w.log.WithError(err).Error("claim next job")
			}
			return
		}
		if job == nil {
			<-w.slots
			return
		}

		w.wg.Add(1)
		go func(job *Job) {
			defer w.wg.Done()
			defer func() { <-w.slots }()
			w.process(ctx, job)
		}(job)
	}
}

func (w *Worker) process(ctx context.Context, job *Job) {
	log := w.log.WithFields(logrus.Fields{
		"job":        job.ID,
		"content_id": job.ContentID,
		"source":     job.Source,
		"retry":      job.RetryCount,
	})
	if w.metrics != nil {
		w.metrics.JobsInFlight.Inc()
		defer w.metrics.JobsInFlight.Dec()
	}

	item, err := w.store.GetItem(ctx, job.ContentID)
	if err != nil {
		w.fail(ctx, log, job, fmt.Errorf("load content item %d: %w", job.ContentID, err))
		return
	}

	meta := harvest.SourceMeta{
		Source:     item.Source,
		Kind:       item.Kind,
		Title:      item.Title,
		ExternalID: item.ExternalID,
	}

	start := time.Now()
	res, err := w.harvester.Harvest(ctx, job.ContentURL, meta)
	if w.metrics != nil {
		w.metrics.HarvestDuration.WithLabelValues("video").Observe(time.Since(start).Seconds())
	}
	if err != nil {
		w.fail(ctx, log, job, err)
		return
	}
	if strings.TrimSpace(res.Transcript) == "" {
		w.fail(ctx, log, job, errors.New("empty transcript"))
		return
	}

	if err := w.store.SetItemAnalysis(ctx, job.ContentID, res.Transcript, res.Themes, res.Sentiment); err != nil {
		w.fail(ctx, log, job, fmt.Errorf("store analysis: %w", err))
		return
	}
	if w.levels != nil && len(res.Levels) > 0 {
		if err := w.levels.ApplyHarvest(ctx, item, res); err != nil {
			w.fail(ctx, log, job, fmt.Errorf("apply levels: %w", err))
			return
		}
	}

	// Final status writes must survive shutdown cancellation.
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := w.store.MarkJobCompleted(bctx, job.ID); err != nil {
		log.WithError(err).Error("mark job completed")
		return
	}
	if w.metrics != nil {
		w.metrics.JobsProcessed.WithLabelValues("completed").Inc()
	}
	log.WithFields(logrus.Fields{
		"transcript_len": len(res.Transcript),
		"levels":         len(res.Levels),
		"elapsed":        time.Since(start).Round(time.Millisecond).String(),
	}).Info("job completed")
}

func (w *Worker) fail(ctx context.Context, log *logrus.Entry, job *Job, cause error) {
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := w.store.MarkJobFailed(bctx, job.ID, sanitize.Error(cause)); err != nil {
		log.WithError(err).Error("mark job failed")
		return
	}
	if w.metrics != nil {
		w.metrics.JobsProcessed.WithLabelValues("failed").Inc()
	}
	log.WithError(cause).Warn("job failed")
}

func (w *Worker) reclaim(ctx context.Context) {
	n, err := w.store.ReclaimStuckJobs(ctx, w.opts.StuckThreshold, w.opts.MaxRetries)
	if err != nil {
		if ctx.Err() == nil {
			w.log.WithError(err).Error("reclaim stuck jobs")
		}
		return
	}
	if n > 0 {
		if w.metrics != nil {
			w.metrics.JobsReclaimed.Add(float64(n))
		}
		w.log.WithField("count", n).Warn("reclaimed stuck jobs")
	}
}

func (w *Worker) publishStats(ctx context.Context) {
	if w.metrics == nil {
		return
	}
	stats, err := w.store.JobStats(ctx)
	if err != nil {
		return
	}
	for _, st := range AllStatuses() {
		w.metrics.JobsByStatus.WithLabelValues(string(st)).Set(float64(stats[st]))
	}
}
