// Package scheduler runs the daemon's recurring jobs on cron
// schedules. Jobs are registered by name; each run is logged with its
// duration and outcome so a silent scheduler is visible in the logs.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Job is one schedulable unit of work.
type Job func(ctx context.Context) error

// Scheduler wraps a cron runner with logging and a base context.
type Scheduler struct {
	cron *cron.Cron
	log  *logrus.Entry

	mu      sync.Mutex
	baseCtx context.Context
}

// New creates an empty scheduler. Schedules use the standard 5-field
// cron syntax plus descriptors like "@every 15m" and "@daily".
func New(log *logrus.Entry) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		log:     log,
		baseCtx: context.Background(),
	}
}

// Add registers a named job on a schedule.
func (s *Scheduler) Add(name, spec string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.runJob(name, job)
	})
	if err != nil {
		return fmt.Errorf("add cron job %s (%q): %w", name, spec, err)
	}
	s.log.WithFields(logrus.Fields{"job": name, "schedule": spec}).Debug("job registered")
	return nil
}

func (s *Scheduler) runJob(name string, job Job) {
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()

	log := s.log.WithField("job", name)
	start := time.Now()
	if err := job(ctx); err != nil {
		log.WithError(err).WithField("elapsed", time.Since(start).Round(time.Millisecond).String()).
			Warn("job finished with errors")
		return
	}
	log.WithField("elapsed", time.Since(start).Round(time.Millisecond).String()).Debug("job finished")
}

// Start begins running registered jobs. The given context is passed to
// every job; cancel it before Stop to interrupt long runs.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()
	s.cron.Start()
	s.log.WithField("jobs", len(s.cron.Entries())).Info("scheduler started")
}

// Stop halts scheduling and waits for running jobs to return.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("scheduler stopped")
}
