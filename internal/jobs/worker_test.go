package jobs_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sebastian-ames3/traderadar/internal/jobs"
	"github.com/sebastian-ames3/traderadar/pkg/harvest"
	"github.com/sebastian-ames3/traderadar/pkg/source"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// fakeQueue is an in-memory jobs.Store. Every terminal transition is
// signalled on done so tests can wait without sleeping.
type fakeQueue struct {
	mu        sync.Mutex
	pending   []*jobs.Job
	items     map[int64]*source.Item
	completed []string
	failed    map[string]string
	analyses  map[int64]string
	reclaimed int

	analysisErr error
	done        chan string
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{
		items:    make(map[int64]*source.Item),
		failed:   make(map[string]string),
		analyses: make(map[int64]string),
		done:     make(chan string, 16),
	}
}

func (f *fakeQueue) addJob(id string, item *source.Item) *jobs.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := &jobs.Job{
		ID:         id,
		ContentID:  item.ID,
		Source:     item.Source,
		ContentURL: item.URL,
		Status:     jobs.StatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	f.pending = append(f.pending, job)
	f.items[item.ID] = item
	return job
}

func (f *fakeQueue) ClaimNextJob(_ context.Context, maxRetries int, backoff time.Duration) (*jobs.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return nil, nil
	}
	job := f.pending[0]
	f.pending = f.pending[1:]
	job.Status = jobs.StatusProcessing
	return job, nil
}

func (f *fakeQueue) MarkJobCompleted(_ context.Context, id string) error {
	f.mu.Lock()
	f.completed = append(f.completed, id)
	f.mu.Unlock()
	f.done <- id
	return nil
}

func (f *fakeQueue) MarkJobFailed(_ context.Context, id, errMsg string) error {
	f.mu.Lock()
	f.failed[id] = errMsg
	f.mu.Unlock()
	f.done <- id
	return nil
}

func (f *fakeQueue) ReclaimStuckJobs(_ context.Context, threshold time.Duration, maxRetries int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reclaimed++
	return 0, nil
}

func (f *fakeQueue) JobStats(context.Context) (map[jobs.Status]int, error) {
	return map[jobs.Status]int{}, nil
}

func (f *fakeQueue) GetItem(_ context.Context, id int64) (*source.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return nil, fmt.Errorf("item %d: not found", id)
	}
	return item, nil
}

func (f *fakeQueue) SetItemAnalysis(_ context.Context, id int64, transcript string, themes []string, sentiment string) error {
	if f.analysisErr != nil {
		return f.analysisErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analyses[id] = transcript
	return nil
}

func (f *fakeQueue) reclaimCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reclaimed
}

type fakeHarvester struct {
	mu      sync.Mutex
	metas   []harvest.SourceMeta
	results map[string]*harvest.Result
	errs    map[string]error
	started chan string
	release chan struct{}
}

func (f *fakeHarvester) Harvest(_ context.Context, contentURL string, meta harvest.SourceMeta) (*harvest.Result, error) {
	f.mu.Lock()
	f.metas = append(f.metas, meta)
	res := f.results[contentURL]
	err := f.errs[contentURL]
	f.mu.Unlock()

	if f.started != nil {
		f.started <- contentURL
	}
	if f.release != nil {
		<-f.release
	}
	return res, err
}

type fakeSink struct {
	mu    sync.Mutex
	calls []int64
	err   error
}

func (f *fakeSink) ApplyHarvest(_ context.Context, item *source.Item, res *harvest.Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, item.ID)
	return f.err
}

func videoItem(id int64, externalID string) *source.Item {
	return &source.Item{
		ID:         id,
		Source:     source.SourceKTYouTube,
		Kind:       source.KindVideo,
		Title:      "video " + externalID,
		URL:        "https://www.youtube.com/watch?v=" + externalID,
		ExternalID: externalID,
	}
}

func waitDone(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case id := <-ch:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the worker")
		return ""
	}
}

func startWorker(t *testing.T, opts jobs.Options, q *fakeQueue, h *fakeHarvester, sink jobs.LevelSink) *jobs.Worker {
	t.Helper()
	w := jobs.NewWorker(opts, q, h, sink, testLog(), nil)
	w.Start(context.Background())
	t.Cleanup(w.Stop)
	return w
}

func TestWorkerCompletesJob(t *testing.T) {
	q := newFakeQueue()
	item := videoItem(1, "abc123")
	job := q.addJob("job-1", item)

	h := &fakeHarvester{results: map[string]*harvest.Result{
		item.URL: {
			Transcript: "SPX held the level",
			Themes:     []string{"support test"},
			Sentiment:  "bullish",
			Levels:     []harvest.Level{{Symbol: "SPX", Direction: "bullish_reversal"}},
		},
	}}
	sink := &fakeSink{}

	startWorker(t, jobs.Options{PollInterval: 10 * time.Millisecond}, q, h, sink)

	if id := waitDone(t, q.done); id != job.ID {
		t.Fatalf("finished job = %s", id)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.completed) != 1 || q.completed[0] != job.ID {
		t.Fatalf("completed = %v, failed = %v", q.completed, q.failed)
	}
	if q.analyses[item.ID] != "SPX held the level" {
		t.Errorf("stored analysis = %q", q.analyses[item.ID])
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.calls) != 1 || sink.calls[0] != item.ID {
		t.Errorf("sink calls = %v", sink.calls)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.metas) != 1 || h.metas[0].ExternalID != "abc123" || h.metas[0].Kind != source.KindVideo {
		t.Errorf("meta = %+v", h.metas)
	}
}

func TestWorkerFailsJobOnHarvestError(t *testing.T) {
	q := newFakeQueue()
	item := videoItem(1, "abc123")
	job := q.addJob("job-1", item)

	h := &fakeHarvester{errs: map[string]error{
		item.URL: errors.New("transcribe: transcriber status 500: busy"),
	}}

	startWorker(t, jobs.Options{PollInterval: 10 * time.Millisecond}, q, h, nil)
	waitDone(t, q.done)

	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.completed) != 0 {
		t.Fatalf("completed = %v", q.completed)
	}
	if msg := q.failed[job.ID]; !strings.Contains(msg, "status 500") {
		t.Errorf("failure message = %q", msg)
	}
}

func TestWorkerRejectsEmptyTranscript(t *testing.T) {
	q := newFakeQueue()
	item := videoItem(1, "abc123")
	job := q.addJob("job-1", item)

	h := &fakeHarvester{results: map[string]*harvest.Result{
		item.URL: {Transcript: "   "},
	}}

	startWorker(t, jobs.Options{PollInterval: 10 * time.Millisecond}, q, h, nil)
	waitDone(t, q.done)

	q.mu.Lock()
	defer q.mu.Unlock()
	if msg := q.failed[job.ID]; !strings.Contains(msg, "empty transcript") {
		t.Errorf("failure message = %q", msg)
	}
}

func TestWorkerFailsJobWhenSinkFails(t *testing.T) {
	q := newFakeQueue()
	item := videoItem(1, "abc123")
	job := q.addJob("job-1", item)

	h := &fakeHarvester{results: map[string]*harvest.Result{
		item.URL: {
			Transcript: "text",
			Levels:     []harvest.Level{{Symbol: "SPX", Direction: "bullish_reversal"}},
		},
	}}
	sink := &fakeSink{err: errors.New("unknown wave direction")}

	startWorker(t, jobs.Options{PollInterval: 10 * time.Millisecond}, q, h, sink)
	waitDone(t, q.done)

	q.mu.Lock()
	defer q.mu.Unlock()
	if msg := q.failed[job.ID]; !strings.Contains(msg, "apply levels") {
		t.Errorf("failure message = %q", msg)
	}
}

func TestWorkerFailsJobOnMissingItem(t *testing.T) {
	q := newFakeQueue()
	q.mu.Lock()
	q.pending = append(q.pending, &jobs.Job{ID: "job-1", ContentID: 42, Status: jobs.StatusPending})
	q.mu.Unlock()

	startWorker(t, jobs.Options{PollInterval: 10 * time.Millisecond}, q, &fakeHarvester{}, nil)
	waitDone(t, q.done)

	q.mu.Lock()
	defer q.mu.Unlock()
	if msg := q.failed["job-1"]; !strings.Contains(msg, "load content item") {
		t.Errorf("failure message = %q", msg)
	}
}

func TestWorkerHonorsConcurrencyLimit(t *testing.T) {
	q := newFakeQueue()
	itemA := videoItem(1, "aaa")
	itemB := videoItem(2, "bbb")
	q.addJob("job-a", itemA)
	q.addJob("job-b", itemB)

	h := &fakeHarvester{
		results: map[string]*harvest.Result{
			itemA.URL: {Transcript: "a"},
			itemB.URL: {Transcript: "b"},
		},
		started: make(chan string, 2),
		release: make(chan struct{}),
	}

	startWorker(t, jobs.Options{PollInterval: 10 * time.Millisecond, MaxConcurrent: 1}, q, h, nil)

	first := waitDone(t, h.started)
	select {
	case second := <-h.started:
		t.Fatalf("second job %s started while %s held the only slot", second, first)
	case <-time.After(100 * time.Millisecond):
	}

	close(h.release)
	waitDone(t, h.started)
	waitDone(t, q.done)
	waitDone(t, q.done)

	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.completed) != 2 {
		t.Fatalf("completed = %v, failed = %v", q.completed, q.failed)
	}
}

func TestWorkerWatchdogReclaims(t *testing.T) {
	q := newFakeQueue()
	startWorker(t, jobs.Options{
		PollInterval:     time.Hour,
		WatchdogInterval: 10 * time.Millisecond,
	}, q, &fakeHarvester{}, nil)

	deadline := time.Now().Add(2 * time.Second)
	for q.reclaimCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("watchdog never ran")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWorkerStartStopIdempotent(t *testing.T) {
	q := newFakeQueue()
	w := jobs.NewWorker(jobs.Options{PollInterval: 10 * time.Millisecond}, q, &fakeHarvester{}, nil, testLog(), nil)

	w.Stop() // never started

	w.Start(context.Background())
	w.Start(context.Background())
	w.Stop()
	w.Stop()
}
