package health_test

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sebastian-ames3/traderadar/internal/health"
	"github.com/sebastian-ames3/traderadar/internal/store"
	"github.com/sebastian-ames3/traderadar/pkg/source"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newTestDB(t *testing.T) *store.SQLiteStore {
	t.Helper()
	db, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func insertVideo(t *testing.T, db *store.SQLiteStore, id string) *source.Item {
	t.Helper()
	item := &source.Item{
		Source:      source.SourceKTYouTube,
		Kind:        source.KindVideo,
		Title:       id,
		ExternalID:  id,
		Metadata:    source.Metadata{Video: &source.VideoMetadata{VideoID: id}},
		PublishedAt: time.Now().UTC(),
	}
	if err := db.InsertItem(context.Background(), item); err != nil {
		t.Fatalf("insert %s: %v", id, err)
	}
	return item
}

func TestIsStale(t *testing.T) {
	now := time.Now().UTC()
	recent := now.Add(-time.Hour)
	old := now.Add(-72 * time.Hour)

	if health.IsStale(nil, now, 48*time.Hour) {
		t.Error("a source with no success baseline is never stale")
	}
	if health.IsStale(&recent, now, 48*time.Hour) {
		t.Error("recent success should not be stale")
	}
	if !health.IsStale(&old, now, 48*time.Hour) {
		t.Error("72h silence past a 48h threshold is stale")
	}
	exact := now.Add(-48 * time.Hour)
	if !health.IsStale(&exact, now, 48*time.Hour) {
		t.Error("exactly at the threshold counts as stale")
	}
}

func TestRecordCollectionResultSanitizes(t *testing.T) {
	db := newTestDB(t)
	tracker := health.NewTracker(db, 48*time.Hour, 7*24*time.Hour, testLog())
	ctx := context.Background()

	leaky := errors.New("youtube search: GET https://api.example.com/v3/search?key=AIzaSySECRET123 failed")
	if err := tracker.RecordCollectionResult(ctx, source.SourceKTYouTube, false, 0, leaky); err != nil {
		t.Fatalf("RecordCollectionResult: %v", err)
	}

	rows, err := db.ListSourceHealth(ctx)
	if err != nil {
		t.Fatalf("ListSourceHealth: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %+v", rows)
	}
	if strings.Contains(rows[0].LastError, "AIzaSySECRET123") {
		t.Fatalf("credential leaked into last_error: %q", rows[0].LastError)
	}
	if !strings.Contains(rows[0].LastError, "[redacted]") {
		t.Errorf("last_error = %q, want redaction marker", rows[0].LastError)
	}
}

func TestTrackerRecompute(t *testing.T) {
	db := newTestDB(t)
	tracker := health.NewTracker(db, 48*time.Hour, 7*24*time.Hour, testLog())
	ctx := context.Background()

	// Two collected videos, one transcribed, one failed attempt.
	itemA := insertVideo(t, db, "v1")
	insertVideo(t, db, "v2")
	job, _, err := db.EnqueueJob(ctx, itemA.ID, itemA.Source, itemA.URL)
	if err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if err := db.MarkJobCompleted(ctx, job.ID); err != nil {
		t.Fatalf("MarkJobCompleted: %v", err)
	}
	if err := tracker.RecordCollectionResult(ctx, source.SourceKTYouTube, true, 2, nil); err != nil {
		t.Fatalf("record success: %v", err)
	}
	if err := tracker.RecordCollectionResult(ctx, source.SourceKTYouTube, false, 0, errors.New("quota")); err != nil {
		t.Fatalf("record failure: %v", err)
	}

	if err := tracker.Recompute(ctx); err != nil {
		t.Fatalf("Recompute: %v", err)
	}

	rows, err := db.ListSourceHealth(ctx)
	if err != nil {
		t.Fatalf("ListSourceHealth: %v", err)
	}
	row := rows[0]
	if row.ItemsCollected24h != 2 {
		t.Errorf("collected = %d, want 2", row.ItemsCollected24h)
	}
	if row.ItemsTranscribed24h != 1 {
		t.Errorf("transcribed = %d, want 1", row.ItemsTranscribed24h)
	}
	if row.Errors24h != 1 {
		t.Errorf("errors = %d, want 1", row.Errors24h)
	}
	if row.IsStale {
		t.Error("source collected moments ago should not be stale")
	}
	if row.ConsecutiveFailures != 1 {
		t.Errorf("recompute must not touch the streak, got %d", row.ConsecutiveFailures)
	}
}

func TestTrackerRecomputeMarksStale(t *testing.T) {
	db := newTestDB(t)
	// A nanosecond threshold makes any past success stale.
	tracker := health.NewTracker(db, time.Nanosecond, 7*24*time.Hour, testLog())
	ctx := context.Background()

	if err := tracker.RecordCollectionResult(ctx, source.SourceKTBlog, true, 1, nil); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := tracker.Recompute(ctx); err != nil {
		t.Fatalf("Recompute: %v", err)
	}

	rows, err := db.ListSourceHealth(ctx)
	if err != nil {
		t.Fatalf("ListSourceHealth: %v", err)
	}
	if !rows[0].IsStale {
		t.Error("stale flag not set")
	}
}

func TestTrackerPurgeEvents(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	keep := health.NewTracker(db, 48*time.Hour, 7*24*time.Hour, testLog())
	if err := keep.RecordCollectionResult(ctx, source.SourceKTBlog, true, 1, nil); err != nil {
		t.Fatalf("record: %v", err)
	}

	n, err := keep.PurgeEvents(ctx)
	if err != nil {
		t.Fatalf("PurgeEvents: %v", err)
	}
	if n != 0 {
		t.Errorf("purged %d fresh events, want 0", n)
	}

	drop := health.NewTracker(db, 48*time.Hour, time.Nanosecond, testLog())
	n, err = drop.PurgeEvents(ctx)
	if err != nil {
		t.Fatalf("PurgeEvents with tiny retention: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d events, want 1", n)
	}
}

func TestTrackerDefaultsAndThreshold(t *testing.T) {
	tracker := health.NewTracker(nil, 0, 0, testLog())
	if got := tracker.StaleThreshold(); got != 48*time.Hour {
		t.Errorf("default stale threshold = %v", got)
	}
	tracker = health.NewTracker(nil, 6*time.Hour, 0, testLog())
	if got := tracker.StaleThreshold(); got != 6*time.Hour {
		t.Errorf("stale threshold = %v", got)
	}
}
