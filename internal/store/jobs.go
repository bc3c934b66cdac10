package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sebastian-ames3/traderadar/internal/alerting"
	"github.com/sebastian-ames3/traderadar/internal/jobs"
	"github.com/sebastian-ames3/traderadar/pkg/source"
)

// EnqueueJob creates the transcription job for a content item, or
// returns the one it already has. A content item never gets a second
// row; the UNIQUE constraint on content_id backs this up.
func (s *SQLiteStore) EnqueueJob(ctx context.Context, contentID int64, src source.SourceType, contentURL string) (*jobs.Job, bool, error) {
	var existing jobs.Job
	err := s.db.GetContext(ctx, &existing,
		"SELECT * FROM transcription_jobs WHERE content_id = ?", contentID)
	if err == nil {
		return &existing, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("lookup job for content %d: %w", contentID, err)
	}

	now := time.Now().UTC()
	job := &jobs.Job{
		ID:         uuid.New().String(),
		ContentID:  contentID,
		Source:     src,
		ContentURL: contentURL,
		Status:     jobs.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transcription_jobs (id, content_id, source, content_url, status, retry_count, error_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, '', ?, ?)
	`, job.ID, job.ContentID, job.Source, job.ContentURL, job.Status, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("enqueue job for content %d: %w", contentID, err)
	}
	return job, true, nil
}

// GetJob loads one job by ID.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*jobs.Job, error) {
	var job jobs.Job
	err := s.db.GetContext(ctx, &job, "SELECT * FROM transcription_jobs WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return &job, nil
}

// ListJobs returns jobs, newest first, optionally filtered by status.
func (s *SQLiteStore) ListJobs(ctx context.Context, status jobs.Status, limit int) ([]jobs.Job, error) {
	query := "SELECT * FROM transcription_jobs"
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC"
	if limit <= 0 {
		limit = 50
	}
	query += " LIMIT ?"
	args = append(args, limit)

	var out []jobs.Job
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return out, nil
}

// ClaimNextJob atomically picks the oldest eligible job and flips it
// to processing. Eligible means pending, or failed with retries left
// whose last attempt is older than the backoff. Returns nil when
// nothing is claimable.
func (s *SQLiteStore) ClaimNextJob(ctx context.Context, maxRetries int, backoff time.Duration) (*jobs.Job, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	retryCutoff := now.Add(-backoff)

	var job jobs.Job
	err = tx.GetContext(ctx, &job, `
		SELECT * FROM transcription_jobs
		WHERE (status = ? AND retry_count < ?)
		   OR (status = ? AND retry_count < ? AND (last_attempt_at IS NULL OR last_attempt_at <= ?))
		ORDER BY created_at ASC
		LIMIT 1
	`, jobs.StatusPending, maxRetries, jobs.StatusFailed, maxRetries, retryCutoff)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select claimable job: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE transcription_jobs SET status = ?, claimed_at = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)
	`, jobs.StatusProcessing, now, now, job.ID, jobs.StatusPending, jobs.StatusFailed)
	if err != nil {
		return nil, fmt.Errorf("claim job %s: %w", job.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Lost the race; the next poll will see whatever is left.
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim %s: %w", job.ID, err)
	}

	job.Status = jobs.StatusProcessing
	job.ClaimedAt = &now
	job.UpdatedAt = now
	return &job, nil
}

// MarkJobCompleted finishes a job successfully.
func (s *SQLiteStore) MarkJobCompleted(ctx context.Context, id string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE transcription_jobs
		SET status = ?, completed_at = ?, last_attempt_at = ?, error_message = '', updated_at = ?
		WHERE id = ?
	`, jobs.StatusCompleted, now, now, now, id)
	if err != nil {
		return fmt.Errorf("mark job %s completed: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mark completed: job %s: %w", id, ErrNotFound)
	}
	return nil
}

// MarkJobFailed records a failed attempt. Whether the job runs again
// is decided at claim time from retry_count and the backoff.
func (s *SQLiteStore) MarkJobFailed(ctx context.Context, id, errMsg string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE transcription_jobs
		SET status = ?, retry_count = retry_count + 1, error_message = ?, last_attempt_at = ?, claimed_at = NULL, updated_at = ?
		WHERE id = ?
	`, jobs.StatusFailed, errMsg, now, now, id)
	if err != nil {
		return fmt.Errorf("mark job %s failed: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mark failed: job %s: %w", id, ErrNotFound)
	}
	return nil
}

// ReclaimStuckJobs returns processing jobs whose claim is older than
// threshold to the queue. The reclaim burns a retry; a job that hits
// the cap this way parks as failed instead of circling forever.
func (s *SQLiteStore) ReclaimStuckJobs(ctx context.Context, threshold time.Duration, maxRetries int) (int64, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-threshold)
	msg := fmt.Sprintf("reclaimed: processing exceeded %s", threshold)

	res, err := s.db.ExecContext(ctx, `
		UPDATE transcription_jobs
		SET status = CASE WHEN retry_count + 1 >= ? THEN ? ELSE ? END,
		    retry_count = retry_count + 1,
		    error_message = ?,
		    claimed_at = NULL,
		    last_attempt_at = ?,
		    updated_at = ?
		WHERE status = ? AND claimed_at IS NOT NULL AND claimed_at <= ?
	`, maxRetries, jobs.StatusFailed, jobs.StatusPending, msg, now, now, jobs.StatusProcessing, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reclaim stuck jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// RetryJobs puts failed jobs back in line with a clean slate. With no
// IDs it retries every failed job; with IDs, only those that are
// actually failed. Returns how many rows moved.
func (s *SQLiteStore) RetryJobs(ctx context.Context, ids ...string) (int64, error) {
	now := time.Now().UTC()
	var (
		query string
		args  []any
		err   error
	)
	if len(ids) == 0 {
		query = "UPDATE transcription_jobs SET status = ?, retry_count = 0, error_message = '', updated_at = ? WHERE status = ?"
		args = []any{jobs.StatusPending, now, jobs.StatusFailed}
	} else {
		query, args, err = sqlx.In(
			"UPDATE transcription_jobs SET status = ?, retry_count = 0, error_message = '', updated_at = ? WHERE status = ? AND id IN (?)",
			jobs.StatusPending, now, jobs.StatusFailed, ids)
		if err != nil {
			return 0, fmt.Errorf("build retry query: %w", err)
		}
		query = s.db.Rebind(query)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// JobStats counts jobs per status.
func (s *SQLiteStore) JobStats(ctx context.Context) (map[jobs.Status]int, error) {
	rows, err := s.db.QueryxContext(ctx, "SELECT status, COUNT(*) AS cnt FROM transcription_jobs GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[jobs.Status]int)
	for rows.Next() {
		var st string
		var cnt int
		if err := rows.Scan(&st, &cnt); err != nil {
			return nil, err
		}
		stats[jobs.Status(st)] = cnt
	}
	return stats, rows.Err()
}

// PendingJobBacklog summarizes pending jobs per source with the age of
// the oldest one. The aggregate loses the column's DATETIME decltype,
// so the timestamp comes back as text and is parsed here.
func (s *SQLiteStore) PendingJobBacklog(ctx context.Context) ([]alerting.Backlog, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT source, COUNT(*) AS pending, MIN(created_at) AS oldest
		FROM transcription_jobs
		WHERE status = ?
		GROUP BY source
	`, jobs.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("pending job backlog: %w", err)
	}
	defer rows.Close()

	var out []alerting.Backlog
	for rows.Next() {
		var (
			src     string
			pending int
			oldest  string
		)
		if err := rows.Scan(&src, &pending, &oldest); err != nil {
			return nil, err
		}
		b := alerting.Backlog{Source: source.SourceType(src), Pending: pending}
		if t, err := parseStoredTime(oldest); err == nil {
			b.OldestCreatedAt = t
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// sqliteTimeLayout matches the _time_format=sqlite DSN option.
const sqliteTimeLayout = "2006-01-02 15:04:05.999999999-07:00"

func parseStoredTime(s string) (time.Time, error) {
	return time.Parse(sqliteTimeLayout, s)
}

// CountJobsCompletedSince counts transcriptions finished for a source
// after the cutoff.
func (s *SQLiteStore) CountJobsCompletedSince(ctx context.Context, src source.SourceType, since time.Time) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM transcription_jobs
		WHERE source = ? AND status = ? AND completed_at >= ?
	`, src, jobs.StatusCompleted, since)
	if err != nil {
		return 0, fmt.Errorf("count completed jobs for %s: %w", src, err)
	}
	return n, nil
}
