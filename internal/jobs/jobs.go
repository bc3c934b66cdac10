// Package jobs runs the durable transcription queue. Every collected
// video gets exactly one queue row; a pool of workers claims rows,
// calls the harvest pipeline and writes the outcome back, so a crash
// mid-flight costs a retry instead of a transcript.
package jobs

import (
	"time"

	"github.com/sebastian-ames3/traderadar/pkg/source"
)

// Status is the lifecycle state of a transcription job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// AllStatuses returns every job status in lifecycle order.
func AllStatuses() []Status {
	return []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Job is one unit of transcription work, tied to a single content
// item for its whole life.
type Job struct {
	ID            string            `json:"id" db:"id"`
	ContentID     int64             `json:"content_id" db:"content_id"`
	Source        source.SourceType `json:"source" db:"source"`
	ContentURL    string            `json:"content_url" db:"content_url"`
	Status        Status            `json:"status" db:"status"`
	RetryCount    int               `json:"retry_count" db:"retry_count"`
	ErrorMessage  string            `json:"error_message,omitempty" db:"error_message"`
	ClaimedAt     *time.Time        `json:"claimed_at,omitempty" db:"claimed_at"`
	LastAttemptAt *time.Time        `json:"last_attempt_at,omitempty" db:"last_attempt_at"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt     time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at" db:"updated_at"`
}

// Terminal reports whether the job has reached an end state. Failed is
// terminal only once retries are exhausted; callers check RetryCount
// against their cap.
func (j *Job) Terminal(maxRetries int) bool {
	if j.Status == StatusCompleted {
		return true
	}
	return j.Status == StatusFailed && j.RetryCount >= maxRetries
}
