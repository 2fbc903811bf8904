// Package store declares the persistence interfaces and records for scrape
// jobs and their results.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist or is not
// visible to the requesting user. Ownership misses are reported identically
// to genuine misses so callers cannot probe for foreign job IDs.
var ErrNotFound = errors.New("record not found")

// ErrQuotaExceeded signals that a user already has the maximum number of
// active jobs and the new job was not created.
var ErrQuotaExceeded = errors.New("active job quota exceeded")

// JobStatus is the persisted job lifecycle state.
type JobStatus string

// Job statuses. Transitions are monotonic:
// pending -> running -> {completed | failed | cancelled}.
const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether a job in this status can never transition again.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// JobConfig carries the optional per-job execution knobs. Zero values mean
// "use the deployment default".
type JobConfig struct {
	MaxItems       int `json:"maxItems,omitempty"`
	TimeoutSeconds int `json:"timeoutSeconds,omitempty"`
	Retries        int `json:"retries,omitempty"`
}

// JobError is the failure detail recorded when a job ends up failed.
type JobError struct {
	Message string `json:"message"`
	Trace   string `json:"trace,omitempty"`
}

// Challenge records a pending CAPTCHA challenge on a running job. While set,
// the API surfaces the job as captcha_required without changing the persisted
// status.
type Challenge struct {
	Type      string `json:"type"`
	URL       string `json:"url"`
	SessionID string `json:"sessionId"`
}

// Job is one user-initiated scrape request.
type Job struct {
	// ID is the opaque job identifier assigned at creation.
	ID uuid.UUID
	// UserID is the owning user's identity as supplied by the auth gateway.
	UserID string
	// Site is the registry identifier of the target e-commerce site.
	Site string
	// Query is the search keyword handed to the worker.
	Query string
	// Fields is the validated, normalized field selection.
	Fields []string
	// Status follows the pending -> running -> terminal state machine.
	Status JobStatus
	// TotalItems is the worker's item estimate, 0 until known.
	TotalItems int
	// ScrapedItems counts items captured so far; never exceeds TotalItems
	// once TotalItems is known.
	ScrapedItems int
	// Config holds the per-job overrides for max items, timeout and retries.
	Config JobConfig
	// Error is set exactly when Status is failed.
	Error *JobError
	// Challenge is set while a CAPTCHA pause is outstanding.
	Challenge *Challenge
	// ArtifactPath is the blob path of the archived raw worker output, empty
	// until the job completes successfully.
	ArtifactPath string

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Result is one scraped item belonging to a job.
type Result struct {
	ID uuid.UUID
	// JobID is the owning job; results are deleted with it.
	JobID uuid.UUID
	// UserID denormalizes the owner for authorization-scoped queries.
	UserID string
	Site   string
	// Payload is the scraped item restricted to the job's selected fields.
	Payload map[string]any
	// SourceURL is the product page the item was captured from.
	SourceURL string
	// ItemIndex is the zero-based capture position, dense within a job.
	ItemIndex int
	CreatedAt time.Time
}

// JobFilter narrows and paginates job listings.
type JobFilter struct {
	// Status filters by exact status when non-empty.
	Status JobStatus
	// Site filters by site identifier when non-empty.
	Site   string
	Limit  int
	Offset int
}

// JobRepository persists jobs. All reads and deletes are scoped to the owning
// user; a row owned by someone else behaves as if it did not exist.
type JobRepository interface {
	// CreateJob inserts the job in pending state. The check against quota
	// (count of the user's pending+running jobs) and the insert are a single
	// atomic step; concurrent creations cannot both pass the check.
	CreateJob(ctx context.Context, job Job, quota int) error
	// GetJob loads one job or returns ErrNotFound.
	GetJob(ctx context.Context, userID string, id uuid.UUID) (Job, error)
	// ListJobs returns a page of the user's jobs, newest first, plus the
	// total count matching the filter.
	ListJobs(ctx context.Context, userID string, f JobFilter) ([]Job, int, error)
	// MarkRunning transitions pending -> running and records the start time.
	MarkRunning(ctx context.Context, id uuid.UUID, at time.Time) error
	// UpdateCounters stores the latest progress counters for a running job.
	UpdateCounters(ctx context.Context, id uuid.UUID, scraped, total int) error
	// SetChallenge records a pending CAPTCHA challenge on the job; a nil
	// challenge clears it.
	SetChallenge(ctx context.Context, id uuid.UUID, ch *Challenge) error
	// SetArtifactPath records where the raw worker output was archived.
	SetArtifactPath(ctx context.Context, id uuid.UUID, path string) error
	// CompleteJob transitions the job to a terminal status, recording the
	// completion time and, for failures, the error detail.
	CompleteJob(ctx context.Context, id uuid.UUID, status JobStatus, jobErr *JobError, at time.Time) error
	// DeleteJob removes the job and cascades to its results. Returns
	// ErrNotFound when the job does not exist for this user.
	DeleteJob(ctx context.Context, userID string, id uuid.UUID) error
}

// ResultRepository persists scraped items.
type ResultRepository interface {
	// InsertResults bulk-inserts the results of one job run.
	InsertResults(ctx context.Context, results []Result) error
	// ListResults returns a page of a job's results ordered by item index,
	// plus the total count.
	ListResults(ctx context.Context, jobID uuid.UUID, limit, offset int) ([]Result, int, error)
	// DeleteResults removes every result belonging to the job.
	DeleteResults(ctx context.Context, jobID uuid.UUID) error
}
