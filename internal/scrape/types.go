// Package scrape defines the shared types and interfaces between the job
// orchestration layer and the worker invocation bridge.
package scrape

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Request describes one worker invocation.
type Request struct {
	// JobID is passed to the worker as --job-id.
	JobID string
	// Site selects the worker script.
	Site string
	// Query is the search keyword.
	Query string
	// Fields is the comma-joined --fields argument, already validated and
	// normalized against the site registry.
	Fields []string
	// MaxItems bounds how many items the worker may emit.
	MaxItems int
	// Timeout bounds wall-clock execution; zero means the bridge default.
	Timeout time.Duration
	// OnProgress, when set, receives incremental progress events as the
	// worker reports them.
	OnProgress func(scraped, total int)
}

// Item is one scraped item reported by a worker.
type Item struct {
	Payload map[string]any
	URL     string
	Index   int
}

// OutcomeKind classifies a worker run.
type OutcomeKind string

// Outcome kinds.
const (
	OutcomeSuccess         OutcomeKind = "success"
	OutcomeCaptchaRequired OutcomeKind = "captcha_required"
	OutcomeFailure         OutcomeKind = "failure"
)

// Challenge describes a CAPTCHA the worker ran into.
type Challenge struct {
	Type string
	URL  string
}

// Outcome is the bridge's classification of one worker run.
type Outcome struct {
	Kind OutcomeKind
	// Items is populated for OutcomeSuccess, in capture order.
	Items []Item
	// Challenge is populated for OutcomeCaptchaRequired.
	Challenge Challenge
	// Reason is the short failure reason for OutcomeFailure.
	Reason string
	// Trace carries diagnostic detail (stderr tail, exit status) for
	// OutcomeFailure.
	Trace string
	// Scraped/Total are the last progress counters the worker reported.
	Scraped int
	Total   int
	// RawOutput is the worker's captured standard output, kept so the
	// orchestrator can archive it as the job artifact.
	RawOutput []byte
}

// Validation is the result of a CAPTCHA solution check.
type Validation struct {
	Valid   bool
	Message string
}

// Invoker launches external scrape workers and classifies their outcome.
type Invoker interface {
	// Invoke runs the site's worker for the request. A non-nil error means
	// the invocation itself could not be attempted (unknown site, spawn
	// failure); worker-level failures come back as OutcomeFailure.
	Invoke(ctx context.Context, req Request) (Outcome, error)
	// ValidateCaptcha runs the site's validation worker against a solution.
	ValidateCaptcha(ctx context.Context, site, solution, sessionID string) (Validation, error)
}

// ChallengeDetector recognizes a CAPTCHA signal in worker diagnostics. The
// legacy workers announce challenges through stderr tokens rather than a
// structured event, so detection lives behind this interface.
type ChallengeDetector interface {
	Detect(diagnostic []byte) (Challenge, bool)
}

// Task is one queued execution request for the runner pool.
type Task struct {
	JobID  uuid.UUID
	UserID string
	// Resumed marks tasks re-enqueued after a solved CAPTCHA.
	Resumed bool
}

// Queue hands tasks from the orchestrator to the runner pool.
type Queue interface {
	// Enqueue pushes a task or returns when the context ends.
	Enqueue(ctx context.Context, task Task) error
	// Dequeue pops the next task, respecting context cancellation.
	Dequeue(ctx context.Context) (Task, error)
}
