// Package jobs orchestrates the scrape job lifecycle: creation and quota
// enforcement, queueing, worker execution, CAPTCHA pause/resume, and
// cancellation.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marketlens/scraperd/internal/captcha"
	"github.com/marketlens/scraperd/internal/metrics"
	"github.com/marketlens/scraperd/internal/notify"
	"github.com/marketlens/scraperd/internal/scrape"
	"github.com/marketlens/scraperd/internal/sites"
	"github.com/marketlens/scraperd/internal/storage"
	"github.com/marketlens/scraperd/internal/store"
)

// Clock abstracts wall-clock time for tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator mints job and result identifiers.
type IDGenerator interface {
	NewRawID() (uuid.UUID, error)
}

// Config carries the deployment-level execution limits and defaults.
type Config struct {
	// QuotaPerUser caps a user's concurrently active (pending or running)
	// jobs.
	QuotaPerUser int
	// DefaultMaxItems is applied when a job does not set max items.
	DefaultMaxItems int
	// MaxItemsCap is the hard ceiling on per-job max items.
	MaxItemsCap int
	// DefaultTimeoutSeconds bounds one worker run when the job sets none.
	DefaultTimeoutSeconds int
	// DefaultRetries is the number of re-invocations after a failed run.
	DefaultRetries int
	// MaxRetries caps the per-job retry override.
	MaxRetries int
	// NotifyTopic is the topic terminal-job events are published to.
	NotifyTopic string
}

// Deps bundles the collaborators shared by the Service and the Runners.
type Deps struct {
	Jobs      store.JobRepository
	Results   store.ResultRepository
	Registry  *sites.Registry
	Queue     scrape.Queue
	Invoker   scrape.Invoker
	Sessions  captcha.Store
	Artifacts storage.ArtifactStore
	Publisher notify.Publisher
	Clock     Clock
	IDs       IDGenerator
	Logger    *zap.Logger
	Config    Config
}

// Service is the API-facing job orchestrator.
type Service struct {
	jobs      store.JobRepository
	results   store.ResultRepository
	registry  *sites.Registry
	queue     scrape.Queue
	invoker   scrape.Invoker
	sessions  captcha.Store
	artifacts storage.ArtifactStore
	clock     Clock
	ids       IDGenerator
	runs      *Tracker
	cfg       Config
	logger    *zap.Logger
}

// NewService creates a Service. The Tracker must be shared with the Runners
// so cancellation reaches in-flight worker processes.
func NewService(d Deps, runs *Tracker) *Service {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		jobs:      d.Jobs,
		results:   d.Results,
		registry:  d.Registry,
		queue:     d.Queue,
		invoker:   d.Invoker,
		sessions:  d.Sessions,
		artifacts: d.Artifacts,
		clock:     d.Clock,
		ids:       d.IDs,
		runs:      runs,
		cfg:       d.Config,
		logger:    logger,
	}
}

// CreateParams is a requested job before validation.
type CreateParams struct {
	Site           string
	Query          string
	Fields         []string
	MaxItems       int
	TimeoutSeconds int
	Retries        int
}

// CreateJob validates the request, persists the job under the active-job
// quota, and enqueues it for execution.
func (s *Service) CreateJob(ctx context.Context, userID string, p CreateParams) (store.Job, error) {
	site, err := s.registry.Lookup(p.Site)
	if err != nil {
		return store.Job{}, &ValidationError{Message: fmt.Sprintf("unknown site %q", p.Site)}
	}

	query := strings.TrimSpace(p.Query)
	if query == "" {
		return store.Job{}, &ValidationError{Message: "query is required"}
	}

	fields := p.Fields
	if len(fields) == 0 {
		fields, err = s.registry.DefaultFieldsFor(site.ID)
		if err != nil {
			return store.Job{}, fmt.Errorf("default fields for %s: %w", site.ID, err)
		}
	} else {
		valid, invalid, vErr := s.registry.ValidateFields(site.ID, fields)
		if vErr != nil {
			return store.Job{}, fmt.Errorf("validate fields for %s: %w", site.ID, vErr)
		}
		if len(invalid) > 0 {
			return store.Job{}, &ValidationError{
				Message:       fmt.Sprintf("fields not supported by %s", site.ID),
				InvalidFields: invalid,
			}
		}
		fields = valid
	}

	cfg, err := s.resolveConfig(p)
	if err != nil {
		return store.Job{}, err
	}

	id, err := s.ids.NewRawID()
	if err != nil {
		return store.Job{}, fmt.Errorf("generate job id: %w", err)
	}

	job := store.Job{
		ID:        id,
		UserID:    userID,
		Site:      site.ID,
		Query:     query,
		Fields:    fields,
		Status:    store.StatusPending,
		Config:    cfg,
		CreatedAt: s.clock.Now(),
	}
	if err := s.jobs.CreateJob(ctx, job, s.cfg.QuotaPerUser); err != nil {
		return store.Job{}, err
	}

	if err := s.queue.Enqueue(ctx, scrape.Task{JobID: id, UserID: userID}); err != nil {
		if delErr := s.jobs.DeleteJob(ctx, userID, id); delErr != nil {
			s.logger.Warn("orphaned job after enqueue failure",
				zap.String("job_id", id.String()), zap.Error(delErr))
		}
		return store.Job{}, fmt.Errorf("enqueue job: %w", err)
	}

	s.logger.Info("job created",
		zap.String("job_id", id.String()),
		zap.String("site", site.ID),
		zap.Int("fields", len(fields)))
	return job, nil
}

func (s *Service) resolveConfig(p CreateParams) (store.JobConfig, error) {
	if p.MaxItems < 0 || p.TimeoutSeconds < 0 || p.Retries < 0 {
		return store.JobConfig{}, &ValidationError{Message: "max_items, timeout_seconds and retries must not be negative"}
	}
	cfg := store.JobConfig{
		MaxItems:       p.MaxItems,
		TimeoutSeconds: p.TimeoutSeconds,
		Retries:        p.Retries,
	}
	if cfg.MaxItems == 0 {
		cfg.MaxItems = s.cfg.DefaultMaxItems
	}
	if s.cfg.MaxItemsCap > 0 && cfg.MaxItems > s.cfg.MaxItemsCap {
		cfg.MaxItems = s.cfg.MaxItemsCap
	}
	if cfg.TimeoutSeconds == 0 {
		cfg.TimeoutSeconds = s.cfg.DefaultTimeoutSeconds
	}
	if cfg.Retries == 0 {
		cfg.Retries = s.cfg.DefaultRetries
	}
	if s.cfg.MaxRetries > 0 && cfg.Retries > s.cfg.MaxRetries {
		cfg.Retries = s.cfg.MaxRetries
	}
	return cfg, nil
}

// GetJob loads one of the user's jobs.
func (s *Service) GetJob(ctx context.Context, userID string, id uuid.UUID) (store.Job, error) {
	return s.jobs.GetJob(ctx, userID, id)
}

// ListJobs returns a page of the user's jobs plus the total matching count.
func (s *Service) ListJobs(ctx context.Context, userID string, f store.JobFilter) ([]store.Job, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, &ValidationError{Message: fmt.Sprintf("unknown status %q", f.Status)}
	}
	f.Limit, f.Offset = clampPage(f.Limit, f.Offset)
	return s.jobs.ListJobs(ctx, userID, f)
}

// ListResults returns a page of a job's results, verifying the job belongs
// to the user first.
func (s *Service) ListResults(ctx context.Context, userID string, jobID uuid.UUID, limit, offset int) ([]store.Result, int, error) {
	if _, err := s.jobs.GetJob(ctx, userID, jobID); err != nil {
		return nil, 0, err
	}
	limit, offset = clampPage(limit, offset)
	return s.results.ListResults(ctx, jobID, limit, offset)
}

// CancelJob transitions an active job to cancelled and aborts its worker
// process if one is running. Terminal jobs return ErrInvalidState.
func (s *Service) CancelJob(ctx context.Context, userID string, id uuid.UUID) (store.Job, error) {
	job, err := s.jobs.GetJob(ctx, userID, id)
	if err != nil {
		return store.Job{}, err
	}
	if job.Status.Terminal() {
		return store.Job{}, ErrInvalidState
	}

	// The terminal row lands first so a racing runner cannot overwrite the
	// cancellation with its own completion.
	if err := s.jobs.CompleteJob(ctx, id, store.StatusCancelled, nil, s.clock.Now()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Job{}, ErrInvalidState
		}
		return store.Job{}, fmt.Errorf("cancel job: %w", err)
	}
	aborted := s.runs.Cancel(id)
	metrics.ObserveJob(job.Site, string(store.StatusCancelled))

	s.logger.Info("job cancelled",
		zap.String("job_id", id.String()),
		zap.Bool("worker_aborted", aborted))
	return s.jobs.GetJob(ctx, userID, id)
}

// DeleteJob removes the job, its results, and its archived artifact. An
// active job is cancelled first.
func (s *Service) DeleteJob(ctx context.Context, userID string, id uuid.UUID) error {
	job, err := s.jobs.GetJob(ctx, userID, id)
	if err != nil {
		return err
	}
	if !job.Status.Terminal() {
		if err := s.jobs.CompleteJob(ctx, id, store.StatusCancelled, nil, s.clock.Now()); err != nil &&
			!errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("cancel job before delete: %w", err)
		}
		s.runs.Cancel(id)
	}
	if job.ArtifactPath != "" {
		// Artifact deletion is best effort; the blob store may have its own
		// retention.
		if err := s.artifacts.Delete(ctx, job.ArtifactPath); err != nil {
			s.logger.Warn("artifact delete failed",
				zap.String("job_id", id.String()),
				zap.String("path", job.ArtifactPath),
				zap.Error(err))
		}
	}
	if err := s.jobs.DeleteJob(ctx, userID, id); err != nil {
		return err
	}
	s.logger.Info("job deleted", zap.String("job_id", id.String()))
	return nil
}

// ResumeWithCaptcha checks a CAPTCHA solution against the site's validation
// worker. On success the session is consumed, the challenge cleared, and the
// job re-enqueued; on a wrong solution the session stays available for
// another attempt.
func (s *Service) ResumeWithCaptcha(ctx context.Context, userID, sessionID, solution string) (scrape.Validation, store.Job, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return scrape.Validation{}, store.Job{}, err
	}
	// Foreign sessions look expired rather than forbidden.
	if sess.UserID != userID {
		return scrape.Validation{}, store.Job{}, captcha.ErrSessionNotFound
	}

	job, err := s.jobs.GetJob(ctx, userID, sess.JobID)
	if err != nil {
		return scrape.Validation{}, store.Job{}, err
	}
	if job.Challenge == nil || job.Status.Terminal() {
		return scrape.Validation{}, store.Job{}, ErrInvalidState
	}

	v, err := s.invoker.ValidateCaptcha(ctx, job.Site, solution, sessionID)
	if err != nil {
		return scrape.Validation{}, store.Job{}, fmt.Errorf("validate captcha: %w", err)
	}
	if !v.Valid {
		s.logger.Info("captcha solution rejected",
			zap.String("job_id", job.ID.String()),
			zap.String("session_id", sessionID))
		return v, job, nil
	}

	if _, err := s.sessions.Consume(ctx, sessionID); err != nil && !errors.Is(err, captcha.ErrSessionNotFound) {
		return scrape.Validation{}, store.Job{}, fmt.Errorf("consume captcha session: %w", err)
	}
	if err := s.jobs.SetChallenge(ctx, job.ID, nil); err != nil {
		return scrape.Validation{}, store.Job{}, fmt.Errorf("clear challenge: %w", err)
	}
	if err := s.queue.Enqueue(ctx, scrape.Task{JobID: job.ID, UserID: userID, Resumed: true}); err != nil {
		return scrape.Validation{}, store.Job{}, fmt.Errorf("re-enqueue job: %w", err)
	}

	s.logger.Info("job resumed after captcha",
		zap.String("job_id", job.ID.String()),
		zap.String("session_id", sessionID))
	job.Challenge = nil
	return v, job, nil
}

// DisplayStatus returns the API-facing status for a job, surfacing a pending
// CAPTCHA as captcha_required without touching the persisted state machine.
func DisplayStatus(j store.Job) string {
	if j.Challenge != nil && !j.Status.Terminal() {
		return "captcha_required"
	}
	return string(j.Status)
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
