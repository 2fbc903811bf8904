package jobs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/marketlens/scraperd/internal/captcha"
	"github.com/marketlens/scraperd/internal/metrics"
	"github.com/marketlens/scraperd/internal/notify"
	"github.com/marketlens/scraperd/internal/scrape"
	"github.com/marketlens/scraperd/internal/storage"
	"github.com/marketlens/scraperd/internal/store"
)

// Runner consumes queued tasks and drives worker invocations to a terminal
// job state or a CAPTCHA pause. Several Runners share one queue; the pool
// size caps concurrent worker processes.
type Runner struct {
	jobs      store.JobRepository
	results   store.ResultRepository
	queue     scrape.Queue
	invoker   scrape.Invoker
	sessions  captcha.Store
	artifacts storage.ArtifactStore
	publisher notify.Publisher
	clock     Clock
	ids       IDGenerator
	runs      *Tracker
	cfg       Config
	logger    *zap.Logger
}

// NewRunner creates a Runner sharing the Service's Tracker.
func NewRunner(d Deps, runs *Tracker) *Runner {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		jobs:      d.Jobs,
		results:   d.Results,
		queue:     d.Queue,
		invoker:   d.Invoker,
		sessions:  d.Sessions,
		artifacts: d.Artifacts,
		publisher: d.Publisher,
		clock:     d.Clock,
		ids:       d.IDs,
		runs:      runs,
		cfg:       d.Config,
		logger:    logger,
	}
}

// Run consumes tasks until the context ends.
func (r *Runner) Run(ctx context.Context) {
	for {
		task, err := r.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		r.process(ctx, task)
	}
}

func (r *Runner) process(ctx context.Context, task scrape.Task) {
	log := r.logger.With(zap.String("job_id", task.JobID.String()))

	job, err := r.jobs.GetJob(ctx, task.UserID, task.JobID)
	if err != nil {
		log.Warn("queued job no longer exists", zap.Error(err))
		return
	}
	if job.Status.Terminal() {
		log.Debug("skipping terminal job", zap.String("status", string(job.Status)))
		return
	}
	// Resumed tasks are already running; fresh tasks race cancellation here.
	if !task.Resumed {
		if err := r.jobs.MarkRunning(ctx, job.ID, r.clock.Now()); err != nil {
			log.Debug("job no longer pending, skipping", zap.Error(err))
			return
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.runs.Track(job.ID, cancel)
	defer r.runs.Release(job.ID)

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	outcome := r.invoke(runCtx, job, log)

	if runCtx.Err() != nil && ctx.Err() == nil {
		// Aborted through the API; the cancelled row is already persisted.
		log.Info("worker run aborted")
		return
	}

	switch outcome.Kind {
	case scrape.OutcomeSuccess:
		r.finishSuccess(ctx, job, outcome, log)
	case scrape.OutcomeCaptchaRequired:
		r.pauseForChallenge(ctx, job, outcome, log)
	default:
		r.finishFailure(ctx, job, outcome, log)
	}
}

// invoke runs the worker, retrying plain failures up to the job's retry
// budget. CAPTCHA outcomes and aborts are never retried.
func (r *Runner) invoke(runCtx context.Context, job store.Job, log *zap.Logger) scrape.Outcome {
	req := scrape.Request{
		JobID:    job.ID.String(),
		Site:     job.Site,
		Query:    job.Query,
		Fields:   job.Fields,
		MaxItems: job.Config.MaxItems,
		Timeout:  time.Duration(job.Config.TimeoutSeconds) * time.Second,
		OnProgress: func(scraped, total int) {
			if err := r.jobs.UpdateCounters(runCtx, job.ID, scraped, total); err != nil {
				log.Warn("progress update failed", zap.Error(err))
			}
		},
	}

	var outcome scrape.Outcome
	for attempt := 0; ; attempt++ {
		started := r.clock.Now()
		var err error
		outcome, err = r.invoker.Invoke(runCtx, req)
		if err != nil {
			outcome = scrape.Outcome{
				Kind:   scrape.OutcomeFailure,
				Reason: "worker could not be started",
				Trace:  err.Error(),
			}
		}
		metrics.ObserveInvocation(job.Site, string(outcome.Kind), r.clock.Now().Sub(started))

		if outcome.Kind != scrape.OutcomeFailure || attempt >= job.Config.Retries || runCtx.Err() != nil {
			return outcome
		}
		log.Info("retrying failed worker run",
			zap.Int("attempt", attempt+1),
			zap.String("reason", outcome.Reason))
	}
}

func (r *Runner) finishSuccess(ctx context.Context, job store.Job, outcome scrape.Outcome, log *zap.Logger) {
	now := r.clock.Now()
	allowed := allowedFields(job.Fields)

	results := make([]store.Result, 0, len(outcome.Items))
	for i, item := range outcome.Items {
		id, err := r.ids.NewRawID()
		if err != nil {
			r.finishFailure(ctx, job, scrape.Outcome{
				Kind:   scrape.OutcomeFailure,
				Reason: "result id generation failed",
				Trace:  err.Error(),
			}, log)
			return
		}
		results = append(results, store.Result{
			ID:        id,
			JobID:     job.ID,
			UserID:    job.UserID,
			Site:      job.Site,
			Payload:   filterPayload(item.Payload, allowed),
			SourceURL: item.URL,
			ItemIndex: i,
			CreatedAt: now,
		})
	}
	if err := r.results.InsertResults(ctx, results); err != nil {
		r.finishFailure(ctx, job, scrape.Outcome{
			Kind:   scrape.OutcomeFailure,
			Reason: "results could not be persisted",
			Trace:  err.Error(),
		}, log)
		return
	}

	scraped := max(outcome.Scraped, len(results))
	total := max(outcome.Total, scraped)
	if err := r.jobs.UpdateCounters(ctx, job.ID, scraped, total); err != nil {
		log.Warn("final counter update failed", zap.Error(err))
	}

	artifactPath := r.archiveOutput(ctx, job, outcome.RawOutput, log)

	if err := r.jobs.CompleteJob(ctx, job.ID, store.StatusCompleted, nil, r.clock.Now()); err != nil {
		// A cancel won the race; the results stay, the status does not move.
		log.Info("completion skipped", zap.Error(err))
		return
	}
	metrics.ObserveJob(job.Site, string(store.StatusCompleted))
	metrics.ObserveItems(job.Site, len(results))
	r.publish(ctx, job, store.StatusCompleted, scraped, total, "", artifactPath)

	log.Info("job completed",
		zap.Int("items", len(results)),
		zap.String("artifact", artifactPath))
}

// archiveOutput stores the raw worker output as the job artifact. Failures
// are logged, not fatal: results are already persisted.
func (r *Runner) archiveOutput(ctx context.Context, job store.Job, raw []byte, log *zap.Logger) string {
	if len(raw) == 0 {
		return ""
	}
	path := fmt.Sprintf("jobs/%s/raw_output.jsonl", job.ID)
	uri, err := r.artifacts.Save(ctx, path, "application/x-ndjson", bytes.NewReader(raw))
	if err != nil {
		log.Warn("artifact archive failed", zap.Error(err))
		return ""
	}
	if uri == "" {
		// Archiving is disabled.
		return ""
	}
	if err := r.jobs.SetArtifactPath(ctx, job.ID, path); err != nil {
		log.Warn("artifact path update failed", zap.Error(err))
		return ""
	}
	return path
}

func (r *Runner) pauseForChallenge(ctx context.Context, job store.Job, outcome scrape.Outcome, log *zap.Logger) {
	now := r.clock.Now()
	sessionID := captcha.NewSessionID(job.Site, now)
	sess := captcha.Session{
		ID:            sessionID,
		JobID:         job.ID,
		UserID:        job.UserID,
		Site:          job.Site,
		ChallengeType: outcome.Challenge.Type,
		ChallengeURL:  outcome.Challenge.URL,
		CreatedAt:     now,
	}
	if err := r.sessions.Put(ctx, sess); err != nil {
		r.finishFailure(ctx, job, scrape.Outcome{
			Kind:   scrape.OutcomeFailure,
			Reason: "captcha session could not be stored",
			Trace:  err.Error(),
		}, log)
		return
	}
	if err := r.jobs.SetChallenge(ctx, job.ID, &store.Challenge{
		Type:      outcome.Challenge.Type,
		URL:       outcome.Challenge.URL,
		SessionID: sessionID,
	}); err != nil {
		log.Warn("challenge update failed", zap.Error(err))
		return
	}
	metrics.ObserveCaptchaChallenge(job.Site)
	log.Info("job paused for captcha",
		zap.String("session_id", sessionID),
		zap.String("challenge_type", outcome.Challenge.Type))
}

func (r *Runner) finishFailure(ctx context.Context, job store.Job, outcome scrape.Outcome, log *zap.Logger) {
	jobErr := &store.JobError{Message: outcome.Reason, Trace: outcome.Trace}
	if err := r.jobs.CompleteJob(ctx, job.ID, store.StatusFailed, jobErr, r.clock.Now()); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Error("failure could not be persisted", zap.Error(err))
		}
		return
	}
	metrics.ObserveJob(job.Site, string(store.StatusFailed))
	r.publish(ctx, job, store.StatusFailed, outcome.Scraped, outcome.Total, outcome.Reason, "")
	log.Warn("job failed", zap.String("reason", outcome.Reason))
}

func (r *Runner) publish(ctx context.Context, job store.Job, status store.JobStatus, scraped, total int, errMsg, artifactPath string) {
	if r.publisher == nil {
		return
	}
	at := r.clock.Now()
	event := notify.JobEvent{
		JobID:        job.ID,
		UserID:       job.UserID,
		Site:         job.Site,
		Status:       string(status),
		ScrapedItems: scraped,
		TotalItems:   total,
		Error:        errMsg,
		ArtifactPath: artifactPath,
		CompletedAt:  &at,
	}
	if _, err := r.publisher.Publish(ctx, r.cfg.NotifyTopic, event); err != nil {
		r.logger.Warn("job event publish failed",
			zap.String("job_id", job.ID.String()),
			zap.Error(err))
	}
}

func allowedFields(fields []string) map[string]struct{} {
	allowed := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		allowed[f] = struct{}{}
	}
	return allowed
}

// filterPayload restricts an item to the job's selected fields. Provenance
// travels on Result.SourceURL, never inside the payload.
func filterPayload(payload map[string]any, allowed map[string]struct{}) map[string]any {
	out := make(map[string]any, len(allowed))
	for k, v := range payload {
		if _, ok := allowed[k]; ok {
			out[k] = v
		}
	}
	return out
}
