// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/marketlens/scraperd/internal/store"
)

// DB is the subset of pgxpool.Pool the stores use, narrow enough for pgxmock.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

const jobColumns = `id, user_id, site, query, fields, status, total_items, scraped_items,
	config, error_message, error_trace, challenge_type, challenge_url,
	captcha_session_id, artifact_path, created_at, started_at, completed_at`

// JobStore implements store.JobRepository against the scrape_jobs table.
// See schema.sql for the expected schema.
type JobStore struct {
	db     DB
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewJobStore connects a pool and pings it.
func NewJobStore(ctx context.Context, dsn string, logger *zap.Logger) (*JobStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := NewJobStoreWithPool(pool, logger)
	s.pool = pool
	return s, nil
}

// NewJobStoreWithPool wraps an existing pool or mock.
func NewJobStoreWithPool(db DB, logger *zap.Logger) *JobStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobStore{db: db, logger: logger}
}

// Close closes the underlying pool when this store owns one.
func (s *JobStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping verifies database connectivity. Backs the readiness probe.
func (s *JobStore) Ping(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// CreateJob inserts the job in pending state. The per-user active count and
// the insert happen inside one transaction holding a per-user advisory lock,
// so two concurrent creations cannot both pass the quota check.
func (s *JobStore) CreateJob(ctx context.Context, job store.Job, quota int) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin quota transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Warn("rollback failed", zap.Error(rbErr))
		}
	}()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, job.UserID); err != nil {
		return fmt.Errorf("acquire user lock: %w", err)
	}

	var active int
	err = tx.QueryRow(ctx,
		`SELECT count(*) FROM scrape_jobs WHERE user_id = $1 AND status IN ('pending', 'running')`,
		job.UserID,
	).Scan(&active)
	if err != nil {
		return fmt.Errorf("count active jobs: %w", err)
	}
	if active >= quota {
		return store.ErrQuotaExceeded
	}

	cfg, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("marshal job config: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO scrape_jobs (id, user_id, site, query, fields, status, total_items, scraped_items, config, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.UserID, job.Site, job.Query, job.Fields, job.Status,
		job.TotalItems, job.ScrapedItems, cfg, job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit job insert: %w", err)
	}
	return nil
}

// GetJob loads one job scoped to the owning user.
func (s *JobStore) GetJob(ctx context.Context, userID string, id uuid.UUID) (store.Job, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM scrape_jobs WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Job{}, store.ErrNotFound
		}
		return store.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs returns a page of the user's jobs, newest first, plus the total
// count matching the filter.
func (s *JobStore) ListJobs(ctx context.Context, userID string, f store.JobFilter) ([]store.Job, int, error) {
	const where = ` FROM scrape_jobs
		WHERE user_id = $1
		  AND ($2::text = '' OR status = $2)
		  AND ($3::text = '' OR site = $3)`

	var total int
	err := s.db.QueryRow(ctx, `SELECT count(*)`+where, userID, string(f.Status), f.Site).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	rows, err := s.db.Query(ctx,
		`SELECT `+jobColumns+where+` ORDER BY created_at DESC LIMIT $4 OFFSET $5`,
		userID, string(f.Status), f.Site, f.Limit, f.Offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []store.Job
	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, 0, fmt.Errorf("scan job row: %w", scanErr)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate job rows: %w", err)
	}
	return jobs, total, nil
}

// MarkRunning transitions pending -> running. The status guard keeps the
// transition monotonic even if a cancel races in.
func (s *JobStore) MarkRunning(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE scrape_jobs SET status = 'running', started_at = $2 WHERE id = $1 AND status = 'pending'`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("mark job running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// UpdateCounters stores the latest progress counters.
func (s *JobStore) UpdateCounters(ctx context.Context, id uuid.UUID, scraped, total int) error {
	_, err := s.db.Exec(ctx,
		`UPDATE scrape_jobs SET scraped_items = $2, total_items = $3 WHERE id = $1`,
		id, scraped, total,
	)
	if err != nil {
		return fmt.Errorf("update job counters: %w", err)
	}
	return nil
}

// SetChallenge records or clears the pending challenge columns.
func (s *JobStore) SetChallenge(ctx context.Context, id uuid.UUID, ch *store.Challenge) error {
	var chType, chURL, sessionID *string
	if ch != nil {
		chType, chURL, sessionID = &ch.Type, &ch.URL, &ch.SessionID
	}
	_, err := s.db.Exec(ctx,
		`UPDATE scrape_jobs SET challenge_type = $2, challenge_url = $3, captcha_session_id = $4 WHERE id = $1`,
		id, chType, chURL, sessionID,
	)
	if err != nil {
		return fmt.Errorf("set job challenge: %w", err)
	}
	return nil
}

// SetArtifactPath records where the raw worker output was archived.
func (s *JobStore) SetArtifactPath(ctx context.Context, id uuid.UUID, path string) error {
	_, err := s.db.Exec(ctx, `UPDATE scrape_jobs SET artifact_path = $2 WHERE id = $1`, id, path)
	if err != nil {
		return fmt.Errorf("set artifact path: %w", err)
	}
	return nil
}

// CompleteJob transitions the job to a terminal status. Terminal rows are
// excluded by the guard, so a second completion is a no-op reported as
// ErrNotFound.
func (s *JobStore) CompleteJob(
	ctx context.Context,
	id uuid.UUID,
	status store.JobStatus,
	jobErr *store.JobError,
	at time.Time,
) error {
	var msg, trace *string
	if jobErr != nil {
		msg, trace = &jobErr.Message, &jobErr.Trace
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE scrape_jobs
		SET status = $2, error_message = $3, error_trace = $4, completed_at = $5,
		    challenge_type = NULL, challenge_url = NULL, captcha_session_id = NULL
		WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')`,
		id, status, msg, trace, at,
	)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteJob removes the job and cascades to its results in one transaction.
func (s *JobStore) DeleteJob(ctx context.Context, userID string, id uuid.UUID) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Warn("rollback failed", zap.Error(rbErr))
		}
	}()

	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM scrape_jobs WHERE id = $1 AND user_id = $2)`,
		id, userID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check job ownership: %w", err)
	}
	if !exists {
		return store.ErrNotFound
	}

	if _, err := tx.Exec(ctx, `DELETE FROM scrape_results WHERE job_id = $1`, id); err != nil {
		return fmt.Errorf("delete job results: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM scrape_jobs WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit job delete: %w", err)
	}
	return nil
}

func scanJob(row pgx.Row) (store.Job, error) {
	var (
		job        store.Job
		cfg        []byte
		errMsg     *string
		errTrace   *string
		chType     *string
		chURL      *string
		sessionID  *string
		artifact   *string
		startedAt  *time.Time
		completeAt *time.Time
	)
	err := row.Scan(
		&job.ID, &job.UserID, &job.Site, &job.Query, &job.Fields, &job.Status,
		&job.TotalItems, &job.ScrapedItems, &cfg, &errMsg, &errTrace,
		&chType, &chURL, &sessionID, &artifact, &job.CreatedAt, &startedAt, &completeAt,
	)
	if err != nil {
		return store.Job{}, err
	}
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &job.Config); err != nil {
			return store.Job{}, fmt.Errorf("unmarshal job config: %w", err)
		}
	}
	if errMsg != nil {
		job.Error = &store.JobError{Message: *errMsg}
		if errTrace != nil {
			job.Error.Trace = *errTrace
		}
	}
	if chType != nil && chURL != nil && sessionID != nil {
		job.Challenge = &store.Challenge{Type: *chType, URL: *chURL, SessionID: *sessionID}
	}
	if artifact != nil {
		job.ArtifactPath = *artifact
	}
	job.StartedAt = startedAt
	job.CompletedAt = completeAt
	return job, nil
}
