package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketlens/scraperd/internal/store"
)

func newMockJobStore(t *testing.T) (*JobStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewJobStoreWithPool(mock, nil), mock
}

func pendingJob(userID string) store.Job {
	return store.Job{
		ID:        uuid.New(),
		UserID:    userID,
		Site:      "amazon",
		Query:     "laptop",
		Fields:    []string{"title", "exact_price"},
		Status:    store.StatusPending,
		Config:    store.JobConfig{MaxItems: 10, TimeoutSeconds: 300},
		CreatedAt: time.Now().UTC(),
	}
}

func TestCreateJobInsertsUnderAdvisoryLock(t *testing.T) {
	t.Parallel()

	s, mock := newMockJobStore(t)
	job := pendingJob("user-1")

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs(job.UserID).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM scrape_jobs").
		WithArgs(job.UserID).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectExec("INSERT INTO scrape_jobs").
		WithArgs(job.ID, job.UserID, job.Site, job.Query, job.Fields, job.Status,
			job.TotalItems, job.ScrapedItems, pgxmock.AnyArg(), job.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, s.CreateJob(context.Background(), job, 3))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateJobRejectsWhenQuotaFull(t *testing.T) {
	t.Parallel()

	s, mock := newMockJobStore(t)
	job := pendingJob("user-1")

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs(job.UserID).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM scrape_jobs").
		WithArgs(job.UserID).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectRollback()

	err := s.CreateJob(context.Background(), job, 3)
	require.ErrorIs(t, err, store.ErrQuotaExceeded)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()

	s, mock := newMockJobStore(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM scrape_jobs WHERE id").
		WithArgs(id, "user-1").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetJob(context.Background(), "user-1", id)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobScansChallengeAndError(t *testing.T) {
	t.Parallel()

	s, mock := newMockJobStore(t)
	id := uuid.New()
	created := time.Now().UTC()
	chType, chURL, session := "image", "https://example.com/captcha", "amazon_1700000000000"
	msg := "worker crashed"

	rows := pgxmock.NewRows([]string{
		"id", "user_id", "site", "query", "fields", "status", "total_items",
		"scraped_items", "config", "error_message", "error_trace", "challenge_type",
		"challenge_url", "captcha_session_id", "artifact_path", "created_at",
		"started_at", "completed_at",
	}).AddRow(
		id, "user-1", "amazon", "laptop", []string{"title"}, store.StatusRunning,
		20, 5, []byte(`{"max_items":20}`), &msg, (*string)(nil), &chType,
		&chURL, &session, (*string)(nil), created, (*time.Time)(nil), (*time.Time)(nil),
	)
	mock.ExpectQuery("SELECT (.+) FROM scrape_jobs WHERE id").
		WithArgs(id, "user-1").
		WillReturnRows(rows)

	job, err := s.GetJob(context.Background(), "user-1", id)
	require.NoError(t, err)
	assert.Equal(t, 20, job.Config.MaxItems)
	require.NotNil(t, job.Challenge)
	assert.Equal(t, session, job.Challenge.SessionID)
	require.NotNil(t, job.Error)
	assert.Equal(t, msg, job.Error.Message)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRunningRequiresPending(t *testing.T) {
	t.Parallel()

	s, mock := newMockJobStore(t)
	id := uuid.New()
	at := time.Now().UTC()

	mock.ExpectExec("UPDATE scrape_jobs SET status = 'running'").
		WithArgs(id, at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.MarkRunning(context.Background(), id, at)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteJobSkipsTerminalRows(t *testing.T) {
	t.Parallel()

	s, mock := newMockJobStore(t)
	id := uuid.New()
	at := time.Now().UTC()

	mock.ExpectExec("UPDATE scrape_jobs").
		WithArgs(id, store.StatusCompleted, (*string)(nil), (*string)(nil), at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.CompleteJob(context.Background(), id, store.StatusCompleted, nil, at)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteJobCascades(t *testing.T) {
	t.Parallel()

	s, mock := newMockJobStore(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(id, "user-1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec("DELETE FROM scrape_results").
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("DELETE", 4))
	mock.ExpectExec("DELETE FROM scrape_jobs").
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	require.NoError(t, s.DeleteJob(context.Background(), "user-1", id))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteJobForeignUser(t *testing.T) {
	t.Parallel()

	s, mock := newMockJobStore(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(id, "user-2").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	err := s.DeleteJob(context.Background(), "user-2", id)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListJobsReturnsPageAndTotal(t *testing.T) {
	t.Parallel()

	s, mock := newMockJobStore(t)
	created := time.Now().UTC()
	id := uuid.New()

	mock.ExpectQuery("SELECT count\\(\\*\\)").
		WithArgs("user-1", "running", "").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectQuery("SELECT (.+) FROM scrape_jobs").
		WithArgs("user-1", "running", "", 2, 0).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "user_id", "site", "query", "fields", "status", "total_items",
			"scraped_items", "config", "error_message", "error_trace", "challenge_type",
			"challenge_url", "captcha_session_id", "artifact_path", "created_at",
			"started_at", "completed_at",
		}).AddRow(
			id, "user-1", "ebay", "phone", []string{"title"}, store.StatusRunning,
			0, 0, []byte(`{}`), (*string)(nil), (*string)(nil), (*string)(nil),
			(*string)(nil), (*string)(nil), (*string)(nil), created, (*time.Time)(nil), (*time.Time)(nil),
		))

	jobs, total, err := s.ListJobs(context.Background(), "user-1", store.JobFilter{
		Status: store.StatusRunning,
		Limit:  2,
	})
	require.NoError(t, err)
	assert.Equal(t, 7, total)
	require.Len(t, jobs, 1)
	assert.Equal(t, id, jobs[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
