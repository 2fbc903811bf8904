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

func newMockResultStore(t *testing.T) (*ResultStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewResultStoreWithPool(mock, nil), mock
}

func TestInsertResultsUsesCopy(t *testing.T) {
	t.Parallel()

	s, mock := newMockResultStore(t)
	jobID := uuid.New()
	results := []store.Result{
		{ID: uuid.New(), JobID: jobID, UserID: "user-1", Site: "amazon",
			Payload: map[string]any{"title": "a"}, ItemIndex: 0, CreatedAt: time.Now().UTC()},
		{ID: uuid.New(), JobID: jobID, UserID: "user-1", Site: "amazon",
			Payload: map[string]any{"title": "b"}, ItemIndex: 1, CreatedAt: time.Now().UTC()},
	}

	mock.ExpectCopyFrom(pgx.Identifier{"scrape_results"},
		[]string{"id", "job_id", "user_id", "site", "payload", "source_url", "item_index", "created_at"}).
		WillReturnResult(2)

	require.NoError(t, s.InsertResults(context.Background(), results))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertResultsEmptySliceIsNoop(t *testing.T) {
	t.Parallel()

	s, mock := newMockResultStore(t)
	require.NoError(t, s.InsertResults(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListResultsOrderedPage(t *testing.T) {
	t.Parallel()

	s, mock := newMockResultStore(t)
	jobID := uuid.New()
	created := time.Now().UTC()

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM scrape_results").
		WithArgs(jobID).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery("SELECT (.+) FROM scrape_results").
		WithArgs(jobID, 2, 0).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "job_id", "user_id", "site", "payload", "source_url", "item_index", "created_at",
		}).
			AddRow(uuid.New(), jobID, "user-1", "amazon", []byte(`{"title":"a"}`), "https://x/1", 0, created).
			AddRow(uuid.New(), jobID, "user-1", "amazon", []byte(`{"title":"b"}`), "https://x/2", 1, created))

	results, total, err := s.ListResults(context.Background(), jobID, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Payload["title"])
	assert.Equal(t, 1, results[1].ItemIndex)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteResults(t *testing.T) {
	t.Parallel()

	s, mock := newMockResultStore(t)
	jobID := uuid.New()

	mock.ExpectExec("DELETE FROM scrape_results").
		WithArgs(jobID).
		WillReturnResult(pgxmock.NewResult("DELETE", 5))

	require.NoError(t, s.DeleteResults(context.Background(), jobID))
	require.NoError(t, mock.ExpectationsWereMet())
}
