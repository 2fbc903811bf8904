package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/marketlens/scraperd/internal/store"
)

// ResultStore implements store.ResultRepository against the scrape_results table.
type ResultStore struct {
	db     DB
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewResultStore connects a pool and pings it.
func NewResultStore(ctx context.Context, dsn string, logger *zap.Logger) (*ResultStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := NewResultStoreWithPool(pool, logger)
	s.pool = pool
	return s, nil
}

// NewResultStoreWithPool wraps an existing pool or mock.
func NewResultStoreWithPool(db DB, logger *zap.Logger) *ResultStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultStore{db: db, logger: logger}
}

// Close closes the underlying pool when this store owns one.
func (s *ResultStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InsertResults bulk-loads a job's results with COPY.
func (s *ResultStore) InsertResults(ctx context.Context, results []store.Result) error {
	if len(results) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(results))
	for _, r := range results {
		payload, err := json.Marshal(r.Payload)
		if err != nil {
			return fmt.Errorf("marshal result payload: %w", err)
		}
		rows = append(rows, []any{
			r.ID, r.JobID, r.UserID, r.Site, payload, r.SourceURL, r.ItemIndex, r.CreatedAt,
		})
	}
	copied, err := s.db.CopyFrom(ctx,
		pgx.Identifier{"scrape_results"},
		[]string{"id", "job_id", "user_id", "site", "payload", "source_url", "item_index", "created_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copy results: %w", err)
	}
	if copied != int64(len(results)) {
		return fmt.Errorf("copy results: wrote %d of %d rows", copied, len(results))
	}
	return nil
}

// ListResults returns a page of a job's results ordered by item index, plus
// the total count.
func (s *ResultStore) ListResults(ctx context.Context, jobID uuid.UUID, limit, offset int) ([]store.Result, int, error) {
	var total int
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM scrape_results WHERE job_id = $1`, jobID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count results: %w", err)
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, job_id, user_id, site, payload, source_url, item_index, created_at
		FROM scrape_results
		WHERE job_id = $1
		ORDER BY item_index ASC
		LIMIT $2 OFFSET $3`,
		jobID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var results []store.Result
	for rows.Next() {
		var (
			r       store.Result
			payload []byte
		)
		err := rows.Scan(&r.ID, &r.JobID, &r.UserID, &r.Site, &payload, &r.SourceURL, &r.ItemIndex, &r.CreatedAt)
		if err != nil {
			return nil, 0, fmt.Errorf("scan result row: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &r.Payload); err != nil {
				return nil, 0, fmt.Errorf("unmarshal result payload: %w", err)
			}
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate result rows: %w", err)
	}
	return results, total, nil
}

// DeleteResults removes every result belonging to the job.
func (s *ResultStore) DeleteResults(ctx context.Context, jobID uuid.UUID) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM scrape_results WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("delete results: %w", err)
	}
	return nil
}
