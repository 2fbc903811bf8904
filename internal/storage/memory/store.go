// Package memory provides in-memory job and result stores for development
// and testing.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marketlens/scraperd/internal/store"
)

// Store implements store.JobRepository and store.ResultRepository over maps.
// One mutex covers both so the quota check and insert are a single atomic
// step, matching the Postgres implementation's transactional guarantee.
type Store struct {
	mu      sync.RWMutex
	jobs    map[uuid.UUID]store.Job
	results map[uuid.UUID][]store.Result
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		jobs:    make(map[uuid.UUID]store.Job),
		results: make(map[uuid.UUID][]store.Result),
	}
}

// CreateJob inserts the job in pending state, enforcing the active-job quota
// under the store lock.
func (s *Store) CreateJob(_ context.Context, job store.Job, quota int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := 0
	for _, j := range s.jobs {
		if j.UserID == job.UserID && !j.Status.Terminal() {
			active++
		}
	}
	if active >= quota {
		return store.ErrQuotaExceeded
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// GetJob loads one job scoped to the owning user.
func (s *Store) GetJob(_ context.Context, userID string, id uuid.UUID) (store.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok || job.UserID != userID {
		return store.Job{}, store.ErrNotFound
	}
	return cloneJob(job), nil
}

// ListJobs returns a page of the user's jobs, newest first, plus the total.
func (s *Store) ListJobs(_ context.Context, userID string, f store.JobFilter) ([]store.Job, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []store.Job
	for _, j := range s.jobs {
		if j.UserID != userID {
			continue
		}
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		if f.Site != "" && j.Site != f.Site {
			continue
		}
		matched = append(matched, cloneJob(j))
	}
	sort.Slice(matched, func(i, k int) bool {
		return matched[i].CreatedAt.After(matched[k].CreatedAt)
	})
	total := len(matched)

	if f.Offset >= total {
		return nil, total, nil
	}
	end := total
	if f.Limit > 0 && f.Offset+f.Limit < end {
		end = f.Offset + f.Limit
	}
	return matched[f.Offset:end], total, nil
}

// MarkRunning transitions pending -> running.
func (s *Store) MarkRunning(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status != store.StatusPending {
		return store.ErrNotFound
	}
	job.Status = store.StatusRunning
	job.StartedAt = &at
	s.jobs[id] = job
	return nil
}

// UpdateCounters stores the latest progress counters.
func (s *Store) UpdateCounters(_ context.Context, id uuid.UUID, scraped, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	job.ScrapedItems = scraped
	job.TotalItems = total
	s.jobs[id] = job
	return nil
}

// SetChallenge records or clears the pending challenge.
func (s *Store) SetChallenge(_ context.Context, id uuid.UUID, ch *store.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	if ch == nil {
		job.Challenge = nil
	} else {
		c := *ch
		job.Challenge = &c
	}
	s.jobs[id] = job
	return nil
}

// SetArtifactPath records where the raw worker output lives.
func (s *Store) SetArtifactPath(_ context.Context, id uuid.UUID, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	job.ArtifactPath = path
	s.jobs[id] = job
	return nil
}

// CompleteJob transitions the job to a terminal status. Terminal jobs never
// transition again.
func (s *Store) CompleteJob(
	_ context.Context,
	id uuid.UUID,
	status store.JobStatus,
	jobErr *store.JobError,
	at time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status.Terminal() {
		return store.ErrNotFound
	}
	job.Status = status
	job.CompletedAt = &at
	if jobErr != nil {
		e := *jobErr
		job.Error = &e
	}
	job.Challenge = nil
	s.jobs[id] = job
	return nil
}

// DeleteJob removes the job and cascades to its results.
func (s *Store) DeleteJob(_ context.Context, userID string, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.UserID != userID {
		return store.ErrNotFound
	}
	delete(s.jobs, id)
	delete(s.results, id)
	return nil
}

// InsertResults bulk-appends a job's results.
func (s *Store) InsertResults(_ context.Context, results []store.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range results {
		s.results[r.JobID] = append(s.results[r.JobID], r)
	}
	return nil
}

// ListResults returns a page of a job's results ordered by item index.
func (s *Store) ListResults(_ context.Context, jobID uuid.UUID, limit, offset int) ([]store.Result, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]store.Result, len(s.results[jobID]))
	copy(all, s.results[jobID])
	sort.Slice(all, func(i, k int) bool { return all[i].ItemIndex < all[k].ItemIndex })

	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end], total, nil
}

// DeleteResults removes every result belonging to the job.
func (s *Store) DeleteResults(_ context.Context, jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.results, jobID)
	return nil
}

func cloneJob(j store.Job) store.Job {
	cp := j
	cp.Fields = append([]string(nil), j.Fields...)
	if j.Error != nil {
		e := *j.Error
		cp.Error = &e
	}
	if j.Challenge != nil {
		c := *j.Challenge
		cp.Challenge = &c
	}
	return cp
}
