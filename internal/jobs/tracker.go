package jobs

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Tracker maps in-flight job runs to their cancellation handles so a cancel
// or delete through the API can abort the running worker process.
type Tracker struct {
	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{cancels: make(map[uuid.UUID]context.CancelFunc)}
}

// Track registers the cancellation handle for a starting run.
func (t *Tracker) Track(id uuid.UUID, cancel context.CancelFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancels[id] = cancel
}

// Release removes the handle once the run finishes.
func (t *Tracker) Release(id uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.cancels, id)
}

// Cancel aborts the run if one is in flight and reports whether it was.
func (t *Tracker) Cancel(id uuid.UUID) bool {
	t.mu.Lock()
	cancel, ok := t.cancels[id]
	t.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}
