// Package memory provides the in-process task queue feeding the runner pool.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/marketlens/scraperd/internal/scrape"
)

// ErrClosed is returned once the queue has been shut down.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory queue with context-aware operations. Shutdown
// is signalled through a separate done channel rather than closing the task
// channel, so a producer blocked in Enqueue can never hit a closed-channel
// send.
type Queue struct {
	ch   chan scrape.Task
	done chan struct{}
	once sync.Once
}

// NewQueue constructs a queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 64
	}
	return &Queue{
		ch:   make(chan scrape.Task, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue pushes a task, or returns ErrClosed after shutdown, or the context
// error when the caller gives up first.
func (q *Queue) Enqueue(ctx context.Context, task scrape.Task) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return ErrClosed
	case q.ch <- task:
		return nil
	}
}

// Dequeue pops the next task, respecting context cancellation. After Close,
// buffered tasks are still drained before ErrClosed is reported.
func (q *Queue) Dequeue(ctx context.Context) (scrape.Task, error) {
	select {
	case <-ctx.Done():
		return scrape.Task{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case task := <-q.ch:
		return task, nil
	case <-q.done:
		select {
		case task := <-q.ch:
			return task, nil
		default:
			return scrape.Task{}, ErrClosed
		}
	}
}

// Close shuts the queue down. Idempotent.
func (q *Queue) Close() {
	q.once.Do(func() {
		close(q.done)
	})
}
