// Package dispatcher manages runner fan-out over the task queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/marketlens/scraperd/internal/scrape"
)

// Runner is one queue-consuming execution loop.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher fans out queued tasks to a bounded pool of runners. The pool
// size is the hard cap on concurrently executing worker processes.
type Dispatcher struct {
	queue   scrape.Queue
	runners []Runner
}

// New creates a Dispatcher.
func New(queue scrape.Queue, runners []Runner) *Dispatcher {
	return &Dispatcher{queue: queue, runners: runners}
}

// Run starts all runners and blocks until the context finishes and every
// runner has drained.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, r := range d.runners {
		wg.Add(1)
		go func(runner Runner) {
			defer wg.Done()
			runner.Run(ctx)
		}(r)
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, task scrape.Task) error {
	if err := d.queue.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
