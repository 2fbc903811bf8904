package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/marketlens/scraperd/internal/scrape"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	want := scrape.Task{JobID: uuid.New(), UserID: "user-1"}

	result := make(chan scrape.Task, 1)
	errCh := make(chan error, 1)
	go func() {
		task, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- task
	}()

	if err := q.Enqueue(context.Background(), want); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		if got.JobID != want.JobID {
			t.Fatalf("expected %s, got %+v", want.JobID, got)
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return task")
	}
}

func TestQueueDequeueRespectsContext(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := q.Dequeue(ctx); err == nil {
		t.Fatal("expected error from canceled dequeue")
	}
}

func TestQueueCloseDrains(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	buffered := scrape.Task{JobID: uuid.New(), UserID: "user-1"}
	if err := q.Enqueue(context.Background(), buffered); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	q.Close()
	q.Close() // idempotent

	task, err := q.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("Dequeue() after close error = %v", err)
	}
	if task.JobID != buffered.JobID {
		t.Fatalf("expected buffered task %s, got %+v", buffered.JobID, task)
	}
	if _, err := q.Dequeue(context.Background()); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestQueueEnqueueAfterClose(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	q.Close()

	err := q.Enqueue(context.Background(), scrape.Task{JobID: uuid.New(), UserID: "user-1"})
	if err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
