package jobs

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marketlens/scraperd/internal/captcha"
	"github.com/marketlens/scraperd/internal/clock/system"
	"github.com/marketlens/scraperd/internal/id/uuid"
	"github.com/marketlens/scraperd/internal/metrics"
	notifymemory "github.com/marketlens/scraperd/internal/notify/memory"
	queuememory "github.com/marketlens/scraperd/internal/queue/memory"
	"github.com/marketlens/scraperd/internal/scrape"
	"github.com/marketlens/scraperd/internal/sites"
	storememory "github.com/marketlens/scraperd/internal/storage/memory"
)

// fakeInvoker replays scripted outcomes, one per Invoke call; the last one
// repeats.
type fakeInvoker struct {
	mu         sync.Mutex
	outcomes   []scrape.Outcome
	validation scrape.Validation
	calls      int
	lastReq    scrape.Request
}

func (f *fakeInvoker) Invoke(_ context.Context, req scrape.Request) (scrape.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastReq = req
	idx := f.calls
	if idx >= len(f.outcomes) {
		idx = len(f.outcomes) - 1
	}
	f.calls++
	return f.outcomes[idx], nil
}

func (f *fakeInvoker) ValidateCaptcha(_ context.Context, _, _, _ string) (scrape.Validation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.validation, nil
}

func (f *fakeInvoker) invokeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// memArtifacts records saves and deletes in memory.
type memArtifacts struct {
	mu      sync.Mutex
	saved   map[string][]byte
	deleted []string
}

func newMemArtifacts() *memArtifacts {
	return &memArtifacts{saved: make(map[string][]byte)}
}

func (m *memArtifacts) Save(_ context.Context, path, _ string, data io.Reader) (string, error) {
	payload, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved[path] = payload
	return "mem://" + path, nil
}

func (m *memArtifacts) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.saved, path)
	m.deleted = append(m.deleted, path)
	return nil
}

func (m *memArtifacts) get(path string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.saved[path]
	return b, ok
}

type harness struct {
	store     *storememory.Store
	queue     *queuememory.Queue
	sessions  *captcha.MemoryStore
	publisher *notifymemory.Publisher
	artifacts *memArtifacts
	invoker   *fakeInvoker
	svc       *Service
	runner    *Runner
}

func newHarness(t *testing.T, invoker *fakeInvoker) *harness {
	t.Helper()
	metrics.Init()

	h := &harness{
		store:     storememory.NewStore(),
		queue:     queuememory.NewQueue(16),
		sessions:  captcha.NewMemoryStore(time.Minute),
		publisher: notifymemory.New(),
		artifacts: newMemArtifacts(),
		invoker:   invoker,
	}
	deps := Deps{
		Jobs:      h.store,
		Results:   h.store,
		Registry:  sites.NewRegistry(),
		Queue:     h.queue,
		Invoker:   invoker,
		Sessions:  h.sessions,
		Artifacts: h.artifacts,
		Publisher: h.publisher,
		Clock:     system.New(),
		IDs:       uuid.New(),
		Config: Config{
			QuotaPerUser:          3,
			DefaultMaxItems:       10,
			MaxItemsCap:           100,
			DefaultTimeoutSeconds: 300,
			DefaultRetries:        0,
			MaxRetries:            3,
			NotifyTopic:           "scrape-jobs",
		},
	}
	tracker := NewTracker()
	h.svc = NewService(deps, tracker)
	h.runner = NewRunner(deps, tracker)
	return h
}

// drainTask pops the task the service enqueued for a freshly created job.
func (h *harness) drainTask(t *testing.T) scrape.Task {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	task, err := h.queue.Dequeue(ctx)
	require.NoError(t, err)
	return task
}

func successOutcome(items ...scrape.Item) scrape.Outcome {
	var raw bytes.Buffer
	for range items {
		raw.WriteString(`{"type":"item"}` + "\n")
	}
	return scrape.Outcome{
		Kind:      scrape.OutcomeSuccess,
		Items:     items,
		Scraped:   len(items),
		Total:     len(items),
		RawOutput: raw.Bytes(),
	}
}
