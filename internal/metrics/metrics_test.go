package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Reset collectors for testing purposes.
	scraperJobsTotal = nil
	scraperInvocationDurationSeconds = nil
	httpRequestsTotal = nil
	httpRequestDurationSeconds = nil

	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if scraperJobsTotal == nil || scraperInvocationDurationSeconds == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	ObserveJob("amazon", "completed")
	if val := testutil.ToFloat64(scraperJobsTotal); val != 1 {
		t.Errorf("Expected scraperJobsTotal to be 1, got %f", val)
	}

	ObserveItems("amazon", 5)
	if val := testutil.ToFloat64(scraperItemsTotal.WithLabelValues("amazon")); val != 5 {
		t.Errorf("Expected scraperItemsTotal{amazon} to be 5, got %f", val)
	}

	IncActiveWorkers()
	IncActiveWorkers()
	DecActiveWorkers()
	if val := testutil.ToFloat64(scraperActiveWorkers); val != 1 {
		t.Errorf("Expected scraperActiveWorkers to be 1, got %f", val)
	}
}
