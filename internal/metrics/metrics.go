// Package metrics exposes Prometheus collectors for the scraper service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scraperJobsTotal                 *prometheus.CounterVec
	scraperItemsTotal                *prometheus.CounterVec
	scraperInvocationDurationSeconds *prometheus.HistogramVec
	scraperCaptchaChallengesTotal    *prometheus.CounterVec
	scraperActiveWorkers             prometheus.Gauge
	httpRequestsTotal                *prometheus.CounterVec
	httpRequestDurationSeconds       *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scraperJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_jobs_total",
				Help: "Total number of jobs reaching a terminal status, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		scraperItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_items_total",
				Help: "Total number of scraped items persisted, labeled by site.",
			},
			[]string{"site"},
		)

		scraperInvocationDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_invocation_duration_seconds",
				Help:    "Histogram of worker process durations, labeled by site and outcome.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"site", "outcome"},
		)

		scraperCaptchaChallengesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_captcha_challenges_total",
				Help: "Total number of CAPTCHA challenges raised by workers, labeled by site.",
			},
			[]string{"site"},
		)

		scraperActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scraper_active_workers",
				Help: "Number of worker processes currently executing.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveJob increments the terminal-job counter.
func ObserveJob(site, status string) {
	scraperJobsTotal.WithLabelValues(site, status).Inc()
}

// ObserveItems adds persisted item counts for a site.
func ObserveItems(site string, count int) {
	if count > 0 {
		scraperItemsTotal.WithLabelValues(site).Add(float64(count))
	}
}

// ObserveInvocation records one worker process run.
func ObserveInvocation(site, outcome string, duration time.Duration) {
	scraperInvocationDurationSeconds.WithLabelValues(site, outcome).Observe(duration.Seconds())
}

// ObserveCaptchaChallenge counts a CAPTCHA raised for a site.
func ObserveCaptchaChallenge(site string) {
	scraperCaptchaChallengesTotal.WithLabelValues(site).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	scraperActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	scraperActiveWorkers.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
