// Package metrics exposes Prometheus collectors for the crawler service.
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
	crawlerPagesTotal          *prometheus.CounterVec
	crawlerItemsExtractedTotal prometheus.Counter
	crawlerItemsProcessedTotal *prometheus.CounterVec
	crawlerJobsTotal           *prometheus.CounterVec
	crawlerTasksTotal          *prometheus.CounterVec
	crawlerTaskRetriesTotal    *prometheus.CounterVec
	crawlerActiveWorkers       prometheus.Gauge
	crawlerRateLimitDelays     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of catalog pages crawled, labeled by status.",
			},
			[]string{"status"},
		)

		crawlerItemsExtractedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_items_extracted_total",
				Help: "Total number of raw items extracted from listing pages.",
			},
		)

		crawlerItemsProcessedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_items_processed_total",
				Help: "Total number of detail pages processed, labeled by status.",
			},
			[]string{"status"},
		)

		crawlerJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_jobs_total",
				Help: "Total number of jobs reaching a terminal state, labeled by status.",
			},
			[]string{"status"},
		)

		crawlerTasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_tasks_total",
				Help: "Total number of tasks executed, labeled by queue and outcome.",
			},
			[]string{"queue", "outcome"},
		)

		crawlerTaskRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_task_retries_total",
				Help: "Total number of task retries scheduled, labeled by queue.",
			},
			[]string{"queue"},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Number of workers currently executing a task.",
			},
		)

		crawlerRateLimitDelays = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of politeness wait durations, labeled by host.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
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

// ObservePage increments the page counter for the given status.
func ObservePage(status string) {
	crawlerPagesTotal.WithLabelValues(status).Inc()
}

// ObserveItemsExtracted adds a listing page's item count.
func ObserveItemsExtracted(n int) {
	crawlerItemsExtractedTotal.Add(float64(n))
}

// ObserveItemProcessed increments the detail counter for the given status.
func ObserveItemProcessed(status string) {
	crawlerItemsProcessedTotal.WithLabelValues(status).Inc()
}

// ObserveJob increments the job counter for the given terminal status.
func ObserveJob(status string) {
	crawlerJobsTotal.WithLabelValues(status).Inc()
}

// ObserveTask increments the task counter for the given queue and outcome.
func ObserveTask(queue, outcome string) {
	crawlerTasksTotal.WithLabelValues(queue, outcome).Inc()
}

// ObserveTaskRetry increments the retry counter for the given queue.
func ObserveTaskRetry(queue string) {
	crawlerTaskRetriesTotal.WithLabelValues(queue).Inc()
}

// ObserveRateLimitDelay records the duration of a politeness wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	crawlerRateLimitDelays.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	crawlerActiveWorkers.Dec()
}
