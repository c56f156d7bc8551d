// Package metrics exposes Prometheus collectors for the orchestrator.
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
	jobsTotal            *prometheus.CounterVec
	tasksDispatchedTotal *prometheus.CounterVec
	webhookEventsTotal   *prometheus.CounterVec
	duplicateReports     prometheus.Counter
	sinkRetriesTotal     prometheus.Counter
	sinkFailuresTotal    prometheus.Counter
	activeWorkers        prometheus.Gauge
	awaitingWebhook      prometheus.Gauge
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_jobs_total",
				Help: "Total number of finalized jobs, labeled by terminal status.",
			},
			[]string{"status"},
		)

		tasksDispatchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_tasks_dispatched_total",
				Help: "Total number of tasks dispatched, labeled by kind.",
			},
			[]string{"kind"},
		)

		webhookEventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_webhook_events_total",
				Help: "Total webhook events received, labeled by disposition.",
			},
			[]string{"disposition"},
		)

		duplicateReports = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "orchestrator_duplicate_reports_total",
				Help: "Worker reports received for already-finalized jobs.",
			},
		)

		sinkRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "orchestrator_sink_retries_total",
				Help: "Retried writes to the result sink.",
			},
		)

		sinkFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "orchestrator_sink_failures_total",
				Help: "Result sink writes abandoned after exhausting retries.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "orchestrator_active_workers",
				Help: "Number of workers currently executing a task.",
			},
		)

		awaitingWebhook = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "orchestrator_awaiting_webhook_jobs",
				Help: "Jobs currently waiting on a provider webhook.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_http_requests_total",
				Help: "Total HTTP requests, labeled by method, route, and status.",
			},
			[]string{"method", "route", "status"},
		)

		httpRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestrator_http_request_duration_seconds",
				Help:    "HTTP request latency, labeled by method and route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveJob increments the terminal job counter for the given status.
func ObserveJob(status string) {
	jobsTotal.WithLabelValues(status).Inc()
}

// ObserveDispatch increments the dispatched task counter for a kind.
func ObserveDispatch(kind string) {
	tasksDispatchedTotal.WithLabelValues(kind).Inc()
}

// ObserveWebhookEvent counts a webhook event by disposition
// (matched, buffered, unknown, duplicate).
func ObserveWebhookEvent(disposition string) {
	webhookEventsTotal.WithLabelValues(disposition).Inc()
}

// ObserveDuplicateReport counts a report for an already-terminal job.
func ObserveDuplicateReport() {
	duplicateReports.Inc()
}

// ObserveSinkRetry counts one retried sink write.
func ObserveSinkRetry() {
	sinkRetriesTotal.Inc()
}

// ObserveSinkFailure counts a sink write abandoned after retries.
func ObserveSinkFailure() {
	sinkFailuresTotal.Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// IncAwaitingWebhook increments the awaiting-webhook gauge.
func IncAwaitingWebhook() {
	awaitingWebhook.Inc()
}

// DecAwaitingWebhook decrements the awaiting-webhook gauge.
func DecAwaitingWebhook() {
	awaitingWebhook.Dec()
}

// ObserveHTTPRequest records one served HTTP request.
func ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
