package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by the API and executor flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDuration    *prometheus.HistogramVec
	batchesStartedTotal    prometheus.Counter
	jobsFinishedTotal      *prometheus.CounterVec
	registrySearchDuration prometheus.Histogram
	provisionDuration      prometheus.Histogram
	provisionOpsTotal      *prometheus.CounterVec
	setupRunDuration       prometheus.Histogram
	setupRunsTotal         *prometheus.CounterVec
	executorInflight       prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "onboard_engine",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "onboard_engine",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		batchesStartedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "onboard_engine",
				Name:      "batches_started_total",
				Help:      "Total number of registration batches started.",
			},
		),
		jobsFinishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "onboard_engine",
				Name:      "jobs_finished_total",
				Help:      "Total number of jobs that reached a terminal status.",
			},
			[]string{"status"},
		),
		registrySearchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "onboard_engine",
				Name:      "registry_search_duration_seconds",
				Help:      "Company registry search duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		provisionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "onboard_engine",
				Name:      "provision_duration_seconds",
				Help:      "Platform provisioning call duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		provisionOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "onboard_engine",
				Name:      "provision_operations_total",
				Help:      "Total number of platform provisioning operations by outcome.",
			},
			[]string{"outcome"},
		),
		setupRunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "onboard_engine",
				Name:      "setup_run_duration_seconds",
				Help:      "Automated setup run duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			},
		),
		setupRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "onboard_engine",
				Name:      "setup_runs_total",
				Help:      "Total number of automated setup runs by outcome.",
			},
			[]string{"outcome"},
		),
		executorInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "onboard_engine",
				Name:      "executor_inflight",
				Help:      "Current number of in-flight setup runs.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.batchesStartedTotal,
		m.jobsFinishedTotal,
		m.registrySearchDuration,
		m.provisionDuration,
		m.provisionOpsTotal,
		m.setupRunDuration,
		m.setupRunsTotal,
		m.executorInflight,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncBatchStarted() {
	if m == nil {
		return
	}
	m.batchesStartedTotal.Inc()
}

func (m *Metrics) IncJobFinished(status string) {
	if m == nil {
		return
	}
	label := strings.TrimSpace(strings.ToLower(status))
	if label == "" {
		label = "unknown"
	}
	m.jobsFinishedTotal.WithLabelValues(label).Inc()
}

func (m *Metrics) ObserveRegistrySearchDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.registrySearchDuration.Observe(nonNegativeSeconds(duration))
}

func (m *Metrics) ObserveProvisionDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.provisionDuration.Observe(nonNegativeSeconds(duration))
}

func (m *Metrics) IncProvisionCompleted() {
	if m == nil {
		return
	}
	m.provisionOpsTotal.WithLabelValues("completed").Inc()
}

func (m *Metrics) IncProvisionFailed() {
	if m == nil {
		return
	}
	m.provisionOpsTotal.WithLabelValues("failed").Inc()
}

func (m *Metrics) ObserveSetupRunDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.setupRunDuration.Observe(nonNegativeSeconds(duration))
}

func (m *Metrics) IncSetupRunCompleted() {
	if m == nil {
		return
	}
	m.setupRunsTotal.WithLabelValues("completed").Inc()
}

func (m *Metrics) IncSetupRunFailed() {
	if m == nil {
		return
	}
	m.setupRunsTotal.WithLabelValues("failed").Inc()
}

func (m *Metrics) IncExecutorInFlight() {
	if m == nil {
		return
	}
	m.executorInflight.Inc()
}

func (m *Metrics) DecExecutorInFlight() {
	if m == nil {
		return
	}
	m.executorInflight.Dec()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func nonNegativeSeconds(duration time.Duration) float64 {
	seconds := duration.Seconds()
	if seconds < 0 {
		return 0
	}
	return seconds
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}
	return c.Response().StatusCode()
}
