// Package metrics provides Prometheus metrics for the kickrate rating service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	defaultRefreshInterval = 10 * time.Second
)

// Histograms record milliseconds. Video downloads run far longer than
// requests or store calls, so they get their own buckets.
var (
	defaultLatencyBuckets  = prometheus.ExponentialBuckets(1, 2, 14)  // 1ms .. ~8s
	defaultDownloadBuckets = prometheus.ExponentialBuckets(50, 2, 12) // 50ms .. ~100s
)

// Manager manages all Prometheus metrics for the kickrate service.
type Manager struct {
	namespace       string
	subsystem       string
	latencyBuckets  []float64
	downloadBuckets []float64
	refreshInterval time.Duration
	constLabels     prometheus.Labels
	registry        prometheus.Registerer

	// Assignment
	queueBuilds        prometheus.Counter
	queueBuildFallback prometheus.Counter
	queueLength        prometheus.Histogram
	saturatedItems     prometheus.Gauge
	catalogSize        prometheus.Gauge

	// Sessions and submissions
	activeSessions prometheus.Gauge
	submissions    *prometheus.CounterVec
	identityChecks *prometheus.CounterVec

	// Record store
	storeLatency *prometheus.HistogramVec
	storeErrors  *prometheus.CounterVec

	// Video cache and prefetch
	cacheLookups      *prometheus.CounterVec
	prefetchQueueSize prometheus.Gauge
	prefetchJobs      *prometheus.CounterVec
	prefetchLatency   prometheus.Histogram

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorsByComponent *prometheus.CounterVec
	errorsByType      *prometheus.CounterVec
	errorsByEndpoint  *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:       "kickrate",
		subsystem:       "rating",
		latencyBuckets:  defaultLatencyBuckets,
		downloadBuckets: defaultDownloadBuckets,
		refreshInterval: defaultRefreshInterval,
		constLabels:     prometheus.Labels{},
		registry:        prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()
	return m
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}
}

func (m *Manager) histogramOpts(name, help string, buckets []float64) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
		Buckets:     buckets,
	}
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every metric definition
	auto := promauto.With(m.registry)

	m.queueBuilds = auto.NewCounter(m.counterOpts("queue_builds_total",
		"Total number of rating queues built at session start"))
	m.queueBuildFallback = auto.NewCounter(m.counterOpts("queue_build_fallback_total",
		"Queue builds that skipped the saturation filter because the count query failed"))
	m.queueLength = auto.NewHistogram(m.histogramOpts("queue_length_items",
		"Number of items in a freshly built queue", prometheus.ExponentialBuckets(1, 2, 10)))
	m.saturatedItems = auto.NewGauge(m.gaugeOpts("saturated_items",
		"Items whose rating count reached the quota at the last queue build"))
	m.catalogSize = auto.NewGauge(m.gaugeOpts("catalog_items",
		"Number of items listed by the catalog source at the last queue build"))

	m.activeSessions = auto.NewGauge(m.gaugeOpts("active_sessions",
		"Rating sessions currently held in memory"))
	m.submissions = auto.NewCounterVec(m.counterOpts("submissions_total",
		"Rating submissions by outcome"), []string{"outcome"})
	m.identityChecks = auto.NewCounterVec(m.counterOpts("identity_checks_total",
		"Returning-participant id lookups by result"), []string{"result"})

	m.storeLatency = auto.NewHistogramVec(m.histogramOpts("store_operation_duration_milliseconds",
		"Record store operation latency in milliseconds", m.latencyBuckets), []string{"backend", "operation"})
	m.storeErrors = auto.NewCounterVec(m.counterOpts("store_errors_total",
		"Record store operation failures"), []string{"backend", "operation"})

	m.cacheLookups = auto.NewCounterVec(m.counterOpts("video_cache_lookups_total",
		"Video download cache lookups by result"), []string{"result"})
	m.prefetchQueueSize = auto.NewGauge(m.gaugeOpts("prefetch_queue_size",
		"Pending video prefetch jobs"))
	m.prefetchJobs = auto.NewCounterVec(m.counterOpts("prefetch_jobs_total",
		"Video prefetch jobs by outcome"), []string{"outcome"})
	m.prefetchLatency = auto.NewHistogram(m.histogramOpts("prefetch_duration_milliseconds",
		"Time to fetch one video into the local cache", m.downloadBuckets))

	m.httpRequests = auto.NewCounterVec(m.counterOpts("http_requests_total",
		"Total number of HTTP requests by endpoint and method"), []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(m.histogramOpts("http_request_duration_milliseconds",
		"HTTP request duration in milliseconds", m.latencyBuckets), []string{"endpoint", "method", "status_code"})

	m.errorsByComponent = auto.NewCounterVec(m.counterOpts("errors_by_component_total",
		"Errors by component and type"), []string{"component", "error_type"})
	m.errorsByType = auto.NewCounterVec(m.counterOpts("errors_by_type_total",
		"Errors by type and severity"), []string{"error_type", "severity"})
	m.errorsByEndpoint = auto.NewCounterVec(m.counterOpts("errors_by_endpoint_total",
		"HTTP errors by endpoint, method and type"), []string{"endpoint", "method", "error_type"})

	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_bytes",
		"Heap bytes allocated"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutines",
		"Number of goroutines"))
}

// Assignment.

// RecordQueueBuild records a completed queue build.
func RecordQueueBuild(length int, fallback bool) {
	globalManager.queueBuilds.Inc()
	globalManager.queueLength.Observe(float64(length))
	if fallback {
		globalManager.queueBuildFallback.Inc()
	}
}

// UpdateSaturatedItems sets the saturated item count seen by the last build.
func UpdateSaturatedItems(count int) {
	globalManager.saturatedItems.Set(float64(count))
}

// UpdateCatalogSize sets the catalog size seen by the last build.
func UpdateCatalogSize(count int) {
	globalManager.catalogSize.Set(float64(count))
}

// Sessions.

// UpdateActiveSessions sets the number of in-memory sessions.
func UpdateActiveSessions(count int) {
	globalManager.activeSessions.Set(float64(count))
}

// RecordSubmission counts a submission by outcome: accepted, rejected, failed, conflict.
func RecordSubmission(outcome string) {
	globalManager.submissions.WithLabelValues(outcome).Inc()
}

// RecordIdentityCheck counts an id lookup by result: found, missing.
func RecordIdentityCheck(result string) {
	globalManager.identityChecks.WithLabelValues(result).Inc()
}

// Record store.

// RecordStoreOperation observes a store operation and counts it as an error when failed.
func RecordStoreOperation(backend, operation string, latencyMs float64, failed bool) {
	globalManager.storeLatency.WithLabelValues(backend, operation).Observe(latencyMs)
	if failed {
		globalManager.storeErrors.WithLabelValues(backend, operation).Inc()
	}
}

// Cache and prefetch.

// RecordCacheLookup counts a download cache lookup: hit, miss, stale.
func RecordCacheLookup(result string) {
	globalManager.cacheLookups.WithLabelValues(result).Inc()
}

// UpdatePrefetchQueueSize sets the number of pending prefetch jobs.
func UpdatePrefetchQueueSize(size int) {
	globalManager.prefetchQueueSize.Set(float64(size))
}

// RecordPrefetchJob counts a prefetch job outcome and its latency.
func RecordPrefetchJob(outcome string, latencyMs float64) {
	globalManager.prefetchJobs.WithLabelValues(outcome).Inc()
	globalManager.prefetchLatency.Observe(latencyMs)
}

// HTTP.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Errors.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorsByType.WithLabelValues(errorType, severity).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorsByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// System.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RefreshInterval returns how often gauge updaters should run.
func RefreshInterval() time.Duration {
	return globalManager.refreshInterval
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
