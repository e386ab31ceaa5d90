// Package metrics provides Prometheus metrics for the bar chart race service.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the race service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	constLabels      map[string]string
	registry         prometheus.Registerer

	// Core business metrics
	datasetsSubmitted prometheus.Counter
	datasetsDuplicate prometheus.Counter
	racesComputed     prometheus.Counter
	raceFailures      *prometheus.CounterVec
	computeLatency    prometheus.Histogram
	framesGenerated   prometheus.Counter
	datasetsReplaced  prometheus.Counter
	stepsStreamed     prometheus.Counter
	reloads           prometheus.Counter
	restarts          prometheus.Counter
	racesCached       prometheus.Gauge
	streamsActive     prometheus.Gauge

	// Operational health
	queueSize     prometheus.Gauge
	workerCount   prometheus.Gauge
	datasetsTotal prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Repository
	repositoryRecordsTotal prometheus.Gauge
	repositoryWriteLatency prometheus.Histogram
	repositoryQueryLatency prometheus.Histogram

	// Queue
	queueCapacity          prometheus.Gauge
	queueUtilization       prometheus.Gauge
	queueEnqueueRate       prometheus.Counter
	queueDequeueRate       prometheus.Counter
	queueEnqueueErrors     prometheus.Counter
	queueProcessingLatency prometheus.Histogram

	// Worker
	workerActiveCount       prometheus.Gauge
	workerIdleCount         prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrorRate         prometheus.Counter

	// Errors
	errorRateByComponent *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// active holds the manager and registry the package functions use.
var active atomic.Pointer[state] //nolint:gochecknoglobals // package-level metrics singleton

type state struct {
	manager  *Manager
	registry *prometheus.Registry
}

func init() { //nolint:gochecknoinits // default metrics available before Configure
	Configure()
}

// Configure replaces the package metrics with a manager built from opts on a
// fresh registry. Call it at startup, before the /metrics handler is built
// from GetRegistry.
func Configure(opts ...Option) {
	reg := prometheus.NewRegistry()
	m := NewManager(append(append([]Option(nil), opts...), WithPrometheusRegistry(reg))...)
	active.Store(&state{manager: m, registry: reg})
}

func current() *Manager {
	return active.Load().manager
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "barrace",
		subsystem:        "engine",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		constLabels:      make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

// RefreshInterval is how often process-level gauges should be sampled.
func (m *Manager) RefreshInterval() time.Duration {
	return m.refreshInterval
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	reg := m.registry
	if !m.enabled {
		// Still recordable, never exported.
		reg = prometheus.NewRegistry()
	}
	auto := promauto.With(reg)
	labels := prometheus.Labels(m.constLabels)

	counter := func(name, help string) prometheus.Counter {
		return auto.NewCounter(prometheus.CounterOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: labels,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return auto.NewGauge(prometheus.GaugeOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: labels,
		})
	}
	histogram := func(name, help string, buckets []float64) prometheus.Histogram {
		return auto.NewHistogram(prometheus.HistogramOpts{
			Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: labels, Buckets: buckets,
		})
	}

	m.datasetsSubmitted = counter("datasets_submitted_total", "Total number of datasets accepted for computation")
	m.datasetsDuplicate = counter("datasets_duplicate_total", "Total number of submissions that matched an existing dataset")
	m.racesComputed = counter("races_computed_total", "Total number of races computed successfully")
	m.raceFailures = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: "race_failures_total",
		Help: "Total number of race computations that failed, by reason", ConstLabels: labels,
	}, []string{"reason"})
	m.computeLatency = histogram("compute_latency_milliseconds", "Histogram of race computation latency in milliseconds", m.histogramBuckets)
	m.framesGenerated = counter("frames_generated_total", "Total number of frames produced by race computations")
	m.stepsStreamed = counter("steps_streamed_total", "Total number of playback steps streamed to clients")
	m.reloads = counter("source_reloads_total", "Total number of datasets reloaded from a watched file")
	m.datasetsReplaced = counter("datasets_replaced_total", "Total number of datasets replaced in place")
	m.restarts = counter("race_restarts_total", "Total number of race restarts")
	m.racesCached = gauge("races_cached", "Number of computed races held in the cache")
	m.streamsActive = gauge("playback_streams_active", "Number of playback streams currently open")

	m.queueSize = gauge("queue_size", "Current number of compute jobs waiting in the queue")
	m.workerCount = gauge("worker_count", "Number of compute workers")
	m.datasetsTotal = gauge("datasets_total", "Number of datasets currently held by the service")

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: "http_requests_total",
		Help: "Total number of HTTP requests", ConstLabels: labels,
	}, []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: "http_request_duration_seconds",
		Help: "HTTP request duration in seconds", ConstLabels: labels, Buckets: prometheus.DefBuckets,
	}, []string{"endpoint", "method", "status_code"})

	m.repositoryRecordsTotal = gauge("repository_records_total", "Number of datasets persisted in the repository")
	m.repositoryWriteLatency = histogram("repository_write_latency_milliseconds", "Repository write latency in milliseconds",
		[]float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 50, 100})
	m.repositoryQueryLatency = histogram("repository_query_latency_milliseconds", "Repository query latency in milliseconds",
		[]float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 50, 100})

	m.queueCapacity = gauge("queue_capacity", "Maximum capacity of the compute queue")
	m.queueUtilization = gauge("queue_utilization_ratio", "Queue utilization ratio (0-1)")
	m.queueEnqueueRate = counter("queue_enqueue_total", "Total number of jobs enqueued")
	m.queueDequeueRate = counter("queue_dequeue_total", "Total number of jobs dequeued")
	m.queueEnqueueErrors = counter("queue_enqueue_errors_total", "Total number of enqueue failures")
	m.queueProcessingLatency = histogram("queue_processing_latency_milliseconds", "Time a job spent in the queue in milliseconds", m.histogramBuckets)

	m.workerActiveCount = gauge("worker_active_count", "Number of workers currently computing a race")
	m.workerIdleCount = gauge("worker_idle_count", "Number of idle workers")
	m.workerProcessingLatency = histogram("worker_processing_latency_milliseconds", "Worker job processing latency in milliseconds", m.histogramBuckets)
	m.workerErrorRate = counter("worker_errors_total", "Total number of worker job failures")

	m.errorRateByComponent = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: "errors_by_component_total",
		Help: "Total number of errors by component", ConstLabels: labels,
	}, []string{"component", "error_type"})
	m.errorRateByEndpoint = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: "errors_by_endpoint_total",
		Help: "Total number of errors by HTTP endpoint", ConstLabels: labels,
	}, []string{"endpoint", "method", "error_type"})

	m.systemMemoryUsage = gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// RecordDatasetSubmitted increments the accepted datasets counter.
func RecordDatasetSubmitted() {
	current().datasetsSubmitted.Inc()
}

// RecordDatasetDuplicate increments the duplicate submissions counter.
func RecordDatasetDuplicate() {
	current().datasetsDuplicate.Inc()
}

// RecordRaceComputed records a successful computation and its frame count.
func RecordRaceComputed(frames int) {
	current().racesComputed.Inc()
	current().framesGenerated.Add(float64(frames))
}

// RecordRaceFailure counts a failed computation by reason.
func RecordRaceFailure(reason string) {
	current().raceFailures.WithLabelValues(reason).Inc()
}

// RecordComputeLatency records race computation latency in milliseconds.
func RecordComputeLatency(latencyMs float64) {
	current().computeLatency.Observe(latencyMs)
}

// RecordStepStreamed increments the streamed steps counter.
func RecordStepStreamed() {
	current().stepsStreamed.Inc()
}

// RecordSourceReload increments the watched file reload counter.
func RecordSourceReload() {
	current().reloads.Inc()
}

// RecordDatasetReplaced increments the replaced datasets counter.
func RecordDatasetReplaced() {
	current().datasetsReplaced.Inc()
}

// RecordRaceRestart increments the restart counter.
func RecordRaceRestart() {
	current().restarts.Inc()
}

// UpdateRacesCached sets the number of cached races.
func UpdateRacesCached(count int) {
	current().racesCached.Set(float64(count))
}

// IncrementStreamsActive marks a playback stream as opened.
func IncrementStreamsActive() {
	current().streamsActive.Inc()
}

// DecrementStreamsActive marks a playback stream as closed.
func DecrementStreamsActive() {
	current().streamsActive.Dec()
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	current().queueSize.Set(float64(size))
}

// UpdateWorkerCount sets the number of workers.
func UpdateWorkerCount(count int) {
	current().workerCount.Set(float64(count))
}

// UpdateDatasetsTotal sets the number of datasets held by the service.
func UpdateDatasetsTotal(count int) {
	current().datasetsTotal.Set(float64(count))
}

// RecordHTTPRequest counts an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	current().httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in seconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	current().httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// UpdateRepositoryRecordsTotal sets the number of persisted datasets.
func UpdateRepositoryRecordsTotal(count int) {
	current().repositoryRecordsTotal.Set(float64(count))
}

// RecordRepositoryWriteLatency records repository write latency in milliseconds.
func RecordRepositoryWriteLatency(latencyMs float64) {
	current().repositoryWriteLatency.Observe(latencyMs)
}

// RecordRepositoryQueryLatency records repository query latency in milliseconds.
func RecordRepositoryQueryLatency(latencyMs float64) {
	current().repositoryQueryLatency.Observe(latencyMs)
}

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) {
	current().queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	current().queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	current().queueEnqueueRate.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	current().queueDequeueRate.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	current().queueEnqueueErrors.Inc()
}

// RecordQueueProcessingLatency records time spent queued in milliseconds.
func RecordQueueProcessingLatency(latencyMs float64) {
	current().queueProcessingLatency.Observe(latencyMs)
}

// UpdateWorkerActiveCount sets the number of busy workers.
func UpdateWorkerActiveCount(count int) {
	current().workerActiveCount.Set(float64(count))
}

// UpdateWorkerIdleCount sets the number of idle workers.
func UpdateWorkerIdleCount(count int) {
	current().workerIdleCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records worker processing latency in milliseconds.
func RecordWorkerProcessingLatency(latencyMs float64) {
	current().workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	current().workerErrorRate.Inc()
}

// RecordErrorByComponent counts an error raised by a component.
func RecordErrorByComponent(component, errorType string) {
	current().errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByEndpoint counts an error returned by an HTTP endpoint.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	current().errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	current().systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	current().systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	current().systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the registry the package metrics are exported from.
func GetRegistry() *prometheus.Registry {
	return active.Load().registry
}

// RefreshInterval is how often process-level gauges should be sampled.
func RefreshInterval() time.Duration {
	return current().RefreshInterval()
}
