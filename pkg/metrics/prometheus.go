// Package metrics provides Prometheus metrics for the bluffmeter service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	defaultRefreshInterval = 10 * time.Second
)

// bluffBuckets spans the 0-100 score range in steps of ten.
var bluffBuckets = prometheus.LinearBuckets(10, 10, 10) //nolint:gochecknoglobals // constant bucket layout

// Manager owns every collector of the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	registry         prometheus.Registerer

	// Session lifecycle
	sessionsStarted  prometheus.Counter
	sessionsEnded    *prometheus.CounterVec
	activeSessions   prometheus.Gauge
	messagesReceived *prometheus.CounterVec
	duplicateMsgs    prometheus.Counter

	// Analysis loop
	analysesApplied prometheus.Counter
	analysesDropped *prometheus.CounterVec
	bluffScore      prometheus.Histogram
	judgeLatency    *prometheus.HistogramVec
	judgeErrors     *prometheus.CounterVec
	steering        *prometheus.CounterVec

	// Persistence
	persistenceWrites *prometheus.CounterVec
	persistenceErrors *prometheus.CounterVec
	staleWrites       prometheus.Counter
	queueSize         prometheus.Gauge
	queueCapacity     prometheus.Gauge
	queueErrors       *prometheus.CounterVec
	workerCount       prometheus.Gauge
	workerLatency     prometheus.Histogram

	// Leaderboard
	leaderboardEntries prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpErrors          *prometheus.CounterVec

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

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "bluffmeter",
		subsystem:        "interview",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.customLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets, ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets, ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	m.sessionsStarted = m.counter("sessions_started_total", "Sessions created by a start action")
	m.sessionsEnded = m.counterVec("sessions_ended_total", "Sessions that reached a terminal state, by outcome", "outcome")
	m.activeSessions = m.gauge("sessions_active", "Sessions currently live in memory")
	m.messagesReceived = m.counterVec("messages_received_total", "Transcript messages accepted, by speaker role", "role")
	m.duplicateMsgs = m.counter("messages_duplicate_total", "Transport messages dropped as replays")

	m.analysesApplied = m.counter("analyses_applied_total", "Judgments applied to a live session")
	m.analysesDropped = m.counterVec("analyses_dropped_total", "Analysis units that produced no update, by reason", "reason")
	m.bluffScore = m.histogram("bluff_score", "Distribution of per-turn bluff scores", bluffBuckets)
	m.judgeLatency = m.histogramVec("judge_latency_milliseconds", "Judge call latency in milliseconds",
		prometheus.ExponentialBuckets(50, 2, 10), "provider")
	m.judgeErrors = m.counterVec("judge_errors_total", "Judge failures, by error kind", "kind")
	m.steering = m.counterVec("steering_injections_total", "Follow-up instructions sent into the conversation, by tone", "tone")

	m.persistenceWrites = m.counterVec("persistence_writes_total", "Persistence operations that succeeded, by op", "op")
	m.persistenceErrors = m.counterVec("persistence_errors_total", "Persistence operations that failed, by op", "op")
	m.staleWrites = m.counter("persistence_stale_writes_total", "Session patches skipped because a newer version was stored")
	m.queueSize = m.gauge("write_queue_size", "Pending session writes")
	m.queueCapacity = m.gauge("write_queue_capacity", "Maximum pending session writes")
	m.queueErrors = m.counterVec("write_queue_errors_total", "Writes rejected by the queue, by reason", "reason")
	m.workerCount = m.gauge("writer_count", "Persistence writer goroutines")
	m.workerLatency = m.histogram("writer_latency_milliseconds", "Time to apply one session write", m.histogramBuckets)

	m.leaderboardEntries = m.gauge("leaderboard_entries", "Candidates ranked on the leaderboard")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds",
		m.histogramBuckets, "endpoint", "method", "status_code")
	m.httpErrors = m.counterVec("http_errors_total", "HTTP error responses by endpoint, method and error type", "endpoint", "method", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_bytes", "Heap bytes allocated")
	m.systemGoroutineCount = m.gauge("system_goroutines", "Number of goroutines")
}

// RefreshInterval is how often periodic gauges should be refreshed.
func RefreshInterval() time.Duration { return globalManager.refreshInterval }

func on() bool { return globalManager != nil && globalManager.enabled }

// RecordSessionStarted increments the sessions started counter.
func RecordSessionStarted() {
	if on() {
		globalManager.sessionsStarted.Inc()
	}
}

// RecordSessionEnded counts a terminal transition ("completed" or "disconnected").
func RecordSessionEnded(outcome string) {
	if on() {
		globalManager.sessionsEnded.WithLabelValues(outcome).Inc()
	}
}

// UpdateActiveSessions sets the live session gauge.
func UpdateActiveSessions(n int) {
	if on() {
		globalManager.activeSessions.Set(float64(n))
	}
}

// RecordMessage counts an accepted transcript message.
func RecordMessage(role string) {
	if on() {
		globalManager.messagesReceived.WithLabelValues(role).Inc()
	}
}

// RecordDuplicateMessage counts a replayed transport message.
func RecordDuplicateMessage() {
	if on() {
		globalManager.duplicateMsgs.Inc()
	}
}

// RecordAnalysisApplied counts an applied judgment and observes its score.
func RecordAnalysisApplied(score int) {
	if on() {
		globalManager.analysesApplied.Inc()
		globalManager.bluffScore.Observe(float64(score))
	}
}

// RecordAnalysisDropped counts an analysis unit that changed nothing.
func RecordAnalysisDropped(reason string) {
	if on() {
		globalManager.analysesDropped.WithLabelValues(reason).Inc()
	}
}

// RecordJudgeLatency records one judge call.
func RecordJudgeLatency(provider string, latencyMs float64) {
	if on() {
		globalManager.judgeLatency.WithLabelValues(provider).Observe(latencyMs)
	}
}

// RecordJudgeError counts a judge failure by kind.
func RecordJudgeError(kind string) {
	if on() {
		globalManager.judgeErrors.WithLabelValues(kind).Inc()
	}
}

// RecordSteering counts a follow-up injection.
func RecordSteering(tone string) {
	if on() {
		globalManager.steering.WithLabelValues(tone).Inc()
	}
}

// RecordPersistenceWrite counts a successful store operation.
func RecordPersistenceWrite(op string) {
	if on() {
		globalManager.persistenceWrites.WithLabelValues(op).Inc()
	}
}

// RecordPersistenceError counts a failed store operation.
func RecordPersistenceError(op string) {
	if on() {
		globalManager.persistenceErrors.WithLabelValues(op).Inc()
	}
}

// RecordStaleWrite counts a patch the store refused as older than its state.
func RecordStaleWrite() {
	if on() {
		globalManager.staleWrites.Inc()
	}
}

// UpdateQueueSize sets the pending write gauge.
func UpdateQueueSize(size int) {
	if on() {
		globalManager.queueSize.Set(float64(size))
	}
}

// UpdateQueueCapacity sets the write queue capacity gauge.
func UpdateQueueCapacity(capacity int) {
	if on() {
		globalManager.queueCapacity.Set(float64(capacity))
	}
}

// RecordQueueEnqueueError counts a rejected write.
func RecordQueueEnqueueError(reason string) {
	if on() {
		globalManager.queueErrors.WithLabelValues(reason).Inc()
	}
}

// UpdateWorkerCount sets the writer goroutine gauge.
func UpdateWorkerCount(count int) {
	if on() {
		globalManager.workerCount.Set(float64(count))
	}
}

// RecordWorkerProcessingLatency records how long one write took.
func RecordWorkerProcessingLatency(latencyMs float64) {
	if on() {
		globalManager.workerLatency.Observe(latencyMs)
	}
}

// UpdateLeaderboardEntries sets the ranked candidates gauge.
func UpdateLeaderboardEntries(count int) {
	if on() {
		globalManager.leaderboardEntries.Set(float64(count))
	}
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	if on() {
		globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	}
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	if on() {
		globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
	}
}

// RecordHTTPError records a 4xx or 5xx response.
func RecordHTTPError(endpoint, method, errorType string) {
	if on() {
		globalManager.httpErrors.WithLabelValues(endpoint, method, errorType).Inc()
	}
}

// UpdateSystemMemoryUsage sets the heap gauge.
func UpdateSystemMemoryUsage(bytes uint64) {
	if on() {
		globalManager.systemMemoryUsage.Set(float64(bytes))
	}
}

// UpdateSystemGoroutineCount sets the goroutine gauge.
func UpdateSystemGoroutineCount(count int) {
	if on() {
		globalManager.systemGoroutineCount.Set(float64(count))
	}
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
