// Package metrics provides Prometheus metrics for the courtside prediction service.
//
// The Manager is an explicitly constructed collector passed by reference to
// the components that record into it; there is no package-level singleton.
// Its lifecycle is tied to the predictor instance that owns it.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the courtside service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Ingestion Metrics - connector health and throughput
	messagesReceived  *prometheus.CounterVec
	messagesDropped   *prometheus.CounterVec
	connectorErrors   *prometheus.CounterVec
	connectorStatus   *prometheus.GaugeVec
	reconnectAttempts *prometheus.CounterVec

	// Filter Metrics - estimator quality
	filterUpdates          prometheus.Counter
	filterSingularFallback prometheus.Counter
	filterUpdateLatency    prometheus.Histogram
	winProbability         prometheus.Gauge

	// Publishing Metrics - significance gate behavior
	updatesPublished  prometheus.Counter
	updatesSuppressed prometheus.Counter
	callbackErrors    prometheus.Counter
	callbackLatency   prometheus.Histogram
	subscriberCount   prometheus.Gauge
	historySize       prometheus.Gauge

	// Stream Buffer Metrics
	bufferSize        prometheus.Gauge
	bufferCapacity    prometheus.Gauge
	bufferUtilization prometheus.Gauge
	bufferEvictions   prometheus.Counter

	// Pipeline Metrics - end-to-end processing
	eventsProcessed   prometheus.Counter
	eventsDuplicate   prometheus.Counter
	processingLatency prometheus.Histogram

	// System Performance Metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "courtside",
		subsystem:        "predictor",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		metricPrefix:     "",
		registry:         prometheus.DefaultRegisterer,
	}

	// Apply all options
	for _, opt := range opts {
		opt(m)
	}

	// Initialize metrics
	m.initializeMetrics()

	return m
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	// Ensure metrics are registered on the configured registry
	auto := promauto.With(m.registry)

	// Ingestion Metrics - connector health and throughput
	m.messagesReceived = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "messages_received_total",
			Help:      "Total number of data messages received per connector",
		},
		[]string{"connector"},
	)

	m.messagesDropped = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "messages_dropped_total",
			Help:      "Total number of messages shed on a full connector queue",
		},
		[]string{"connector"},
	)

	m.connectorErrors = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "connector_errors_total",
			Help:      "Total number of connector I/O errors by connector and kind",
		},
		[]string{"connector", "kind"},
	)

	m.connectorStatus = auto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "connector_status",
			Help:      "Connector status code (0 disconnected, 1 connecting, 2 connected, 3 error, 4 reconnecting)",
		},
		[]string{"connector"},
	)

	m.reconnectAttempts = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "reconnect_attempts_total",
			Help:      "Total number of connector reconnect attempts",
		},
		[]string{"connector"},
	)

	// Filter Metrics - estimator quality
	m.filterUpdates = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "filter_updates_total",
		Help:      "Total number of Kalman filter measurement updates",
	})

	m.filterSingularFallback = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "filter_singular_fallback_total",
		Help:      "Total number of zero-gain fallbacks on singular innovation covariance",
	})

	m.filterUpdateLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "filter_update_latency_milliseconds",
		Help:      "Kalman filter update latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.winProbability = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "home_win_probability",
		Help:      "Current home team win probability estimate",
	})

	// Publishing Metrics - significance gate behavior
	m.updatesPublished = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "updates_published_total",
		Help:      "Total number of prediction updates that passed the significance gate",
	})

	m.updatesSuppressed = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "updates_suppressed_total",
		Help:      "Total number of updates suppressed by the significance gate",
	})

	m.callbackErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "callback_errors_total",
		Help:      "Total number of subscriber callback failures caught at the fan-out boundary",
	})

	m.callbackLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "callback_latency_milliseconds",
		Help:      "Subscriber callback latency in milliseconds (adds to source-thread latency)",
		Buckets:   m.histogramBuckets,
	})

	m.subscriberCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "subscriber_count",
		Help:      "Current number of registered prediction subscribers",
	})

	m.historySize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "history_size",
		Help:      "Current number of retained prediction updates",
	})

	// Stream Buffer Metrics
	m.bufferSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "buffer_size",
		Help:      "Current number of events in the stream buffer",
	})

	m.bufferCapacity = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "buffer_capacity",
		Help:      "Maximum stream buffer capacity",
	})

	m.bufferUtilization = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "buffer_utilization_ratio",
		Help:      "Stream buffer utilization ratio (current size / capacity)",
	})

	m.bufferEvictions = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "buffer_evictions_total",
		Help:      "Total number of events evicted from the stream buffer",
	})

	// Pipeline Metrics - end-to-end processing
	m.eventsProcessed = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "events_processed_total",
		Help:      "Total number of stream events processed end-to-end",
	})

	m.eventsDuplicate = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "events_duplicate_total",
		Help:      "Total number of duplicate messages detected (indicates source quality)",
	})

	m.processingLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "processing_latency_milliseconds",
		Help:      "End-to-end message processing latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	// System Performance Metrics
	m.systemMemoryUsage = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "system_memory_usage_bytes",
		Help:      "System memory usage in bytes",
	})

	m.systemGoroutineCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "system_goroutine_count",
		Help:      "Number of goroutines",
	})

	m.systemGCPauseTime = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "system_gc_pause_time_milliseconds",
		Help:      "GC pause time in milliseconds",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
	})
}

// RecordMessageReceived increments the received counter for a connector.
func (m *Manager) RecordMessageReceived(connector string) {
	m.messagesReceived.WithLabelValues(connector).Inc()
}

// RecordMessageDropped increments the dropped counter for a connector.
func (m *Manager) RecordMessageDropped(connector string) {
	m.messagesDropped.WithLabelValues(connector).Inc()
}

// RecordConnectorError records a connector I/O error by kind.
func (m *Manager) RecordConnectorError(connector, kind string) {
	m.connectorErrors.WithLabelValues(connector, kind).Inc()
}

// UpdateConnectorStatus sets the numeric status code for a connector.
func (m *Manager) UpdateConnectorStatus(connector string, code int) {
	m.connectorStatus.WithLabelValues(connector).Set(float64(code))
}

// RecordReconnectAttempt increments the reconnect counter for a connector.
func (m *Manager) RecordReconnectAttempt(connector string) {
	m.reconnectAttempts.WithLabelValues(connector).Inc()
}

// RecordFilterUpdate increments the filter update counter.
func (m *Manager) RecordFilterUpdate() {
	m.filterUpdates.Inc()
}

// RecordFilterSingularFallback increments the zero-gain fallback counter.
func (m *Manager) RecordFilterSingularFallback() {
	m.filterSingularFallback.Inc()
}

// RecordFilterUpdateLatency records filter update latency in milliseconds.
func (m *Manager) RecordFilterUpdateLatency(latencyMs float64) {
	m.filterUpdateLatency.Observe(latencyMs)
}

// UpdateWinProbability sets the current home win probability gauge.
func (m *Manager) UpdateWinProbability(p float64) {
	m.winProbability.Set(p)
}

// RecordUpdatePublished increments the published updates counter.
func (m *Manager) RecordUpdatePublished() {
	m.updatesPublished.Inc()
}

// RecordUpdateSuppressed increments the suppressed updates counter.
func (m *Manager) RecordUpdateSuppressed() {
	m.updatesSuppressed.Inc()
}

// RecordCallbackError increments the callback error counter.
func (m *Manager) RecordCallbackError() {
	m.callbackErrors.Inc()
}

// RecordCallbackLatency records subscriber callback latency in milliseconds.
func (m *Manager) RecordCallbackLatency(latencyMs float64) {
	m.callbackLatency.Observe(latencyMs)
}

// UpdateSubscriberCount sets the registered subscriber gauge.
func (m *Manager) UpdateSubscriberCount(count int) {
	m.subscriberCount.Set(float64(count))
}

// UpdateHistorySize sets the retained history gauge.
func (m *Manager) UpdateHistorySize(size int) {
	m.historySize.Set(float64(size))
}

// UpdateBufferSize sets the current stream buffer size.
func (m *Manager) UpdateBufferSize(size int) {
	m.bufferSize.Set(float64(size))
}

// UpdateBufferCapacity sets the stream buffer capacity gauge.
func (m *Manager) UpdateBufferCapacity(capacity int) {
	m.bufferCapacity.Set(float64(capacity))
}

// UpdateBufferUtilization sets the stream buffer utilization ratio.
func (m *Manager) UpdateBufferUtilization(utilization float64) {
	m.bufferUtilization.Set(utilization)
}

// RecordBufferEviction increments the eviction counter.
func (m *Manager) RecordBufferEviction() {
	m.bufferEvictions.Inc()
}

// RecordEventProcessed increments the processed events counter.
func (m *Manager) RecordEventProcessed() {
	m.eventsProcessed.Inc()
}

// RecordEventDuplicate increments the duplicate events counter.
func (m *Manager) RecordEventDuplicate() {
	m.eventsDuplicate.Inc()
}

// RecordProcessingLatency records end-to-end processing latency in milliseconds.
func (m *Manager) RecordProcessingLatency(latencyMs float64) {
	m.processingLatency.Observe(latencyMs)
}

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func (m *Manager) UpdateSystemMemoryUsage(bytes uint64) {
	m.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func (m *Manager) UpdateSystemGoroutineCount(count int) {
	m.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func (m *Manager) RecordSystemGCPauseTime(pauseMs float64) {
	m.systemGCPauseTime.Observe(pauseMs)
}

// Enabled reports whether metrics collection is enabled.
func (m *Manager) Enabled() bool {
	return m.enabled
}
