package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SlidingWindow represents a simple sliding window for rate calculations
type SlidingWindow struct {
	mu      sync.RWMutex
	events  []int64 // timestamps of events
	window  time.Duration
	maxSize int
}

// NewSlidingWindow creates a new sliding window
func NewSlidingWindow(window time.Duration, maxSize int) *SlidingWindow {
	return &SlidingWindow{
		events:  make([]int64, 0, maxSize),
		window:  window,
		maxSize: maxSize,
	}
}

// Add adds an event timestamp to the window
func (sw *SlidingWindow) Add(timestamp int64) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.events = append(sw.events, timestamp)

	// Remove old events outside the window
	now := time.Now().Unix()
	cutoff := now - int64(sw.window.Seconds())

	i := 0
	for i < len(sw.events) && sw.events[i] < cutoff {
		i++
	}
	if i > 0 {
		sw.events = sw.events[i:]
	}

	if len(sw.events) > sw.maxSize {
		sw.events = sw.events[len(sw.events)-sw.maxSize:]
	}
}

// Rate returns the current rate (events per second)
func (sw *SlidingWindow) Rate() float64 {
	sw.mu.RLock()
	defer sw.mu.RUnlock()

	if len(sw.events) == 0 {
		return 0
	}

	now := time.Now().Unix()
	cutoff := now - int64(sw.window.Seconds())

	count := 0
	for _, timestamp := range sw.events {
		if timestamp >= cutoff {
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return float64(count) / sw.window.Seconds()
}

// Global sliding windows for rate calculations
var (
	eventWindow   = NewSlidingWindow(60*time.Second, 10000) // 1 minute window, max 10k events
	connectWindow = NewSlidingWindow(60*time.Second, 1000)  // 1 minute window, max 1k connects
)

// Global counters for the status API (prometheus metrics can't be read back directly)
var (
	eventsReceivedCount    int64
	activeConnectionsCount int64
	activeQueriesCount     int64
	framesSentCount        int64
	lastEventTimestamp     int64
	lastConnTimestamp      int64
	errorCount             int64
)

// GetEventsReceivedCount returns the count of inbound events since start
func GetEventsReceivedCount() int64 {
	return atomic.LoadInt64(&eventsReceivedCount)
}

// IncrementEventsReceived increments both the prometheus counter and our local counter
func IncrementEventsReceived() {
	EventsReceived.Inc()
	atomic.AddInt64(&eventsReceivedCount, 1)
	now := time.Now().Unix()
	atomic.StoreInt64(&lastEventTimestamp, now)
	eventWindow.Add(now)
}

// GetActiveConnectionsCount returns the current number of pooled relay connections
func GetActiveConnectionsCount() int64 {
	return atomic.LoadInt64(&activeConnectionsCount)
}

// IncrementActiveConnections increments both the prometheus gauge and our local counter
func IncrementActiveConnections() {
	ActiveConnections.Inc()
	atomic.AddInt64(&activeConnectionsCount, 1)
	now := time.Now().Unix()
	atomic.StoreInt64(&lastConnTimestamp, now)
	connectWindow.Add(now)
}

// DecrementActiveConnections decrements both the prometheus gauge and our local counter
func DecrementActiveConnections() {
	ActiveConnections.Dec()
	atomic.AddInt64(&activeConnectionsCount, -1)
}

// GetActiveQueriesCount returns the current number of registered queries
func GetActiveQueriesCount() int64 {
	return atomic.LoadInt64(&activeQueriesCount)
}

// IncrementActiveQueries increments the registered query counter
func IncrementActiveQueries() {
	ActiveQueries.Inc()
	atomic.AddInt64(&activeQueriesCount, 1)
}

// DecrementActiveQueries decrements the registered query counter
func DecrementActiveQueries() {
	ActiveQueries.Dec()
	atomic.AddInt64(&activeQueriesCount, -1)
}

// GetFramesSentCount returns the count of outbound protocol frames
func GetFramesSentCount() int64 {
	return atomic.LoadInt64(&framesSentCount)
}

// IncrementFramesSent increments the outbound frame counter for one frame type
func IncrementFramesSent(frameType string) {
	FramesSent.WithLabelValues(frameType).Inc()
	atomic.AddInt64(&framesSentCount, 1)
}

// IncrementErrorCount increments the error counter
func IncrementErrorCount() {
	atomic.AddInt64(&errorCount, 1)
}

// GetErrorCount returns the current error count
func GetErrorCount() int64 {
	return atomic.LoadInt64(&errorCount)
}

// GetEventsPerSecond calculates inbound events per second using a sliding window
func GetEventsPerSecond() float64 {
	return eventWindow.Rate()
}

// GetConnectsPerSecond calculates connection attempts per second using a sliding window
func GetConnectsPerSecond() float64 {
	return connectWindow.Rate()
}

// GetErrorRate calculates the error rate as a percentage of inbound events
func GetErrorRate() float64 {
	errors := atomic.LoadInt64(&errorCount)
	events := atomic.LoadInt64(&eventsReceivedCount)
	if events == 0 {
		return 0
	}
	return (float64(errors) / float64(events)) * 100
}

// SyncActiveConnectionsCount synchronizes the internal counter with the
// actual pool size to prevent drift between the gauge and reality.
func SyncActiveConnectionsCount(actualCount int64) {
	currentCount := atomic.LoadInt64(&activeConnectionsCount)
	if currentCount != actualCount {
		atomic.StoreInt64(&activeConnectionsCount, actualCount)
		ActiveConnections.Set(float64(actualCount))
	}
}

// Metrics for tracking engine performance and relay traffic
var (
	// Connection metrics
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lens_active_connections",
		Help: "The number of pooled relay connections",
	})

	ConnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lens_connect_attempts_total",
		Help: "The total number of relay connection attempts by result",
	}, []string{"result"}) // "ok", "failure"

	// Query metrics
	ActiveQueries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lens_active_queries",
		Help: "The number of registered queries",
	})

	ContinuationsAllocated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lens_continuations_allocated_total",
		Help: "The total number of continuation sub-queries allocated by filter diffs",
	})

	SnapshotsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lens_snapshots_published_total",
		Help: "The total number of state snapshots published to observers",
	})

	JanitorRemovals = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lens_janitor_removals_total",
		Help: "The total number of expired queries removed by the sweep loop",
	})

	// Inbound event metrics
	EventsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lens_events_received_total",
		Help: "The total number of events received from relays",
	})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lens_events_dropped_total",
		Help: "The total number of inbound events dropped by reason",
	}, []string{"reason"}) // "duplicate", "invalid_signature", "invalid_delegation", "unknown_subscription", "flood"

	FrameSizeBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lens_frame_size_bytes",
		Help:    "Size of inbound relay frames in bytes",
		Buckets: prometheus.ExponentialBuckets(10, 10, 6), // 10, 100, 1000, ..., 1000000
	})

	// Outbound frame metrics
	FramesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lens_frames_sent_total",
		Help: "The total number of protocol frames sent by type",
	}, []string{"type"}) // "REQ", "CLOSE", "EVENT", "AUTH"

	WriteOnce = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lens_write_once_total",
		Help: "The total number of one-shot writes by result",
	}, []string{"result"}) // "ok", "timeout", "error"

	AckLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lens_ack_latency_seconds",
		Help:    "Time between sending an event and the relay's acknowledgment",
		Buckets: prometheus.ExponentialBuckets(0.001, 10, 5), // 0.001, 0.01, 0.1, 1, 10
	})

	// Cache metrics
	CacheRecords = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lens_cache_records",
		Help: "The number of cached records by type",
	}, []string{"type"}) // "profile", "dm", "interaction"

	CacheOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lens_cache_operations_total",
		Help: "The total number of cache operations by kind",
	}, []string{"operation"}) // "preload", "get", "set", "parse_failure"

	// Worker metrics
	WorkerJobsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lens_worker_jobs_dropped_total",
		Help: "The total number of jobs dropped because the worker queue was full",
	})

	// Error metrics
	ErrorsCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lens_errors_total",
		Help: "The total number of errors by type",
	}, []string{"type"}) // "network", "timeout", "validation", "cache", ...
)

// RegisterMetrics ensures all label combinations exist before first use
func RegisterMetrics() {
	// Pre-register connect results
	for _, result := range []string{"ok", "failure"} {
		ConnectAttempts.WithLabelValues(result)
	}

	// Pre-register outbound frame types
	for _, frameType := range []string{"REQ", "CLOSE", "EVENT", "AUTH"} {
		FramesSent.WithLabelValues(frameType)
	}

	// Pre-register drop reasons
	dropReasons := []string{"duplicate", "invalid_signature", "invalid_delegation", "unknown_subscription", "flood"}
	for _, reason := range dropReasons {
		EventsDropped.WithLabelValues(reason)
	}

	// Pre-register write-once results
	for _, result := range []string{"ok", "timeout", "error"} {
		WriteOnce.WithLabelValues(result)
	}

	// Pre-register cache record types and operations
	for _, recordType := range []string{"profile", "dm", "interaction"} {
		CacheRecords.WithLabelValues(recordType)
	}
	for _, op := range []string{"preload", "get", "set", "parse_failure"} {
		CacheOperations.WithLabelValues(op)
	}

	// Pre-register error types
	errorTypes := []string{
		"network", "timeout", "validation", "cache", "identity", "internal",
	}
	for _, errType := range errorTypes {
		ErrorsCount.WithLabelValues(errType)
	}
}
