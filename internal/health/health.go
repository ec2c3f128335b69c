package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/Shugur-Network/lens/internal/constants"
	"github.com/Shugur-Network/lens/internal/logger"
	"github.com/Shugur-Network/lens/internal/models"
)

// HealthStatus represents the overall health status
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentStatus represents the status of a specific component
type ComponentStatus struct {
	Name    string                 `json:"name"`
	Status  HealthStatus           `json:"status"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// HealthResponse represents the complete health check response
type HealthResponse struct {
	Status     HealthStatus           `json:"status"`
	Timestamp  time.Time              `json:"timestamp"`
	Version    string                 `json:"version"`
	Uptime     string                 `json:"uptime"`
	Components []*ComponentStatus     `json:"components"`
	Summary    map[string]interface{} `json:"summary"`
}

// PoolStats reports connection-pool occupancy for health evaluation.
type PoolStats interface {
	Statuses() []models.RelayStatus
	Size() int
}

// QueryStats reports how many queries the engine currently tracks.
type QueryStats interface {
	Size() int
}

// Checker evaluates the engine's components for the /healthz endpoint.
type Checker struct {
	log       *zap.Logger
	tracker   *Tracker
	pool      PoolStats
	queries   QueryStats
	ready     func() bool
	version   string
	startTime time.Time
}

// NewChecker creates a new health checker. ready reports whether the cache
// preload has completed.
func NewChecker(tracker *Tracker, pool PoolStats, queries QueryStats, ready func() bool, version string) *Checker {
	return &Checker{
		log:       logger.New("health"),
		tracker:   tracker,
		pool:      pool,
		queries:   queries,
		ready:     ready,
		version:   version,
		startTime: time.Now(),
	}
}

// CheckHealth evaluates every component and aggregates an overall status.
func (h *Checker) CheckHealth(ctx context.Context) *HealthResponse {
	startTime := time.Now()
	components := make([]*ComponentStatus, 0, 4)

	components = append(components, h.checkRelays())
	components = append(components, h.checkCache())
	components = append(components, h.checkMemory())
	components = append(components, h.checkSystemResources())

	overallStatus := h.determineOverallStatus(components)
	uptime := time.Since(h.startTime)

	return &HealthResponse{
		Status:     overallStatus,
		Timestamp:  time.Now(),
		Version:    h.version,
		Uptime:     h.formatUptime(uptime),
		Components: components,
		Summary: map[string]interface{}{
			"total_components":     len(components),
			"healthy_components":   h.countComponentsByStatus(components, StatusHealthy),
			"degraded_components":  h.countComponentsByStatus(components, StatusDegraded),
			"unhealthy_components": h.countComponentsByStatus(components, StatusUnhealthy),
			"check_duration_ms":    time.Since(startTime).Milliseconds(),
		},
	}
}

// checkRelays evaluates pool connectivity against the tracker's backoff
// state.
func (h *Checker) checkRelays() *ComponentStatus {
	status := &ComponentStatus{
		Name:    "relays",
		Details: make(map[string]interface{}),
	}

	statuses := h.pool.Statuses()
	connected := 0
	for _, s := range statuses {
		if s.Connected {
			connected++
		}
	}
	backingOff := h.tracker.BackingOff()

	status.Details["known"] = len(statuses)
	status.Details["connected"] = connected
	status.Details["backing_off"] = backingOff

	switch {
	case len(statuses) == 0:
		status.Status = StatusDegraded
		status.Message = "No relays configured"
	case connected == 0:
		status.Status = StatusUnhealthy
		status.Message = fmt.Sprintf("No relay connected (%d known, %d backing off)",
			len(statuses), backingOff)
	case connected < len(statuses):
		status.Status = StatusDegraded
		status.Message = fmt.Sprintf("Partial connectivity: %d/%d relays connected",
			connected, len(statuses))
	default:
		status.Status = StatusHealthy
		status.Message = fmt.Sprintf("All %d relays connected", connected)
	}

	return status
}

// checkCache reports whether the record cache finished preloading.
func (h *Checker) checkCache() *ComponentStatus {
	status := &ComponentStatus{
		Name:    "cache",
		Details: make(map[string]interface{}),
	}

	if h.queries != nil {
		status.Details["active_queries"] = h.queries.Size()
	}

	if h.ready == nil || h.ready() {
		status.Status = StatusHealthy
		status.Message = "Cache preloaded"
	} else {
		status.Status = StatusDegraded
		status.Message = "Cache preload in progress"
	}

	return status
}

// checkMemory checks memory usage
func (h *Checker) checkMemory() *ComponentStatus {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	status := &ComponentStatus{
		Name:    "memory",
		Details: make(map[string]interface{}),
	}

	allocMB := float64(m.Alloc) / 1024 / 1024
	sysMB := float64(m.Sys) / 1024 / 1024
	heapMB := float64(m.HeapAlloc) / 1024 / 1024

	status.Details["alloc_mb"] = allocMB
	status.Details["sys_mb"] = sysMB
	status.Details["heap_mb"] = heapMB
	status.Details["num_gc"] = m.NumGC

	const (
		memoryWarningMB  = 500
		memoryCriticalMB = 1000
	)

	if allocMB > memoryCriticalMB {
		status.Status = StatusUnhealthy
		status.Message = fmt.Sprintf("High memory usage: %.1f MB", allocMB)
	} else if allocMB > memoryWarningMB {
		status.Status = StatusDegraded
		status.Message = fmt.Sprintf("Elevated memory usage: %.1f MB", allocMB)
	} else {
		status.Status = StatusHealthy
		status.Message = fmt.Sprintf("Memory usage normal: %.1f MB", allocMB)
	}

	return status
}

// checkSystemResources checks system-level resources
func (h *Checker) checkSystemResources() *ComponentStatus {
	status := &ComponentStatus{
		Name:    "system",
		Details: make(map[string]interface{}),
	}

	goroutineCount := runtime.NumGoroutine()
	status.Details["goroutines"] = goroutineCount
	status.Details["cpus"] = runtime.NumCPU()

	const (
		goroutineWarning  = 1000
		goroutineCritical = 5000
	)

	if goroutineCount > goroutineCritical {
		status.Status = StatusUnhealthy
		status.Message = fmt.Sprintf("High goroutine count: %d", goroutineCount)
	} else if goroutineCount > goroutineWarning {
		status.Status = StatusDegraded
		status.Message = fmt.Sprintf("Elevated goroutine count: %d", goroutineCount)
	} else {
		status.Status = StatusHealthy
		status.Message = fmt.Sprintf("System resources normal: %d goroutines", goroutineCount)
	}

	return status
}

// determineOverallStatus determines the overall health status from components
func (h *Checker) determineOverallStatus(components []*ComponentStatus) HealthStatus {
	unhealthyCount := 0
	degradedCount := 0

	for _, comp := range components {
		switch comp.Status {
		case StatusUnhealthy:
			unhealthyCount++
		case StatusDegraded:
			degradedCount++
		}
	}

	if unhealthyCount > 0 {
		return StatusUnhealthy
	}
	if degradedCount > 0 {
		return StatusDegraded
	}
	return StatusHealthy
}

// countComponentsByStatus counts components with a specific status
func (h *Checker) countComponentsByStatus(components []*ComponentStatus, status HealthStatus) int {
	count := 0
	for _, comp := range components {
		if comp.Status == status {
			count++
		}
	}
	return count
}

// formatUptime formats uptime duration as a human-readable string
func (h *Checker) formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	} else if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

// HandleHealth is the HTTP handler for health checks
func (h *Checker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), constants.HealthCheckTimeout)
	defer cancel()

	// Readiness probes ask with ready=1 and expect 503 until the cache
	// preload completes.
	ready := r.URL.Query().Get("ready")

	healthResponse := h.CheckHealth(ctx)

	statusCode := http.StatusOK
	switch healthResponse.Status {
	case StatusHealthy:
		statusCode = http.StatusOK
	case StatusDegraded:
		if ready == "1" && h.ready != nil && !h.ready() {
			statusCode = http.StatusServiceUnavailable
		}
	case StatusUnhealthy:
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(healthResponse); err != nil {
		h.log.Error("Failed to encode health response", zap.Error(err))
		return
	}

	h.log.Debug("Health check completed",
		zap.String("status", string(healthResponse.Status)),
		zap.Int("status_code", statusCode),
		zap.String("client_ip", r.RemoteAddr))
}
