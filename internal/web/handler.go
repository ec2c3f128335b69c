package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Shugur-Network/lens/internal/health"
	"github.com/Shugur-Network/lens/internal/logger"
	"github.com/Shugur-Network/lens/internal/metrics"
	"github.com/Shugur-Network/lens/internal/models"
	"github.com/Shugur-Network/lens/internal/query"
)

// SnapshotSource yields the engine's current query snapshot.
type SnapshotSource interface {
	Get() *query.Snapshot
}

// RelayStatusSource reports the connection state of every pooled relay.
type RelayStatusSource interface {
	Statuses() []models.RelayStatus
}

// BacklogFunc reports the worker pool backlog at request time.
type BacklogFunc func() int

// StatsData represents engine statistics
type StatsData struct {
	ActiveConnections int64            `json:"active_connections"`
	ActiveQueries     int64            `json:"active_queries"`
	EventsReceived    int64            `json:"events_received"`
	FramesSent        int64            `json:"frames_sent"`
	TotalErrors       int64            `json:"total_errors"`
	EventsPerSecond   float64          `json:"events_per_second"`
	ConnectsPerSecond float64          `json:"connects_per_second"`
	ErrorRate         float64          `json:"error_rate"`
	WorkerBacklog     int              `json:"worker_backlog"`
	MemoryUsage       map[string]int64 `json:"memory_usage"`
}

// RelayView pairs a relay's pool status with its dial history.
type RelayView struct {
	models.RelayStatus
	Health *health.RelayHealth `json:"health,omitempty"`
}

// Handler provides HTTP handlers for the status API
type Handler struct {
	log       *zap.Logger
	snapshots SnapshotSource
	relays    RelayStatusSource
	tracker   *health.Tracker
	backlog   BacklogFunc
	version   string
	startTime time.Time
	liveSince time.Time
}

// NewHandler creates a new status API handler
func NewHandler(snapshots SnapshotSource, relays RelayStatusSource, tracker *health.Tracker, backlog BacklogFunc, version string) *Handler {
	return &Handler{
		log:       logger.New("web"),
		snapshots: snapshots,
		relays:    relays,
		tracker:   tracker,
		backlog:   backlog,
		version:   version,
		startTime: time.Now(),
		liveSince: loadFirstBootTime(),
	}
}

// HandleSnapshotAPI serves the query snapshot endpoint. With an id query
// parameter it returns the single matching query view instead of the full
// snapshot.
func (h *Handler) HandleSnapshotAPI(w http.ResponseWriter, r *http.Request) {
	// Apply security headers for API endpoints
	apiHeaders := APISecurityHeaders()
	apiHeaders.Apply(w)

	// Set headers
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	// Handle preflight requests
	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	// Only allow GET requests
	if r.Method != "GET" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := h.snapshots.Get()

	if raw := r.URL.Query().Get("id"); raw != "" {
		id := SanitizeQueryParam(raw)
		for i := range snap.Queries {
			if snap.Queries[i].ID != id {
				continue
			}
			w.WriteHeader(http.StatusOK)
			if err := json.NewEncoder(w).Encode(&snap.Queries[i]); err != nil {
				h.log.Error("Failed to encode query view response", zap.Error(err))
			}
			return
		}
		http.Error(w, "Unknown query", http.StatusNotFound)
		return
	}

	// Encode and send response
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		h.log.Error("Failed to encode snapshot response", zap.Error(err))
		return
	}
}

// HandleRelaysAPI serves the relay roster endpoint
func (h *Handler) HandleRelaysAPI(w http.ResponseWriter, r *http.Request) {
	// Apply security headers for API endpoints
	apiHeaders := APISecurityHeaders()
	apiHeaders.Apply(w)

	// Set headers
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	// Handle preflight requests
	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	// Only allow GET requests
	if r.Method != "GET" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	statuses := h.relays.Statuses()
	views := make([]RelayView, 0, len(statuses))
	connected := 0
	for _, st := range statuses {
		view := RelayView{RelayStatus: st}
		if hs, ok := h.tracker.Status(st.Address); ok {
			view.Health = &hs
		}
		if st.Connected {
			connected++
		}
		views = append(views, view)
	}

	// Create response structure
	response := struct {
		Relays    []RelayView `json:"relays"`
		Total     int         `json:"total"`
		Connected int         `json:"connected"`
		Timestamp int64       `json:"timestamp"`
	}{
		Relays:    views,
		Total:     len(views),
		Connected: connected,
		Timestamp: time.Now().Unix(),
	}

	// Encode and send response
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.log.Error("Failed to encode relays response", zap.Error(err))
		return
	}
}

// HandleStatsAPI serves the stats API endpoint
func (h *Handler) HandleStatsAPI(w http.ResponseWriter, r *http.Request) {
	// Apply security headers for API endpoints
	apiHeaders := APISecurityHeaders()
	apiHeaders.Apply(w)

	// Set headers
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	// Handle preflight requests
	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	// Only allow GET requests
	if r.Method != "GET" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Get current stats
	stats := h.getStatsData()
	uptime := time.Since(h.startTime)

	// Create response structure
	response := struct {
		Stats     *StatsData `json:"stats"`
		Version   string     `json:"version"`
		Uptime    string     `json:"uptime"`
		LiveSince string     `json:"live_since"`
	}{
		Stats:     stats,
		Version:   h.version,
		Uptime:    h.formatUptime(uptime),
		LiveSince: h.liveSince.Format("Jan 2, 2006"),
	}

	// Encode and send response
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.log.Error("Failed to encode stats response", zap.Error(err))
		return
	}
}

// getStatsData retrieves current statistics
func (h *Handler) getStatsData() *StatsData {
	backlog := 0
	if h.backlog != nil {
		backlog = h.backlog()
	}

	return &StatsData{
		ActiveConnections: metrics.GetActiveConnectionsCount(),
		ActiveQueries:     metrics.GetActiveQueriesCount(),
		EventsReceived:    metrics.GetEventsReceivedCount(),
		FramesSent:        metrics.GetFramesSentCount(),
		TotalErrors:       metrics.GetErrorCount(),
		EventsPerSecond:   metrics.GetEventsPerSecond(),
		ConnectsPerSecond: metrics.GetConnectsPerSecond(),
		ErrorRate:         metrics.GetErrorRate(),
		WorkerBacklog:     backlog,
		MemoryUsage:       getMemoryUsage(),
	}
}

// formatUptime formats duration as a human-readable string
func (h *Handler) formatUptime(duration time.Duration) string {
	days := int(duration.Hours()) / 24
	hours := int(duration.Hours()) % 24
	minutes := int(duration.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	} else if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

// loadFirstBootTime reads or creates the .first_boot timestamp file
func loadFirstBootTime() time.Time {
	const path = ".first_boot"
	data, err := os.ReadFile(path)
	if err == nil {
		if t, err := time.Parse(time.RFC3339, strings.TrimSpace(string(data))); err == nil {
			return t
		}
	}
	now := time.Now().UTC()
	_ = os.WriteFile(path, []byte(now.Format(time.RFC3339)), 0644)
	return now
}

// getMemoryUsage returns current memory usage statistics
func getMemoryUsage() map[string]int64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	// Clamp instead of wrapping when a counter exceeds int64 range
	safeUint64ToInt64 := func(val uint64) int64 {
		if val > 9223372036854775807 {
			return 9223372036854775807
		}
		return int64(val)
	}

	return map[string]int64{
		"alloc":        safeUint64ToInt64(m.Alloc),
		"total_alloc":  safeUint64ToInt64(m.TotalAlloc),
		"sys":          safeUint64ToInt64(m.Sys),
		"heap_alloc":   safeUint64ToInt64(m.HeapAlloc),
		"heap_inuse":   safeUint64ToInt64(m.HeapInuse),
		"heap_objects": safeUint64ToInt64(m.HeapObjects),
		"stack_inuse":  safeUint64ToInt64(m.StackInuse),
		"num_gc":       int64(m.NumGC),
		"goroutines":   int64(runtime.NumGoroutine()),
	}
}
