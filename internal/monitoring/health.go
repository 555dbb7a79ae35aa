package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

var startTime = time.Now()

type HealthChecker struct {
	mu          sync.RWMutex
	lastCycle   time.Time
	cycleCount  int64
	isConnected bool
	errors      []string
}

type HealthStatus struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	LastCycle   time.Time `json:"last_cycle"`
	CycleCount  int64     `json:"cycle_count"`
	IsConnected bool      `json:"is_connected"`
	Uptime      string    `json:"uptime"`
	Errors      []string  `json:"errors,omitempty"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		errors: make([]string, 0),
	}
}

// MarkCycle records a completed evaluator cycle.
func (h *HealthChecker) MarkCycle() {
	h.mu.Lock()
	h.lastCycle = time.Now()
	h.cycleCount++
	h.mu.Unlock()
}

// SetConnected records whether the market-data connection is up.
func (h *HealthChecker) SetConnected(connected bool) {
	h.mu.Lock()
	h.isConnected = connected
	h.mu.Unlock()
}

// AddError records a fatal error surfaced on the health endpoint.
func (h *HealthChecker) AddError(msg string) {
	h.mu.Lock()
	h.errors = append(h.errors, msg)
	h.mu.Unlock()
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	if !h.isConnected || (h.cycleCount > 0 && time.Since(h.lastCycle) > 10*time.Minute) {
		status = "degraded"
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	if len(h.errors) > 0 {
		status = "unhealthy"
		w.WriteHeader(http.StatusInternalServerError)
	}

	health := HealthStatus{
		Status:      status,
		Timestamp:   time.Now(),
		LastCycle:   h.lastCycle,
		CycleCount:  h.cycleCount,
		IsConnected: h.isConnected,
		Uptime:      time.Since(startTime).String(),
		Errors:      h.errors,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}
