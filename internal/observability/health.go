package observability

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// HealthChecker manages liveness and readiness state for /healthz and
// /readyz. Readiness flips on only after migrations ran, Postgres and NATS
// connected and the event log replay finished; the blocking reason is
// reported while it is off.
type HealthChecker struct {
	mu        sync.RWMutex
	ready     bool
	reason    string
	startTime time.Time
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		reason:    "starting",
		startTime: time.Now(),
	}
}

// SetReady marks the service as ready to accept traffic.
func (h *HealthChecker) SetReady() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = true
	h.reason = ""
}

// SetNotReady marks the service unavailable with a reason.
func (h *HealthChecker) SetNotReady(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = false
	h.reason = reason
}

// IsReady returns whether the service is ready.
func (h *HealthChecker) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ready
}

// LivenessHandler returns HTTP 200 whenever the process is alive.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	})
}

// ReadinessHandler returns HTTP 200 once the service is ready, 503 with
// the blocking reason otherwise.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	ready, reason := h.ready, h.reason
	h.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if ready {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ready",
		})
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "not_ready",
		"reason": reason,
	})
}
