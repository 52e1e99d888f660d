package server

import (
	"net/http"
	"sync"
	"time"
)

// HealthStatus tracks process-level health for the /health endpoint: a
// mutex-guarded status struct covering the signer key, the loaded trust
// policy, and the configured revocation oracle.
type HealthStatus struct {
	mu        sync.RWMutex
	startedAt time.Time
	Signer    string `json:"signer"`
	Policy    string `json:"policy"`
	Revocation string `json:"revocation"`
}

// NewHealthStatus builds a HealthStatus with all components marked
// unavailable; callers flip them to "ok" as each collaborator loads.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{startedAt: time.Now(), Signer: "unavailable", Policy: "unavailable", Revocation: "disabled"}
}

func (h *HealthStatus) SetSigner(status string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Signer = status
}

func (h *HealthStatus) SetPolicy(status string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Policy = status
}

func (h *HealthStatus) SetRevocation(status string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Revocation = status
}

// ServeHTTP handles GET /health.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	status := "ok"
	if h.Signer != "ok" || h.Policy != "ok" {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          status,
		"uptime_seconds":  int64(time.Since(h.startedAt).Seconds()),
		"signer":          h.Signer,
		"policy":          h.Policy,
		"revocation":      h.Revocation,
	})
}
