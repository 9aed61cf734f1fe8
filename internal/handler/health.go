// Package handler provides the relay's HTTP handlers.
package handler

import (
	"net/http"
	"time"

	"github.com/cloudfly/chat-relay/internal/model"
)

// HealthChecker reports whether a dependency is usable.
type HealthChecker interface {
	Healthy() bool
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	bus     HealthChecker
	service string
	version string
	started time.Time
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(bus HealthChecker, service, version string) *HealthHandler {
	return &HealthHandler{
		bus:     bus,
		service: service,
		version: version,
		started: time.Now(),
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"service":   h.service,
		"timestamp": model.FormatTime(time.Now()),
		"uptime":    time.Since(h.started).Seconds(),
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil || !h.bus.Healthy() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "room bus not connected",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}

// Root handles GET /
func (h *HealthHandler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": h.service,
		"version": h.version,
		"status":  "running",
	})
}
