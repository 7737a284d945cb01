package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/sharesync/sharesync/pkg/signaling"
	"github.com/sharesync/sharesync/pkg/store"
)

// statusResponse is the envelope for the unauthenticated probe endpoints.
type statusResponse struct {
	Status    string      `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
}

func healthyResponse(data interface{}) statusResponse {
	return statusResponse{Status: "healthy", Timestamp: time.Now().UTC(), Data: data}
}

func unhealthyResponse(errMsg string) statusResponse {
	return statusResponse{Status: "unhealthy", Timestamp: time.Now().UTC(), Error: errMsg}
}

// HealthHandler handles the probe and public stats endpoints.
type HealthHandler struct {
	store   store.Store
	hub     *signaling.Hub
	version string
}

// NewHealthHandler creates a health handler. hub may be nil when the
// signaling service is disabled.
func NewHealthHandler(st store.Store, hub *signaling.Hub, version string) *HealthHandler {
	return &HealthHandler{store: st, hub: hub, version: version}
}

// Liveness handles GET /health. It succeeds whenever the process can
// serve HTTP, regardless of downstream health.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	data := map[string]interface{}{
		"service": "sharesync",
		"version": h.version,
	}
	if h.hub != nil {
		stats := h.hub.Stats()
		data["connected_peers"] = stats.ConnectedPeers
		data["active_rooms"] = stats.ActiveRooms
	}
	WriteJSON(w, http.StatusOK, healthyResponse(data))
}

// Readiness handles GET /health/ready. Readiness requires a reachable
// database; object storage failures surface per-request instead.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if h.store == nil {
		WriteJSON(w, http.StatusServiceUnavailable, unhealthyResponse("store not initialized"))
		return
	}
	if err := h.store.Ping(ctx); err != nil {
		WriteJSON(w, http.StatusServiceUnavailable, unhealthyResponse(err.Error()))
		return
	}
	WriteJSON(w, http.StatusOK, healthyResponse(nil))
}

// Stats handles GET /api/v1/stats.
func (h *HealthHandler) Stats(w http.ResponseWriter, r *http.Request) {
	totals, err := h.store.Stats(r.Context())
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, totals)
}
