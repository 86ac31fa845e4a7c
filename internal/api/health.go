package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/serena-health/breath-engine/internal/database"
)

// HealthResponse is the /api/v1/status response body; /healthz answers with
// a bare {status, timestamp} object instead.
type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
}

// HealthHandler serves liveness/readiness checks. The teacher's
// MQTT/file-watcher/transcription/update-checker checks have no referent
// here, so this carries only what the service actually depends on:
// database reachability and build version.
type HealthHandler struct {
	db        *database.DB
	version   string
	startTime time.Time
}

func NewHealthHandler(db *database.DB, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{db: db, version: version, startTime: startTime}
}

// Liveness answers /healthz with a bare process-alive signal — no database
// round trip, so it never flaps during a slow query or connection storm.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

// ServeHTTP answers /api/v1/status with a database ping and build version.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.db.HealthCheck(r.Context()); err != nil {
		checks["database"] = "error"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	resp := HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(resp)
}

// Ping answers a bare readiness check with no database round trip, for load
// balancers and clients probing whether the service is reachable at all.
func Ping(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]bool{"pong": true})
}
