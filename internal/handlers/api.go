package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/transitwatch/internal/common"
	"github.com/ternarybob/transitwatch/internal/interfaces"
)

type APIHandler struct {
	monitor    interfaces.MonitorService
	events     EventSource
	instanceID string
	logger     arbor.ILogger
}

func NewAPIHandler(monitor interfaces.MonitorService, events EventSource, instanceID string, logger arbor.ILogger) *APIHandler {
	return &APIHandler{
		monitor:    monitor,
		events:     events,
		instanceID: instanceID,
		logger:     logger,
	}
}

// VersionHandler returns version information
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	WriteJSON(w, http.StatusOK, common.GetVersionInfo())
}

// HealthHandler reports worker reachability and subscriber load.
// A lost worker is reported with 503 so health checks notice without parsing.
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	alive := h.monitor.WorkerAlive()
	status := "ok"
	code := http.StatusOK
	if !alive {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	WriteJSON(w, code, map[string]interface{}{
		"status":             status,
		"worker_alive":       alive,
		"worker_reason":      h.events.Worker().Reason,
		"subscribers":        h.events.SubscriberCount(),
		"targets":            len(h.monitor.Targets()),
		"goroutines":         common.Goroutines(),
		"server_instance_id": h.instanceID,
	})
}

// NotFoundHandler handles 404 errors with JSON response
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusNotFound, map[string]interface{}{
		"error":   "Not Found",
		"path":    r.URL.Path,
		"message": "The requested endpoint does not exist",
	})
}
