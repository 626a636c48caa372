package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/transitwatch/internal/interfaces"
)

// WorkerHandler exposes worker recovery and browser recycling
type WorkerHandler struct {
	monitor  interfaces.MonitorService
	events   EventSource
	recycler RecycleTrigger
	timeout  time.Duration
	logger   arbor.ILogger
}

// NewWorkerHandler creates a new worker handler
func NewWorkerHandler(monitor interfaces.MonitorService, events EventSource, recycler RecycleTrigger, timeout time.Duration, logger arbor.ILogger) *WorkerHandler {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &WorkerHandler{
		monitor:  monitor,
		events:   events,
		recycler: recycler,
		timeout:  timeout,
		logger:   logger,
	}
}

// StatusHandler handles GET /api/worker
func (h *WorkerHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"alive":   h.monitor.WorkerAlive(),
		"reason":  h.events.Worker().Reason,
		"recycle": h.recycler.GetStatus(),
	})
}

// RelaunchHandler handles POST /api/worker/relaunch
func (h *WorkerHandler) RelaunchHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.monitor.Relaunch(ctx); err != nil {
		h.logger.Error().Err(err).Msg("Worker relaunch failed")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "relaunched",
		"targets": len(h.monitor.Targets()),
	})
}

// RecycleHandler handles POST /api/worker/recycle
func (h *WorkerHandler) RecycleHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	if err := h.recycler.TriggerNow(); err != nil {
		WriteError(w, http.StatusConflict, err.Error())
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{
		"status":  "started",
		"message": "Browser recycle started",
	})
}
