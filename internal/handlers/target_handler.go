package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/transitwatch/internal/common"
	"github.com/ternarybob/transitwatch/internal/interfaces"
	"github.com/ternarybob/transitwatch/internal/models"
)

// TargetHandler reads and replaces the active target set
type TargetHandler struct {
	monitor         interfaces.MonitorService
	locatorTemplate string
	timeout         time.Duration
	logger          arbor.ILogger
}

// NewTargetHandler creates a new target handler. timeout bounds a reconfiguration.
func NewTargetHandler(monitor interfaces.MonitorService, locatorTemplate string, timeout time.Duration, logger arbor.ILogger) *TargetHandler {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &TargetHandler{
		monitor:         monitor,
		locatorTemplate: locatorTemplate,
		timeout:         timeout,
		logger:          logger,
	}
}

// ListHandler handles GET /api/targets
func (h *TargetHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	targets := h.monitor.Targets()
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"targets": targets,
		"count":   len(targets),
	})
}

// ReplaceHandler handles PUT /api/targets with a full target set.
// Locators are derived server side.
func (h *TargetHandler) ReplaceHandler(w http.ResponseWriter, r *http.Request) {
	var body []common.TargetConfig
	if err := decodeJSON(r, &body); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	targets := make([]models.Target, 0, len(body))
	for _, t := range body {
		targets = append(targets, models.NewTarget(t.ID, t.Line, t.Stop, h.locatorTemplate))
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	err := h.monitor.Reconfigure(ctx, targets)
	switch {
	case err == nil:
	case models.IsReconfigurationFailure(err):
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, context.DeadlineExceeded):
		// An unacknowledged set also marks the worker lost; the timeout is the more specific answer
		WriteError(w, http.StatusGatewayTimeout, "Worker did not acknowledge in time")
		return
	case errors.Is(err, models.ErrChannelLost):
		WriteError(w, http.StatusServiceUnavailable, "Worker unavailable, relaunch required")
		return
	default:
		h.logger.Error().Err(err).Msg("Failed to reconfigure targets")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":  "accepted",
		"targets": models.TargetIDs(targets),
	})
}
