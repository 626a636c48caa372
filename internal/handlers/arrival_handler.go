package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/transitwatch/internal/models"
	"github.com/ternarybob/transitwatch/internal/services/hub"
)

// ArrivalHandler serves the arrival cache. It never triggers a scrape.
type ArrivalHandler struct {
	arrivals ArrivalReader
	logger   arbor.ILogger
}

// NewArrivalHandler creates a new arrival handler
func NewArrivalHandler(arrivals ArrivalReader, logger arbor.ILogger) *ArrivalHandler {
	return &ArrivalHandler{
		arrivals: arrivals,
		logger:   logger,
	}
}

// ListHandler handles GET /api/arrivals
func (h *ArrivalHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	arrivals := h.arrivals.Snapshot()
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"arrivals": arrivals,
		"statuses": h.arrivals.Statuses(),
		"count":    len(arrivals),
	})
}

// GetHandler handles GET /api/arrivals/{id}
func (h *ArrivalHandler) GetHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/arrivals/"), "/")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "Target ID is required")
		return
	}

	entry, err := h.arrivals.Query(id)
	switch {
	case errors.Is(err, models.ErrTargetNotFound):
		WriteError(w, http.StatusNotFound, "Target not tracked: "+id)
		return
	case errors.Is(err, hub.ErrNoArrival):
		WriteError(w, http.StatusNotFound, "No arrival yet for: "+id)
		return
	case err != nil:
		h.logger.Error().Err(err).Str("target_id", id).Msg("Failed to query arrival")
		WriteError(w, http.StatusInternalServerError, "Failed to query arrival")
		return
	}

	WriteJSON(w, http.StatusOK, entry)
}

// LegacyHandler handles GET /api/bustimes with the flat array shape
func (h *ArrivalHandler) LegacyHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	WriteJSON(w, http.StatusOK, h.arrivals.Legacy())
}
