package handlers

import (
	"net/http"

	"github.com/relaypoint-io/relaypoint/common/httputil"
	"github.com/relaypoint-io/relaypoint/internal/models"
)

// EventsHandler serves GET /api/v1/events.
func (h *Handler) EventsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	page, limit := listParams(r)
	events, total, err := h.events.List(r.Context(), &models.ListEventsRequest{
		Status:       r.URL.Query().Get("status"),
		SourceSystem: r.URL.Query().Get("source"),
		EventType:    r.URL.Query().Get("event_type"),
		Page:         page,
		Limit:        limit,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"total":  total,
		"page":   page,
		"limit":  limit,
	})
}

// EventHandler serves GET /api/v1/events/{id}.
func (h *Handler) EventHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := extractIDFromPath(r.URL.Path, "/api/v1/events")
	event, attempts, err := h.events.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"event":    event,
		"attempts": attempts,
	})
}

// RetryEventHandler serves POST /api/v1/events/{id}/retry.
func (h *Handler) RetryEventHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := extractIDFromPath(r.URL.Path, "/api/v1/events")
	event, err := h.events.Retry(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, event)
}

// EventStatsHandler serves GET /api/v1/events/stats.
func (h *Handler) EventStatsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	stats, err := h.events.Stats(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}
