package handlers

import (
	"net/http"

	"github.com/relaypoint-io/relaypoint/common/httputil"
	"github.com/relaypoint-io/relaypoint/internal/models"
)

func dlqListRequest(r *http.Request) *models.ListDeadLettersRequest {
	page, limit := listParams(r)
	return &models.ListDeadLettersRequest{
		SourceSystem:    r.URL.Query().Get("source"),
		EventType:       r.URL.Query().Get("event_type"),
		IncludeArchived: r.URL.Query().Get("include_archived") == "true",
		Page:            page,
		Limit:           limit,
	}
}

// DLQHandler serves GET /api/v1/dlq.
func (h *Handler) DLQHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	req := dlqListRequest(r)
	entries, total, err := h.dlq.List(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"total":   total,
		"page":    req.Page,
		"limit":   req.Limit,
	})
}

// DLQEntryHandler serves GET and DELETE /api/v1/dlq/{id}.
func (h *Handler) DLQEntryHandler(w http.ResponseWriter, r *http.Request) {
	id := extractIDFromPath(r.URL.Path, "/api/v1/dlq")

	switch r.Method {
	case http.MethodGet:
		entry, err := h.dlq.Get(r.Context(), id)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, entry)

	case http.MethodDelete:
		if err := h.dlq.Delete(r.Context(), id); err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// RetryDLQHandler serves POST /api/v1/dlq/{id}/retry. The entry is
// archived after its event is requeued.
func (h *Handler) RetryDLQHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := extractIDFromPath(r.URL.Path, "/api/v1/dlq")
	if err := h.dlq.Retry(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "requeued"})
}

// ArchiveDLQHandler serves POST /api/v1/dlq/{id}/archive.
func (h *Handler) ArchiveDLQHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := extractIDFromPath(r.URL.Path, "/api/v1/dlq")
	if err := h.dlq.Archive(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "archived"})
}

// RetryAllDLQHandler serves POST /api/v1/dlq/retry-all, requeueing
// every unarchived entry matching the filters.
func (h *Handler) RetryAllDLQHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	requeued, err := h.dlq.RetryAll(r.Context(), dlqListRequest(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"requeued": requeued})
}
