package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/relaypoint-io/relaypoint/common/httputil"
	"github.com/relaypoint-io/relaypoint/internal/models"
)

// MappingsHandler serves GET and POST /api/v1/mappings.
func (h *Handler) MappingsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		mappings, err := h.mappings.List(r.Context(),
			r.URL.Query().Get("event_type"), r.URL.Query().Get("target_system"))
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"mappings": mappings})

	case http.MethodPost:
		var req models.CreateMappingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		m, err := h.mappings.Create(r.Context(), req)
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, m)

	default:
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// MappingHandler serves GET /api/v1/mappings/{id}.
func (h *Handler) MappingHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := extractIDFromPath(r.URL.Path, "/api/v1/mappings")
	m, err := h.mappings.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, m)
}

// TestMappingHandler serves POST /api/v1/mappings/test, a dry-run of
// the active mapping for a pair against caller-supplied fields.
func (h *Handler) TestMappingHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req models.TestMappingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	projected, m, err := h.mappings.Test(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"projected":       projected,
		"mapping_id":      m.ID,
		"mapping_version": m.Version,
	})
}
