package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/relaypoint-io/relaypoint/common/httputil"
	"github.com/relaypoint-io/relaypoint/internal/models"
)

// KeysHandler serves GET and POST /api/v1/keys.
func (h *Handler) KeysHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		keys, err := h.credentials.ListAPIKeys(r.Context())
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"keys": keys})

	case http.MethodPost:
		var req models.CreateAPIKeyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		key, plaintext, err := h.credentials.CreateAPIKey(r.Context(), req)
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		// The plaintext key is returned here and never again.
		httputil.WriteJSON(w, http.StatusCreated, map[string]any{
			"key":       key,
			"plaintext": plaintext,
		})

	default:
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// KeyHandler serves PATCH and DELETE /api/v1/keys/{id}. Keys are never
// removed, only deactivated; DELETE is shorthand for active=false.
func (h *Handler) KeyHandler(w http.ResponseWriter, r *http.Request) {
	id := extractIDFromPath(r.URL.Path, "/api/v1/keys")

	var active bool
	switch r.Method {
	case http.MethodPatch:
		var req struct {
			Active *bool `json:"active"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Active == nil {
			httputil.WriteError(w, http.StatusBadRequest, "body must set active")
			return
		}
		active = *req.Active
	case http.MethodDelete:
		active = false
	default:
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	key, err := h.credentials.SetAPIKeyActive(r.Context(), id, active)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, key)
}
