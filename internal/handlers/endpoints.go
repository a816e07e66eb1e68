package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/relaypoint-io/relaypoint/common/httputil"
	"github.com/relaypoint-io/relaypoint/internal/models"
	"github.com/relaypoint-io/relaypoint/internal/repository"
)

// EndpointsHandler serves GET and POST /api/v1/endpoints.
func (h *Handler) EndpointsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		activeOnly := r.URL.Query().Get("active") == "true"
		endpoints, err := h.credentials.ListEndpoints(r.Context(), activeOnly)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"endpoints": endpoints})

	case http.MethodPost:
		var req models.CreateEndpointRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		ep, secret, err := h.credentials.CreateEndpoint(r.Context(), req)
		if errors.Is(err, repository.ErrDuplicate) {
			h.writeServiceError(w, r, err)
			return
		}
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		// The plaintext secret is returned here and never again.
		httputil.WriteJSON(w, http.StatusCreated, map[string]any{
			"endpoint": ep,
			"secret":   secret,
		})

	default:
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// EndpointHandler serves GET and PUT/PATCH /api/v1/endpoints/{id}.
func (h *Handler) EndpointHandler(w http.ResponseWriter, r *http.Request) {
	id := extractIDFromPath(r.URL.Path, "/api/v1/endpoints")

	switch r.Method {
	case http.MethodGet:
		ep, err := h.credentials.GetEndpoint(r.Context(), id)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, ep)

	case http.MethodPut, http.MethodPatch:
		var req models.UpdateEndpointRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		ep, err := h.credentials.UpdateEndpoint(r.Context(), id, req)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, ep)

	default:
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// RotateSecretHandler serves POST /api/v1/endpoints/{id}/rotate-secret.
func (h *Handler) RotateSecretHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := extractIDFromPath(r.URL.Path, "/api/v1/endpoints")
	ep, secret, err := h.credentials.RotateEndpointSecret(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"endpoint": ep,
		"secret":   secret,
	})
}
