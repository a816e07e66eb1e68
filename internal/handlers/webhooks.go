package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/relaypoint-io/relaypoint/common/httputil"
	"github.com/relaypoint-io/relaypoint/internal/service"
)

// IngestHandler serves POST /webhooks/{source} and
// POST /webhooks/systems/{system}.
func (h *Handler) IngestHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	source := strings.TrimPrefix(r.URL.Path, "/webhooks/")
	source = strings.TrimPrefix(source, "systems/")
	source = strings.Trim(source, "/")
	if source == "" || strings.Contains(source, "/") {
		httputil.WriteError(w, http.StatusNotFound, "unknown webhook path")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}

	result, err := h.gateway.Ingest(r.Context(), service.IngestRequest{
		Source:         source,
		Body:           body,
		APIKey:         r.Header.Get("X-API-Key"),
		Bearer:         bearerToken(r),
		Signature:      r.Header.Get("X-Webhook-Signature"),
		Timestamp:      r.Header.Get("X-Timestamp"),
		TypeHint:       r.Header.Get("X-Event-Type"),
		IdempotencyKey: r.Header.Get("X-Idempotency-Key"),
		RemoteIP:       httputil.GetClientIP(r),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	status := http.StatusAccepted
	if result.Duplicate {
		// Replayed idempotency key: acknowledge without a new event.
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, map[string]string{
		"status":   "received",
		"event_id": result.EventID,
	})
}
