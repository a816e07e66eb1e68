// Package server provides HTTP routing for the hub.
package server

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relaypoint-io/relaypoint/common/middleware"
	"github.com/relaypoint-io/relaypoint/internal/handlers"
	"github.com/relaypoint-io/relaypoint/internal/models"
)

// NewRouter constructs a ServeMux with the gateway and management API
// routes registered. Webhook ingestion authenticates inside the
// gateway service; management routes are scope-checked here.
func NewRouter(h *handlers.Handler) http.Handler {
	mux := http.NewServeMux()

	// Health and metrics
	mux.HandleFunc("/healthz", h.HealthCheck)
	mux.Handle("/metrics", promhttp.Handler())

	// Webhook ingestion
	mux.HandleFunc("/webhooks/", h.IngestHandler)

	// Event inspection routes
	mux.HandleFunc("/api/v1/events", h.RequireScope(models.ScopeEventsRead, h.EventsHandler))
	mux.HandleFunc("/api/v1/events/", eventRouteHandler(h))

	// Mapping routes
	mux.HandleFunc("/api/v1/mappings", h.RequireScope(models.ScopeAdmin, h.MappingsHandler))
	mux.HandleFunc("/api/v1/mappings/", mappingRouteHandler(h))

	// Endpoint routes
	mux.HandleFunc("/api/v1/endpoints", h.RequireScope(models.ScopeAdmin, h.EndpointsHandler))
	mux.HandleFunc("/api/v1/endpoints/", endpointRouteHandler(h))

	// API key routes
	mux.HandleFunc("/api/v1/keys", h.RequireScope(models.ScopeAdmin, h.KeysHandler))
	mux.HandleFunc("/api/v1/keys/", h.RequireScope(models.ScopeAdmin, h.KeyHandler))

	// Dead letter routes; reads need events:read, mutations need admin
	mux.HandleFunc("/api/v1/dlq", h.RequireScope(models.ScopeEventsRead, h.DLQHandler))
	mux.HandleFunc("/api/v1/dlq/", dlqRouteHandler(h))

	return middleware.RequestID(mux)
}

// eventRouteHandler routes /api/v1/events/{id}/* requests.
func eventRouteHandler(h *handlers.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		switch {
		case path == "/api/v1/events/stats":
			h.RequireScope(models.ScopeEventsRead, h.EventStatsHandler)(w, r)
		case strings.HasSuffix(path, "/retry"):
			h.RequireScope(models.ScopeAdmin, h.RetryEventHandler)(w, r)
		default:
			h.RequireScope(models.ScopeEventsRead, h.EventHandler)(w, r)
		}
	}
}

// mappingRouteHandler routes /api/v1/mappings/{id} and /test requests.
func mappingRouteHandler(h *handlers.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/v1/mappings/test":
			h.RequireScope(models.ScopeAdmin, h.TestMappingHandler)(w, r)
		default:
			h.RequireScope(models.ScopeAdmin, h.MappingHandler)(w, r)
		}
	}
}

// endpointRouteHandler routes /api/v1/endpoints/{id}/* requests.
func endpointRouteHandler(h *handlers.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/rotate-secret"):
			h.RequireScope(models.ScopeAdmin, h.RotateSecretHandler)(w, r)
		default:
			h.RequireScope(models.ScopeAdmin, h.EndpointHandler)(w, r)
		}
	}
}

// dlqRouteHandler routes /api/v1/dlq/{id}/* and /retry-all requests.
func dlqRouteHandler(h *handlers.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		switch {
		case path == "/api/v1/dlq/retry-all":
			h.RequireScope(models.ScopeAdmin, h.RetryAllDLQHandler)(w, r)
		case strings.HasSuffix(path, "/retry"):
			h.RequireScope(models.ScopeAdmin, h.RetryDLQHandler)(w, r)
		case strings.HasSuffix(path, "/archive"):
			h.RequireScope(models.ScopeAdmin, h.ArchiveDLQHandler)(w, r)
		case r.Method == http.MethodGet:
			h.RequireScope(models.ScopeEventsRead, h.DLQEntryHandler)(w, r)
		default:
			h.RequireScope(models.ScopeAdmin, h.DLQEntryHandler)(w, r)
		}
	}
}
