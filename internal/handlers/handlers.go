// Package handlers provides the HTTP handlers for the webhook gateway
// and the management API.
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/relaypoint-io/relaypoint/common/httputil"
	"github.com/relaypoint-io/relaypoint/common/logging"
	"github.com/relaypoint-io/relaypoint/internal/mapping"
	"github.com/relaypoint-io/relaypoint/internal/repository"
	"github.com/relaypoint-io/relaypoint/internal/service"
)

// Handler bundles the services behind the HTTP surface.
type Handler struct {
	gateway     *service.GatewayService
	events      *service.EventService
	dlq         *service.DLQService
	mappings    *service.MappingService
	credentials *service.CredentialService
	auth        *service.Authenticator
	logger      *logging.Logger
	maxBodySize int64
}

func NewHandler(
	gateway *service.GatewayService,
	events *service.EventService,
	dlq *service.DLQService,
	mappings *service.MappingService,
	credentials *service.CredentialService,
	auth *service.Authenticator,
	logger *logging.Logger,
	maxBodySize int64,
) *Handler {
	if maxBodySize <= 0 {
		maxBodySize = 1 << 20
	}
	return &Handler{
		gateway:     gateway,
		events:      events,
		dlq:         dlq,
		mappings:    mappings,
		credentials: credentials,
		auth:        auth,
		logger:      logger,
		maxBodySize: maxBodySize,
	}
}

// extractIDFromPath pulls the first path segment after prefix.
func extractIDFromPath(path, prefix string) string {
	remaining := strings.TrimPrefix(path, prefix)
	remaining = strings.TrimPrefix(remaining, "/")
	if idx := strings.Index(remaining, "/"); idx >= 0 {
		remaining = remaining[:idx]
	}
	return remaining
}

func bearerToken(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return ""
	}
	return strings.TrimSpace(authz[len("Bearer "):])
}

// RequireScope authenticates the caller and checks the scope before
// invoking next. Management routes wrap their handlers with it.
func (h *Handler) RequireScope(scope string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := h.auth.Authenticate(r.Context(), r.Header.Get("X-API-Key"), bearerToken(r))
		if err != nil {
			httputil.WriteError(w, http.StatusUnauthorized, "unauthenticated")
			return
		}
		if !principal.HasScope(scope) {
			httputil.WriteError(w, http.StatusForbidden, "insufficient scope")
			return
		}
		next(w, r)
	}
}

// writeServiceError maps service and repository errors onto HTTP
// status codes.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var rl *service.RateLimitedError

	switch {
	case errors.Is(err, service.ErrUnauthenticated):
		httputil.WriteError(w, http.StatusUnauthorized, "unauthenticated")
	case errors.Is(err, service.ErrForbidden):
		httputil.WriteError(w, http.StatusForbidden, "insufficient scope")
	case errors.Is(err, service.ErrInvalidSignature):
		httputil.WriteError(w, http.StatusUnauthorized, "invalid signature")
	case errors.Is(err, service.ErrExpiredSignature):
		httputil.WriteError(w, http.StatusUnauthorized, "expired signature")
	case errors.As(err, &rl):
		seconds := int(rl.RetryAfter.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		httputil.WriteRateLimited(w, seconds)
	case errors.Is(err, repository.ErrNotFound):
		httputil.WriteError(w, http.StatusNotFound, "not found")
	case errors.Is(err, repository.ErrDuplicate):
		httputil.WriteError(w, http.StatusConflict, "already exists")
	case errors.Is(err, mapping.ErrNoMapping):
		httputil.WriteError(w, http.StatusNotFound, "no active mapping for pair")
	default:
		h.logger.ErrorContext(r.Context(), "request failed",
			"path", r.URL.Path, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func listParams(r *http.Request) (page, limit int) {
	return queryInt(r, "page", 1), queryInt(r, "limit", 50)
}

// HealthCheck reports liveness.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
