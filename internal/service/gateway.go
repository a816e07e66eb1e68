package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relaypoint-io/relaypoint/common/logging"
	"github.com/relaypoint-io/relaypoint/internal/audit"
	"github.com/relaypoint-io/relaypoint/internal/metrics"
	"github.com/relaypoint-io/relaypoint/internal/models"
	"github.com/relaypoint-io/relaypoint/internal/normalizer"
	"github.com/relaypoint-io/relaypoint/internal/queue"
	"github.com/relaypoint-io/relaypoint/internal/ratelimit"
	"github.com/relaypoint-io/relaypoint/internal/repository"
	"github.com/relaypoint-io/relaypoint/pkg/signature"
)

// IngestRequest carries everything the gateway needs from one inbound
// webhook call.
type IngestRequest struct {
	Source         string
	Body           []byte
	APIKey         string
	Bearer         string
	Signature      string
	Timestamp      string
	TypeHint       string
	IdempotencyKey string
	RemoteIP       string
}

// IngestResult reports the created (or previously created) event.
type IngestResult struct {
	EventID   string
	EventType string
	Duplicate bool
}

// GatewayService authenticates, rate-limits and normalizes inbound
// webhooks, persists the event and enqueues its first delivery.
type GatewayService struct {
	repo      repository.Repository
	norm      *normalizer.Normalizer
	limiter   ratelimit.Limiter
	queue     queue.Queue
	auth      *Authenticator
	audit     audit.Recorder
	tolerance time.Duration
	logger    *logging.Logger
}

func NewGatewayService(
	repo repository.Repository,
	norm *normalizer.Normalizer,
	limiter ratelimit.Limiter,
	q queue.Queue,
	auth *Authenticator,
	recorder audit.Recorder,
	tolerance time.Duration,
	logger *logging.Logger,
) *GatewayService {
	if tolerance <= 0 {
		tolerance = signature.DefaultTolerance
	}
	return &GatewayService{
		repo:      repo,
		norm:      norm,
		limiter:   limiter,
		queue:     q,
		auth:      auth,
		audit:     recorder,
		tolerance: tolerance,
		logger:    logger,
	}
}

// Ingest runs the full inbound pipeline. The receipt is recorded for
// every call, accepted or not.
func (s *GatewayService) Ingest(ctx context.Context, req IngestRequest) (result *IngestResult, err error) {
	receipt := audit.Receipt{
		SourceSystem: req.Source,
		EventType:    req.TypeHint,
		RemoteIP:     req.RemoteIP,
		BodyBytes:    len(req.Body),
		ReceivedAt:   time.Now().UTC(),
	}
	defer func() {
		receipt.Outcome = outcomeFor(err)
		if result != nil {
			receipt.EventID = result.EventID
			receipt.EventType = result.EventType
		}
		s.audit.Record(ctx, receipt)
		metrics.InboundTotal.WithLabelValues(req.Source, receipt.Outcome).Inc()
	}()

	principal, err := s.auth.Authenticate(ctx, req.APIKey, req.Bearer)
	if err != nil {
		return nil, err
	}
	receipt.KeyID = principal.ID

	if !principal.HasScope(models.ScopeEventsWrite) {
		return nil, ErrForbidden
	}

	decision, err := s.limiter.Allow(ctx, principal.ID)
	if err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	if !decision.Allowed {
		return nil, &RateLimitedError{RetryAfter: decision.RetryAfter}
	}

	if err := s.verifySignature(ctx, req); err != nil {
		return nil, err
	}

	canonical := s.norm.Normalize(req.Source, req.Body, req.TypeHint)
	metrics.InboundBytesTotal.Add(float64(len(req.Body)))

	event := &models.Event{
		ID:           uuid.NewString(),
		EventType:    canonical.EventType,
		SourceSystem: canonical.SourceSystem,
		Payload:      canonical.Fields,
		Status:       models.StatusPending,
		CreatedAt:    time.Now().UTC(),
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		event.IdempotencyKey = &key
	}

	if err := s.repo.CreateEvent(ctx, event); err != nil {
		if errors.Is(err, repository.ErrDuplicate) && event.IdempotencyKey != nil {
			existing, lookupErr := s.repo.GetEventByIdempotencyKey(ctx, *event.IdempotencyKey)
			if lookupErr != nil {
				return nil, fmt.Errorf("resolve duplicate: %w", lookupErr)
			}
			return &IngestResult{EventID: existing.ID, EventType: existing.EventType, Duplicate: true}, nil
		}
		return nil, fmt.Errorf("persist event: %w", err)
	}

	// Inbound-triggered deliveries go on the high-priority lane.
	if err := s.queue.Publish(ctx, queue.High, &queue.Task{EventID: event.ID}); err != nil {
		// The event is persisted, so the call still succeeds, but a
		// pending event is invisible to the sweeper. Mark it retrying
		// with an immediate retry so the next sweep re-enqueues it.
		s.logger.ErrorContext(ctx, "failed to enqueue delivery",
			"event_id", event.ID, "error", err)

		retryAt := time.Now().UTC()
		if updateErr := s.repo.UpdateEventStatus(ctx, event.ID, repository.EventStatusUpdate{
			Status:      models.StatusRetrying,
			NextRetryAt: &retryAt,
		}); updateErr != nil {
			s.logger.ErrorContext(ctx, "failed to mark event for sweep",
				"event_id", event.ID, "error", updateErr)
		}
	}

	s.logger.InfoContext(ctx, "event ingested",
		"event_id", event.ID,
		"source", event.SourceSystem,
		"event_type", event.EventType,
		"key_id", principal.ID)

	return &IngestResult{EventID: event.ID, EventType: event.EventType}, nil
}

// verifySignature enforces the HMAC contract for sources that have a
// registered secret. Sources without one are accepted on API key alone.
func (s *GatewayService) verifySignature(ctx context.Context, req IngestRequest) error {
	endpoint, err := s.repo.GetEndpointBySystem(ctx, req.Source)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("lookup source secret: %w", err)
	}
	if !endpoint.Active || endpoint.Secret == "" {
		return nil
	}

	if err := signature.Verify(endpoint.Secret, req.Body, req.Signature); err != nil {
		return ErrInvalidSignature
	}
	if err := signature.VerifyTimestamp(req.Timestamp, s.tolerance, time.Now()); err != nil {
		return ErrExpiredSignature
	}
	return nil
}

func outcomeFor(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrExpiredSignature):
		return "expired_signature"
	default:
		var rl *RateLimitedError
		if errors.As(err, &rl) {
			return "rate_limited"
		}
		return "error"
	}
}
