// Package repository persists hub state: events, delivery attempts,
// mappings, endpoints, API keys and dead letters.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/relaypoint-io/relaypoint/internal/models"
)

var (
	// ErrNotFound means the requested record does not exist.
	ErrNotFound = errors.New("repository: not found")

	// ErrDuplicate means a uniqueness constraint was violated.
	ErrDuplicate = errors.New("repository: already exists")
)

// EventStatusUpdate carries the mutable delivery-state fields of an event.
type EventStatusUpdate struct {
	Status       string
	AttemptCount int
	NextRetryAt  *time.Time
	ProcessedAt  *time.Time
}

// Repository is the persistence contract shared by the postgres and
// in-memory implementations.
type Repository interface {
	// Events
	CreateEvent(ctx context.Context, event *models.Event) error
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	GetEventByIdempotencyKey(ctx context.Context, key string) (*models.Event, error)
	UpdateEventStatus(ctx context.Context, id string, update EventStatusUpdate) error
	ListEvents(ctx context.Context, req *models.ListEventsRequest) ([]*models.Event, int64, error)
	DueRetries(ctx context.Context, now time.Time, limit int) ([]*models.Event, error)
	EventStats(ctx context.Context) (*models.EventStats, error)
	DeleteTerminalEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Delivery attempts
	RecordAttempt(ctx context.Context, attempt *models.DeliveryAttempt) error
	ListAttempts(ctx context.Context, eventID string) ([]*models.DeliveryAttempt, error)
	SucceededTargets(ctx context.Context, eventID string) (map[string]bool, error)

	// Mappings (append-only versions, one active per pair)
	CreateMapping(ctx context.Context, mapping *models.EventMapping) error
	GetMapping(ctx context.Context, id string) (*models.EventMapping, error)
	GetActiveMapping(ctx context.Context, eventType, targetSystem string) (*models.EventMapping, error)
	ListMappings(ctx context.Context, eventType, targetSystem string) ([]*models.EventMapping, error)

	// Webhook endpoints
	CreateEndpoint(ctx context.Context, endpoint *models.WebhookEndpoint) error
	GetEndpoint(ctx context.Context, id string) (*models.WebhookEndpoint, error)
	GetEndpointBySystem(ctx context.Context, systemName string) (*models.WebhookEndpoint, error)
	ListEndpoints(ctx context.Context, activeOnly bool) ([]*models.WebhookEndpoint, error)
	UpdateEndpoint(ctx context.Context, endpoint *models.WebhookEndpoint) error

	// API keys
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	GetAPIKey(ctx context.Context, id string) (*models.APIKey, error)
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	UpdateAPIKey(ctx context.Context, key *models.APIKey) error
	TouchAPIKey(ctx context.Context, id string, usedAt time.Time) error

	// Dead letters
	CreateDeadLetter(ctx context.Context, entry *models.DeadLetterEntry) error
	GetDeadLetter(ctx context.Context, id string) (*models.DeadLetterEntry, error)
	ListDeadLetters(ctx context.Context, req *models.ListDeadLettersRequest) ([]*models.DeadLetterEntry, int64, error)
	ArchiveDeadLetter(ctx context.Context, id string) error
	DeleteDeadLetter(ctx context.Context, id string) error
}
