package models

import (
	"time"
)

// Event lifecycle statuses. An event is created pending, owned by exactly
// one delivery attempt at a time while processing, and always ends in a
// durable terminal state (delivered or dead).
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusDelivered  = "delivered"
	StatusRetrying   = "retrying"
	StatusDead       = "dead"
)

// Event is the persisted record of an accepted inbound webhook, carrying
// the normalized canonical payload.
type Event struct {
	ID             string         `json:"id"`
	EventType      string         `json:"event_type"`
	SourceSystem   string         `json:"source_system"`
	Payload        map[string]any `json:"payload"`
	IdempotencyKey *string        `json:"idempotency_key,omitempty"`
	Status         string         `json:"status"`
	AttemptCount   int            `json:"attempt_count"`
	NextRetryAt    *time.Time     `json:"next_retry_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	ProcessedAt    *time.Time     `json:"processed_at,omitempty"`
}

// Terminal reports whether the event has reached a final state.
func (e *Event) Terminal() bool {
	return e.Status == StatusDelivered || e.Status == StatusDead
}

// CanonicalEvent is the normalized, source-agnostic form of an inbound
// webhook before persistence.
type CanonicalEvent struct {
	EventType    string         `json:"event_type"`
	SourceSystem string         `json:"source_system"`
	Fields       map[string]any `json:"fields"`
	ReceivedAt   time.Time      `json:"received_at"`
}

// DeliveryAttempt records one outbound call (or breaker short-circuit) for
// an event against a single target system.
type DeliveryAttempt struct {
	ID           string    `json:"id"`
	EventID      string    `json:"event_id"`
	TargetSystem string    `json:"target_system"`
	Attempt      int       `json:"attempt"`
	Success      bool      `json:"success"`
	HTTPStatus   int       `json:"http_status,omitempty"`
	Error        string    `json:"error,omitempty"`
	DurationMS   int64     `json:"duration_ms"`
	CreatedAt    time.Time `json:"created_at"`
}
