package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/relaypoint-io/relaypoint/internal/models"
)

// InMemoryRepository is a mutex-guarded map-backed Repository for tests and
// local development.
type InMemoryRepository struct {
	mu          sync.RWMutex
	events      map[string]*models.Event
	attempts    map[string][]*models.DeliveryAttempt
	mappings    map[string]*models.EventMapping
	endpoints   map[string]*models.WebhookEndpoint
	apiKeys     map[string]*models.APIKey
	deadLetters map[string]*models.DeadLetterEntry
}

// NewInMemoryRepository creates an empty in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		events:      make(map[string]*models.Event),
		attempts:    make(map[string][]*models.DeliveryAttempt),
		mappings:    make(map[string]*models.EventMapping),
		endpoints:   make(map[string]*models.WebhookEndpoint),
		apiKeys:     make(map[string]*models.APIKey),
		deadLetters: make(map[string]*models.DeadLetterEntry),
	}
}

var _ Repository = (*InMemoryRepository)(nil)

func cloneEvent(e *models.Event) *models.Event {
	c := *e
	if e.Payload != nil {
		c.Payload = make(map[string]any, len(e.Payload))
		for k, v := range e.Payload {
			c.Payload[k] = v
		}
	}
	return &c
}

// Events

func (r *InMemoryRepository) CreateEvent(_ context.Context, event *models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.events[event.ID]; exists {
		return ErrDuplicate
	}
	if event.IdempotencyKey != nil {
		for _, existing := range r.events {
			if existing.IdempotencyKey != nil && *existing.IdempotencyKey == *event.IdempotencyKey {
				return ErrDuplicate
			}
		}
	}
	r.events[event.ID] = cloneEvent(event)
	return nil
}

func (r *InMemoryRepository) GetEvent(_ context.Context, id string) (*models.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	event, ok := r.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneEvent(event), nil
}

func (r *InMemoryRepository) GetEventByIdempotencyKey(_ context.Context, key string) (*models.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, event := range r.events {
		if event.IdempotencyKey != nil && *event.IdempotencyKey == key {
			return cloneEvent(event), nil
		}
	}
	return nil, ErrNotFound
}

func (r *InMemoryRepository) UpdateEventStatus(_ context.Context, id string, update EventStatusUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	event, ok := r.events[id]
	if !ok {
		return ErrNotFound
	}
	event.Status = update.Status
	event.AttemptCount = update.AttemptCount
	event.NextRetryAt = update.NextRetryAt
	event.ProcessedAt = update.ProcessedAt
	return nil
}

func (r *InMemoryRepository) ListEvents(_ context.Context, req *models.ListEventsRequest) ([]*models.Event, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*models.Event
	for _, event := range r.events {
		if req.Status != "" && event.Status != req.Status {
			continue
		}
		if req.SourceSystem != "" && event.SourceSystem != req.SourceSystem {
			continue
		}
		if req.EventType != "" && event.EventType != req.EventType {
			continue
		}
		matched = append(matched, cloneEvent(event))
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	start, end := pageBounds(req.Page, req.Limit, len(matched))
	return matched[start:end], total, nil
}

func (r *InMemoryRepository) DueRetries(_ context.Context, now time.Time, limit int) ([]*models.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var due []*models.Event
	for _, event := range r.events {
		if event.Status != models.StatusRetrying || event.NextRetryAt == nil {
			continue
		}
		if event.NextRetryAt.After(now) {
			continue
		}
		due = append(due, cloneEvent(event))
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].NextRetryAt.Before(*due[j].NextRetryAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *InMemoryRepository) EventStats(_ context.Context) (*models.EventStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := &models.EventStats{
		ByStatus: make(map[string]int64),
		BySource: make(map[string]int64),
	}
	for _, event := range r.events {
		stats.Total++
		stats.ByStatus[event.Status]++
		stats.BySource[event.SourceSystem]++
		if event.Status == models.StatusRetrying && event.NextRetryAt != nil {
			if stats.OldestRetry == nil || event.NextRetryAt.Before(*stats.OldestRetry) {
				t := *event.NextRetryAt
				stats.OldestRetry = &t
			}
		}
	}
	for _, entry := range r.deadLetters {
		if !entry.Archived() {
			stats.DeadLetters++
		}
	}
	return stats, nil
}

func (r *InMemoryRepository) DeleteTerminalEventsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	for id, event := range r.events {
		if event.Terminal() && event.CreatedAt.Before(cutoff) {
			delete(r.events, id)
			delete(r.attempts, id)
			deleted++
		}
	}
	return deleted, nil
}

// Delivery attempts

func (r *InMemoryRepository) RecordAttempt(_ context.Context, attempt *models.DeliveryAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := *attempt
	r.attempts[attempt.EventID] = append(r.attempts[attempt.EventID], &c)
	return nil
}

func (r *InMemoryRepository) ListAttempts(_ context.Context, eventID string) ([]*models.DeliveryAttempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	attempts := make([]*models.DeliveryAttempt, 0, len(r.attempts[eventID]))
	for _, a := range r.attempts[eventID] {
		c := *a
		attempts = append(attempts, &c)
	}
	return attempts, nil
}

func (r *InMemoryRepository) SucceededTargets(_ context.Context, eventID string) (map[string]bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	targets := make(map[string]bool)
	for _, a := range r.attempts[eventID] {
		if a.Success {
			targets[a.TargetSystem] = true
		}
	}
	return targets, nil
}

// Mappings

func (r *InMemoryRepository) CreateMapping(_ context.Context, mapping *models.EventMapping) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	version := 0
	for _, existing := range r.mappings {
		if existing.EventType == mapping.EventType && existing.TargetSystem == mapping.TargetSystem {
			if existing.Version > version {
				version = existing.Version
			}
			existing.Active = false
		}
	}
	mapping.Version = version + 1
	mapping.Active = true

	c := *mapping
	c.Rules = append([]models.MappingRule(nil), mapping.Rules...)
	r.mappings[mapping.ID] = &c
	return nil
}

func (r *InMemoryRepository) GetMapping(_ context.Context, id string) (*models.EventMapping, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.mappings[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *m
	return &c, nil
}

func (r *InMemoryRepository) GetActiveMapping(_ context.Context, eventType, targetSystem string) (*models.EventMapping, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.mappings {
		if m.Active && m.EventType == eventType && m.TargetSystem == targetSystem {
			c := *m
			return &c, nil
		}
	}
	return nil, nil
}

func (r *InMemoryRepository) ListMappings(_ context.Context, eventType, targetSystem string) ([]*models.EventMapping, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*models.EventMapping
	for _, m := range r.mappings {
		if eventType != "" && m.EventType != eventType {
			continue
		}
		if targetSystem != "" && m.TargetSystem != targetSystem {
			continue
		}
		c := *m
		matched = append(matched, &c)
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].EventType != matched[j].EventType {
			return matched[i].EventType < matched[j].EventType
		}
		if matched[i].TargetSystem != matched[j].TargetSystem {
			return matched[i].TargetSystem < matched[j].TargetSystem
		}
		return matched[i].Version > matched[j].Version
	})
	return matched, nil
}

// Webhook endpoints

func (r *InMemoryRepository) CreateEndpoint(_ context.Context, endpoint *models.WebhookEndpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.endpoints {
		if strings.EqualFold(existing.SystemName, endpoint.SystemName) {
			return ErrDuplicate
		}
	}
	c := *endpoint
	r.endpoints[endpoint.ID] = &c
	return nil
}

func (r *InMemoryRepository) GetEndpoint(_ context.Context, id string) (*models.WebhookEndpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.endpoints[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *e
	return &c, nil
}

func (r *InMemoryRepository) GetEndpointBySystem(_ context.Context, systemName string) (*models.WebhookEndpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.endpoints {
		if strings.EqualFold(e.SystemName, systemName) {
			c := *e
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (r *InMemoryRepository) ListEndpoints(_ context.Context, activeOnly bool) ([]*models.WebhookEndpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var endpoints []*models.WebhookEndpoint
	for _, e := range r.endpoints {
		if activeOnly && !e.Active {
			continue
		}
		c := *e
		endpoints = append(endpoints, &c)
	}
	sort.Slice(endpoints, func(i, j int) bool {
		return endpoints[i].SystemName < endpoints[j].SystemName
	})
	return endpoints, nil
}

func (r *InMemoryRepository) UpdateEndpoint(_ context.Context, endpoint *models.WebhookEndpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.endpoints[endpoint.ID]; !ok {
		return ErrNotFound
	}
	c := *endpoint
	r.endpoints[endpoint.ID] = &c
	return nil
}

// API keys

func (r *InMemoryRepository) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.apiKeys[key.ID]; exists {
		return ErrDuplicate
	}
	c := *key
	c.Scopes = append([]string(nil), key.Scopes...)
	r.apiKeys[key.ID] = &c
	return nil
}

func (r *InMemoryRepository) GetAPIKey(_ context.Context, id string) (*models.APIKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	k, ok := r.apiKeys[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *k
	c.Scopes = append([]string(nil), k.Scopes...)
	return &c, nil
}

func (r *InMemoryRepository) ListAPIKeys(_ context.Context) ([]*models.APIKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]*models.APIKey, 0, len(r.apiKeys))
	for _, k := range r.apiKeys {
		c := *k
		c.Scopes = append([]string(nil), k.Scopes...)
		keys = append(keys, &c)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Name < keys[j].Name })
	return keys, nil
}

func (r *InMemoryRepository) UpdateAPIKey(_ context.Context, key *models.APIKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.apiKeys[key.ID]; !ok {
		return ErrNotFound
	}
	c := *key
	c.Scopes = append([]string(nil), key.Scopes...)
	r.apiKeys[key.ID] = &c
	return nil
}

func (r *InMemoryRepository) TouchAPIKey(_ context.Context, id string, usedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k, ok := r.apiKeys[id]
	if !ok {
		return ErrNotFound
	}
	t := usedAt
	k.LastUsedAt = &t
	return nil
}

// Dead letters

func (r *InMemoryRepository) CreateDeadLetter(_ context.Context, entry *models.DeadLetterEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.deadLetters[entry.ID]; exists {
		return ErrDuplicate
	}
	c := *entry
	c.FailureHistory = append([]models.DeliveryFailure(nil), entry.FailureHistory...)
	r.deadLetters[entry.ID] = &c
	return nil
}

func (r *InMemoryRepository) GetDeadLetter(_ context.Context, id string) (*models.DeadLetterEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.deadLetters[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *d
	c.FailureHistory = append([]models.DeliveryFailure(nil), d.FailureHistory...)
	return &c, nil
}

func (r *InMemoryRepository) ListDeadLetters(_ context.Context, req *models.ListDeadLettersRequest) ([]*models.DeadLetterEntry, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*models.DeadLetterEntry
	for _, d := range r.deadLetters {
		if !req.IncludeArchived && d.Archived() {
			continue
		}
		if req.SourceSystem != "" && d.SourceSystem != req.SourceSystem {
			continue
		}
		if req.EventType != "" && d.EventType != req.EventType {
			continue
		}
		c := *d
		matched = append(matched, &c)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	start, end := pageBounds(req.Page, req.Limit, len(matched))
	return matched[start:end], total, nil
}

func (r *InMemoryRepository) ArchiveDeadLetter(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.deadLetters[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	d.ArchivedAt = &now
	return nil
}

func (r *InMemoryRepository) DeleteDeadLetter(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.deadLetters[id]; !ok {
		return ErrNotFound
	}
	delete(r.deadLetters, id)
	return nil
}

func pageBounds(page, limit, total int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if page <= 0 {
		page = 1
	}
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return start, end
}
