package models

import "time"

// ListEventsRequest filters the event inspection endpoint.
type ListEventsRequest struct {
	Status       string
	SourceSystem string
	EventType    string
	Page         int
	Limit        int
}

// ListDeadLettersRequest filters dead letter listings. Archived entries are
// excluded unless IncludeArchived is set.
type ListDeadLettersRequest struct {
	SourceSystem    string
	EventType       string
	IncludeArchived bool
	Page            int
	Limit           int
}

// EventStats aggregates event counts for the stats endpoint.
type EventStats struct {
	Total       int64            `json:"total"`
	ByStatus    map[string]int64 `json:"by_status"`
	BySource    map[string]int64 `json:"by_source"`
	DeadLetters int64            `json:"dead_letters"`
	OldestRetry *time.Time       `json:"oldest_retry,omitempty"`
}

// CreateMappingRequest is the management API body for registering a new
// mapping version.
type CreateMappingRequest struct {
	EventType    string        `json:"event_type"`
	TargetSystem string        `json:"target_system"`
	Rules        []MappingRule `json:"rules"`
}

// TestMappingRequest dry-runs a projection without touching stored state.
type TestMappingRequest struct {
	EventType    string         `json:"event_type"`
	TargetSystem string         `json:"target_system"`
	Fields       map[string]any `json:"fields"`
}

// CreateEndpointRequest registers a downstream target.
type CreateEndpointRequest struct {
	SystemName string `json:"system_name"`
	URL        string `json:"url"`
}

// UpdateEndpointRequest mutates a target's URL or active flag.
type UpdateEndpointRequest struct {
	URL    *string `json:"url,omitempty"`
	Active *bool   `json:"active,omitempty"`
}

// CreateAPIKeyRequest registers a producing system.
type CreateAPIKeyRequest struct {
	Name   string   `json:"name"`
	Scopes []string `json:"scopes"`
}
