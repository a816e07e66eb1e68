package models

import "time"

// Mapping rule kinds.
const (
	RuleDirect    = "direct"
	RuleComposite = "composite"
)

// SubField names one canonical source field feeding a composite target
// object.
type SubField struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// MappingRule is a single projection step. Direct rules copy one canonical
// field to one target field. Composite rules assemble a nested object at
// Target from the listed sub-fields.
type MappingRule struct {
	Type   string     `json:"type"`
	Source string     `json:"source,omitempty"`
	Target string     `json:"target"`
	Fields []SubField `json:"fields,omitempty"`
}

// EventMapping is one immutable version of the projection rules for an
// (event_type, target_system) pair. Creating a new mapping for a pair
// inserts the next version and deactivates the previous one; old versions
// are retained for audit and replay.
type EventMapping struct {
	ID           string        `json:"id"`
	EventType    string        `json:"event_type"`
	TargetSystem string        `json:"target_system"`
	Version      int           `json:"version"`
	Active       bool          `json:"active"`
	Rules        []MappingRule `json:"rules"`
	CreatedAt    time.Time     `json:"created_at"`
}
