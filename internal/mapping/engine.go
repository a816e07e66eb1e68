// Package mapping projects canonical events into target-system payloads
// through versioned, append-only rule sets.
package mapping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/relaypoint-io/relaypoint/internal/models"
)

// ErrNoMapping means no active mapping exists for the (event_type,
// target_system) pair. The dispatcher treats this as "no delivery required
// to this target", not as a failure.
var ErrNoMapping = errors.New("mapping: no active mapping for pair")

// Resolver looks up the active mapping version for a pair.
type Resolver interface {
	GetActiveMapping(ctx context.Context, eventType, targetSystem string) (*models.EventMapping, error)
}

// Engine evaluates mapping rules against canonical events. Projection is
// stateless and side-effect free; the same mapping version applied to the
// same event always yields byte-identical output.
type Engine struct {
	resolver Resolver
}

// NewEngine creates an Engine backed by the given mapping resolver.
func NewEngine(resolver Resolver) *Engine {
	return &Engine{resolver: resolver}
}

// Project resolves the active mapping for (event.EventType, targetSystem)
// and applies it, returning the serialized target payload and the mapping
// version used.
func (e *Engine) Project(ctx context.Context, event models.CanonicalEvent, targetSystem string) ([]byte, *models.EventMapping, error) {
	m, err := e.resolver.GetActiveMapping(ctx, event.EventType, targetSystem)
	if err != nil {
		return nil, nil, err
	}
	if m == nil {
		return nil, nil, ErrNoMapping
	}

	payload, err := Apply(m.Rules, event.Fields)
	if err != nil {
		return nil, nil, fmt.Errorf("mapping %s v%d: %w", m.ID, m.Version, err)
	}
	return payload, m, nil
}

// Apply evaluates rules in order against the canonical fields and returns
// the serialized target payload. Absent source fields are omitted, never
// null-padded. encoding/json writes map keys in sorted order, which is what
// makes the output reproducible byte for byte.
func Apply(rules []models.MappingRule, fields map[string]any) ([]byte, error) {
	target := map[string]any{}

	for _, rule := range rules {
		switch rule.Type {
		case models.RuleDirect:
			if value, ok := fields[rule.Source]; ok {
				target[rule.Target] = value
			}
		case models.RuleComposite:
			nested := map[string]any{}
			for _, sub := range rule.Fields {
				if value, ok := fields[sub.Source]; ok {
					nested[sub.Target] = value
				}
			}
			if len(nested) > 0 {
				target[rule.Target] = nested
			}
		default:
			return nil, fmt.Errorf("unknown rule type %q", rule.Type)
		}
	}

	return json.Marshal(target)
}

// ValidateRules rejects malformed rule sets before they are persisted.
func ValidateRules(rules []models.MappingRule) error {
	if len(rules) == 0 {
		return errors.New("mapping: at least one rule is required")
	}
	for i, rule := range rules {
		if rule.Target == "" {
			return fmt.Errorf("mapping: rule %d has no target field", i)
		}
		switch rule.Type {
		case models.RuleDirect:
			if rule.Source == "" {
				return fmt.Errorf("mapping: direct rule %d has no source field", i)
			}
		case models.RuleComposite:
			if len(rule.Fields) == 0 {
				return fmt.Errorf("mapping: composite rule %d has no sub-fields", i)
			}
			for j, sub := range rule.Fields {
				if sub.Source == "" || sub.Target == "" {
					return fmt.Errorf("mapping: composite rule %d sub-field %d is incomplete", i, j)
				}
			}
		default:
			return fmt.Errorf("mapping: rule %d has unknown type %q", i, rule.Type)
		}
	}
	return nil
}
