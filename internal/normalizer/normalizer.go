// Package normalizer maps provider-specific webhook shapes into canonical
// events. Each known source has an extraction table of candidate payload
// paths per canonical field, evaluated first-match-wins, so supporting a
// new provider quirk is a table change rather than new branching code.
package normalizer

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/relaypoint-io/relaypoint/internal/models"
)

// EventTypeUnknown tags payloads whose type could not be determined.
// Normalization never fails: worst case is a mostly-empty canonical event,
// so no inbound call is ever dropped before being recorded.
const EventTypeUnknown = "unknown"

// FieldSpec names one canonical field and the payload paths that may carry
// it, in priority order. Paths use dots for nesting ("message.from").
type FieldSpec struct {
	Name  string
	Paths []string
}

// SourceSpec is the extraction table for one producing system.
type SourceSpec struct {
	// EventTypePaths are tried in order to extract the event type.
	EventTypePaths []string
	// Fields are the canonical field extractions.
	Fields []FieldSpec
}

// Normalizer resolves a SourceSpec per source identifier and applies it.
type Normalizer struct {
	specs    map[string]SourceSpec
	fallback SourceSpec
	now      func() time.Time
}

// New creates a Normalizer with the given per-source tables. Sources
// without a table use a generic spec.
func New(specs map[string]SourceSpec) *Normalizer {
	return &Normalizer{
		specs:    specs,
		fallback: genericSpec(),
		now:      time.Now,
	}
}

// Default returns a Normalizer preloaded with the built-in source tables.
func Default() *Normalizer {
	return New(builtinSpecs())
}

// Normalize converts a raw payload from the named source into a canonical
// event. typeHint, when non-empty (the X-Event-Type header), wins over
// payload-derived event types.
func (n *Normalizer) Normalize(source string, raw []byte, typeHint string) models.CanonicalEvent {
	event := models.CanonicalEvent{
		EventType:    EventTypeUnknown,
		SourceSystem: source,
		Fields:       map[string]any{},
		ReceivedAt:   n.now().UTC(),
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil || payload == nil {
		if typeHint != "" {
			event.EventType = typeHint
		}
		return event
	}

	spec, ok := n.specs[source]
	if !ok {
		spec = n.fallback
	}

	// Best effort: carry top-level scalars so unmapped but well-formed
	// payloads still project cleanly.
	for key, value := range payload {
		switch value.(type) {
		case string, float64, bool:
			event.Fields[key] = value
		}
	}

	for _, field := range spec.Fields {
		for _, path := range field.Paths {
			if value, found := lookupPath(payload, path); found {
				event.Fields[field.Name] = value
				break
			}
		}
	}

	switch {
	case typeHint != "":
		event.EventType = typeHint
	default:
		for _, path := range spec.EventTypePaths {
			if value, found := lookupPath(payload, path); found {
				if s, ok := value.(string); ok && s != "" {
					event.EventType = s
				}
				break
			}
		}
	}

	return event
}

// lookupPath resolves a dotted path against nested JSON objects.
func lookupPath(payload map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var current any = payload
	for _, part := range parts {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// genericSpec handles internal system-to-system webhooks, which already
// carry near-canonical flat payloads.
func genericSpec() SourceSpec {
	return SourceSpec{
		EventTypePaths: []string{"event_type", "event", "type"},
		Fields: []FieldSpec{
			{Name: "name", Paths: []string{"name", "full_name", "customer.name"}},
			{Name: "email", Paths: []string{"email", "customer.email"}},
			{Name: "phone", Paths: []string{"phone", "phone_number", "customer.phone"}},
		},
	}
}

// builtinSpecs covers the known producers. The whatsapp provider is the
// worst offender: the sender field has shipped under four different names
// across webhook versions.
func builtinSpecs() map[string]SourceSpec {
	return map[string]SourceSpec{
		"whatsapp": {
			EventTypePaths: []string{"event_type", "event", "type", "message.type"},
			Fields: []FieldSpec{
				{Name: "phone", Paths: []string{"phone", "from", "sender", "message.from"}},
				{Name: "name", Paths: []string{"name", "sender_name", "contact.name", "message.sender_name"}},
				{Name: "message", Paths: []string{"message.text", "text", "body", "message.body"}},
				{Name: "message_id", Paths: []string{"message.id", "message_id", "id"}},
				{Name: "timestamp", Paths: []string{"timestamp", "message.timestamp"}},
			},
		},
		"site": {
			EventTypePaths: []string{"event_type", "event", "type"},
			Fields: []FieldSpec{
				{Name: "name", Paths: []string{"name", "full_name"}},
				{Name: "email", Paths: []string{"email"}},
				{Name: "phone", Paths: []string{"phone", "phone_number", "whatsapp"}},
				{Name: "source_page", Paths: []string{"source_page", "page", "utm.source"}},
			},
		},
	}
}
