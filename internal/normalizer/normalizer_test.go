package normalizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize_WhatsAppPhonePriority(t *testing.T) {
	n := Default()

	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{
			name:    "phone wins over from",
			payload: `{"phone":"+5511999990000","from":"+5511888880000"}`,
			want:    "+5511999990000",
		},
		{
			name:    "from",
			payload: `{"from":"+5511888880000","sender":"+5511777770000"}`,
			want:    "+5511888880000",
		},
		{
			name:    "sender",
			payload: `{"sender":"+5511777770000"}`,
			want:    "+5511777770000",
		},
		{
			name:    "nested message.from",
			payload: `{"message":{"from":"+5511666660000","text":"oi"}}`,
			want:    "+5511666660000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := n.Normalize("whatsapp", []byte(tt.payload), "")
			assert.Equal(t, tt.want, event.Fields["phone"])
		})
	}
}

func TestNormalize_EventType(t *testing.T) {
	n := Default()

	t.Run("header hint wins", func(t *testing.T) {
		event := n.Normalize("site", []byte(`{"event_type":"lead.updated"}`), "lead.created")
		assert.Equal(t, "lead.created", event.EventType)
	})

	t.Run("payload event_type", func(t *testing.T) {
		event := n.Normalize("site", []byte(`{"event_type":"lead.created","name":"Ana"}`), "")
		assert.Equal(t, "lead.created", event.EventType)
	})

	t.Run("payload event fallback", func(t *testing.T) {
		event := n.Normalize("site", []byte(`{"event":"form.submitted"}`), "")
		assert.Equal(t, "form.submitted", event.EventType)
	})

	t.Run("missing type tags unknown", func(t *testing.T) {
		event := n.Normalize("site", []byte(`{"name":"Ana"}`), "")
		assert.Equal(t, EventTypeUnknown, event.EventType)
	})
}

func TestNormalize_NeverFails(t *testing.T) {
	n := Default()

	tests := []struct {
		name string
		raw  string
	}{
		{"malformed json", `{"name": "Ana`},
		{"empty body", ``},
		{"json null", `null`},
		{"json array", `[1,2,3]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := n.Normalize("whatsapp", []byte(tt.raw), "")
			assert.Equal(t, EventTypeUnknown, event.EventType)
			assert.Equal(t, "whatsapp", event.SourceSystem)
			assert.NotNil(t, event.Fields)
			assert.False(t, event.ReceivedAt.IsZero())
		})
	}
}

func TestNormalize_UnknownSourceUsesGenericSpec(t *testing.T) {
	n := Default()

	event := n.Normalize("billing", []byte(`{"event_type":"invoice.paid","customer":{"email":"ana@example.com"},"amount":120.5}`), "")

	assert.Equal(t, "invoice.paid", event.EventType)
	assert.Equal(t, "ana@example.com", event.Fields["email"])
	// Top-level scalars are carried best-effort.
	assert.Equal(t, 120.5, event.Fields["amount"])
}

func TestNormalize_CarriesTopLevelScalars(t *testing.T) {
	n := Default()

	event := n.Normalize("site", []byte(`{"name":"Ana","phone":"+5511999990000","consent":true}`), "lead.created")

	assert.Equal(t, "Ana", event.Fields["name"])
	assert.Equal(t, "+5511999990000", event.Fields["phone"])
	assert.Equal(t, true, event.Fields["consent"])
}
