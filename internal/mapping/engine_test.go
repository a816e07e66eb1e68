package mapping

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaypoint-io/relaypoint/internal/models"
)

type staticResolver struct {
	mapping *models.EventMapping
	err     error
}

func (r *staticResolver) GetActiveMapping(_ context.Context, _, _ string) (*models.EventMapping, error) {
	return r.mapping, r.err
}

func leadMapping() *models.EventMapping {
	return &models.EventMapping{
		ID:           "map-1",
		EventType:    "lead.created",
		TargetSystem: "crm",
		Version:      1,
		Active:       true,
		Rules: []models.MappingRule{
			{Type: models.RuleDirect, Source: "name", Target: "name"},
			{Type: models.RuleDirect, Source: "phone", Target: "phone"},
		},
		CreatedAt: time.Now(),
	}
}

func TestApply_DirectRules(t *testing.T) {
	payload, err := Apply(leadMapping().Rules, map[string]any{
		"name":  "Ana",
		"phone": "+5511999990000",
		"extra": "dropped",
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Ana","phone":"+5511999990000"}`, string(payload))
}

func TestApply_AbsentSourceFieldOmitted(t *testing.T) {
	payload, err := Apply(leadMapping().Rules, map[string]any{"name": "Ana"})
	require.NoError(t, err)
	// No null-padding for the missing phone.
	assert.Equal(t, `{"name":"Ana"}`, string(payload))
}

func TestApply_CompositeRule(t *testing.T) {
	rules := []models.MappingRule{
		{Type: models.RuleDirect, Source: "name", Target: "name"},
		{
			Type:   models.RuleComposite,
			Target: "additionals",
			Fields: []models.SubField{
				{Source: "is_weekend", Target: "is_weekend"},
				{Source: "is_night", Target: "is_night"},
				{Source: "is_holiday", Target: "is_holiday"},
			},
		},
	}

	payload, err := Apply(rules, map[string]any{
		"name":       "Ana",
		"is_weekend": true,
		"is_night":   false,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Ana","additionals":{"is_weekend":true,"is_night":false}}`, string(payload))
}

func TestApply_CompositeOmittedWhenEmpty(t *testing.T) {
	rules := []models.MappingRule{
		{
			Type:   models.RuleComposite,
			Target: "additionals",
			Fields: []models.SubField{{Source: "is_weekend", Target: "is_weekend"}},
		},
	}

	payload, err := Apply(rules, map[string]any{"unrelated": 1})
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(payload))
}

func TestApply_Deterministic(t *testing.T) {
	rules := []models.MappingRule{
		{Type: models.RuleDirect, Source: "b", Target: "beta"},
		{Type: models.RuleDirect, Source: "a", Target: "alpha"},
		{
			Type:   models.RuleComposite,
			Target: "meta",
			Fields: []models.SubField{
				{Source: "z", Target: "zulu"},
				{Source: "y", Target: "yankee"},
			},
		},
	}
	fields := map[string]any{"a": 1.0, "b": "two", "y": true, "z": "zz"}

	first, err := Apply(rules, fields)
	require.NoError(t, err)
	second, err := Apply(rules, fields)
	require.NoError(t, err)

	assert.Equal(t, first, second, "same rules and fields must be byte-identical")
}

func TestApply_UnknownRuleType(t *testing.T) {
	_, err := Apply([]models.MappingRule{{Type: "regex", Target: "x"}}, map[string]any{})
	assert.Error(t, err)
}

func TestEngine_Project(t *testing.T) {
	engine := NewEngine(&staticResolver{mapping: leadMapping()})

	event := models.CanonicalEvent{
		EventType:    "lead.created",
		SourceSystem: "site",
		Fields:       map[string]any{"name": "Ana", "phone": "+5511999990000"},
	}

	payload, m, err := engine.Project(context.Background(), event, "crm")
	require.NoError(t, err)
	assert.Equal(t, 1, m.Version)
	assert.JSONEq(t, `{"name":"Ana","phone":"+5511999990000"}`, string(payload))
}

func TestEngine_Project_NoMapping(t *testing.T) {
	engine := NewEngine(&staticResolver{mapping: nil})

	_, _, err := engine.Project(context.Background(), models.CanonicalEvent{EventType: "lead.created"}, "erp")
	assert.ErrorIs(t, err, ErrNoMapping)
}

func TestValidateRules(t *testing.T) {
	tests := []struct {
		name    string
		rules   []models.MappingRule
		wantErr bool
	}{
		{"empty", nil, true},
		{"valid direct", []models.MappingRule{{Type: models.RuleDirect, Source: "a", Target: "b"}}, false},
		{"direct without source", []models.MappingRule{{Type: models.RuleDirect, Target: "b"}}, true},
		{"no target", []models.MappingRule{{Type: models.RuleDirect, Source: "a"}}, true},
		{
			"valid composite",
			[]models.MappingRule{{Type: models.RuleComposite, Target: "obj", Fields: []models.SubField{{Source: "a", Target: "b"}}}},
			false,
		},
		{"composite without fields", []models.MappingRule{{Type: models.RuleComposite, Target: "obj"}}, true},
		{"unknown type", []models.MappingRule{{Type: "lua", Target: "x"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRules(tt.rules)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
