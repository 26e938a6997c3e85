package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func newTestValidator(t *testing.T) *defValidator {
	t.Helper()
	v, err := newDefValidator()
	require.NoError(t, err)
	return v
}

func TestValidateIgnoresOrdinaryRecords(t *testing.T) {
	v := newTestValidator(t)
	assert.NoError(t, v.Validate(nil, map[string]any{"anything": "goes"}))
	assert.NoError(t, v.Validate(strPtr("task.v1"), map[string]any{"free": "form"}))
}

func TestValidateAgentDef(t *testing.T) {
	v := newTestValidator(t)

	valid := map[string]any{
		"agent_id": "helper",
		"context_trigger": map[string]any{
			"schema_name": "user.message.v1",
			"none_tags":   []any{"agent:context"},
		},
		"context_sources": map[string]any{
			"always": []any{
				map[string]any{"type": "schema", "schema_name": "tool.catalog.v1", "method": "latest"},
			},
			"semantic": map[string]any{"enabled": true, "limit": 5, "min_similarity": 0.7},
		},
	}
	assert.NoError(t, v.Validate(strPtr("agent.def.v1"), valid))

	missing := map[string]any{"context_trigger": map[string]any{}}
	assert.Error(t, v.Validate(strPtr("agent.def.v1"), missing))

	badSource := map[string]any{
		"agent_id": "helper",
		"context_sources": map[string]any{
			"always": []any{map[string]any{"type": "telepathy"}},
		},
	}
	assert.Error(t, v.Validate(strPtr("agent.def.v1"), badSource))

	badMethod := map[string]any{
		"agent_id": "helper",
		"context_sources": map[string]any{
			"always": []any{map[string]any{"type": "tag", "tag": "x", "method": "newest"}},
		},
	}
	assert.Error(t, v.Validate(strPtr("agent.def.v1"), badMethod))
}

func TestValidateSchemaDef(t *testing.T) {
	v := newTestValidator(t)

	valid := map[string]any{
		"llm_hints": map[string]any{
			"include": []any{"status"},
			"mode":    "merge",
			"transform": map[string]any{
				"summary": map[string]any{"template": "{{status}}"},
			},
		},
	}
	assert.NoError(t, v.Validate(strPtr("schema.def.v1"), valid))

	badMode := map[string]any{
		"llm_hints": map[string]any{"mode": "overwrite"},
	}
	assert.Error(t, v.Validate(strPtr("schema.def.v1"), badMode))

	// A rule must set exactly one directive.
	twoDirectives := map[string]any{
		"llm_hints": map[string]any{
			"transform": map[string]any{
				"summary": map[string]any{"template": "x", "extract": "y"},
			},
		},
	}
	assert.Error(t, v.Validate(strPtr("schema.def.v1"), twoDirectives))
}

func TestValidateNormalizesGoNumbers(t *testing.T) {
	v := newTestValidator(t)
	// Contexts built in Go carry int, not float64; validation must not
	// depend on the caller's decoding path.
	def := map[string]any{
		"agent_id": "helper",
		"llm_config": map[string]any{"context_budget": 32000},
	}
	assert.NoError(t, v.Validate(strPtr("agent.def.v1"), def))
}
