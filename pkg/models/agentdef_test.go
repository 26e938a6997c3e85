package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAgentDef(t *testing.T) {
	tests := []struct {
		name    string
		context map[string]any
		wantErr string
		check   func(t *testing.T, def *AgentDef)
	}{
		{
			name:    "missing agent_id",
			context: map[string]any{"context_sources": map[string]any{}},
			wantErr: "missing agent_id",
		},
		{
			name:    "minimal definition",
			context: map[string]any{"agent_id": "planner"},
			check: func(t *testing.T, def *AgentDef) {
				assert.Equal(t, "planner", def.AgentID)
				assert.Nil(t, def.ContextSources)
				assert.Nil(t, def.ContextTrigger)
				assert.Nil(t, def.AlwaysSources())
				assert.Nil(t, def.SemanticConfig())
			},
		},
		{
			name: "full definition",
			context: map[string]any{
				"agent_id": "planner",
				"context_trigger": map[string]any{
					"schema_name": "user.request.v1",
					"any_tags":    []any{"consumer:planner"},
				},
				"context_sources": map[string]any{
					"always": []any{
						map[string]any{"type": "schema", "schema_name": "tool.catalog.v1", "method": "latest"},
						map[string]any{"type": "tag", "tag": "workflow:deploy", "method": "recent", "limit": 5.0, "optional": true},
					},
					"semantic": map[string]any{
						"enabled":        true,
						"schemas":        []any{"knowledge.v1"},
						"limit":          10.0,
						"min_similarity": 0.7,
					},
				},
				"llm_config_id": "cfg-1",
				"prompt":        "ignored by the builder",
			},
			check: func(t *testing.T, def *AgentDef) {
				require.NotNil(t, def.ContextTrigger)
				assert.Equal(t, "user.request.v1", def.ContextTrigger.SchemaName)

				always := def.AlwaysSources()
				require.Len(t, always, 2)
				assert.Equal(t, SourceTypeSchema, always[0].Type)
				assert.Equal(t, "tool.catalog.v1", always[0].SchemaName)
				assert.Equal(t, SourceMethodLatest, always[0].Method)
				assert.Equal(t, SourceTypeTag, always[1].Type)
				assert.Equal(t, 5, always[1].Limit)
				assert.True(t, always[1].Optional)

				sem := def.SemanticConfig()
				require.NotNil(t, sem)
				assert.Equal(t, []string{"knowledge.v1"}, sem.Schemas)
				assert.Equal(t, 10, sem.Limit)
				assert.InDelta(t, 0.7, sem.MinSimilarity, 1e-9)

				assert.Equal(t, "cfg-1", def.LLMConfigID)
			},
		},
		{
			name: "disabled semantic block is hidden",
			context: map[string]any{
				"agent_id": "planner",
				"context_sources": map[string]any{
					"semantic": map[string]any{"enabled": false, "schemas": []any{"knowledge.v1"}},
				},
			},
			check: func(t *testing.T, def *AgentDef) {
				assert.Nil(t, def.SemanticConfig())
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, err := ParseAgentDef(tt.context)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, def)
		})
	}
}

func TestEdgeTraversalCost(t *testing.T) {
	assert.InDelta(t, 0.1, Edge{Type: EdgeCausal}.TraversalCost(), 1e-9)
	assert.InDelta(t, 0.3, Edge{Type: EdgeTag}.TraversalCost(), 1e-9)
	assert.InDelta(t, 0.5, Edge{Type: EdgeTemporal}.TraversalCost(), 1e-9)
	assert.InDelta(t, 0.25, Edge{Type: EdgeSemantic, Weight: 0.75}.TraversalCost(), 1e-9)
	assert.InDelta(t, 0.0, Edge{Type: EdgeSemantic, Weight: 1.2}.TraversalCost(), 1e-9)
}

func TestParseEdgeType(t *testing.T) {
	for _, s := range []string{"causal", "temporal", "tag", "semantic"} {
		et, ok := ParseEdgeType(s)
		require.True(t, ok)
		assert.Equal(t, s, et.String())
	}
	_, ok := ParseEdgeType("friendship")
	assert.False(t, ok)
}
