package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectorValidate(t *testing.T) {
	tests := []struct {
		name    string
		sel     Selector
		wantErr string
	}{
		{
			name:    "empty selector rejected",
			sel:     Selector{},
			wantErr: "no predicates",
		},
		{
			name: "schema only is enough",
			sel:  Selector{SchemaName: "user.request.v1"},
		},
		{
			name: "any_tags only is enough",
			sel:  Selector{AnyTags: []string{"workflow:deploy"}},
		},
		{
			name:    "bad context match op",
			sel:     Selector{ContextMatch: []ContextMatch{{Path: "$.status", Op: "matches", Value: "x"}}},
			wantErr: "unknown context_match op",
		},
		{
			name:    "context match path must be rooted",
			sel:     Selector{ContextMatch: []ContextMatch{{Path: "status", Op: OpEq, Value: "x"}}},
			wantErr: "must start with",
		},
		{
			name: "full selector",
			sel: Selector{
				SchemaName:    "task.v1",
				AllTags:       []string{"workflow:deploy"},
				NoneTags:      []string{"state:archived"},
				SensitivityIn: []Sensitivity{SensitivityLow},
				ContextMatch:  []ContextMatch{{Path: "$.status", Op: OpEq, Value: "open"}},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sel.Validate()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestSelectorMatchesEnvelope(t *testing.T) {
	schema := "user.request.v1"
	env := EventEnvelope{
		Type:       EventCreated,
		RecordID:   "b1",
		Owner:      "t1",
		SchemaName: schema,
		Tags:       []string{"workflow:deploy", "session:s1", "urgent"},
		Version:    1,
		UpdatedAt:  time.Now().UTC(),
	}

	tests := []struct {
		name string
		sel  Selector
		want bool
	}{
		{name: "schema match", sel: Selector{SchemaName: schema}, want: true},
		{name: "schema mismatch", sel: Selector{SchemaName: "note.v1"}, want: false},
		{name: "any_tags hit", sel: Selector{AnyTags: []string{"nope", "urgent"}}, want: true},
		{name: "any_tags miss", sel: Selector{AnyTags: []string{"nope"}}, want: false},
		{name: "all_tags hit", sel: Selector{AllTags: []string{"workflow:deploy", "urgent"}}, want: true},
		{name: "all_tags partial", sel: Selector{AllTags: []string{"workflow:deploy", "missing"}}, want: false},
		{name: "none_tags excludes", sel: Selector{SchemaName: schema, NoneTags: []string{"urgent"}}, want: false},
		{name: "none_tags passes", sel: Selector{SchemaName: schema, NoneTags: []string{"state:archived"}}, want: true},
		{name: "breadcrumb id pin", sel: Selector{BreadcrumbID: "b1"}, want: true},
		{name: "breadcrumb id mismatch", sel: Selector{BreadcrumbID: "b2"}, want: false},
		{
			name: "combined schema and tags",
			sel:  Selector{SchemaName: schema, AnyTags: []string{"urgent"}, NoneTags: []string{"state:deprecated"}},
			want: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sel.MatchesEnvelope(&env))
		})
	}
}

func TestSelectorMatchesContext(t *testing.T) {
	ctx := map[string]any{
		"status":   "open",
		"priority": 7.0,
		"labels":   []any{"infra", "deploy"},
		"note":     "deploy to staging cluster",
	}

	tests := []struct {
		name string
		cm   ContextMatch
		want bool
	}{
		{name: "eq string hit", cm: ContextMatch{Path: "$.status", Op: OpEq, Value: "open"}, want: true},
		{name: "eq string miss", cm: ContextMatch{Path: "$.status", Op: OpEq, Value: "closed"}, want: false},
		{name: "ne", cm: ContextMatch{Path: "$.status", Op: OpNe, Value: "closed"}, want: true},
		{name: "gt", cm: ContextMatch{Path: "$.priority", Op: OpGt, Value: 5}, want: true},
		{name: "gte boundary", cm: ContextMatch{Path: "$.priority", Op: OpGte, Value: 7}, want: true},
		{name: "lt miss", cm: ContextMatch{Path: "$.priority", Op: OpLt, Value: 7}, want: false},
		{name: "lte boundary", cm: ContextMatch{Path: "$.priority", Op: OpLte, Value: 7}, want: true},
		{name: "contains substring", cm: ContextMatch{Path: "$.note", Op: OpContains, Value: "staging"}, want: true},
		{name: "contains array member", cm: ContextMatch{Path: "$.labels", Op: OpContains, Value: "infra"}, want: true},
		{name: "contains_any hit", cm: ContextMatch{Path: "$.labels", Op: OpContainsAny, Value: []any{"nope", "deploy"}}, want: true},
		{name: "contains_any miss", cm: ContextMatch{Path: "$.labels", Op: OpContainsAny, Value: []any{"nope"}}, want: false},
		{name: "missing path never matches", cm: ContextMatch{Path: "$.absent", Op: OpEq, Value: "x"}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel := Selector{ContextMatch: []ContextMatch{tt.cm}}
			assert.Equal(t, tt.want, sel.MatchesContext(ctx))
		})
	}

	t.Run("all predicates must hold", func(t *testing.T) {
		sel := Selector{ContextMatch: []ContextMatch{
			{Path: "$.status", Op: OpEq, Value: "open"},
			{Path: "$.priority", Op: OpGt, Value: 10},
		}}
		assert.False(t, sel.MatchesContext(ctx))
	})
}
