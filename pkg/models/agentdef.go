package models

import (
	"encoding/json"
	"fmt"
)

// Source methods for an "always" context source.
const (
	SourceMethodLatest = "latest"
	SourceMethodRecent = "recent"
	SourceMethodAll    = "all"
)

// Source types for an "always" context source.
const (
	SourceTypeSchema   = "schema"
	SourceTypeTag      = "tag"
	SourceTypeSpecific = "specific"
)

// AlwaysSource is one deterministic retrieval rule from an agent
// definition's context_sources.always list.
type AlwaysSource struct {
	Type       string `json:"type"`
	SchemaName string `json:"schema_name,omitempty"`
	Tag        string `json:"tag,omitempty"`
	ID         string `json:"id,omitempty"`
	Method     string `json:"method,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	Optional   bool   `json:"optional,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// SemanticSource configures similarity retrieval seeded by the
// triggering breadcrumb's embedding.
type SemanticSource struct {
	Enabled       bool     `json:"enabled"`
	Schemas       []string `json:"schemas,omitempty"`
	Limit         int      `json:"limit,omitempty"`
	MinSimilarity float64  `json:"min_similarity,omitempty"`
}

// ContextSources declares what an agent always wants plus what it
// wants found by similarity.
type ContextSources struct {
	Always   []AlwaysSource  `json:"always,omitempty"`
	Semantic *SemanticSource `json:"semantic,omitempty"`
}

// LLMConfig mirrors the config block of a tool.config.v1 breadcrumb.
type LLMConfig struct {
	DefaultModel  string  `json:"default_model,omitempty"`
	MaxTokens     int     `json:"max_tokens,omitempty"`
	Temperature   float64 `json:"temperature,omitempty"`
	ContextBudget int     `json:"context_budget,omitempty"`
}

// AgentDef is the parsed context of an agent.def.v1 breadcrumb. Only
// the fields the context builder consumes are modeled; the rest of the
// definition (prompts, tool lists) passes through untouched.
type AgentDef struct {
	AgentID        string          `json:"agent_id"`
	ContextTrigger *Selector       `json:"context_trigger,omitempty"`
	ContextSources *ContextSources `json:"context_sources,omitempty"`
	Subscriptions  []Selector      `json:"subscriptions,omitempty"`
	LLMConfigID    string          `json:"llm_config_id,omitempty"`
	LLMConfig      *LLMConfig      `json:"llm_config,omitempty"`
}

// ParseAgentDef decodes an agent definition out of a breadcrumb
// context. Unknown keys are ignored so definitions can carry fields
// the builder does not care about.
func ParseAgentDef(context map[string]any) (*AgentDef, error) {
	raw, err := json.Marshal(context)
	if err != nil {
		return nil, fmt.Errorf("failed to encode agent definition: %w", err)
	}
	var def AgentDef
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("failed to decode agent definition: %w", err)
	}
	if def.AgentID == "" {
		return nil, fmt.Errorf("agent definition missing agent_id")
	}
	return &def, nil
}

// AlwaysSources returns the always list, or nil when the definition
// declares no deterministic sources.
func (d *AgentDef) AlwaysSources() []AlwaysSource {
	if d.ContextSources == nil {
		return nil
	}
	return d.ContextSources.Always
}

// SemanticConfig returns the semantic retrieval config when enabled.
func (d *AgentDef) SemanticConfig() *SemanticSource {
	if d.ContextSources == nil || d.ContextSources.Semantic == nil {
		return nil
	}
	if !d.ContextSources.Semantic.Enabled {
		return nil
	}
	return d.ContextSources.Semantic
}
