package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ContextMatchOp enumerates the comparison operators usable in a selector's
// context_match predicates.
type ContextMatchOp string

const (
	OpEq          ContextMatchOp = "eq"
	OpNe          ContextMatchOp = "ne"
	OpGt          ContextMatchOp = "gt"
	OpGte         ContextMatchOp = "gte"
	OpLt          ContextMatchOp = "lt"
	OpLte         ContextMatchOp = "lte"
	OpContains    ContextMatchOp = "contains"
	OpContainsAny ContextMatchOp = "contains_any"
)

// Valid reports whether op is a known comparison operator.
func (op ContextMatchOp) Valid() bool {
	switch op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpContains, OpContainsAny:
		return true
	}
	return false
}

// ContextMatch is one JSON-path comparison inside a selector. Path uses
// shallow dollar-dot notation ("$.status"); only top-level keys are
// addressable on match evaluation against full records.
type ContextMatch struct {
	Path  string         `json:"path"`
	Op    ContextMatchOp `json:"op"`
	Value any            `json:"value"`
}

// Selector is a stored predicate over records. A selector matches an event
// when its schema / tag / sensitivity / visibility predicates hold over the
// event envelope alone; context predicates are evaluated only against full
// records (list/search paths), never against envelopes.
type Selector struct {
	SchemaName    string         `json:"schema_name,omitempty"`
	AnyTags       []string       `json:"any_tags,omitempty"`
	AllTags       []string       `json:"all_tags,omitempty"`
	NoneTags      []string       `json:"none_tags,omitempty"`
	SensitivityIn []Sensitivity  `json:"sensitivity_in,omitempty"`
	VisibilityIn  []Visibility   `json:"visibility_in,omitempty"`
	ContextMatch  []ContextMatch `json:"context_match,omitempty"`
	// BreadcrumbID binds the selector to a single record (degenerate form
	// used by POST /records/{id}/subscribe).
	BreadcrumbID string `json:"breadcrumb_id,omitempty"`
}

// Validate checks operator names and rejects empty selectors.
func (s *Selector) Validate() error {
	if s.SchemaName == "" && len(s.AnyTags) == 0 && len(s.AllTags) == 0 &&
		len(s.NoneTags) == 0 && len(s.SensitivityIn) == 0 && len(s.VisibilityIn) == 0 &&
		len(s.ContextMatch) == 0 && s.BreadcrumbID == "" {
		return fmt.Errorf("selector has no predicates")
	}
	for _, cm := range s.ContextMatch {
		if !cm.Op.Valid() {
			return fmt.Errorf("unknown context_match op %q", cm.Op)
		}
		if !strings.HasPrefix(cm.Path, "$.") {
			return fmt.Errorf("context_match path %q must start with $.", cm.Path)
		}
	}
	return nil
}

// MatchesEnvelope evaluates the envelope-safe predicates. Context predicates
// are intentionally ignored here.
func (s *Selector) MatchesEnvelope(env *EventEnvelope) bool {
	if s.BreadcrumbID != "" && s.BreadcrumbID != env.RecordID {
		return false
	}
	if s.SchemaName != "" && s.SchemaName != env.SchemaName {
		return false
	}
	if len(s.AnyTags) > 0 {
		found := false
		for _, t := range s.AnyTags {
			if env.HasTag(t) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, t := range s.AllTags {
		if !env.HasTag(t) {
			return false
		}
	}
	for _, t := range s.NoneTags {
		if env.HasTag(t) {
			return false
		}
	}
	if len(s.SensitivityIn) > 0 && !containsSensitivity(s.SensitivityIn, env.Sensitivity) {
		return false
	}
	if len(s.VisibilityIn) > 0 && !containsVisibility(s.VisibilityIn, env.Visibility) {
		return false
	}
	return true
}

// MatchesContext evaluates context_match predicates against a full payload.
// Paths address top-level keys ("$.status"). Unknown paths never match.
func (s *Selector) MatchesContext(context map[string]any) bool {
	for _, cm := range s.ContextMatch {
		key := strings.TrimPrefix(cm.Path, "$.")
		got, ok := context[key]
		if !ok {
			return false
		}
		if !evalContextMatch(got, cm.Op, cm.Value) {
			return false
		}
	}
	return true
}

func containsSensitivity(set []Sensitivity, v Sensitivity) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsVisibility(set []Visibility, v Visibility) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func evalContextMatch(got any, op ContextMatchOp, want any) bool {
	switch op {
	case OpEq:
		return fmt.Sprint(got) == fmt.Sprint(want)
	case OpNe:
		return fmt.Sprint(got) != fmt.Sprint(want)
	case OpGt, OpGte, OpLt, OpLte:
		g, gok := toFloat(got)
		w, wok := toFloat(want)
		if !gok || !wok {
			return false
		}
		switch op {
		case OpGt:
			return g > w
		case OpGte:
			return g >= w
		case OpLt:
			return g < w
		default:
			return g <= w
		}
	case OpContains:
		gs, ok := got.(string)
		ws, ok2 := want.(string)
		if ok && ok2 {
			return strings.Contains(gs, ws)
		}
		return anySliceContains(got, want)
	case OpContainsAny:
		wants, ok := want.([]any)
		if !ok {
			return false
		}
		for _, w := range wants {
			if s, isStr := got.(string); isStr {
				if ws, isWStr := w.(string); isWStr && strings.Contains(s, ws) {
					return true
				}
				continue
			}
			if anySliceContains(got, w) {
				return true
			}
		}
		return false
	}
	return false
}

func anySliceContains(got, want any) bool {
	arr, ok := got.([]any)
	if !ok {
		return false
	}
	for _, item := range arr {
		if fmt.Sprint(item) == fmt.Sprint(want) {
			return true
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// StoredSelector is a persisted selector subscription bound to delivery
// channels.
type StoredSelector struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	AgentID   string    `json:"agent_id"`
	Selector  Selector  `json:"selector"`
	Bus       bool      `json:"bus"`
	SSE       bool      `json:"sse"`
	Webhook   bool      `json:"webhook"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
