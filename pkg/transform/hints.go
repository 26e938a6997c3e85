// Package transform implements the llm_hints rewrite engine and the
// schema-definition cache behind it. Every context-view fetch passes
// through here; the engine is a process-wide singleton shared by the
// API and the builder.
package transform

import (
	"encoding/json"
	"fmt"
)

// Transform modes.
const (
	ModeReplace = "replace"
	ModeMerge   = "merge"
)

// Rule is one output-key transform inside an llm_hints object. Exactly
// one of the fields is set; which one decides the rule kind.
type Rule struct {
	Template *string `json:"template,omitempty"`
	Extract  *string `json:"extract,omitempty"`
	Format   *string `json:"format,omitempty"`
	Literal  any     `json:"literal,omitempty"`
	JQ       *string `json:"jq,omitempty"`

	hasLiteral bool
}

// Hints is a parsed llm_hints object.
type Hints struct {
	Include   []string        `json:"include,omitempty"`
	Exclude   []string        `json:"exclude,omitempty"`
	Transform map[string]Rule `json:"transform,omitempty"`
	Mode      string          `json:"mode,omitempty"`
}

// Empty reports whether the hints would leave a context untouched.
func (h *Hints) Empty() bool {
	return h == nil || (len(h.Include) == 0 && len(h.Exclude) == 0 && len(h.Transform) == 0)
}

// ParseHints decodes an llm_hints payload. Returns nil for empty
// input; unknown keys are ignored.
func ParseHints(raw map[string]any) (*Hints, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var h Hints
	if v, ok := raw["mode"]; ok {
		s, ok := v.(string)
		if !ok || (s != ModeReplace && s != ModeMerge) {
			return nil, fmt.Errorf("llm_hints mode must be %q or %q", ModeReplace, ModeMerge)
		}
		h.Mode = s
	}
	var err error
	if h.Include, err = stringList(raw["include"], "include"); err != nil {
		return nil, err
	}
	if h.Exclude, err = stringList(raw["exclude"], "exclude"); err != nil {
		return nil, err
	}

	if v, ok := raw["transform"]; ok && v != nil {
		rules, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("llm_hints transform must be an object")
		}
		h.Transform = make(map[string]Rule, len(rules))
		for key, rv := range rules {
			rule, err := parseRule(rv)
			if err != nil {
				return nil, fmt.Errorf("transform %q: %w", key, err)
			}
			h.Transform[key] = rule
		}
	}
	return &h, nil
}

func parseRule(v any) (Rule, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return Rule{}, fmt.Errorf("rule must be an object")
	}

	var rule Rule
	count := 0
	if s, ok := stringField(obj, "template"); ok {
		rule.Template = &s
		count++
	}
	if s, ok := stringField(obj, "extract"); ok {
		rule.Extract = &s
		count++
	}
	if s, ok := stringField(obj, "format"); ok {
		rule.Format = &s
		count++
	}
	if lit, ok := obj["literal"]; ok {
		rule.Literal = lit
		rule.hasLiteral = true
		count++
	}
	if s, ok := stringField(obj, "jq"); ok {
		rule.JQ = &s
		count++
	}
	if count != 1 {
		return Rule{}, fmt.Errorf("rule must set exactly one of template, extract, format, literal, jq")
	}
	return rule, nil
}

func stringField(obj map[string]any, key string) (string, bool) {
	v, ok := obj[key]
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, true
}

func stringList(v any, field string) ([]string, error) {
	if v == nil {
		return nil, nil
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("llm_hints %s must be an array of paths", field)
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("llm_hints %s entries must be strings", field)
		}
		out = append(out, s)
	}
	return out, nil
}

// stringify renders any value as the string form used in text
// projections and template output.
func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}
