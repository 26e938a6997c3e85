package transform

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/ohler55/ojg/jp"
)

// Engine applies llm_hints to JSON contexts. It is stateless apart
// from the compiled-template registry and must be constructed once per
// process and injected; a per-request engine defeats the registry.
type Engine struct {
	templates *templateRegistry
	logger    *slog.Logger
}

// NewEngine creates the shared transform engine.
func NewEngine() *Engine {
	return &Engine{
		templates: newTemplateRegistry(),
		logger:    slog.Default().With("component", "transform"),
	}
}

var formatToken = regexp.MustCompile(`\{([a-zA-Z0-9_.-]+)\}`)

// Apply rewrites context under hints. Transforms never fail a fetch:
// rule failures are logged, the key is omitted and a warning returned,
// so the caller always receives a usable (best-effort) result.
func (e *Engine) Apply(schemaName string, context map[string]any, hints *Hints) (map[string]any, []string) {
	if hints.Empty() {
		return context, nil
	}

	filtered := filterContext(context, hints.Include, hints.Exclude)
	if len(hints.Transform) == 0 {
		return filtered, nil
	}

	var warnings []string
	results := make(map[string]any, len(hints.Transform))
	for key, rule := range hints.Transform {
		value, err := e.applyRule(schemaName, key, rule, context)
		if err != nil {
			e.logger.Warn("transform rule failed",
				"schema", schemaName, "key", key, "error", err)
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			continue
		}
		results[key] = value
	}

	mode := hints.Mode
	if mode == "" {
		mode = ModeReplace
	}
	if mode == ModeReplace {
		return results, warnings
	}

	// merge: transform keys win over the filtered context.
	merged := make(map[string]any, len(filtered)+len(results))
	for k, v := range filtered {
		merged[k] = v
	}
	for k, v := range results {
		merged[k] = v
	}
	return merged, warnings
}

func (e *Engine) applyRule(schemaName, outputKey string, rule Rule, context map[string]any) (any, error) {
	switch {
	case rule.Template != nil:
		tpl, err := e.templates.get(schemaName, outputKey, *rule.Template)
		if err != nil {
			return nil, err
		}
		out, err := tpl.Exec(map[string]any{"context": context})
		if err != nil {
			return nil, fmt.Errorf("failed to render template: %w", err)
		}
		return out, nil

	case rule.Extract != nil:
		expr, err := jp.ParseString(*rule.Extract)
		if err != nil {
			return nil, fmt.Errorf("invalid JSONPath %q: %w", *rule.Extract, err)
		}
		matches := expr.Get(context)
		switch len(matches) {
		case 0:
			return nil, nil
		case 1:
			return matches[0], nil
		default:
			return matches, nil
		}

	case rule.Format != nil:
		return formatToken.ReplaceAllStringFunc(*rule.Format, func(token string) string {
			field := token[1 : len(token)-1]
			v, ok := context[field]
			if !ok {
				return ""
			}
			return stringify(v)
		}), nil

	case rule.hasLiteral:
		return rule.Literal, nil

	case rule.JQ != nil:
		return nil, fmt.Errorf("jq rules are unimplemented")
	}
	return nil, fmt.Errorf("empty rule")
}

// filterContext applies include then exclude with dot-path semantics.
func filterContext(context map[string]any, include, exclude []string) map[string]any {
	out := context
	if len(include) > 0 {
		picked := make(map[string]any)
		for _, path := range include {
			copyPath(context, picked, strings.Split(path, "."))
		}
		out = picked
	}
	if len(exclude) > 0 {
		trimmed := deepCopyMap(out)
		for _, path := range exclude {
			deletePath(trimmed, strings.Split(path, "."))
		}
		out = trimmed
	}
	return out
}

func copyPath(src, dst map[string]any, path []string) {
	if len(path) == 0 {
		return
	}
	key := path[0]
	v, ok := src[key]
	if !ok {
		return
	}
	if len(path) == 1 {
		dst[key] = v
		return
	}
	srcChild, ok := v.(map[string]any)
	if !ok {
		return
	}
	dstChild, ok := dst[key].(map[string]any)
	if !ok {
		dstChild = make(map[string]any)
		dst[key] = dstChild
	}
	copyPath(srcChild, dstChild, path[1:])
}

func deletePath(m map[string]any, path []string) {
	if len(path) == 0 {
		return
	}
	if len(path) == 1 {
		delete(m, path[0])
		return
	}
	child, ok := m[path[0]].(map[string]any)
	if !ok {
		return
	}
	deletePath(child, path[1:])
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if child, ok := v.(map[string]any); ok {
			out[k] = deepCopyMap(child)
			continue
		}
		out[k] = v
	}
	return out
}

// Projection builds the text the embedder and the entity extractor
// see: the LLM-facing view of a record, not its raw JSON.
func Projection(title, description string, transformed map[string]any) string {
	var sb strings.Builder
	sb.WriteString(title)
	sb.WriteByte(' ')
	sb.WriteString(description)
	sb.WriteByte(' ')
	sb.WriteString(stringify(transformed))
	return sb.String()
}
