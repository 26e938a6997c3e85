package api

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Meta-schemas for the two definition record kinds. Ordinary records
// carry arbitrary JSON; definitions drive the transform engine and the
// assembler, so a malformed one is rejected at the door instead of
// failing silently downstream.
const schemaDefMetaSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"llm_hints": {
			"type": "object",
			"properties": {
				"include": {"type": "array", "items": {"type": "string"}},
				"exclude": {"type": "array", "items": {"type": "string"}},
				"mode": {"enum": ["replace", "merge"]},
				"transform": {
					"type": "object",
					"additionalProperties": {
						"type": "object",
						"properties": {
							"template": {"type": "string"},
							"extract": {"type": "string"},
							"format": {"type": "string"},
							"literal": {},
							"jq": {"type": "string"}
						},
						"minProperties": 1,
						"maxProperties": 1
					}
				}
			}
		}
	}
}`

const agentDefMetaSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"agent_id": {"type": "string", "minLength": 1},
		"context_trigger": {
			"type": "object",
			"properties": {
				"schema_name": {"type": "string"},
				"any_tags": {"type": "array", "items": {"type": "string"}},
				"all_tags": {"type": "array", "items": {"type": "string"}},
				"none_tags": {"type": "array", "items": {"type": "string"}}
			}
		},
		"context_sources": {
			"type": "object",
			"properties": {
				"always": {
					"type": "array",
					"items": {
						"type": "object",
						"properties": {
							"type": {"enum": ["schema", "tag", "specific"]},
							"schema_name": {"type": "string"},
							"tag": {"type": "string"},
							"id": {"type": "string"},
							"method": {"enum": ["latest", "recent", "all"]},
							"limit": {"type": "integer", "minimum": 1},
							"optional": {"type": "boolean"},
							"reason": {"type": "string"}
						},
						"required": ["type"]
					}
				},
				"semantic": {
					"type": "object",
					"properties": {
						"enabled": {"type": "boolean"},
						"schemas": {"type": "array", "items": {"type": "string"}},
						"limit": {"type": "integer", "minimum": 1},
						"min_similarity": {"type": "number", "minimum": 0, "maximum": 1}
					}
				}
			}
		},
		"llm_config_id": {"type": "string"},
		"llm_config": {
			"type": "object",
			"properties": {
				"context_budget": {"type": "integer", "minimum": 1},
				"max_tokens": {"type": "integer", "minimum": 1},
				"temperature": {"type": "number"}
			}
		}
	},
	"required": ["agent_id"]
}`

// defValidator validates definition record payloads against their
// compiled meta-schemas.
type defValidator struct {
	bySchema map[string]*jsonschema.Schema
}

func newDefValidator() (*defValidator, error) {
	compiled := make(map[string]*jsonschema.Schema, 2)
	for name, raw := range map[string]string{
		"schema.def.v1": schemaDefMetaSchema,
		"agent.def.v1":  agentDefMetaSchema,
	} {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid meta-schema for %s: %w", name, err)
		}
		compiler := jsonschema.NewCompiler()
		url := "rcrt://meta/" + name + ".json"
		if err := compiler.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("failed to register meta-schema for %s: %w", name, err)
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("failed to compile meta-schema for %s: %w", name, err)
		}
		compiled[name] = schema
	}
	return &defValidator{bySchema: compiled}, nil
}

// Validate checks a record context against the meta-schema for its
// schema name. Non-definition schemas pass untouched.
func (v *defValidator) Validate(schemaName *string, context map[string]any) error {
	if schemaName == nil {
		return nil
	}
	schema, ok := v.bySchema[*schemaName]
	if !ok {
		return nil
	}
	if err := schema.Validate(normalizeJSON(context)); err != nil {
		return fmt.Errorf("%s payload invalid: %w", *schemaName, err)
	}
	return nil
}

// normalizeJSON rewrites Go values into the shapes the validator
// expects (json.Unmarshal semantics: maps and float64 numbers).
func normalizeJSON(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeJSON(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeJSON(val)
		}
		return out
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}
