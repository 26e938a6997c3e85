// Package builder maintains the substrate's derived state (entity
// keywords, graph edges) and assembles agent context packets from it.
package builder

import (
	"regexp"
	"sort"
	"strings"
)

// baselineVocabulary is the built-in domain term set kept as pointers.
// An entity.vocab.v1 record extends it at runtime.
var baselineVocabulary = []string{
	// Core concepts
	"breadcrumb", "breadcrumbs", "agent", "agents", "tool", "tools",
	"context", "embedding", "embeddings", "semantic", "vector",
	"schema", "schemas", "secret", "secrets",

	// Actions
	"create", "search", "execute", "configure", "update", "delete",
	"publish", "subscribe", "trigger", "respond",

	// Technologies
	"postgresql", "docker", "webhook", "session", "token",

	// Features
	"permission", "permissions", "bootstrap", "schedule",
	"workflow", "catalog", "config", "definition",

	// Components
	"database", "frontend", "backend", "dashboard", "runner",
}

// stateVocabulary names lifecycle tags that carry no retrieval signal;
// plain tags matching these are not promoted to pointers.
var stateVocabulary = map[string]bool{
	"approved": true, "validated": true, "bootstrap": true,
	"deprecated": true, "draft": true, "archived": true,
	"ephemeral": true, "error": true, "warning": true, "info": true,
}

// schemaTokenPattern matches schema-shaped tokens such as
// "tool.code.v1" or "user.message.v1".
var schemaTokenPattern = regexp.MustCompile(`\b[a-z_]+(\.[a-z_]+)+\.v\d+\b`)

// Extractor derives entity keywords from record text for hybrid
// search. Cheap regex plus vocabulary matching; no model involved.
type Extractor struct {
	vocabulary map[string]bool
}

// NewExtractor creates an extractor over the baseline vocabulary plus
// any extra terms (from the tenant's entity.vocab.v1 record).
func NewExtractor(extraTerms []string) *Extractor {
	vocab := make(map[string]bool, len(baselineVocabulary)+len(extraTerms))
	for _, t := range baselineVocabulary {
		vocab[strings.ToLower(t)] = true
	}
	for _, t := range extraTerms {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			vocab[t] = true
		}
	}
	return &Extractor{vocabulary: vocab}
}

// isTokenSeparator splits words on anything that is not alphanumeric
// or a hyphen, so kebab-case identifiers survive.
func isTokenSeparator(r rune) bool {
	if r == '-' {
		return false
	}
	return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'))
}

// Extract returns the sorted, deduplicated pointer set for a record:
// vocabulary terms and schema-shaped tokens found in text, plus the
// record's plain tags (no ':') that are not lifecycle states.
func (e *Extractor) Extract(text string, tags []string) []string {
	seen := make(map[string]bool)

	lower := strings.ToLower(text)
	for _, token := range strings.FieldsFunc(lower, isTokenSeparator) {
		if len(token) >= 4 && e.vocabulary[token] {
			seen[token] = true
		}
	}
	for _, schema := range schemaTokenPattern.FindAllString(lower, -1) {
		seen[schema] = true
	}

	for _, tag := range tags {
		tag = strings.ToLower(tag)
		if strings.Contains(tag, ":") || stateVocabulary[tag] || tag == "" {
			continue
		}
		seen[tag] = true
	}

	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
