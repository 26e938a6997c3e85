package transform

import (
	"fmt"
	"sync"

	"github.com/aymerick/raymond"
	"golang.org/x/sync/singleflight"
)

// templateRegistry caches compiled Handlebars templates keyed by
// (schema, output key). Compilation is collapsed so concurrent fetches
// of the same schema compile once.
type templateRegistry struct {
	mu    sync.RWMutex
	cache map[string]*raymond.Template
	group singleflight.Group
}

func newTemplateRegistry() *templateRegistry {
	return &templateRegistry{cache: make(map[string]*raymond.Template)}
}

func registryKey(schemaName, outputKey, source string) string {
	// The source participates in the key so a schema definition update
	// that changes a template never serves the stale compile.
	return schemaName + "\x00" + outputKey + "\x00" + source
}

func (r *templateRegistry) get(schemaName, outputKey, source string) (*raymond.Template, error) {
	key := registryKey(schemaName, outputKey, source)

	r.mu.RLock()
	tpl, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return tpl, nil
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		compiled, err := raymond.Parse(source)
		if err != nil {
			return nil, fmt.Errorf("failed to compile template: %w", err)
		}
		r.mu.Lock()
		r.cache[key] = compiled
		r.mu.Unlock()
		return compiled, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*raymond.Template), nil
}
