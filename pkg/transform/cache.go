package transform

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefSource loads the llm_hints object for a target schema, usually
// from the latest schema.def.v1 record tagged defines:<target>. A nil
// map with nil error means no definition exists.
type DefSource interface {
	FindSchemaDef(ctx context.Context, schemaName string) (map[string]any, error)
}

// negativeTTL bounds how long a "no definition" answer is served
// before the store is asked again. Positive entries never expire; they
// are replaced by Invalidate when a bump event arrives.
const negativeTTL = 30 * time.Second

type cacheEntry struct {
	hints     *Hints
	fetchedAt time.Time
}

// SchemaCache caches parsed llm_hints per schema name. Reads are
// lock-free on the hot path; concurrent misses for one key collapse to
// a single store query. The cache is monotone: a present entry is
// served even while a refresh is due.
type SchemaCache struct {
	source DefSource

	mu      sync.RWMutex
	entries map[string]*cacheEntry
	group   singleflight.Group
	logger  *slog.Logger
}

// NewSchemaCache creates an empty cache over the given source.
func NewSchemaCache(source DefSource) *SchemaCache {
	return &SchemaCache{
		source:  source,
		entries: make(map[string]*cacheEntry),
		logger:  slog.Default().With("component", "schema_cache"),
	}
}

// Get returns the hints for a schema, or nil when none are defined.
// Load failures surface as errors only on a cold miss; a populated
// entry always wins over a failing refresh.
func (c *SchemaCache) Get(ctx context.Context, schemaName string) (*Hints, error) {
	if schemaName == "" {
		return nil, nil
	}

	c.mu.RLock()
	entry, ok := c.entries[schemaName]
	c.mu.RUnlock()
	if ok {
		if entry.hints != nil || time.Since(entry.fetchedAt) < negativeTTL {
			return entry.hints, nil
		}
	}

	v, err, _ := c.group.Do(schemaName, func() (any, error) {
		raw, err := c.source.FindSchemaDef(ctx, schemaName)
		if err != nil {
			return nil, err
		}
		var hints *Hints
		if raw != nil {
			hints, err = ParseHints(raw)
			if err != nil {
				// A malformed definition behaves like no definition, so
				// one bad meta-record cannot break every fetch of its
				// target schema.
				c.logger.Warn("ignoring malformed schema definition",
					"schema", schemaName, "error", err)
				hints = nil
			}
		}
		c.mu.Lock()
		c.entries[schemaName] = &cacheEntry{hints: hints, fetchedAt: time.Now()}
		c.mu.Unlock()
		return hints, nil
	})
	if err != nil {
		if ok {
			return entry.hints, nil
		}
		return nil, err
	}
	hints, _ := v.(*Hints)
	return hints, nil
}

// Invalidate drops the entry for a target schema; the next Get
// reloads. Called when a schema.def.v1 event arrives.
func (c *SchemaCache) Invalidate(schemaName string) {
	c.mu.Lock()
	delete(c.entries, schemaName)
	c.mu.Unlock()
}

// Reset drops every entry.
func (c *SchemaCache) Reset() {
	c.mu.Lock()
	c.entries = make(map[string]*cacheEntry)
	c.mu.Unlock()
}
