package builder

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rcrt-io/rcrt/pkg/models"
	"github.com/rcrt-io/rcrt/pkg/store"
)

// BudgetResolver turns an agent definition into a token budget:
// embedded context_budget wins, then the referenced tool-config
// record, then the model catalog, then the default.
type BudgetResolver struct {
	store         *store.Store
	defaultBudget int
	logger        *slog.Logger

	mu    sync.RWMutex
	cache map[string]int
}

// NewBudgetResolver creates a resolver with an empty cache.
func NewBudgetResolver(st *store.Store, defaultBudget int) *BudgetResolver {
	if defaultBudget <= 0 {
		defaultBudget = 50000
	}
	return &BudgetResolver{
		store:         st,
		defaultBudget: defaultBudget,
		logger:        slog.Default().With("component", "budget_resolver"),
		cache:         make(map[string]int),
	}
}

// Resolve returns the context token budget for an agent definition.
func (r *BudgetResolver) Resolve(ctx context.Context, ownerID string, def *models.AgentDef) int {
	if def.LLMConfig != nil && def.LLMConfig.ContextBudget > 0 {
		return def.LLMConfig.ContextBudget
	}
	if def.LLMConfigID == "" {
		return r.defaultBudget
	}

	r.mu.RLock()
	budget, ok := r.cache[def.LLMConfigID]
	r.mu.RUnlock()
	if ok {
		return budget
	}

	budget = r.resolveFromConfig(ctx, ownerID, def.LLMConfigID)
	r.mu.Lock()
	r.cache[def.LLMConfigID] = budget
	r.mu.Unlock()
	return budget
}

// Invalidate drops the cached budget for a config record; called when
// an event for that record arrives.
func (r *BudgetResolver) Invalidate(configID string) {
	r.mu.Lock()
	delete(r.cache, configID)
	r.mu.Unlock()
}

func (r *BudgetResolver) resolveFromConfig(ctx context.Context, ownerID, configID string) int {
	cfg, err := r.store.GetBreadcrumbBypass(ctx, configID)
	if err != nil {
		r.logger.Warn("llm config record unavailable, using default budget",
			"config_id", configID, "error", err)
		return r.defaultBudget
	}

	if budget, ok := numberField(cfg.Context, "context_budget"); ok && budget > 0 {
		return budget
	}

	model, _ := cfg.Context["model"].(string)
	if model == "" {
		if nested, ok := cfg.Context["config"].(map[string]any); ok {
			model, _ = nested["default_model"].(string)
		}
	}
	if model != "" {
		if budget := r.lookupCatalog(ctx, ownerID, model); budget > 0 {
			return budget
		}
	}
	return r.defaultBudget
}

// lookupCatalog finds the model's context window in the newest
// models.catalog.v1 record and leaves 25% headroom for the response.
func (r *BudgetResolver) lookupCatalog(ctx context.Context, ownerID, model string) int {
	catalog, err := r.store.LatestBySchemaBypass(ctx, ownerID, "models.catalog.v1")
	if err != nil || catalog == nil {
		return 0
	}
	modelsMap, ok := catalog.Context["models"].(map[string]any)
	if !ok {
		return 0
	}
	entry, ok := modelsMap[model].(map[string]any)
	if !ok {
		return 0
	}
	if window, ok := numberField(entry, "context_length"); ok && window > 0 {
		return int(float64(window) * 0.75)
	}
	return 0
}

func numberField(m map[string]any, key string) (int, bool) {
	switch n := m[key].(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}
