package builder

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rcrt-io/rcrt/pkg/embedding"
	"github.com/rcrt-io/rcrt/pkg/events"
	"github.com/rcrt-io/rcrt/pkg/models"
	"github.com/rcrt-io/rcrt/pkg/store"
	"github.com/rcrt-io/rcrt/pkg/transform"
)

// EntityWorker keeps entity keywords (and missing embeddings) up to
// date: it follows create/update events and backfills rows that
// predate the worker.
type EntityWorker struct {
	store    *store.Store
	bus      *events.Bus
	engine   *transform.Engine
	cache    *transform.SchemaCache
	provider embedding.Provider
	cfg      Config
	logger   *slog.Logger

	mu         sync.Mutex
	extractors map[string]*Extractor

	sub    *events.Subscription
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEntityWorker creates a stopped worker.
func NewEntityWorker(st *store.Store, bus *events.Bus, engine *transform.Engine, cache *transform.SchemaCache, provider embedding.Provider, cfg Config) *EntityWorker {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	return &EntityWorker{
		store:      st,
		bus:        bus,
		engine:     engine,
		cache:      cache,
		provider:   provider,
		cfg:        cfg,
		logger:     slog.Default().With("component", "entity_worker"),
		extractors: make(map[string]*Extractor),
	}
}

// Start runs the backfill pass and then begins following events with
// the configured worker count.
func (w *EntityWorker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.sub = w.bus.Subscribe("bc.>", w.cfg.QueueSize)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.backfill(ctx)
	}()

	for i := 0; i < w.cfg.Workers; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case evt, ok := <-w.sub.C:
					if !ok {
						return
					}
					w.handle(ctx, &evt.Envelope)
				}
			}
		}()
	}
	w.logger.Info("entity worker started", "workers", w.cfg.Workers)
}

// Stop detaches from the bus and waits for in-flight work.
func (w *EntityWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	if w.sub != nil {
		w.sub.Close()
	}
	w.wg.Wait()
	w.logger.Info("entity worker stopped")
}

func (w *EntityWorker) handle(ctx context.Context, env *models.EventEnvelope) {
	switch env.Type {
	case models.EventCreated, models.EventUpdated:
	default:
		return
	}

	// A vocabulary change invalidates the tenant's extractor; keywords
	// recompute lazily as records are touched.
	if env.SchemaName == "entity.vocab.v1" {
		w.mu.Lock()
		delete(w.extractors, env.Owner)
		w.mu.Unlock()
	}

	bc, err := w.store.GetBreadcrumbBypass(ctx, env.RecordID)
	if err != nil {
		w.logger.Warn("record vanished before keyword extraction",
			"record_id", env.RecordID, "error", err)
		return
	}

	// Creation events can replay (listener reconnect); an already
	// keyworded record needs no second pass. Updates always recompute.
	force := env.Type == models.EventUpdated
	w.process(ctx, bc, force)
}

// process recomputes derived state for one record: keywords always
// (when missing or forced), embedding only when absent and a provider
// is configured.
func (w *EntityWorker) process(ctx context.Context, bc *models.Breadcrumb, force bool) {
	projection := w.projection(ctx, bc)

	if force || len(bc.EntityKeywords) == 0 {
		keywords := w.extractorFor(ctx, bc.OwnerID).Extract(projection, bc.Tags)
		if err := w.store.UpdateEntityKeywords(ctx, bc.ID, keywords); err != nil {
			w.logger.Warn("failed to store entity keywords",
				"record_id", bc.ID, "error", err)
		}
	}

	if w.provider.Dimension() > 0 && (force || len(bc.Embedding) == 0) {
		vec, err := w.provider.Embed(ctx, projection)
		if err != nil {
			w.logger.Warn("embedding failed, leaving for backfill",
				"record_id", bc.ID, "error", err)
			return
		}
		if err := w.store.UpdateEmbedding(ctx, bc.ID, vec); err != nil {
			w.logger.Warn("failed to store embedding", "record_id", bc.ID, "error", err)
		}
	}
}

// projection renders the LLM-facing text of a record through its
// schema's transform hints.
func (w *EntityWorker) projection(ctx context.Context, bc *models.Breadcrumb) string {
	hints, err := w.cache.Get(ctx, bc.Schema())
	if err != nil {
		w.logger.Warn("schema definition lookup failed",
			"schema", bc.Schema(), "error", err)
	}
	transformed, _ := w.engine.Apply(bc.Schema(), bc.Context, hints)
	return transform.Projection(bc.Title, bc.Description, transformed)
}

// extractorFor returns the tenant's extractor, building it from the
// baseline vocabulary plus the tenant's entity.vocab.v1 terms.
func (w *EntityWorker) extractorFor(ctx context.Context, ownerID string) *Extractor {
	w.mu.Lock()
	if ex, ok := w.extractors[ownerID]; ok {
		w.mu.Unlock()
		return ex
	}
	w.mu.Unlock()

	var extra []string
	if vocab, err := w.store.LatestBySchemaBypass(ctx, ownerID, "entity.vocab.v1"); err == nil && vocab != nil {
		if terms, ok := vocab.Context["terms"].([]any); ok {
			for _, t := range terms {
				if s, ok := t.(string); ok {
					extra = append(extra, s)
				}
			}
		}
	}

	ex := NewExtractor(extra)
	w.mu.Lock()
	w.extractors[ownerID] = ex
	w.mu.Unlock()
	return ex
}

// backfill pages through records missing derived state. Runs once at
// startup; the event path keeps things current afterwards.
func (w *EntityWorker) backfill(ctx context.Context) {
	batch := w.cfg.BackfillBatch
	if batch <= 0 {
		batch = 100
	}

	processed := 0
	seen := make(map[string]bool)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		candidates, err := w.store.BackfillCandidates(ctx, batch)
		if err != nil {
			w.logger.Error("backfill query failed", "error", err)
			return
		}

		// Rows that stay candidates after a pass (e.g. embedding provider
		// down) must not spin the loop.
		progress := false
		for _, c := range candidates {
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			progress = true

			bc, err := w.store.GetBreadcrumbBypass(ctx, c.ID)
			if err != nil {
				continue
			}
			w.process(ctx, bc, false)
			processed++
		}
		if !progress || len(candidates) < batch {
			break
		}
	}
	if processed > 0 {
		w.logger.Info("backfill complete", "records", processed)
	}
}
