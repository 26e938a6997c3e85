package builder

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rcrt-io/rcrt/pkg/events"
	"github.com/rcrt-io/rcrt/pkg/metrics"
	"github.com/rcrt-io/rcrt/pkg/models"
	"github.com/rcrt-io/rcrt/pkg/store"
	"github.com/rcrt-io/rcrt/pkg/tokens"
	"github.com/rcrt-io/rcrt/pkg/transform"
)

// ContextSchema is the schema of assembled context records.
const ContextSchema = "agent.context.v1"

// contextTag marks assembled context records so agent triggers can
// exclude them and avoid feedback loops.
const contextTag = "agent:context"

// Assembler watches the change fabric and, for every agent whose
// context trigger matches an event, assembles a token-budgeted context
// record and publishes it as an agent.context.v1 singleton per
// (consumer, session).
type Assembler struct {
	store     *store.Store
	bus       *events.Bus
	publisher *events.Publisher
	engine    *transform.Engine
	cache     *transform.SchemaCache
	seeds     *SeedCollector
	graphs    *GraphLoader
	budgets   *BudgetResolver
	estimator *tokens.Estimator
	metrics   *metrics.Metrics
	cfg       Config
	logger    *slog.Logger

	mu       sync.Mutex
	inflight map[string]*agentGate

	sub    *events.Subscription
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// agentGate serializes assemblies per agent. While one runs, newer
// triggers overwrite the pending slot so only the latest is assembled
// afterwards.
type agentGate struct {
	running bool
	pending *models.EventEnvelope
}

// NewAssembler wires the assembler; GraphLoader construction can fail
// on a bad cache size.
func NewAssembler(st *store.Store, bus *events.Bus, pub *events.Publisher, engine *transform.Engine, cache *transform.SchemaCache, m *metrics.Metrics, cfg Config) (*Assembler, error) {
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = 8
	}
	if cfg.AssemblyTimeout <= 0 {
		cfg.AssemblyTimeout = 30 * time.Second
	}
	graphs, err := NewGraphLoader(st, cfg.GraphRadius, cfg.SessionCacheSize)
	if err != nil {
		return nil, err
	}
	return &Assembler{
		store:     st,
		bus:       bus,
		publisher: pub,
		engine:    engine,
		cache:     cache,
		seeds:     NewSeedCollector(st),
		graphs:    graphs,
		budgets:   NewBudgetResolver(st, cfg.DefaultBudget),
		estimator: tokens.NewEstimator(),
		metrics:   m,
		cfg:       cfg,
		logger:    slog.Default().With("component", "assembler"),
		inflight:  make(map[string]*agentGate),
	}, nil
}

// Start begins following record events.
func (a *Assembler) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.sub = a.bus.Subscribe("bc.>", a.cfg.QueueSize)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-a.sub.C:
				if !ok {
					return
				}
				a.handle(ctx, &evt.Envelope)
			}
		}
	}()
	a.logger.Info("assembler started")
}

// Stop detaches from the bus and waits for running assemblies.
func (a *Assembler) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.sub != nil {
		a.sub.Close()
	}
	a.wg.Wait()
	a.logger.Info("assembler stopped")
}

func (a *Assembler) handle(ctx context.Context, env *models.EventEnvelope) {
	a.invalidateCaches(env)

	if env.Type != models.EventCreated && env.Type != models.EventUpdated {
		return
	}
	// Assembled context must never trigger assembly, even when an agent
	// definition forgets the none_tags exclusion.
	if env.SchemaName == ContextSchema || env.HasTag(contextTag) {
		return
	}

	defs, err := a.store.AgentDefsForOwner(ctx, env.Owner)
	if err != nil {
		a.logger.Warn("agent definition lookup failed", "owner", env.Owner, "error", err)
		return
	}
	for _, bc := range defs {
		def, err := models.ParseAgentDef(bc.Context)
		if err != nil {
			a.logger.Warn("unparseable agent definition",
				"record_id", bc.ID, "error", err)
			continue
		}
		if def.ContextTrigger == nil || !def.ContextTrigger.MatchesEnvelope(env) {
			continue
		}
		a.trigger(ctx, env.Owner, def, env)
	}
}

// invalidateCaches drops derived-state caches touched by this event:
// schema transform hints, token budgets and session subgraphs.
func (a *Assembler) invalidateCaches(env *models.EventEnvelope) {
	if env.SchemaName == "schema.def.v1" {
		for _, tag := range env.Tags {
			if target, ok := strings.CutPrefix(tag, "defines:"); ok {
				a.cache.Invalidate(target)
			}
		}
	}
	if env.SchemaName == "tool.config.v1" || env.SchemaName == "models.catalog.v1" {
		a.budgets.Invalidate(env.RecordID)
	}
	for _, tag := range env.Tags {
		if strings.HasPrefix(tag, "session:") {
			a.graphs.Invalidate(tag)
		}
	}
}

// trigger starts an assembly for one agent, or parks the envelope if
// one is already running. Only the newest parked envelope survives.
func (a *Assembler) trigger(ctx context.Context, ownerID string, def *models.AgentDef, env *models.EventEnvelope) {
	key := ownerID + "/" + def.AgentID

	a.mu.Lock()
	gate, ok := a.inflight[key]
	if !ok {
		gate = &agentGate{}
		a.inflight[key] = gate
	}
	if gate.running {
		gate.pending = env
		a.mu.Unlock()
		a.metrics.Assemblies.WithLabelValues("coalesced").Inc()
		return
	}
	gate.running = true
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		current := env
		for {
			a.assemble(ctx, ownerID, def, current)

			a.mu.Lock()
			if gate.pending == nil {
				gate.running = false
				a.mu.Unlock()
				return
			}
			current = gate.pending
			gate.pending = nil
			a.mu.Unlock()
		}
	}()
}

// assemble runs one end-to-end assembly under the wall-clock ceiling.
func (a *Assembler) assemble(ctx context.Context, ownerID string, def *models.AgentDef, env *models.EventEnvelope) {
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, a.cfg.AssemblyTimeout)
	defer cancel()

	outcome := a.run(ctx, ownerID, def, env)
	a.metrics.Assemblies.WithLabelValues(outcome).Inc()
	a.metrics.AssemblyDuration.Observe(time.Since(started).Seconds())
}

func (a *Assembler) run(ctx context.Context, ownerID string, def *models.AgentDef, env *models.EventEnvelope) string {
	// The builder acts for the tenant, not for any one agent; curator
	// scope lets it read private records the consumer is entitled to.
	id := models.Identity{OwnerID: ownerID, Roles: []string{models.RoleCurator}}

	trigger, err := a.store.GetBreadcrumb(ctx, id, env.RecordID)
	if err != nil {
		a.logger.Warn("trigger record unavailable",
			"record_id", env.RecordID, "error", err)
		return "failed"
	}

	seeds, blocked := a.seeds.Collect(ctx, id, def, trigger)
	if len(seeds) == 0 {
		return "skipped"
	}
	seeded := make(map[string]bool, len(seeds))
	for _, s := range seeds {
		seeded[s] = true
	}

	graph, err := a.graphs.Load(ctx, seeds, trigger.SessionTag())
	if err != nil {
		a.logger.Warn("graph expansion failed", "agent_id", def.AgentID, "error", err)
		graph = buildSubgraph(nil)
	}

	records, err := a.loadRecords(ctx, id, seeds, graph)
	if err != nil {
		a.logger.Warn("record load failed", "agent_id", def.AgentID, "error", err)
		return "failed"
	}

	// Blacklisted schemas the walk reaches stay traversable (causal
	// chains route through tool plumbing) but cost nothing and never
	// reach the prompt unless they were explicitly seeded.
	inPrompt := func(rid string) bool {
		bc, ok := records[rid]
		return ok && (seeded[rid] || !blocked[bc.Schema()])
	}

	budget := a.budgets.Resolve(ctx, ownerID, def)
	accepted := CollectWithinBudget(graph, seeds, func(rid string) (int, bool) {
		bc, ok := records[rid]
		if !ok {
			return 0, false
		}
		if !inPrompt(rid) {
			return 0, true
		}
		return bc.SizeBytes, true
	}, TraversalLimits{
		Budget:     budget,
		MaxResults: a.cfg.MaxResults,
		MaxDepth:   a.cfg.MaxDepth,
	})

	included := accepted[:0]
	for _, rid := range accepted {
		if inPrompt(rid) {
			included = append(included, rid)
		}
	}
	if len(included) == 0 {
		return "skipped"
	}

	ordered := orderForPrompt(included, trigger.ID, records)
	formatted := a.formatRecords(ctx, ordered, records)
	if formatted == "" {
		return "skipped"
	}

	if err := a.publish(ctx, id, def, trigger, ordered, formatted); err != nil {
		a.logger.Error("context publish failed",
			"agent_id", def.AgentID, "error", err)
		return "failed"
	}
	a.logger.Info("context assembled",
		"agent_id", def.AgentID,
		"trigger", trigger.ID,
		"records", len(ordered),
		"budget", budget)
	return "published"
}

// loadRecords fetches every record the walk could touch in one query.
// Rows the tenant policies hide simply stay absent, which the walk
// treats as unknown nodes.
func (a *Assembler) loadRecords(ctx context.Context, id models.Identity, seeds []string, graph *Subgraph) (map[string]*models.Breadcrumb, error) {
	idSet := make(map[string]bool, len(seeds))
	ids := make([]string, 0, len(seeds))
	for _, s := range seeds {
		if !idSet[s] {
			idSet[s] = true
			ids = append(ids, s)
		}
	}
	for _, n := range graph.NodeIDs() {
		if !idSet[n] {
			idSet[n] = true
			ids = append(ids, n)
		}
	}

	loaded, err := a.store.GetBreadcrumbs(ctx, id, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*models.Breadcrumb, len(loaded))
	for _, bc := range loaded {
		out[bc.ID] = bc
	}
	return out, nil
}

// promptBand ranks schemas for prompt layout: capability records lead,
// knowledge follows, everything else trails.
func promptBand(schema string) int {
	switch schema {
	case "tool.catalog.v1", "agent.catalog.v1":
		return 0
	case "knowledge.v1", "note.v1":
		return 1
	}
	return 2
}

// orderForPrompt sorts accepted records into priority bands (newest
// first within a band) and pins the trigger to the front.
func orderForPrompt(accepted []string, triggerID string, records map[string]*models.Breadcrumb) []string {
	rest := make([]string, 0, len(accepted))
	hasTrigger := false
	for _, rid := range accepted {
		if rid == triggerID {
			hasTrigger = true
			continue
		}
		rest = append(rest, rid)
	}

	sort.SliceStable(rest, func(i, j int) bool {
		a, b := records[rest[i]], records[rest[j]]
		ba, bb := promptBand(a.Schema()), promptBand(b.Schema())
		if ba != bb {
			return ba < bb
		}
		return a.UpdatedAt.After(b.UpdatedAt)
	})

	if !hasTrigger {
		return rest
	}
	return append([]string{triggerID}, rest...)
}

// formatRecords renders each record through its schema's transform
// hints, bounded-parallel, and joins the projections with a separator.
// A record that fails to render is dropped, not fatal.
func (a *Assembler) formatRecords(ctx context.Context, ordered []string, records map[string]*models.Breadcrumb) string {
	parts := make([]string, len(ordered))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.FetchConcurrency)
	for i, rid := range ordered {
		bc, ok := records[rid]
		if !ok {
			continue
		}
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			hints, err := a.cache.Get(gctx, bc.Schema())
			if err != nil {
				a.logger.Warn("schema definition lookup failed",
					"schema", bc.Schema(), "error", err)
			}
			transformed, _ := a.engine.Apply(bc.Schema(), bc.Context, hints)
			parts[i] = transform.Projection(bc.Title, bc.Description, transformed)
			return nil
		})
	}
	_ = g.Wait()

	nonEmpty := parts[:0]
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "\n\n---\n\n")
}

// publish writes the agent.context.v1 record, updating the existing
// singleton for this (consumer, session) pair in place so consumers
// subscribe once and receive every refresh as an update.
func (a *Assembler) publish(ctx context.Context, id models.Identity, def *models.AgentDef, trigger *models.Breadcrumb, ordered []string, formatted string) error {
	session := trigger.SessionTag()
	consumerTag := "consumer:" + def.AgentID

	tags := []string{contextTag, consumerTag}
	if session != "" {
		tags = append(tags, session)
	}
	payload := map[string]any{
		"consumer_id":       def.AgentID,
		"trigger_event_id":  trigger.ID,
		"formatted_context": formatted,
		"token_estimate":    a.estimator.Estimate(formatted),
		"record_count":      len(ordered),
		"sources_assembled": ordered,
		"assembled_at":      time.Now().UTC().Format(time.RFC3339),
	}

	existing, err := a.findSingleton(ctx, id, consumerTag, session)
	if err != nil {
		return err
	}

	var bc *models.Breadcrumb
	eventType := models.EventUpdated
	if existing == nil {
		schema := ContextSchema
		bc, _, err = a.store.CreateBreadcrumb(ctx, id, models.CreateBreadcrumbRequest{
			SchemaName: &schema,
			Title:      "Context: " + def.AgentID,
			Context:    payload,
			Tags:       tags,
			Visibility: models.VisibilityPrivate,
		}, "")
		eventType = models.EventCreated
	} else {
		bc, err = a.store.UpdateBreadcrumb(ctx, id, existing.ID, existing.Version,
			models.UpdateBreadcrumbRequest{Context: payload, Tags: tags})
	}
	if err != nil {
		return err
	}

	if _, err := a.publisher.Publish(ctx, *bc.Envelope(eventType)); err != nil {
		return err
	}
	a.metrics.EventsPublished.WithLabelValues(string(eventType)).Inc()
	return nil
}

// findSingleton locates the existing context record for a consumer,
// matching the session tag exactly (a session-less consumer gets one
// session-less singleton).
func (a *Assembler) findSingleton(ctx context.Context, id models.Identity, consumerTag, session string) (*models.Breadcrumb, error) {
	candidates, err := a.store.ListBreadcrumbs(ctx, id, store.ListOptions{
		Tag:        consumerTag,
		SchemaName: ContextSchema,
		Limit:      25,
	})
	if err != nil {
		return nil, err
	}
	for _, bc := range candidates {
		if bc.SessionTag() == session {
			return bc, nil
		}
	}
	return nil, nil
}
