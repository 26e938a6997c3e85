package builder

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/rcrt-io/rcrt/pkg/models"
	"github.com/rcrt-io/rcrt/pkg/store"
)

// builtinBlacklist lists schemas that never enter assembled context
// implicitly: operational telemetry, credentials, meta definitions and
// infrastructure config add noise (or worse) to an agent's prompt. An
// explicit always source still admits any of them.
var builtinBlacklist = []string{
	// Operational telemetry and lifecycle records.
	"system.health.v1",
	"system.metric.v1",
	"system.startup.v1",
	"system.shutdown.v1",
	"system.hygiene.v1",
	"system.bootstrap.v1",
	"system.blacklist.v1",

	// Meta definitions: they configure the substrate, they are not
	// knowledge.
	"schema.def.v1",
	"agent.def.v1",
	"tool.code.v1",
	"entity.vocab.v1",

	// Credentials and infrastructure config.
	"secret.v1",
	"tool.config.v1",
	"models.catalog.v1",

	// Catalogs enter via always sources only.
	"tool.catalog.v1",
	"agent.catalog.v1",

	// UI concerns.
	"ui.theme.v1",
	"ui.layout.v1",

	// Tool plumbing pairs.
	"tool.request.v1",
	"tool.response.v1",

	// Derived context: feedback-loop guard.
	"agent.context.v1",
}

// maxSessionSeeds caps how many recent session records join the seed
// set; the graph walk pulls in older session history if budget allows.
const maxSessionSeeds = 20

// SeedCollector gathers the starting record set for one assembly:
// the trigger, the definition's always sources, semantic matches and
// recent session records, deduplicated in that order.
type SeedCollector struct {
	store  *store.Store
	logger *slog.Logger
}

// NewSeedCollector creates a collector.
func NewSeedCollector(st *store.Store) *SeedCollector {
	return &SeedCollector{
		store:  st,
		logger: slog.Default().With("component", "seed_collector"),
	}
}

// blacklistFor merges the builtin schema blacklist with the tenant's
// system.blacklist.v1 record, when one exists.
func (c *SeedCollector) blacklistFor(ctx context.Context, ownerID string) []string {
	out := append([]string(nil), builtinBlacklist...)
	bc, err := c.store.LatestBySchemaBypass(ctx, ownerID, "system.blacklist.v1")
	if err != nil || bc == nil {
		return out
	}
	extra, ok := bc.Context["schemas"].([]any)
	if !ok {
		return out
	}
	for _, v := range extra {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Collect returns seed record ids in retrieval order, plus the schema
// blacklist in effect. The trigger and explicit always sources bypass
// the blacklist (naming a catalog opts it in); semantic and session
// retrieval respect it. A failed source never aborts the assembly: it
// is logged and skipped, so one broken source degrades the context
// instead of silencing it.
func (c *SeedCollector) Collect(ctx context.Context, id models.Identity, def *models.AgentDef, trigger *models.Breadcrumb) ([]string, map[string]bool) {
	blacklist := c.blacklistFor(ctx, id.OwnerID)
	blocked := make(map[string]bool, len(blacklist))
	for _, s := range blacklist {
		blocked[s] = true
	}

	seen := make(map[string]bool)
	var seeds []string
	add := func(recordID, schema string, explicit bool) {
		if recordID == "" || seen[recordID] {
			return
		}
		if !explicit && blocked[schema] {
			return
		}
		seen[recordID] = true
		seeds = append(seeds, recordID)
	}

	add(trigger.ID, trigger.Schema(), true)

	for _, src := range def.AlwaysSources() {
		records, err := c.resolveAlways(ctx, id, src)
		if err != nil {
			if src.Optional {
				c.logger.Warn("optional context source unavailable",
					"agent_id", def.AgentID, "source", sourceName(src), "error", err)
			} else {
				c.logger.Error("context source failed, skipping",
					"agent_id", def.AgentID, "source", sourceName(src), "error", err)
			}
			continue
		}
		for _, bc := range records {
			add(bc.ID, bc.Schema(), true)
		}
	}

	if sem := def.SemanticConfig(); sem != nil {
		for _, res := range c.semanticSeeds(ctx, id, sem, trigger, blacklist) {
			add(res.Breadcrumb.ID, res.Breadcrumb.Schema(), false)
		}
	}

	if session := trigger.SessionTag(); session != "" {
		records, err := c.store.ListBreadcrumbs(ctx, id, store.ListOptions{
			Tag:   session,
			Limit: maxSessionSeeds,
		})
		if err != nil {
			c.logger.Warn("session record lookup failed",
				"session", session, "error", err)
		}
		for _, bc := range records {
			add(bc.ID, bc.Schema(), false)
		}
	}

	return seeds, blocked
}

// hybridPointers builds the keyword pointer set for retrieval: the
// trigger's plain tags (structural "k:v" tags and lifecycle states
// excluded) unioned with its cached entity keywords. Tags matter on a
// fresh trigger: the entity worker runs concurrently with assembly, so
// entity_keywords is usually still empty when the created event fires.
func hybridPointers(trigger *models.Breadcrumb) []string {
	seen := make(map[string]bool)
	for _, tag := range trigger.Tags {
		tag = strings.ToLower(tag)
		if strings.Contains(tag, ":") || stateVocabulary[tag] || tag == "" {
			continue
		}
		seen[tag] = true
	}
	for _, kw := range trigger.EntityKeywords {
		if kw = strings.ToLower(kw); kw != "" {
			seen[kw] = true
		}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// resolveAlways fetches the records one always source names. The
// method controls how many: latest takes one, recent takes the
// declared limit, all pages up to a hard cap.
func (c *SeedCollector) resolveAlways(ctx context.Context, id models.Identity, src models.AlwaysSource) ([]*models.Breadcrumb, error) {
	if src.Type == models.SourceTypeSpecific {
		bc, err := c.store.GetBreadcrumb(ctx, id, src.ID)
		if err != nil {
			return nil, err
		}
		return []*models.Breadcrumb{bc}, nil
	}

	limit := src.Limit
	switch src.Method {
	case models.SourceMethodLatest, "":
		limit = 1
	case models.SourceMethodRecent:
		if limit <= 0 {
			limit = 5
		}
	case models.SourceMethodAll:
		if limit <= 0 {
			limit = 100
		}
	default:
		return nil, fmt.Errorf("unknown source method %q", src.Method)
	}

	opts := store.ListOptions{Limit: limit}
	switch src.Type {
	case models.SourceTypeSchema:
		opts.SchemaName = src.SchemaName
	case models.SourceTypeTag:
		opts.Tag = src.Tag
	default:
		return nil, fmt.Errorf("unknown source type %q", src.Type)
	}

	records, err := c.store.ListBreadcrumbs(ctx, id, opts)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 && !src.Optional {
		return nil, store.ErrNotFound
	}
	return records, nil
}

// semanticSeeds runs hybrid retrieval seeded by the trigger's
// embedding and pointer set. Missing derived state (a brand-new
// trigger the workers have not reached) degrades to tag-driven
// keyword retrieval or nothing, never to an error.
func (c *SeedCollector) semanticSeeds(ctx context.Context, id models.Identity, sem *models.SemanticSource, trigger *models.Breadcrumb, blacklist []string) []store.SearchResult {
	vec, err := c.store.GetEmbeddingBypass(ctx, trigger.ID)
	if err != nil {
		c.logger.Warn("trigger embedding unavailable",
			"record_id", trigger.ID, "error", err)
	}
	pointers := hybridPointers(trigger)
	if len(vec) == 0 && len(pointers) == 0 {
		return nil
	}

	limit := sem.Limit
	if limit <= 0 {
		limit = 10
	}
	results, err := c.store.HybridSearch(ctx, id, vec, pointers, store.SearchOptions{
		Schemas:        sem.Schemas,
		ExcludeSchemas: blacklist,
		Limit:          limit,
		Threshold:      sem.MinSimilarity,
	})
	if err != nil {
		c.logger.Warn("semantic retrieval failed",
			"record_id", trigger.ID, "error", err)
		return nil
	}
	return results
}

func sourceName(src models.AlwaysSource) string {
	switch src.Type {
	case models.SourceTypeSchema:
		return "schema:" + src.SchemaName
	case models.SourceTypeTag:
		return "tag:" + src.Tag
	case models.SourceTypeSpecific:
		return "id:" + src.ID
	}
	return src.Type
}
