package builder

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rcrt-io/rcrt/pkg/events"
	"github.com/rcrt-io/rcrt/pkg/models"
	"github.com/rcrt-io/rcrt/pkg/store"
)

// EdgeBuilder derives graph edges for newly created records: causal
// links from trigger references, tag and temporal links to session
// peers, and semantic links from the embedding. Edges are rebuildable,
// so failures log and move on.
type EdgeBuilder struct {
	store  *store.Store
	bus    *events.Bus
	cfg    Config
	logger *slog.Logger

	queue  chan models.EventEnvelope
	sub    *events.Subscription
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEdgeBuilder creates a stopped edge builder.
func NewEdgeBuilder(st *store.Store, bus *events.Bus, cfg Config) *EdgeBuilder {
	if cfg.EdgeTagPeers <= 0 {
		cfg.EdgeTagPeers = 5
	}
	if cfg.EdgeTemporalWindow <= 0 {
		cfg.EdgeTemporalWindow = 30 * time.Minute
	}
	if cfg.EdgeSemanticTopK <= 0 {
		cfg.EdgeSemanticTopK = 5
	}
	if cfg.EdgeSemanticFloor <= 0 {
		cfg.EdgeSemanticFloor = 0.7
	}
	if cfg.EdgeMaxPerRecord <= 0 {
		cfg.EdgeMaxPerRecord = 20
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	return &EdgeBuilder{
		store:  st,
		bus:    bus,
		cfg:    cfg,
		logger: slog.Default().With("component", "edge_builder"),
		queue:  make(chan models.EventEnvelope, cfg.QueueSize),
	}
}

// Start follows creation events on its own bounded queue; a full queue
// drops the event rather than stalling anything upstream.
func (b *EdgeBuilder) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)
	b.sub = b.bus.Subscribe("bc.>", b.cfg.QueueSize)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-b.sub.C:
				if !ok {
					return
				}
				if evt.Envelope.Type != models.EventCreated {
					continue
				}
				select {
				case b.queue <- evt.Envelope:
				default:
					b.logger.Warn("edge queue full, skipping record",
						"record_id", evt.Envelope.RecordID)
				}
			}
		}
	}()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case env := <-b.queue:
				if err := b.buildEdges(ctx, &env); err != nil {
					b.logger.Warn("edge build failed",
						"record_id", env.RecordID, "error", err)
				}
			}
		}
	}()
	b.logger.Info("edge builder started")
}

// Stop detaches from the bus and waits for in-flight work.
func (b *EdgeBuilder) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	if b.sub != nil {
		b.sub.Close()
	}
	b.wg.Wait()
	b.logger.Info("edge builder stopped")
}

// buildEdges derives every edge kind for one record and writes them in
// a single bulk upsert.
func (b *EdgeBuilder) buildEdges(ctx context.Context, env *models.EventEnvelope) error {
	bc, err := b.store.GetBreadcrumbBypass(ctx, env.RecordID)
	if err != nil {
		return err
	}

	var edges []models.Edge
	edges = append(edges, b.causalEdges(bc)...)
	edges = append(edges, b.tagEdges(ctx, bc)...)
	edges = append(edges, b.temporalEdges(ctx, bc)...)
	edges = append(edges, b.semanticEdges(ctx, bc)...)

	if len(edges) > b.cfg.EdgeMaxPerRecord {
		edges = edges[:b.cfg.EdgeMaxPerRecord]
	}
	if len(edges) == 0 {
		return nil
	}
	return b.store.BulkUpsertEdges(ctx, edges)
}

// causalEdges links the record to the event that triggered it.
func (b *EdgeBuilder) causalEdges(bc *models.Breadcrumb) []models.Edge {
	trigger, ok := bc.Context["trigger_event_id"].(string)
	if !ok || trigger == "" || trigger == bc.ID {
		return nil
	}
	return []models.Edge{{
		SourceID: bc.ID,
		TargetID: trigger,
		Type:     models.EdgeCausal,
		Weight:   0.95,
	}}
}

// tagEdges links the record to recent peers sharing a structural tag,
// in both directions. Session co-membership binds tighter than other
// tags.
func (b *EdgeBuilder) tagEdges(ctx context.Context, bc *models.Breadcrumb) []models.Edge {
	var edges []models.Edge
	for _, tag := range bc.Tags {
		if !strings.Contains(tag, ":") {
			continue
		}
		weight := 0.6
		if strings.HasPrefix(tag, "session:") {
			weight = 0.9
		}

		peers, err := b.store.RecordsByTagBypass(ctx, bc.OwnerID, tag, b.cfg.EdgeTagPeers+1)
		if err != nil {
			b.logger.Warn("tag peer lookup failed", "tag", tag, "error", err)
			continue
		}
		added := 0
		for _, peer := range peers {
			if peer.ID == bc.ID || added >= b.cfg.EdgeTagPeers {
				continue
			}
			edges = append(edges,
				models.Edge{SourceID: bc.ID, TargetID: peer.ID, Type: models.EdgeTag, Weight: weight},
				models.Edge{SourceID: peer.ID, TargetID: bc.ID, Type: models.EdgeTag, Weight: weight},
			)
			added++
		}
	}
	return edges
}

// temporalEdges links the record to session peers created within the
// window, weight decaying linearly 0.8 → 0.3 with recency distance.
func (b *EdgeBuilder) temporalEdges(ctx context.Context, bc *models.Breadcrumb) []models.Edge {
	session := bc.SessionTag()
	if session == "" {
		return nil
	}
	peers, err := b.store.RecordsByTagBypass(ctx, bc.OwnerID, session, b.cfg.EdgeTagPeers*2)
	if err != nil {
		b.logger.Warn("session peer lookup failed", "tag", session, "error", err)
		return nil
	}

	window := b.cfg.EdgeTemporalWindow
	var edges []models.Edge
	for _, peer := range peers {
		if peer.ID == bc.ID {
			continue
		}
		distance := bc.CreatedAt.Sub(peer.CreatedAt)
		if distance < 0 {
			distance = -distance
		}
		if distance > window {
			continue
		}
		weight := 0.8 - 0.5*(float64(distance)/float64(window))
		edges = append(edges, models.Edge{
			SourceID: bc.ID,
			TargetID: peer.ID,
			Type:     models.EdgeTemporal,
			Weight:   weight,
		})
	}
	return edges
}

// semanticEdges links the record to its nearest neighbors above the
// similarity floor; the similarity is the weight.
func (b *EdgeBuilder) semanticEdges(ctx context.Context, bc *models.Breadcrumb) []models.Edge {
	vec, err := b.store.GetEmbeddingBypass(ctx, bc.ID)
	if err != nil || len(vec) == 0 {
		return nil
	}
	neighbors, err := b.store.SemanticNeighbors(ctx, bc.OwnerID, bc.ID, vec,
		b.cfg.EdgeSemanticTopK, b.cfg.EdgeSemanticFloor)
	if err != nil {
		b.logger.Warn("semantic neighbor lookup failed", "record_id", bc.ID, "error", err)
		return nil
	}

	edges := make([]models.Edge, 0, len(neighbors))
	for _, n := range neighbors {
		edges = append(edges, models.Edge{
			SourceID: bc.ID,
			TargetID: n.ID,
			Type:     models.EdgeSemantic,
			Weight:   n.Similarity,
		})
	}
	return edges
}
