package builder

import (
	"context"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/rcrt-io/rcrt/pkg/models"
	"github.com/rcrt-io/rcrt/pkg/store"
)

// Subgraph is the neighborhood reachable from a seed set: its edges
// and a bidirectional adjacency index for traversal.
type Subgraph struct {
	Edges []models.Edge
	Adj   map[string][]models.Neighbor
}

// NodeIDs returns every node appearing in the subgraph.
func (g *Subgraph) NodeIDs() []string {
	seen := make(map[string]bool)
	for _, e := range g.Edges {
		seen[e.SourceID] = true
		seen[e.TargetID] = true
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// GraphLoader expands seed sets into subgraphs, caching per session so
// rapid triggers within one conversation skip the recursive query.
type GraphLoader struct {
	store  *store.Store
	radius int
	cache  *lru.Cache[string, *Subgraph]
}

// NewGraphLoader creates a loader with an LRU session cache.
func NewGraphLoader(st *store.Store, radius, cacheSize int) (*GraphLoader, error) {
	if radius <= 0 {
		radius = 2
	}
	if cacheSize <= 0 {
		cacheSize = 128
	}
	cache, err := lru.New[string, *Subgraph](cacheSize)
	if err != nil {
		return nil, err
	}
	return &GraphLoader{store: st, radius: radius, cache: cache}, nil
}

// Load expands the seeds to the configured radius. When sessionTag is
// non-empty a cached subgraph for that session is reused; the cache is
// invalidated whenever a session-tagged event arrives.
func (l *GraphLoader) Load(ctx context.Context, seedIDs []string, sessionTag string) (*Subgraph, error) {
	if sessionTag != "" {
		if cached, ok := l.cache.Get(sessionTag); ok {
			return cached, nil
		}
	}

	edges, err := l.store.NeighborhoodWithin(ctx, seedIDs, l.radius)
	if err != nil {
		return nil, err
	}
	graph := buildSubgraph(edges)

	if sessionTag != "" {
		l.cache.Add(sessionTag, graph)
	}
	return graph, nil
}

// Invalidate drops the cached subgraph for a session.
func (l *GraphLoader) Invalidate(sessionTag string) {
	if sessionTag != "" {
		l.cache.Remove(sessionTag)
	}
}

// buildSubgraph indexes edges bidirectionally: storage keeps one row
// per direction of interest, traversal crosses edges both ways.
func buildSubgraph(edges []models.Edge) *Subgraph {
	adj := make(map[string][]models.Neighbor)
	for _, e := range edges {
		adj[e.SourceID] = append(adj[e.SourceID], models.Neighbor{
			ID: e.TargetID, Type: e.Type, Weight: e.Weight,
		})
		adj[e.TargetID] = append(adj[e.TargetID], models.Neighbor{
			ID: e.SourceID, Type: e.Type, Weight: e.Weight,
		})
	}
	return &Subgraph{Edges: edges, Adj: adj}
}
