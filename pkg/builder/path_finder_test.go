package builder

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rcrt-io/rcrt/pkg/models"
)

func constSize(n int) func(string) (int, bool) {
	return func(string) (int, bool) { return n, true }
}

func TestCollectCheapestEdgesFirst(t *testing.T) {
	// seed --causal(0.1)--> a, seed --semantic(weight .2 => cost .8)--> b
	graph := buildSubgraph([]models.Edge{
		{SourceID: "seed", TargetID: "a", Type: models.EdgeCausal, Weight: 0.95},
		{SourceID: "seed", TargetID: "b", Type: models.EdgeSemantic, Weight: 0.2},
	})

	got := CollectWithinBudget(graph, []string{"seed"}, constSize(3), TraversalLimits{
		Budget: 1000, MaxResults: 10, MaxDepth: 5,
	})
	assert.Equal(t, []string{"seed", "a", "b"}, got)
}

func TestCollectStopsAtBudget(t *testing.T) {
	graph := buildSubgraph([]models.Edge{
		{SourceID: "seed", TargetID: "a", Type: models.EdgeCausal},
		{SourceID: "a", TargetID: "b", Type: models.EdgeCausal},
	})

	// Each node costs 100 bytes ~ 34 tokens; budget admits two nodes.
	got := CollectWithinBudget(graph, []string{"seed"}, constSize(100), TraversalLimits{
		Budget: 70, MaxResults: 10, MaxDepth: 5,
	})
	assert.Equal(t, []string{"seed", "a"}, got)
}

func TestCollectRespectsMaxResults(t *testing.T) {
	edges := []models.Edge{
		{SourceID: "seed", TargetID: "a", Type: models.EdgeCausal},
		{SourceID: "seed", TargetID: "b", Type: models.EdgeTag},
		{SourceID: "seed", TargetID: "c", Type: models.EdgeTemporal},
	}
	got := CollectWithinBudget(buildSubgraph(edges), []string{"seed"}, constSize(3), TraversalLimits{
		Budget: 1000, MaxResults: 2, MaxDepth: 5,
	})
	assert.Len(t, got, 2)
	assert.Equal(t, "seed", got[0])
}

func TestCollectZeroSizeNodesFreeOfResultCap(t *testing.T) {
	// Zero-size waypoints keep paths walkable but carry no content;
	// they must not eat into the result cap. With a cap of 3 the seed
	// and both sized records fit even though three waypoints sit on
	// the way.
	graph := buildSubgraph([]models.Edge{
		{SourceID: "seed", TargetID: "w1", Type: models.EdgeCausal},
		{SourceID: "w1", TargetID: "w2", Type: models.EdgeCausal},
		{SourceID: "w2", TargetID: "a", Type: models.EdgeCausal},
		{SourceID: "seed", TargetID: "w3", Type: models.EdgeCausal},
		{SourceID: "w3", TargetID: "b", Type: models.EdgeCausal},
	})
	sizeOf := func(id string) (int, bool) {
		switch id {
		case "w1", "w2", "w3":
			return 0, true
		}
		return 30, true
	}
	got := CollectWithinBudget(graph, []string{"seed"}, sizeOf, TraversalLimits{
		Budget: 1000, MaxResults: 3, MaxDepth: 5,
	})
	assert.Contains(t, got, "a")
	assert.Contains(t, got, "b")
}

func TestCollectRespectsMaxDepth(t *testing.T) {
	// Chain seed -> a -> b; depth cap 1 stops expansion past a.
	graph := buildSubgraph([]models.Edge{
		{SourceID: "seed", TargetID: "a", Type: models.EdgeCausal},
		{SourceID: "a", TargetID: "b", Type: models.EdgeCausal},
	})
	got := CollectWithinBudget(graph, []string{"seed"}, constSize(3), TraversalLimits{
		Budget: 1000, MaxResults: 10, MaxDepth: 1,
	})
	assert.Equal(t, []string{"seed", "a"}, got)
}

func TestCollectSkipsUnknownNodes(t *testing.T) {
	graph := buildSubgraph([]models.Edge{
		{SourceID: "seed", TargetID: "gone", Type: models.EdgeCausal},
	})
	sizeOf := func(id string) (int, bool) {
		if id == "gone" {
			return 0, false
		}
		return 3, true
	}
	got := CollectWithinBudget(graph, []string{"seed"}, sizeOf, TraversalLimits{
		Budget: 1000, MaxResults: 10, MaxDepth: 5,
	})
	assert.Equal(t, []string{"seed"}, got)
}

func TestCollectSeedsDeduplicated(t *testing.T) {
	graph := buildSubgraph(nil)
	got := CollectWithinBudget(graph, []string{"s1", "s1", "s2"}, constSize(3), TraversalLimits{
		Budget: 1000, MaxResults: 10, MaxDepth: 5,
	})
	assert.Equal(t, []string{"s1", "s2"}, got)
}

func TestCollectEmptyGraphReturnsSeedsOnly(t *testing.T) {
	got := CollectWithinBudget(buildSubgraph(nil), []string{"only"}, constSize(10), TraversalLimits{
		Budget: 100, MaxResults: 50, MaxDepth: 5,
	})
	assert.Equal(t, []string{"only"}, got)
}
