package builder

import (
	"container/heap"

	"github.com/rcrt-io/rcrt/pkg/models"

	"github.com/rcrt-io/rcrt/pkg/tokens"
)

// pathNode is one frontier entry in the budgeted traversal.
type pathNode struct {
	id    string
	cost  float64
	depth int
	index int
}

type nodeHeap []*pathNode

func (h nodeHeap) Len() int            { return len(h) }
func (h nodeHeap) Less(i, j int) bool  { return h[i].cost < h[j].cost }
func (h nodeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *nodeHeap) Push(x any)         { n := x.(*pathNode); n.index = len(*h); *h = append(*h, n) }
func (h *nodeHeap) Pop() any {
	old := *h
	n := old[len(old)-1]
	old[len(old)-1] = nil
	*h = old[:len(old)-1]
	return n
}

// TraversalLimits caps the budgeted walk.
type TraversalLimits struct {
	Budget     int
	MaxResults int
	MaxDepth   int
}

// CollectWithinBudget walks the subgraph from the seeds in cheapest-
// cost order, accepting nodes until the token budget, result cap or
// depth cap stops it. Seeds enter at cost zero in their given order;
// sizeOf returns a node's stored byte size (unknown nodes are skipped).
// Zero-size nodes are connective waypoints: they are returned so paths
// through them stay walkable, but they count toward neither the budget
// nor the result cap. The returned slice is the acceptance order.
func CollectWithinBudget(graph *Subgraph, seeds []string, sizeOf func(id string) (int, bool), limits TraversalLimits) []string {
	if limits.MaxResults <= 0 {
		limits.MaxResults = 50
	}
	if limits.MaxDepth <= 0 {
		limits.MaxDepth = 5
	}

	frontier := &nodeHeap{}
	heap.Init(frontier)
	best := make(map[string]float64)
	for _, id := range seeds {
		if _, ok := best[id]; ok {
			continue
		}
		best[id] = 0
		heap.Push(frontier, &pathNode{id: id, cost: 0, depth: 0})
	}

	var (
		accepted []string
		visited  = make(map[string]bool)
		spent    int
		counted  int
	)
	for frontier.Len() > 0 && counted < limits.MaxResults {
		node := heap.Pop(frontier).(*pathNode)
		if visited[node.id] {
			continue
		}
		visited[node.id] = true

		size, known := sizeOf(node.id)
		if !known {
			continue
		}
		estimate := tokens.EstimateBytes(size)
		if estimate > 0 {
			if limits.Budget > 0 && spent+estimate > limits.Budget {
				// The budget is a hard ceiling: stop rather than skip, so
				// acceptance order stays cost order.
				break
			}
			spent += estimate
			counted++
		}
		accepted = append(accepted, node.id)

		if node.depth >= limits.MaxDepth {
			continue
		}
		for _, nb := range graph.Adj[node.id] {
			if visited[nb.ID] {
				continue
			}
			cost := node.cost + models.Edge{Type: nb.Type, Weight: nb.Weight}.TraversalCost()
			if prev, ok := best[nb.ID]; ok && prev <= cost {
				continue
			}
			best[nb.ID] = cost
			heap.Push(frontier, &pathNode{id: nb.ID, cost: cost, depth: node.depth + 1})
		}
	}
	return accepted
}
