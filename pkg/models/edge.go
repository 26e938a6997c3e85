package models

import "time"

// EdgeType is the stored relationship kind between two breadcrumbs.
// Values match the smallint encoding in breadcrumb_edges.
type EdgeType int16

const (
	EdgeCausal   EdgeType = 0
	EdgeTemporal EdgeType = 1
	EdgeTag      EdgeType = 2
	EdgeSemantic EdgeType = 3
)

// String returns the wire name for the edge type.
func (t EdgeType) String() string {
	switch t {
	case EdgeCausal:
		return "causal"
	case EdgeTemporal:
		return "temporal"
	case EdgeTag:
		return "tag"
	case EdgeSemantic:
		return "semantic"
	default:
		return "unknown"
	}
}

// ParseEdgeType maps a wire name back to its stored value.
func ParseEdgeType(s string) (EdgeType, bool) {
	switch s {
	case "causal":
		return EdgeCausal, true
	case "temporal":
		return EdgeTemporal, true
	case "tag":
		return EdgeTag, true
	case "semantic":
		return EdgeSemantic, true
	default:
		return 0, false
	}
}

// Edge is a weighted directed relationship in the context graph.
// Traversal treats edges as bidirectional; storage keeps one row per
// (source, target, type).
type Edge struct {
	SourceID  string    `json:"source_id"`
	TargetID  string    `json:"target_id"`
	Type      EdgeType  `json:"edge_type"`
	Weight    float64   `json:"weight"`
	CreatedAt time.Time `json:"created_at"`
}

// TraversalCost converts an edge into the cost Dijkstra charges for
// crossing it. Cheaper edges are followed first.
func (e Edge) TraversalCost() float64 {
	switch e.Type {
	case EdgeCausal:
		return 0.1
	case EdgeTag:
		return 0.3
	case EdgeTemporal:
		return 0.5
	case EdgeSemantic:
		cost := 1.0 - e.Weight
		if cost < 0 {
			cost = 0
		}
		return cost
	default:
		return 1.0
	}
}

// Neighbor is an edge endpoint as seen from a given node during
// traversal, carrying the breadcrumb summary needed for scoring.
type Neighbor struct {
	ID     string
	Type   EdgeType
	Weight float64
}
