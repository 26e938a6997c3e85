package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/rcrt-io/rcrt/pkg/models"
)

// BulkUpsertEdges writes a batch of graph edges in one statement. On a
// (from, to, type) collision the newest weight wins. Edges are derived
// data maintained by the builder, so writes run on the bypass path.
func (s *Store) BulkUpsertEdges(ctx context.Context, edges []models.Edge) error {
	if len(edges) == 0 {
		return nil
	}

	values := make([]string, 0, len(edges))
	args := make([]any, 0, len(edges)*4)
	argNum := 1
	for _, e := range edges {
		if e.SourceID == e.TargetID {
			continue
		}
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d)", argNum, argNum+1, argNum+2, argNum+3))
		args = append(args, e.SourceID, e.TargetID, int16(e.Type), e.Weight)
		argNum += 4
	}
	if len(values) == 0 {
		return nil
	}

	query := `INSERT INTO breadcrumb_edges (from_id, to_id, edge_type, weight)
	          VALUES ` + strings.Join(values, ", ") + `
	          ON CONFLICT (from_id, to_id, edge_type)
	          DO UPDATE SET weight = EXCLUDED.weight, created_at = now()`

	return s.withBypass(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to upsert edges: %w", err)
		}
		return nil
	})
}

// EdgesAmong returns every edge whose both endpoints are in ids.
func (s *Store) EdgesAmong(ctx context.Context, ids []string) ([]models.Edge, error) {
	if len(ids) < 2 {
		return nil, nil
	}
	var out []models.Edge
	err := s.withBypass(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT from_id, to_id, edge_type, weight, created_at
			 FROM breadcrumb_edges
			 WHERE from_id = ANY($1::uuid[]) AND to_id = ANY($1::uuid[])`,
			pq.Array(ids))
		if err != nil {
			return fmt.Errorf("failed to query edges: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var (
				e        models.Edge
				edgeType int16
			)
			if err := rows.Scan(&e.SourceID, &e.TargetID, &edgeType, &e.Weight, &e.CreatedAt); err != nil {
				return fmt.Errorf("failed to scan edge: %w", err)
			}
			e.Type = models.EdgeType(edgeType)
			out = append(out, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// NeighborhoodWithin expands the graph from the seed set, following
// edges in both directions up to radius hops, and returns the edges of
// the reached subgraph. Traversal ignores tenancy; callers must load
// the actual records through the tenant-scoped path, which drops the
// nodes the caller may not see.
func (s *Store) NeighborhoodWithin(ctx context.Context, seedIDs []string, radius int) ([]models.Edge, error) {
	if len(seedIDs) == 0 {
		return nil, nil
	}
	if radius <= 0 {
		radius = 2
	}

	var out []models.Edge
	err := s.withBypass(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`WITH RECURSIVE reach (id, depth) AS (
			     SELECT unnest($1::uuid[]), 0
			   UNION
			     SELECT CASE WHEN e.from_id = r.id THEN e.to_id ELSE e.from_id END,
			            r.depth + 1
			     FROM breadcrumb_edges e
			     JOIN reach r ON r.id IN (e.from_id, e.to_id)
			     WHERE r.depth < $2
			 )
			 SELECT DISTINCT e.from_id, e.to_id, e.edge_type, e.weight, e.created_at
			 FROM breadcrumb_edges e
			 WHERE e.from_id IN (SELECT id FROM reach)
			   AND e.to_id   IN (SELECT id FROM reach)`,
			pq.Array(seedIDs), radius)
		if err != nil {
			return fmt.Errorf("failed to expand neighborhood: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var (
				e        models.Edge
				edgeType int16
			)
			if err := rows.Scan(&e.SourceID, &e.TargetID, &edgeType, &e.Weight, &e.CreatedAt); err != nil {
				return fmt.Errorf("failed to scan edge: %w", err)
			}
			e.Type = models.EdgeType(edgeType)
			out = append(out, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteEdgesFor removes every edge touching the record. Called when a
// record is purged outside the normal cascade path.
func (s *Store) DeleteEdgesFor(ctx context.Context, recordID string) error {
	return s.withBypass(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM breadcrumb_edges WHERE from_id = $1 OR to_id = $1`, recordID); err != nil {
			return fmt.Errorf("failed to delete edges: %w", err)
		}
		return nil
	})
}
