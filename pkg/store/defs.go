package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/rcrt-io/rcrt/pkg/models"
)

// Meta-record lookups: schema definitions, agent definitions and the
// other *.v1 configuration records the transform and builder layers
// consume. These run on the bypass path; definitions steer server
// behavior rather than carry tenant data, and the callers are
// server-internal.

// FindSchemaDef returns the llm_hints object of the newest
// schema.def.v1 record tagged defines:<schemaName>, or nil when no
// definition exists.
func (s *Store) FindSchemaDef(ctx context.Context, schemaName string) (map[string]any, error) {
	var contextJSON []byte
	err := s.withBypass(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`SELECT context FROM breadcrumbs
			 WHERE schema_name = 'schema.def.v1' AND tags @> $1
			 ORDER BY updated_at DESC LIMIT 1`,
			pq.Array([]string{"defines:" + schemaName})).Scan(&contextJSON)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load schema definition: %w", err)
	}
	if contextJSON == nil {
		return nil, nil
	}

	var defContext map[string]any
	if err := json.Unmarshal(contextJSON, &defContext); err != nil {
		return nil, fmt.Errorf("failed to decode schema definition: %w", err)
	}
	hints, ok := defContext["llm_hints"].(map[string]any)
	if !ok {
		return nil, nil
	}
	return hints, nil
}

// AgentDefsForOwner returns the tenant's agent.def.v1 records, newest
// first. The assembler walks them to find agents whose context trigger
// matches an event.
func (s *Store) AgentDefsForOwner(ctx context.Context, ownerID string) ([]*models.Breadcrumb, error) {
	var out []*models.Breadcrumb
	err := s.withBypass(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT `+breadcrumbColumns+` FROM breadcrumbs
			 WHERE owner_id = $1 AND schema_name = 'agent.def.v1'
			 ORDER BY updated_at DESC`, ownerID)
		if err != nil {
			return fmt.Errorf("failed to list agent definitions: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			bc, err := scanBreadcrumb(rows)
			if err != nil {
				return fmt.Errorf("failed to scan agent definition: %w", err)
			}
			out = append(out, bc)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LatestBySchemaBypass returns the tenant's newest record of a schema,
// or nil when none exists. Used for configuration records such as
// models.catalog.v1, entity.vocab.v1 and system.blacklist.v1.
func (s *Store) LatestBySchemaBypass(ctx context.Context, ownerID, schemaName string) (*models.Breadcrumb, error) {
	var out *models.Breadcrumb
	err := s.withBypass(ctx, func(tx *sql.Tx) error {
		bc, err := scanBreadcrumb(tx.QueryRowContext(ctx,
			`SELECT `+breadcrumbColumns+` FROM breadcrumbs
			 WHERE owner_id = $1 AND schema_name = $2
			 ORDER BY updated_at DESC LIMIT 1`, ownerID, schemaName))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to load latest %s: %w", schemaName, err)
		}
		out = bc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetEmbeddingBypass returns a record's stored vector without tenancy
// checks, or nil when the record has not been embedded.
func (s *Store) GetEmbeddingBypass(ctx context.Context, recordID string) ([]float32, error) {
	var vec []float32
	err := s.withBypass(ctx, func(tx *sql.Tx) error {
		var embeddingStr sql.NullString
		err := tx.QueryRowContext(ctx,
			`SELECT embedding::text FROM breadcrumbs WHERE id = $1`, recordID).Scan(&embeddingStr)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load embedding: %w", err)
		}
		if embeddingStr.Valid {
			vec = decodeEmbedding(embeddingStr.String)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vec, nil
}

// RecordsByTagBypass returns the tenant's records carrying the tag,
// newest first. The edge builder uses it to find tag and temporal
// peers.
func (s *Store) RecordsByTagBypass(ctx context.Context, ownerID, tag string, limit int) ([]*models.Breadcrumb, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []*models.Breadcrumb
	err := s.withBypass(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT `+breadcrumbColumns+` FROM breadcrumbs
			 WHERE owner_id = $1 AND tags @> $2
			 ORDER BY updated_at DESC LIMIT $3`,
			ownerID, pq.Array([]string{tag}), limit)
		if err != nil {
			return fmt.Errorf("failed to query records by tag: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			bc, err := scanBreadcrumb(rows)
			if err != nil {
				return fmt.Errorf("failed to scan record: %w", err)
			}
			out = append(out, bc)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SemanticNeighbor is a nearest-neighbor hit used by the edge builder.
type SemanticNeighbor struct {
	ID         string
	Similarity float64
}

// SemanticNeighbors returns the tenant's records nearest to vec with
// cosine similarity at or above floor, excluding excludeID.
func (s *Store) SemanticNeighbors(ctx context.Context, ownerID, excludeID string, vec []float32, limit int, floor float64) ([]SemanticNeighbor, error) {
	if len(vec) == 0 {
		return nil, nil
	}
	if err := s.validateEmbedding(vec); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 5
	}

	var out []SemanticNeighbor
	err := s.withBypass(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id, 1 - (embedding <=> $1::vector) AS similarity
			 FROM breadcrumbs
			 WHERE owner_id = $2 AND id <> $3 AND embedding IS NOT NULL
			   AND 1 - (embedding <=> $1::vector) >= $4
			 ORDER BY embedding <=> $1::vector
			 LIMIT $5`,
			encodeEmbedding(vec).String, ownerID, excludeID, floor, limit)
		if err != nil {
			return fmt.Errorf("failed to query semantic neighbors: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var n SemanticNeighbor
			if err := rows.Scan(&n.ID, &n.Similarity); err != nil {
				return fmt.Errorf("failed to scan neighbor: %w", err)
			}
			out = append(out, n)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetBreadcrumbBypass loads one record without tenancy checks. Builder
// paths that already hold a record id from an event use it to avoid
// impersonating the emitting agent.
func (s *Store) GetBreadcrumbBypass(ctx context.Context, recordID string) (*models.Breadcrumb, error) {
	var out *models.Breadcrumb
	err := s.withBypass(ctx, func(tx *sql.Tx) error {
		bc, err := getBreadcrumbTx(ctx, tx, recordID)
		if err != nil {
			return err
		}
		out = bc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
