package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/rcrt-io/rcrt/pkg/models"
)

// SearchResult pairs a record with its similarity scores.
type SearchResult struct {
	Breadcrumb   *models.Breadcrumb `json:"breadcrumb"`
	Score        float64            `json:"score"`
	VecScore     float64            `json:"vec_score,omitempty"`
	KeywordScore float64            `json:"keyword_score,omitempty"`
}

// SearchOptions filters vector and hybrid search.
type SearchOptions struct {
	Schemas        []string
	ExcludeSchemas []string
	Limit          int
	Threshold      float64
}

// VectorSearch returns the nearest records by cosine similarity,
// filtered to similarity >= Threshold.
func (s *Store) VectorSearch(ctx context.Context, id models.Identity, queryVec []float32, opts SearchOptions) ([]SearchResult, error) {
	if err := s.validateEmbedding(queryVec); err != nil {
		return nil, err
	}
	if len(queryVec) == 0 {
		return nil, fmt.Errorf("%w: query embedding is empty", ErrInvalidInput)
	}
	if opts.Limit <= 0 {
		opts.Limit = 10
	}

	query := `SELECT ` + breadcrumbColumns + `,
		1 - (embedding <=> $1::vector) AS similarity
		FROM breadcrumbs
		WHERE embedding IS NOT NULL`
	args := []any{encodeEmbedding(queryVec).String}
	argNum := 2

	if len(opts.Schemas) > 0 {
		query += fmt.Sprintf(" AND schema_name = ANY($%d)", argNum)
		args = append(args, pq.Array(opts.Schemas))
		argNum++
	}
	if len(opts.ExcludeSchemas) > 0 {
		query += fmt.Sprintf(" AND (schema_name IS NULL OR schema_name <> ALL($%d))", argNum)
		args = append(args, pq.Array(opts.ExcludeSchemas))
		argNum++
	}
	if opts.Threshold > 0 {
		query += fmt.Sprintf(" AND (1 - (embedding <=> $1::vector)) >= $%d", argNum)
		args = append(args, opts.Threshold)
		argNum++
	}

	query += " ORDER BY embedding <=> $1::vector ASC"
	query += fmt.Sprintf(" LIMIT $%d", argNum)
	args = append(args, opts.Limit)

	var results []SearchResult
	err := s.withTenant(ctx, id, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to run vector search: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			bc, score, err := scanSearchRow(rows)
			if err != nil {
				return err
			}
			results = append(results, SearchResult{Breadcrumb: bc, Score: score, VecScore: score})
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// HybridSearch blends vector similarity with entity keyword overlap:
//
//	final = 0.6*vec + 0.4*keyword
//	vec = 1 / (1 + cosine_distance), 0 when either vector is missing
//	keyword = |entity_keywords ∩ pointers| / |pointers|, 0 when pointers is empty
func (s *Store) HybridSearch(ctx context.Context, id models.Identity, queryVec []float32, pointers []string, opts SearchOptions) ([]SearchResult, error) {
	if err := s.validateEmbedding(queryVec); err != nil {
		return nil, err
	}
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
	if pointers == nil {
		pointers = []string{}
	}

	vecExpr := "0::float"
	args := []any{pq.Array(pointers)}
	argNum := 2
	if len(queryVec) > 0 {
		vecExpr = fmt.Sprintf("COALESCE(1.0 / (1.0 + (embedding <=> $%d::vector)), 0)", argNum)
		args = append(args, encodeEmbedding(queryVec).String)
		argNum++
	}

	// Keyword score divides the overlap by the pointer count, which is
	// constant per query, so it is passed in rather than computed per row.
	kwExpr := "0::float"
	if len(pointers) > 0 {
		kwExpr = fmt.Sprintf(`COALESCE(array_length(ARRAY(
			SELECT unnest(entity_keywords) INTERSECT SELECT unnest($1::text[])
		), 1), 0)::float / $%d`, argNum)
		args = append(args, len(pointers))
		argNum++
	}

	query := fmt.Sprintf(`SELECT %s,
		%s AS vec_score,
		%s AS keyword_score
		FROM breadcrumbs
		WHERE (embedding IS NOT NULL OR entity_keywords && $1::text[])`,
		breadcrumbColumns, vecExpr, kwExpr)

	if len(opts.Schemas) > 0 {
		query += fmt.Sprintf(" AND schema_name = ANY($%d)", argNum)
		args = append(args, pq.Array(opts.Schemas))
		argNum++
	}
	if len(opts.ExcludeSchemas) > 0 {
		query += fmt.Sprintf(" AND (schema_name IS NULL OR schema_name <> ALL($%d))", argNum)
		args = append(args, pq.Array(opts.ExcludeSchemas))
		argNum++
	}

	query += fmt.Sprintf(" ORDER BY (0.6 * (%s) + 0.4 * (%s)) DESC", vecExpr, kwExpr)
	query += fmt.Sprintf(" LIMIT $%d", argNum)
	args = append(args, opts.Limit)

	var results []SearchResult
	err := s.withTenant(ctx, id, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to run hybrid search: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			bc, vecScore, kwScore, err := scanHybridRow(rows)
			if err != nil {
				return err
			}
			final := 0.6*vecScore + 0.4*kwScore
			if opts.Threshold > 0 && final < opts.Threshold {
				continue
			}
			results = append(results, SearchResult{
				Breadcrumb:   bc,
				Score:        final,
				VecScore:     vecScore,
				KeywordScore: kwScore,
			})
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func scanSearchRow(rows *sql.Rows) (*models.Breadcrumb, float64, error) {
	var (
		bc          models.Breadcrumb
		schemaName  sql.NullString
		contextJSON []byte
		hintsJSON   []byte
		ttl         sql.NullTime
		keywords    []string
		createdBy   sql.NullString
		updatedBy   sql.NullString
		score       float64
	)
	err := rows.Scan(
		&bc.ID, &bc.OwnerID, &bc.Title, &bc.Description, &bc.SemanticVersion, &schemaName,
		&contextJSON, pq.Array(&bc.Tags), &hintsJSON, &bc.Visibility, &bc.Sensitivity,
		&bc.Version, &bc.Checksum, &bc.SizeBytes, &ttl, pq.Array(&keywords),
		&bc.CreatedAt, &bc.UpdatedAt, &createdBy, &updatedBy, &score)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to scan search result: %w", err)
	}
	if err := fillBreadcrumb(&bc, schemaName, contextJSON, hintsJSON, ttl, keywords, createdBy, updatedBy); err != nil {
		return nil, 0, err
	}
	return &bc, score, nil
}

func scanHybridRow(rows *sql.Rows) (*models.Breadcrumb, float64, float64, error) {
	var (
		bc          models.Breadcrumb
		schemaName  sql.NullString
		contextJSON []byte
		hintsJSON   []byte
		ttl         sql.NullTime
		keywords    []string
		createdBy   sql.NullString
		updatedBy   sql.NullString
		vecScore    float64
		kwScore     float64
	)
	err := rows.Scan(
		&bc.ID, &bc.OwnerID, &bc.Title, &bc.Description, &bc.SemanticVersion, &schemaName,
		&contextJSON, pq.Array(&bc.Tags), &hintsJSON, &bc.Visibility, &bc.Sensitivity,
		&bc.Version, &bc.Checksum, &bc.SizeBytes, &ttl, pq.Array(&keywords),
		&bc.CreatedAt, &bc.UpdatedAt, &createdBy, &updatedBy, &vecScore, &kwScore)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to scan hybrid result: %w", err)
	}
	if err := fillBreadcrumb(&bc, schemaName, contextJSON, hintsJSON, ttl, keywords, createdBy, updatedBy); err != nil {
		return nil, 0, 0, err
	}
	return &bc, vecScore, kwScore, nil
}

func fillBreadcrumb(bc *models.Breadcrumb, schemaName sql.NullString, contextJSON, hintsJSON []byte,
	ttl sql.NullTime, keywords []string, createdBy, updatedBy sql.NullString) error {
	if schemaName.Valid {
		bc.SchemaName = &schemaName.String
	}
	if err := json.Unmarshal(contextJSON, &bc.Context); err != nil {
		return fmt.Errorf("failed to decode context: %w", err)
	}
	if len(hintsJSON) > 0 {
		if err := json.Unmarshal(hintsJSON, &bc.LLMHints); err != nil {
			return fmt.Errorf("failed to decode llm_hints: %w", err)
		}
	}
	if ttl.Valid {
		t := ttl.Time
		bc.TTL = &t
	}
	bc.EntityKeywords = keywords
	if createdBy.Valid {
		bc.CreatedBy = &createdBy.String
	}
	if updatedBy.Valid {
		bc.UpdatedBy = &updatedBy.String
	}
	return nil
}

// UpdateEmbedding writes the vector for a record without bumping its
// version; embedding is derived state, not content.
func (s *Store) UpdateEmbedding(ctx context.Context, recordID string, embedding []float32) error {
	if err := s.validateEmbedding(embedding); err != nil {
		return err
	}
	return s.withBypass(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE breadcrumbs SET embedding = $1::vector WHERE id = $2`,
			encodeEmbedding(embedding).String, recordID)
		if err != nil {
			return fmt.Errorf("failed to update embedding: %w", err)
		}
		affected, _ := res.RowsAffected()
		if affected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// UpdateEntityKeywords writes the extracted pointer set for a record
// without bumping its version.
func (s *Store) UpdateEntityKeywords(ctx context.Context, recordID string, keywords []string) error {
	if keywords == nil {
		keywords = []string{}
	}
	return s.withBypass(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE breadcrumbs SET entity_keywords = $1 WHERE id = $2`,
			pq.Array(keywords), recordID)
		if err != nil {
			return fmt.Errorf("failed to update entity keywords: %w", err)
		}
		affected, _ := res.RowsAffected()
		if affected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// BackfillCandidate is a record missing derived state.
type BackfillCandidate struct {
	ID         string
	OwnerID    string
	Title      string
	SchemaName string
	Context    map[string]any
	Tags       []string
	NeedsVec   bool
	NeedsKW    bool
}

// BackfillCandidates lists records whose embedding or entity keywords
// have not been computed yet, oldest first.
func (s *Store) BackfillCandidates(ctx context.Context, limit int) ([]BackfillCandidate, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []BackfillCandidate
	err := s.withBypass(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id, owner_id, title, COALESCE(schema_name, ''), context, tags,
			        embedding IS NULL, entity_keywords IS NULL
			 FROM breadcrumbs
			 WHERE embedding IS NULL OR entity_keywords IS NULL
			 ORDER BY updated_at ASC
			 LIMIT $1`, limit)
		if err != nil {
			return fmt.Errorf("failed to list backfill candidates: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var (
				c           BackfillCandidate
				contextJSON []byte
			)
			if err := rows.Scan(&c.ID, &c.OwnerID, &c.Title, &c.SchemaName,
				&contextJSON, pq.Array(&c.Tags), &c.NeedsVec, &c.NeedsKW); err != nil {
				return fmt.Errorf("failed to scan backfill candidate: %w", err)
			}
			if err := json.Unmarshal(contextJSON, &c.Context); err != nil {
				return fmt.Errorf("failed to decode context: %w", err)
			}
			out = append(out, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
