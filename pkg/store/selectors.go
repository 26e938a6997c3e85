package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/rcrt-io/rcrt/pkg/models"
)

const selectorColumns = `id, owner_id, agent_id, schema_name, any_tags, all_tags, none_tags,
	sensitivity_in, visibility_in, context_match, breadcrumb_id, bus, sse, webhook,
	created_at, updated_at`

func scanSelector(row rowScanner) (*models.StoredSelector, error) {
	var (
		sel           models.StoredSelector
		schemaName    sql.NullString
		sensitivityIn []string
		visibilityIn  []string
		contextJSON   []byte
		breadcrumbID  sql.NullString
	)
	err := row.Scan(
		&sel.ID, &sel.OwnerID, &sel.AgentID, &schemaName,
		pq.Array(&sel.Selector.AnyTags), pq.Array(&sel.Selector.AllTags),
		pq.Array(&sel.Selector.NoneTags), pq.Array(&sensitivityIn), pq.Array(&visibilityIn),
		&contextJSON, &breadcrumbID, &sel.Bus, &sel.SSE, &sel.Webhook,
		&sel.CreatedAt, &sel.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if schemaName.Valid {
		sel.Selector.SchemaName = schemaName.String
	}
	if breadcrumbID.Valid {
		sel.Selector.BreadcrumbID = breadcrumbID.String
	}
	for _, s := range sensitivityIn {
		sel.Selector.SensitivityIn = append(sel.Selector.SensitivityIn, models.Sensitivity(s))
	}
	for _, v := range visibilityIn {
		sel.Selector.VisibilityIn = append(sel.Selector.VisibilityIn, models.Visibility(v))
	}
	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &sel.Selector.ContextMatch); err != nil {
			return nil, fmt.Errorf("failed to decode context_match: %w", err)
		}
	}
	return &sel, nil
}

// CreateSelector persists a subscription selector for the calling
// agent.
func (s *Store) CreateSelector(ctx context.Context, id models.Identity, sel models.Selector, bus, sse, webhook bool) (*models.StoredSelector, error) {
	if err := sel.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, err)
	}

	var contextJSON []byte
	if len(sel.ContextMatch) > 0 {
		var err error
		contextJSON, err = json.Marshal(sel.ContextMatch)
		if err != nil {
			return nil, fmt.Errorf("failed to encode context_match: %w", err)
		}
	}

	sensitivityIn := make([]string, 0, len(sel.SensitivityIn))
	for _, v := range sel.SensitivityIn {
		if !v.Valid() {
			return nil, NewValidationError("sensitivity_in", fmt.Sprintf("unknown value %q", v))
		}
		sensitivityIn = append(sensitivityIn, string(v))
	}
	visibilityIn := make([]string, 0, len(sel.VisibilityIn))
	for _, v := range sel.VisibilityIn {
		if !v.Valid() {
			return nil, NewValidationError("visibility_in", fmt.Sprintf("unknown value %q", v))
		}
		visibilityIn = append(visibilityIn, string(v))
	}

	newID := uuid.New().String()
	var created *models.StoredSelector
	err := s.withTenant(ctx, id, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`INSERT INTO selectors
			   (id, owner_id, agent_id, schema_name, any_tags, all_tags, none_tags,
			    sensitivity_in, visibility_in, context_match, breadcrumb_id, bus, sse, webhook)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			 RETURNING `+selectorColumns,
			newID, id.OwnerID, id.AgentID, nullText(sel.SchemaName),
			pq.Array(sel.AnyTags), pq.Array(sel.AllTags), pq.Array(sel.NoneTags),
			pq.Array(sensitivityIn), pq.Array(visibilityIn), nullJSON(contextJSON),
			nullText(sel.BreadcrumbID), bus, sse, webhook)
		stored, err := scanSelector(row)
		if err != nil {
			return fmt.Errorf("failed to insert selector: %w", err)
		}
		created = stored
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func nullText(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

// GetSelector loads one selector within the caller's tenant.
func (s *Store) GetSelector(ctx context.Context, id models.Identity, selectorID string) (*models.StoredSelector, error) {
	var out *models.StoredSelector
	err := s.withTenant(ctx, id, func(tx *sql.Tx) error {
		sel, err := scanSelector(tx.QueryRowContext(ctx,
			`SELECT `+selectorColumns+` FROM selectors WHERE id = $1`, selectorID))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load selector: %w", err)
		}
		out = sel
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateSelector replaces a selector's predicate and channels in
// place, keeping its id and any SSE streams keyed on it.
func (s *Store) UpdateSelector(ctx context.Context, id models.Identity, selectorID string, sel models.Selector, bus, sse, webhook bool) (*models.StoredSelector, error) {
	if err := sel.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, err)
	}

	var contextJSON []byte
	if len(sel.ContextMatch) > 0 {
		var err error
		contextJSON, err = json.Marshal(sel.ContextMatch)
		if err != nil {
			return nil, fmt.Errorf("failed to encode context_match: %w", err)
		}
	}

	sensitivityIn := make([]string, 0, len(sel.SensitivityIn))
	for _, v := range sel.SensitivityIn {
		if !v.Valid() {
			return nil, NewValidationError("sensitivity_in", fmt.Sprintf("unknown value %q", v))
		}
		sensitivityIn = append(sensitivityIn, string(v))
	}
	visibilityIn := make([]string, 0, len(sel.VisibilityIn))
	for _, v := range sel.VisibilityIn {
		if !v.Valid() {
			return nil, NewValidationError("visibility_in", fmt.Sprintf("unknown value %q", v))
		}
		visibilityIn = append(visibilityIn, string(v))
	}

	var updated *models.StoredSelector
	err := s.withTenant(ctx, id, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`UPDATE selectors
			 SET schema_name = $2, any_tags = $3, all_tags = $4, none_tags = $5,
			     sensitivity_in = $6, visibility_in = $7, context_match = $8,
			     breadcrumb_id = $9, bus = $10, sse = $11, webhook = $12,
			     updated_at = now()
			 WHERE id = $1
			 RETURNING `+selectorColumns,
			selectorID, nullText(sel.SchemaName),
			pq.Array(sel.AnyTags), pq.Array(sel.AllTags), pq.Array(sel.NoneTags),
			pq.Array(sensitivityIn), pq.Array(visibilityIn), nullJSON(contextJSON),
			nullText(sel.BreadcrumbID), bus, sse, webhook)
		stored, err := scanSelector(row)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to update selector: %w", err)
		}
		updated = stored
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ListSelectors returns the caller's selectors, optionally limited to
// one agent.
func (s *Store) ListSelectors(ctx context.Context, id models.Identity, agentID string) ([]*models.StoredSelector, error) {
	query := `SELECT ` + selectorColumns + ` FROM selectors`
	args := []any{}
	if agentID != "" {
		query += ` WHERE agent_id = $1`
		args = append(args, agentID)
	}
	query += ` ORDER BY created_at DESC`

	var out []*models.StoredSelector
	err := s.withTenant(ctx, id, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to list selectors: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			sel, err := scanSelector(rows)
			if err != nil {
				return fmt.Errorf("failed to scan selector: %w", err)
			}
			out = append(out, sel)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteSelector removes a selector the caller owns.
func (s *Store) DeleteSelector(ctx context.Context, id models.Identity, selectorID string) error {
	return s.withTenant(ctx, id, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM selectors WHERE id = $1`, selectorID)
		if err != nil {
			return fmt.Errorf("failed to delete selector: %w", err)
		}
		affected, _ := res.RowsAffected()
		if affected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// MatchingSelectors returns the selectors whose envelope-safe
// predicates match the event. Fan-out runs on the bypass path but is
// pinned to the event's tenant; predicate evaluation happens in Go so
// one SQL shape serves every selector.
func (s *Store) MatchingSelectors(ctx context.Context, env *models.EventEnvelope) ([]*models.StoredSelector, error) {
	var candidates []*models.StoredSelector
	err := s.withBypass(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT `+selectorColumns+` FROM selectors WHERE owner_id = $1`, env.Owner)
		if err != nil {
			return fmt.Errorf("failed to query selectors: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			sel, err := scanSelector(rows)
			if err != nil {
				return fmt.Errorf("failed to scan selector: %w", err)
			}
			candidates = append(candidates, sel)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	matched := candidates[:0]
	for _, sel := range candidates {
		if sel.Selector.MatchesEnvelope(env) {
			matched = append(matched, sel)
		}
	}
	return matched, nil
}
