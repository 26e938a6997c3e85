package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/rcrt-io/rcrt/pkg/models"
)

// breadcrumbColumns is the scan list shared by every read; the
// embedding column is fetched separately where needed.
const breadcrumbColumns = `id, owner_id, title, description, semantic_version, schema_name,
	context, tags, llm_hints, visibility, sensitivity, version, checksum, size_bytes,
	ttl, entity_keywords, created_at, updated_at, created_by, updated_by`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBreadcrumb(row rowScanner) (*models.Breadcrumb, error) {
	var (
		bc          models.Breadcrumb
		schemaName  sql.NullString
		contextJSON []byte
		hintsJSON   []byte
		ttl         sql.NullTime
		keywords    []string
		createdBy   sql.NullString
		updatedBy   sql.NullString
	)

	err := row.Scan(
		&bc.ID, &bc.OwnerID, &bc.Title, &bc.Description, &bc.SemanticVersion, &schemaName,
		&contextJSON, pq.Array(&bc.Tags), &hintsJSON, &bc.Visibility, &bc.Sensitivity,
		&bc.Version, &bc.Checksum, &bc.SizeBytes, &ttl, pq.Array(&keywords),
		&bc.CreatedAt, &bc.UpdatedAt, &createdBy, &updatedBy)
	if err != nil {
		return nil, err
	}

	if schemaName.Valid {
		bc.SchemaName = &schemaName.String
	}
	if err := json.Unmarshal(contextJSON, &bc.Context); err != nil {
		return nil, fmt.Errorf("failed to decode context: %w", err)
	}
	if len(hintsJSON) > 0 {
		if err := json.Unmarshal(hintsJSON, &bc.LLMHints); err != nil {
			return nil, fmt.Errorf("failed to decode llm_hints: %w", err)
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
	return &bc, nil
}

func nullUUID(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTextPtr(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func getBreadcrumbTx(ctx context.Context, tx *sql.Tx, id string) (*models.Breadcrumb, error) {
	bc, err := scanBreadcrumb(tx.QueryRowContext(ctx,
		`SELECT `+breadcrumbColumns+` FROM breadcrumbs WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load breadcrumb: %w", err)
	}
	return bc, nil
}

// hashCreateRequest fingerprints a create payload so idempotency key
// reuse with a different body can be detected.
func hashCreateRequest(req models.CreateBreadcrumbRequest) (string, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to hash request: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// CreateBreadcrumb inserts a record plus its version-1 history row in
// one transaction. When idemKey was already used with the same payload
// the stored record is returned with replayed=true; a different
// payload fails with ErrIdempotencyConflict.
func (s *Store) CreateBreadcrumb(ctx context.Context, id models.Identity, req models.CreateBreadcrumbRequest, idemKey string) (*models.Breadcrumb, bool, error) {
	visibility := req.Visibility
	if visibility == "" {
		visibility = models.VisibilityTeam
	}
	if !visibility.Valid() {
		return nil, false, NewValidationError("visibility", fmt.Sprintf("unknown value %q", visibility))
	}
	sensitivity := req.Sensitivity
	if sensitivity == "" {
		sensitivity = models.SensitivityLow
	}
	if !sensitivity.Valid() {
		return nil, false, NewValidationError("sensitivity", fmt.Sprintf("unknown value %q", sensitivity))
	}
	semver := req.SemanticVersion
	if semver == "" {
		semver = "1.0.0"
	}

	checksum, err := models.ContextChecksum(req.Context)
	if err != nil {
		return nil, false, err
	}
	size, err := models.ContextSize(req.Context)
	if err != nil {
		return nil, false, err
	}
	contextJSON, err := json.Marshal(req.Context)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode context: %w", err)
	}
	hints := req.LLMHints
	if hints == nil {
		hints = map[string]any{}
	}
	hintsJSON, err := json.Marshal(hints)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode llm_hints: %w", err)
	}
	tags := req.Tags
	if tags == nil {
		tags = []string{}
	}

	newID := uuid.New().String()
	var (
		created  *models.Breadcrumb
		replayed bool
	)
	err = s.withTenant(ctx, id, func(tx *sql.Tx) error {
		if idemKey != "" {
			requestHash, err := hashCreateRequest(req)
			if err != nil {
				return err
			}
			res, err := tx.ExecContext(ctx,
				`INSERT INTO idempotency_keys (owner_id, key, breadcrumb_id, request_hash)
				 VALUES ($1, $2, $3, $4)
				 ON CONFLICT (owner_id, key) DO NOTHING`,
				id.OwnerID, idemKey, newID, requestHash)
			if err != nil {
				return fmt.Errorf("failed to record idempotency key: %w", err)
			}
			affected, _ := res.RowsAffected()
			if affected == 0 {
				var storedID, storedHash string
				err := tx.QueryRowContext(ctx,
					`SELECT breadcrumb_id, request_hash FROM idempotency_keys
					 WHERE owner_id = $1 AND key = $2`,
					id.OwnerID, idemKey).Scan(&storedID, &storedHash)
				if err != nil {
					return fmt.Errorf("failed to load idempotency key: %w", err)
				}
				if storedHash != requestHash {
					return ErrIdempotencyConflict
				}
				existing, err := getBreadcrumbTx(ctx, tx, storedID)
				if err != nil {
					return err
				}
				created = existing
				replayed = true
				return nil
			}
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO breadcrumbs
			   (id, owner_id, title, description, semantic_version, schema_name, context,
			    tags, llm_hints, visibility, sensitivity, checksum, size_bytes, ttl,
			    created_by, updated_by)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)`,
			newID, id.OwnerID, req.Title, req.Description, semver, nullTextPtr(req.SchemaName),
			contextJSON, pq.Array(tags), hintsJSON, string(visibility), string(sensitivity),
			checksum, size, nullTime(req.TTL), nullUUID(id.AgentID))
		if err != nil {
			return fmt.Errorf("failed to insert breadcrumb: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO breadcrumb_history (breadcrumb_id, version, owner_id, title, context, checksum, updated_by)
			 VALUES ($1, 1, $2, $3, $4, $5, $6)`,
			newID, id.OwnerID, req.Title, contextJSON, checksum, nullUUID(id.AgentID)); err != nil {
			return fmt.Errorf("failed to insert history: %w", err)
		}

		bc, err := getBreadcrumbTx(ctx, tx, newID)
		if err != nil {
			return err
		}
		created = bc
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return created, replayed, nil
}

// GetBreadcrumb loads one record under the caller's identity. Rows the
// policies hide surface as ErrNotFound.
func (s *Store) GetBreadcrumb(ctx context.Context, id models.Identity, recordID string) (*models.Breadcrumb, error) {
	var bc *models.Breadcrumb
	err := s.withTenant(ctx, id, func(tx *sql.Tx) error {
		loaded, err := getBreadcrumbTx(ctx, tx, recordID)
		if err != nil {
			return err
		}
		bc = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return bc, nil
}

// GetBreadcrumbs batch-loads records; hidden or missing ids are
// silently absent from the result.
func (s *Store) GetBreadcrumbs(ctx context.Context, id models.Identity, recordIDs []string) ([]*models.Breadcrumb, error) {
	if len(recordIDs) == 0 {
		return nil, nil
	}
	var out []*models.Breadcrumb
	err := s.withTenant(ctx, id, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT `+breadcrumbColumns+` FROM breadcrumbs WHERE id = ANY($1::uuid[])`,
			pq.Array(recordIDs))
		if err != nil {
			return fmt.Errorf("failed to query breadcrumbs: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			bc, err := scanBreadcrumb(rows)
			if err != nil {
				return fmt.Errorf("failed to scan breadcrumb: %w", err)
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

// GetEmbedding returns the stored vector for a record, or nil when the
// record has not been embedded yet.
func (s *Store) GetEmbedding(ctx context.Context, id models.Identity, recordID string) ([]float32, error) {
	var vec []float32
	err := s.withTenant(ctx, id, func(tx *sql.Tx) error {
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

// UpdateBreadcrumb applies a partial update under compare-and-swap.
// ifMatch must equal the current version or the update fails with
// ErrVersionConflict; any successful update bumps the version and
// appends a history row.
func (s *Store) UpdateBreadcrumb(ctx context.Context, id models.Identity, recordID string, ifMatch int, req models.UpdateBreadcrumbRequest) (*models.Breadcrumb, error) {
	sets := []string{"version = version + 1", "updated_at = now()", "updated_by = $3"}
	args := []any{recordID, ifMatch, nullUUID(id.AgentID)}
	argNum := 4

	addSet := func(expr string, val any) {
		sets = append(sets, fmt.Sprintf(expr, argNum))
		args = append(args, val)
		argNum++
	}

	if req.Title != nil {
		addSet("title = $%d", *req.Title)
	}
	if req.Description != nil {
		addSet("description = $%d", *req.Description)
	}
	if req.Context != nil {
		contextJSON, err := json.Marshal(req.Context)
		if err != nil {
			return nil, fmt.Errorf("failed to encode context: %w", err)
		}
		checksum, err := models.ContextChecksum(req.Context)
		if err != nil {
			return nil, err
		}
		size, err := models.ContextSize(req.Context)
		if err != nil {
			return nil, err
		}
		addSet("context = $%d", contextJSON)
		addSet("checksum = $%d", checksum)
		addSet("size_bytes = $%d", size)
	}
	if req.Tags != nil {
		addSet("tags = $%d", pq.Array(req.Tags))
	}
	if req.Visibility != nil {
		if !req.Visibility.Valid() {
			return nil, NewValidationError("visibility", fmt.Sprintf("unknown value %q", *req.Visibility))
		}
		addSet("visibility = $%d", string(*req.Visibility))
	}
	if req.Sensitivity != nil {
		if !req.Sensitivity.Valid() {
			return nil, NewValidationError("sensitivity", fmt.Sprintf("unknown value %q", *req.Sensitivity))
		}
		addSet("sensitivity = $%d", string(*req.Sensitivity))
	}
	if req.TTL != nil {
		addSet("ttl = $%d", *req.TTL)
	}
	if req.LLMHints != nil {
		hintsJSON, err := json.Marshal(req.LLMHints)
		if err != nil {
			return nil, fmt.Errorf("failed to encode llm_hints: %w", err)
		}
		addSet("llm_hints = $%d", hintsJSON)
	}

	var updated *models.Breadcrumb
	err := s.withTenant(ctx, id, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE breadcrumbs SET `+strings.Join(sets, ", ")+` WHERE id = $1 AND version = $2`,
			args...)
		if err != nil {
			return fmt.Errorf("failed to update breadcrumb: %w", err)
		}
		affected, _ := res.RowsAffected()
		if affected == 0 {
			// Distinguish a hidden/missing row from a lost CAS race.
			var current int
			err := tx.QueryRowContext(ctx,
				`SELECT version FROM breadcrumbs WHERE id = $1`, recordID).Scan(&current)
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			if err != nil {
				return fmt.Errorf("failed to check version: %w", err)
			}
			return ErrVersionConflict
		}

		bc, err := getBreadcrumbTx(ctx, tx, recordID)
		if err != nil {
			return err
		}
		historyContext, err := json.Marshal(bc.Context)
		if err != nil {
			return fmt.Errorf("failed to encode history context: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO breadcrumb_history (breadcrumb_id, version, owner_id, title, context, checksum, updated_by)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			bc.ID, bc.Version, bc.OwnerID, bc.Title, historyContext, bc.Checksum, nullUUID(id.AgentID)); err != nil {
			return fmt.Errorf("failed to insert history: %w", err)
		}
		updated = bc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteBreadcrumb removes a record and returns its final state so the
// caller can publish the deletion event.
func (s *Store) DeleteBreadcrumb(ctx context.Context, id models.Identity, recordID string) (*models.Breadcrumb, error) {
	var deleted *models.Breadcrumb
	err := s.withTenant(ctx, id, func(tx *sql.Tx) error {
		bc, err := getBreadcrumbTx(ctx, tx, recordID)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM breadcrumbs WHERE id = $1`, recordID)
		if err != nil {
			return fmt.Errorf("failed to delete breadcrumb: %w", err)
		}
		affected, _ := res.RowsAffected()
		if affected == 0 {
			return ErrNotFound
		}
		deleted = bc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// ListOptions filters ListBreadcrumbs.
type ListOptions struct {
	Tag          string
	SchemaName   string
	Owner        string
	UpdatedSince *time.Time
	Limit        int
	Offset       int
}

// ListBreadcrumbs returns records in updated_at descending order.
func (s *Store) ListBreadcrumbs(ctx context.Context, id models.Identity, opts ListOptions) ([]*models.Breadcrumb, error) {
	if opts.Limit <= 0 {
		opts.Limit = 100
	}

	query := `SELECT ` + breadcrumbColumns + ` FROM breadcrumbs WHERE 1=1`
	args := []any{}
	argNum := 1

	if opts.Tag != "" {
		query += fmt.Sprintf(" AND tags @> $%d", argNum)
		args = append(args, pq.Array([]string{opts.Tag}))
		argNum++
	}
	if opts.SchemaName != "" {
		query += fmt.Sprintf(" AND schema_name = $%d", argNum)
		args = append(args, opts.SchemaName)
		argNum++
	}
	if opts.Owner != "" {
		query += fmt.Sprintf(" AND owner_id = $%d", argNum)
		args = append(args, opts.Owner)
		argNum++
	}
	if opts.UpdatedSince != nil {
		query += fmt.Sprintf(" AND updated_at > $%d", argNum)
		args = append(args, *opts.UpdatedSince)
		argNum++
	}

	query += fmt.Sprintf(" ORDER BY updated_at DESC LIMIT $%d OFFSET $%d", argNum, argNum+1)
	args = append(args, opts.Limit, opts.Offset)

	var out []*models.Breadcrumb
	err := s.withTenant(ctx, id, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to list breadcrumbs: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			bc, err := scanBreadcrumb(rows)
			if err != nil {
				return fmt.Errorf("failed to scan breadcrumb: %w", err)
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

// ListHistory returns a record's version history, newest first. The
// record itself must be visible to the caller.
func (s *Store) ListHistory(ctx context.Context, id models.Identity, recordID string, limit int) ([]models.HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []models.HistoryEntry
	err := s.withTenant(ctx, id, func(tx *sql.Tx) error {
		if _, err := getBreadcrumbTx(ctx, tx, recordID); err != nil {
			return err
		}
		rows, err := tx.QueryContext(ctx,
			`SELECT breadcrumb_id, version, title, context, checksum, created_at, updated_by
			 FROM breadcrumb_history
			 WHERE breadcrumb_id = $1
			 ORDER BY version DESC
			 LIMIT $2`, recordID, limit)
		if err != nil {
			return fmt.Errorf("failed to list history: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var (
				entry       models.HistoryEntry
				contextJSON []byte
				updatedBy   sql.NullString
			)
			if err := rows.Scan(&entry.BreadcrumbID, &entry.Version, &entry.Title,
				&contextJSON, &entry.Checksum, &entry.CreatedAt, &updatedBy); err != nil {
				return fmt.Errorf("failed to scan history: %w", err)
			}
			if err := json.Unmarshal(contextJSON, &entry.Context); err != nil {
				return fmt.Errorf("failed to decode history context: %w", err)
			}
			if updatedBy.Valid {
				entry.UpdatedBy = &updatedBy.String
			}
			out = append(out, entry)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
