// Package store owns every SQL statement in the server. All methods
// run inside a transaction that first pins the tenant context so the
// row level security policies see the caller's identity; server
// internal paths (fan-out, hygiene, backfill) use the bypass variant
// instead.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/rcrt-io/rcrt/pkg/models"
)

// Store provides data access for breadcrumbs and everything attached
// to them.
type Store struct {
	db        *sql.DB
	dimension int
	logger    *slog.Logger
}

// New creates a Store on the shared connection pool. dimension is the
// embedding width enforced on writes; 0 disables the check.
func New(db *sql.DB, dimension int) *Store {
	return &Store{
		db:        db,
		dimension: dimension,
		logger:    slog.Default().With("component", "store"),
	}
}

// DB exposes the pool for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

// withTenant runs fn inside a transaction carrying the caller's
// identity. The set_config calls are transaction-local, so nothing
// leaks onto pooled connections.
func (s *Store) withTenant(ctx context.Context, id models.Identity, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`SELECT set_config('app.current_owner_id', $1, true),
		        set_config('app.current_agent_id', $2, true),
		        set_config('app.current_roles', $3, true)`,
		id.OwnerID, id.AgentID, strings.Join(id.Roles, ","))
	if err != nil {
		return fmt.Errorf("failed to set tenant context: %w", err)
	}

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// withBypass runs fn with row level security disabled. Only server
// internal paths may use it.
func (s *Store) withBypass(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT set_config('app.rls_bypass', 'on', true)`); err != nil {
		return fmt.Errorf("failed to set bypass context: %w", err)
	}

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// validateEmbedding rejects vectors of the wrong width or containing
// NaN/Inf, which pgvector would otherwise accept silently.
func (s *Store) validateEmbedding(embedding []float32) error {
	if len(embedding) == 0 {
		return nil
	}
	if s.dimension > 0 && len(embedding) != s.dimension {
		return fmt.Errorf("%w: embedding dimension mismatch: got %d, want %d",
			ErrInvalidInput, len(embedding), s.dimension)
	}
	for _, v := range embedding {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("%w: embedding contains invalid values", ErrInvalidInput)
		}
	}
	return nil
}

func encodeEmbedding(embedding []float32) sql.NullString {
	if len(embedding) == 0 {
		return sql.NullString{}
	}

	var sb strings.Builder
	sb.WriteByte('[')
	for i, f := range embedding {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(fmt.Sprintf("%g", f))
	}
	sb.WriteByte(']')

	return sql.NullString{String: sb.String(), Valid: true}
}

func decodeEmbedding(s string) []float32 {
	if s == "" {
		return nil
	}

	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")

	if s == "" {
		return nil
	}

	parts := strings.Split(s, ",")
	embedding := make([]float32, len(parts))
	for i, p := range parts {
		var f float64
		fmt.Sscanf(strings.TrimSpace(p), "%f", &f)
		embedding[i] = float32(f)
	}

	return embedding
}
