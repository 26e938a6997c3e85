package database

import (
	"context"
	"database/sql"
	"fmt"
)

// EnsureSearchIndexes sizes the embedding column to the configured
// dimension and builds the vector index. The migration files declare
// the column as an untyped vector because the dimension is a runtime
// choice (it must match the embedding provider); ivfflat needs a typed
// column, so both steps happen here after migrations.
func EnsureSearchIndexes(ctx context.Context, db *sql.DB, dim, lists int) error {
	if dim <= 0 {
		dim = 768
	}
	if lists <= 0 {
		lists = 100
	}

	var current sql.NullInt64
	err := db.QueryRowContext(ctx,
		`SELECT atttypmod FROM pg_attribute
		 WHERE attrelid = 'breadcrumbs'::regclass AND attname = 'embedding'`).Scan(&current)
	if err != nil {
		return fmt.Errorf("failed to inspect embedding column: %w", err)
	}

	// atttypmod is -1 for an untyped vector column; otherwise it holds
	// the declared dimension.
	if !current.Valid || current.Int64 != int64(dim) {
		_, err = db.ExecContext(ctx,
			fmt.Sprintf(`ALTER TABLE breadcrumbs ALTER COLUMN embedding TYPE vector(%d)`, dim))
		if err != nil {
			return fmt.Errorf("failed to size embedding column to %d: %w", dim, err)
		}
	}

	_, err = db.ExecContext(ctx, fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS idx_breadcrumbs_embedding
		 ON breadcrumbs USING ivfflat (embedding vector_cosine_ops) WITH (lists = %d)`, lists))
	if err != nil {
		return fmt.Errorf("failed to create embedding index: %w", err)
	}

	return nil
}
