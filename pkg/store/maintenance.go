package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/rcrt-io/rcrt/pkg/models"
)

// PurgeExpired deletes up to limit records whose TTL has passed and
// returns their deletion envelopes so the sweeper can publish them.
// Runs on the bypass path; TTL expiry is not a tenant-scoped decision.
func (s *Store) PurgeExpired(ctx context.Context, limit int) ([]*models.EventEnvelope, error) {
	if limit <= 0 {
		limit = 100
	}

	var envelopes []*models.EventEnvelope
	err := s.withBypass(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`DELETE FROM breadcrumbs
			 WHERE id IN (
			     SELECT id FROM breadcrumbs WHERE ttl < now() LIMIT $1
			 )
			 RETURNING id, owner_id, schema_name, tags, version, updated_at, visibility, sensitivity`,
			limit)
		if err != nil {
			return fmt.Errorf("failed to purge expired records: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var (
				env        models.EventEnvelope
				schemaName sql.NullString
			)
			if err := rows.Scan(&env.RecordID, &env.Owner, &schemaName, pq.Array(&env.Tags),
				&env.Version, &env.UpdatedAt, &env.Visibility, &env.Sensitivity); err != nil {
				return fmt.Errorf("failed to scan purged record: %w", err)
			}
			env.Type = models.EventDeleted
			env.SchemaName = schemaName.String
			envelopes = append(envelopes, &env)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return envelopes, nil
}

// CountExpired reports how many records are currently past their TTL.
func (s *Store) CountExpired(ctx context.Context) (int, error) {
	var n int
	err := s.withBypass(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx,
			`SELECT count(*) FROM breadcrumbs WHERE ttl < now()`).Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count expired records: %w", err)
	}
	return n, nil
}

// SweepBusEvents drops persisted bus events older than retention and
// returns the number removed.
func (s *Store) SweepBusEvents(ctx context.Context, retention time.Duration) (int64, error) {
	var removed int64
	err := s.withBypass(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM bus_events WHERE created_at < now() - $1::interval`,
			fmt.Sprintf("%f seconds", retention.Seconds()))
		if err != nil {
			return fmt.Errorf("failed to sweep bus events: %w", err)
		}
		removed, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// SweepDLQ drops dead-letter rows older than retention and returns the
// number removed.
func (s *Store) SweepDLQ(ctx context.Context, retention time.Duration) (int64, error) {
	var removed int64
	err := s.withBypass(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM webhook_dlq WHERE created_at < now() - $1::interval`,
			fmt.Sprintf("%f seconds", retention.Seconds()))
		if err != nil {
			return fmt.Errorf("failed to sweep DLQ: %w", err)
		}
		removed, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}
