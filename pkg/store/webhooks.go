package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/rcrt-io/rcrt/pkg/models"
)

const webhookColumns = `id, owner_id, agent_id, url, secret, headers, retry_max, active, created_at`

func scanWebhook(row rowScanner) (*models.WebhookSubscription, error) {
	var (
		wh          models.WebhookSubscription
		secret      sql.NullString
		headersJSON []byte
	)
	err := row.Scan(&wh.ID, &wh.OwnerID, &wh.AgentID, &wh.URL, &secret,
		&headersJSON, &wh.RetryMax, &wh.Active, &wh.CreatedAt)
	if err != nil {
		return nil, err
	}
	wh.Secret = secret.String
	if len(headersJSON) > 0 {
		if err := json.Unmarshal(headersJSON, &wh.Headers); err != nil {
			return nil, fmt.Errorf("failed to decode webhook headers: %w", err)
		}
	}
	return &wh, nil
}

// UpsertWebhook registers a delivery endpoint for the agent. Repeating
// the same (owner, agent, url) updates the endpoint in place.
func (s *Store) UpsertWebhook(ctx context.Context, id models.Identity, agentID string, req models.CreateWebhookRequest) (*models.WebhookSubscription, error) {
	if req.URL == "" {
		return nil, NewValidationError("url", "must not be empty")
	}
	retryMax := req.RetryMax
	if retryMax <= 0 {
		retryMax = 6
	}
	headers := req.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	headersJSON, err := json.Marshal(headers)
	if err != nil {
		return nil, fmt.Errorf("failed to encode webhook headers: %w", err)
	}

	var out *models.WebhookSubscription
	err = s.withTenant(ctx, id, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`INSERT INTO webhook_subscriptions (id, owner_id, agent_id, url, secret, headers, retry_max)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (owner_id, agent_id, url)
			 DO UPDATE SET secret = EXCLUDED.secret, headers = EXCLUDED.headers,
			               retry_max = EXCLUDED.retry_max, active = true
			 RETURNING `+webhookColumns,
			uuid.New().String(), id.OwnerID, agentID, req.URL,
			nullText(req.Secret), headersJSON, retryMax)
		wh, err := scanWebhook(row)
		if err != nil {
			return fmt.Errorf("failed to upsert webhook: %w", err)
		}
		out = wh
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListWebhooks returns an agent's registered endpoints.
func (s *Store) ListWebhooks(ctx context.Context, id models.Identity, agentID string) ([]*models.WebhookSubscription, error) {
	var out []*models.WebhookSubscription
	err := s.withTenant(ctx, id, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT `+webhookColumns+` FROM webhook_subscriptions
			 WHERE agent_id = $1 ORDER BY created_at`, agentID)
		if err != nil {
			return fmt.Errorf("failed to list webhooks: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			wh, err := scanWebhook(rows)
			if err != nil {
				return fmt.Errorf("failed to scan webhook: %w", err)
			}
			out = append(out, wh)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteWebhook removes a registered endpoint.
func (s *Store) DeleteWebhook(ctx context.Context, id models.Identity, webhookID string) error {
	return s.withTenant(ctx, id, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM webhook_subscriptions WHERE id = $1`, webhookID)
		if err != nil {
			return fmt.Errorf("failed to delete webhook: %w", err)
		}
		affected, _ := res.RowsAffected()
		if affected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ActiveWebhooksFor returns the active endpoints for one agent. The
// dispatcher calls this on the bypass path during fan-out.
func (s *Store) ActiveWebhooksFor(ctx context.Context, ownerID, agentID string) ([]*models.WebhookSubscription, error) {
	var out []*models.WebhookSubscription
	err := s.withBypass(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT `+webhookColumns+` FROM webhook_subscriptions
			 WHERE owner_id = $1 AND agent_id = $2 AND active`, ownerID, agentID)
		if err != nil {
			return fmt.Errorf("failed to query webhooks: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			wh, err := scanWebhook(rows)
			if err != nil {
				return fmt.Errorf("failed to scan webhook: %w", err)
			}
			out = append(out, wh)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// InsertDLQ parks an exhausted delivery for operator replay. Called by
// the dispatcher, hence bypass.
func (s *Store) InsertDLQ(ctx context.Context, entry *models.DLQEntry) error {
	envelopeJSON, err := json.Marshal(entry.Envelope)
	if err != nil {
		return fmt.Errorf("failed to encode DLQ envelope: %w", err)
	}
	return s.withBypass(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO webhook_dlq (id, owner_id, agent_id, target_url, envelope, attempts, last_status, last_error)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			uuid.New().String(), entry.OwnerID, entry.AgentID, entry.TargetURL,
			envelopeJSON, entry.Attempts, nullInt(entry.LastStatus), nullText(entry.LastError))
		if err != nil {
			return fmt.Errorf("failed to insert DLQ entry: %w", err)
		}
		return nil
	})
}

func nullInt(n int) sql.NullInt64 {
	if n == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(n), Valid: true}
}

func scanDLQ(row rowScanner) (*models.DLQEntry, error) {
	var (
		entry        models.DLQEntry
		envelopeJSON []byte
		lastStatus   sql.NullInt64
		lastError    sql.NullString
	)
	err := row.Scan(&entry.ID, &entry.OwnerID, &entry.AgentID, &entry.TargetURL,
		&envelopeJSON, &entry.Attempts, &lastStatus, &lastError, &entry.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(envelopeJSON, &entry.Envelope); err != nil {
		return nil, fmt.Errorf("failed to decode DLQ envelope: %w", err)
	}
	entry.LastStatus = int(lastStatus.Int64)
	entry.LastError = lastError.String
	return &entry, nil
}

const dlqColumns = `id, owner_id, agent_id, target_url, envelope, attempts, last_status, last_error, created_at`

// ListDLQ returns the caller's dead-lettered deliveries, newest first.
func (s *Store) ListDLQ(ctx context.Context, id models.Identity, limit int) ([]*models.DLQEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []*models.DLQEntry
	err := s.withTenant(ctx, id, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT `+dlqColumns+` FROM webhook_dlq ORDER BY created_at DESC LIMIT $1`, limit)
		if err != nil {
			return fmt.Errorf("failed to list DLQ: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			entry, err := scanDLQ(rows)
			if err != nil {
				return fmt.Errorf("failed to scan DLQ entry: %w", err)
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

// GetDLQ loads one dead-letter entry.
func (s *Store) GetDLQ(ctx context.Context, id models.Identity, entryID string) (*models.DLQEntry, error) {
	var out *models.DLQEntry
	err := s.withTenant(ctx, id, func(tx *sql.Tx) error {
		entry, err := scanDLQ(tx.QueryRowContext(ctx,
			`SELECT `+dlqColumns+` FROM webhook_dlq WHERE id = $1`, entryID))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load DLQ entry: %w", err)
		}
		out = entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteDLQ discards a dead-letter entry (after replay or by operator
// decision).
func (s *Store) DeleteDLQ(ctx context.Context, id models.Identity, entryID string) error {
	return s.withTenant(ctx, id, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM webhook_dlq WHERE id = $1`, entryID)
		if err != nil {
			return fmt.Errorf("failed to delete DLQ entry: %w", err)
		}
		affected, _ := res.RowsAffected()
		if affected == 0 {
			return ErrNotFound
		}
		return nil
	})
}
