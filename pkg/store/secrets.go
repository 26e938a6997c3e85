package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/rcrt-io/rcrt/pkg/models"
)

// SecretRow is the ciphertext view of a stored secret. The secrets
// service owns the crypto; the store only moves opaque blobs.
type SecretRow struct {
	Secret     models.Secret
	EncBlob    []byte
	DEKWrapped []byte
	KEKID      string
}

const secretColumns = `id, owner_id, name, scope, scope_id, enc_blob, dek_wrapped, kek_id, created_at, updated_at`

func scanSecretRow(row rowScanner) (*SecretRow, error) {
	var (
		sr      SecretRow
		scopeID sql.NullString
	)
	err := row.Scan(&sr.Secret.ID, &sr.Secret.OwnerID, &sr.Secret.Name, &sr.Secret.Scope,
		&scopeID, &sr.EncBlob, &sr.DEKWrapped, &sr.KEKID,
		&sr.Secret.CreatedAt, &sr.Secret.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sr.Secret.ScopeID = scopeID.String
	return &sr, nil
}

// CreateSecret stores an encrypted secret and writes the create audit
// row in the same transaction. Name collisions within the tenant fail
// with ErrAlreadyExists.
func (s *Store) CreateSecret(ctx context.Context, id models.Identity, name, scope, scopeID string, encBlob, dekWrapped []byte, kekID string) (*SecretRow, error) {
	if name == "" {
		return nil, NewValidationError("name", "must not be empty")
	}
	if scope == "" {
		scope = models.SecretScopeOwner
	}
	if !models.ValidSecretScope(scope) {
		return nil, NewValidationError("scope", fmt.Sprintf("unknown scope %q", scope))
	}

	var out *SecretRow
	err := s.withTenant(ctx, id, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`INSERT INTO secrets (id, owner_id, name, scope, scope_id, enc_blob, dek_wrapped, kek_id)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 RETURNING `+secretColumns,
			uuid.New().String(), id.OwnerID, name, scope, nullText(scopeID),
			encBlob, dekWrapped, kekID)
		sr, err := scanSecretRow(row)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: secret %q", ErrAlreadyExists, name)
			}
			return fmt.Errorf("failed to insert secret: %w", err)
		}
		if err := auditSecretTx(ctx, tx, sr.Secret.ID, id, models.SecretActionCreate); err != nil {
			return err
		}
		out = sr
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetSecretRow loads the ciphertext by name and records the decrypt
// audit row. Scope enforcement happens in the secrets service after
// decode.
func (s *Store) GetSecretRow(ctx context.Context, id models.Identity, name string) (*SecretRow, error) {
	var out *SecretRow
	err := s.withTenant(ctx, id, func(tx *sql.Tx) error {
		sr, err := scanSecretRow(tx.QueryRowContext(ctx,
			`SELECT `+secretColumns+` FROM secrets WHERE name = $1`, name))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load secret: %w", err)
		}
		if err := auditSecretTx(ctx, tx, sr.Secret.ID, id, models.SecretActionDecrypt); err != nil {
			return err
		}
		out = sr
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateSecret replaces the ciphertext of an existing secret.
func (s *Store) UpdateSecret(ctx context.Context, id models.Identity, name string, encBlob, dekWrapped []byte, kekID string) (*SecretRow, error) {
	var out *SecretRow
	err := s.withTenant(ctx, id, func(tx *sql.Tx) error {
		sr, err := scanSecretRow(tx.QueryRowContext(ctx,
			`UPDATE secrets
			 SET enc_blob = $2, dek_wrapped = $3, kek_id = $4, updated_at = now()
			 WHERE name = $1
			 RETURNING `+secretColumns,
			name, encBlob, dekWrapped, kekID))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to update secret: %w", err)
		}
		if err := auditSecretTx(ctx, tx, sr.Secret.ID, id, models.SecretActionUpdate); err != nil {
			return err
		}
		out = sr
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteSecret removes a secret and logs the deletion.
func (s *Store) DeleteSecret(ctx context.Context, id models.Identity, name string) error {
	return s.withTenant(ctx, id, func(tx *sql.Tx) error {
		var secretID string
		err := tx.QueryRowContext(ctx,
			`DELETE FROM secrets WHERE name = $1 RETURNING id`, name).Scan(&secretID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to delete secret: %w", err)
		}
		return auditSecretTx(ctx, tx, secretID, id, models.SecretActionDelete)
	})
}

// ListSecrets returns secret metadata for the tenant; ciphertext stays
// out of list responses.
func (s *Store) ListSecrets(ctx context.Context, id models.Identity) ([]models.Secret, error) {
	var out []models.Secret
	err := s.withTenant(ctx, id, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id, owner_id, name, scope, scope_id, created_at, updated_at
			 FROM secrets ORDER BY name`)
		if err != nil {
			return fmt.Errorf("failed to list secrets: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var (
				sec     models.Secret
				scopeID sql.NullString
			)
			if err := rows.Scan(&sec.ID, &sec.OwnerID, &sec.Name, &sec.Scope, &scopeID,
				&sec.CreatedAt, &sec.UpdatedAt); err != nil {
				return fmt.Errorf("failed to scan secret: %w", err)
			}
			sec.ScopeID = scopeID.String
			out = append(out, sec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListSecretAudit returns the access log for one secret, newest first.
func (s *Store) ListSecretAudit(ctx context.Context, id models.Identity, secretID string, limit int) ([]models.SecretAuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []models.SecretAuditEntry
	err := s.withTenant(ctx, id, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id, secret_id, owner_id, agent_id, action, at
			 FROM secret_audit WHERE secret_id = $1 ORDER BY at DESC LIMIT $2`,
			secretID, limit)
		if err != nil {
			return fmt.Errorf("failed to list secret audit: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var (
				entry   models.SecretAuditEntry
				agentID sql.NullString
			)
			if err := rows.Scan(&entry.ID, &entry.SecretID, &entry.OwnerID, &agentID,
				&entry.Action, &entry.At); err != nil {
				return fmt.Errorf("failed to scan audit entry: %w", err)
			}
			entry.AgentID = agentID.String
			out = append(out, entry)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func auditSecretTx(ctx context.Context, tx *sql.Tx, secretID string, id models.Identity, action string) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO secret_audit (secret_id, owner_id, agent_id, action)
		 VALUES ($1, $2, $3, $4)`,
		secretID, id.OwnerID, nullText(id.AgentID), action); err != nil {
		return fmt.Errorf("failed to write secret audit: %w", err)
	}
	return nil
}
