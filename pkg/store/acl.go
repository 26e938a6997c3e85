package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/rcrt-io/rcrt/pkg/models"
)

// CreateGrant attaches an ACL grant to a breadcrumb. The record must
// be visible to the caller; granting on the same grantee replaces the
// action set.
func (s *Store) CreateGrant(ctx context.Context, id models.Identity, recordID string, req models.CreateGrantRequest) (*models.ACLGrant, error) {
	if req.GranteeOwnerID == "" && req.GranteeAgentID == "" {
		return nil, NewValidationError("grantee", "grantee_owner_id or grantee_agent_id required")
	}
	if len(req.Actions) == 0 {
		return nil, NewValidationError("actions", "must not be empty")
	}
	for _, a := range req.Actions {
		if !models.ValidACLAction(a) {
			return nil, NewValidationError("actions", fmt.Sprintf("unknown action %q", a))
		}
	}

	var out *models.ACLGrant
	err := s.withTenant(ctx, id, func(tx *sql.Tx) error {
		bc, err := getBreadcrumbTx(ctx, tx, recordID)
		if err != nil {
			return err
		}
		grant, err := scanGrant(tx.QueryRowContext(ctx,
			`INSERT INTO acl_grants (id, breadcrumb_id, owner_id, grantee_owner_id, grantee_agent_id, actions)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (breadcrumb_id,
			              COALESCE(grantee_owner_id, '00000000-0000-0000-0000-000000000000'::uuid),
			              COALESCE(grantee_agent_id, '00000000-0000-0000-0000-000000000000'::uuid))
			 DO UPDATE SET actions = EXCLUDED.actions
			 RETURNING id, breadcrumb_id, owner_id, grantee_owner_id, grantee_agent_id, actions, created_at`,
			uuid.New().String(), bc.ID, bc.OwnerID,
			nullText(req.GranteeOwnerID), nullText(req.GranteeAgentID), pq.Array(req.Actions)))
		if err != nil {
			return fmt.Errorf("failed to insert grant: %w", err)
		}
		out = grant
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func scanGrant(row rowScanner) (*models.ACLGrant, error) {
	var (
		grant        models.ACLGrant
		granteeOwner sql.NullString
		granteeAgent sql.NullString
	)
	err := row.Scan(&grant.ID, &grant.BreadcrumbID, &grant.OwnerID,
		&granteeOwner, &granteeAgent, pq.Array(&grant.Actions), &grant.CreatedAt)
	if err != nil {
		return nil, err
	}
	grant.GranteeOwnerID = granteeOwner.String
	grant.GranteeAgentID = granteeAgent.String
	return &grant, nil
}

// ListGrants returns the grants on one breadcrumb.
func (s *Store) ListGrants(ctx context.Context, id models.Identity, recordID string) ([]*models.ACLGrant, error) {
	var out []*models.ACLGrant
	err := s.withTenant(ctx, id, func(tx *sql.Tx) error {
		if _, err := getBreadcrumbTx(ctx, tx, recordID); err != nil {
			return err
		}
		rows, err := tx.QueryContext(ctx,
			`SELECT id, breadcrumb_id, owner_id, grantee_owner_id, grantee_agent_id, actions, created_at
			 FROM acl_grants WHERE breadcrumb_id = $1 ORDER BY created_at`, recordID)
		if err != nil {
			return fmt.Errorf("failed to list grants: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			grant, err := scanGrant(rows)
			if err != nil {
				return fmt.Errorf("failed to scan grant: %w", err)
			}
			out = append(out, grant)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RevokeGrant removes one grant from a breadcrumb.
func (s *Store) RevokeGrant(ctx context.Context, id models.Identity, recordID, grantID string) error {
	return s.withTenant(ctx, id, func(tx *sql.Tx) error {
		if _, err := getBreadcrumbTx(ctx, tx, recordID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`DELETE FROM acl_grants WHERE id = $1 AND breadcrumb_id = $2`, grantID, recordID)
		if err != nil {
			return fmt.Errorf("failed to revoke grant: %w", err)
		}
		affected, _ := res.RowsAffected()
		if affected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// HasAction reports whether the caller holds an explicit grant for the
// action on the record. The visibility policy is checked separately;
// this answers only the ACL question.
func (s *Store) HasAction(ctx context.Context, id models.Identity, recordID, action string) (bool, error) {
	var allowed bool
	err := s.withBypass(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx,
			`SELECT EXISTS (
			     SELECT 1 FROM acl_grants
			     WHERE breadcrumb_id = $1
			       AND $2 = ANY (actions)
			       AND (grantee_agent_id::text = $3 OR grantee_owner_id::text = $4)
			 )`, recordID, action, id.AgentID, id.OwnerID).Scan(&allowed)
	})
	if err != nil {
		return false, fmt.Errorf("failed to check grant: %w", err)
	}
	return allowed, nil
}
