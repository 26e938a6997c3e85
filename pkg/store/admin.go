package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/rcrt-io/rcrt/pkg/models"
)

// Tenant and agent administration. The tenants table carries no RLS
// (it is the thing RLS is keyed on), so these run on the bypass path
// and the API layer restricts who may call them.

// CreateTenant provisions an isolation boundary.
func (s *Store) CreateTenant(ctx context.Context, req models.CreateTenantRequest) (*models.Tenant, error) {
	if req.Name == "" {
		return nil, NewValidationError("name", "must not be empty")
	}
	settings := req.Settings
	if settings == nil {
		settings = map[string]any{}
	}
	settingsJSON, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to encode settings: %w", err)
	}

	ownerID := req.OwnerID
	if ownerID == "" {
		ownerID = uuid.New().String()
	}

	var out *models.Tenant
	err = s.withBypass(ctx, func(tx *sql.Tx) error {
		tenant, err := scanTenant(tx.QueryRowContext(ctx,
			`INSERT INTO tenants (owner_id, name, settings)
			 VALUES ($1, $2, $3)
			 RETURNING owner_id, name, settings, created_at`,
			ownerID, req.Name, settingsJSON))
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: tenant %q", ErrAlreadyExists, ownerID)
		}
		if err != nil {
			return fmt.Errorf("failed to insert tenant: %w", err)
		}
		out = tenant
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func scanTenant(row rowScanner) (*models.Tenant, error) {
	var (
		tenant       models.Tenant
		settingsJSON []byte
	)
	if err := row.Scan(&tenant.OwnerID, &tenant.Name, &settingsJSON, &tenant.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(settingsJSON, &tenant.Settings); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	return &tenant, nil
}

// GetTenant loads one tenant.
func (s *Store) GetTenant(ctx context.Context, ownerID string) (*models.Tenant, error) {
	var out *models.Tenant
	err := s.withBypass(ctx, func(tx *sql.Tx) error {
		tenant, err := scanTenant(tx.QueryRowContext(ctx,
			`SELECT owner_id, name, settings, created_at FROM tenants WHERE owner_id = $1`, ownerID))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load tenant: %w", err)
		}
		out = tenant
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListTenants returns every tenant, oldest first.
func (s *Store) ListTenants(ctx context.Context) ([]*models.Tenant, error) {
	var out []*models.Tenant
	err := s.withBypass(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT owner_id, name, settings, created_at FROM tenants ORDER BY created_at`)
		if err != nil {
			return fmt.Errorf("failed to list tenants: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			tenant, err := scanTenant(rows)
			if err != nil {
				return fmt.Errorf("failed to scan tenant: %w", err)
			}
			out = append(out, tenant)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteTenant removes the tenant and, through the cascades, every row
// keyed by it.
func (s *Store) DeleteTenant(ctx context.Context, ownerID string) error {
	return s.withBypass(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM tenants WHERE owner_id = $1`, ownerID)
		if err != nil {
			return fmt.Errorf("failed to delete tenant: %w", err)
		}
		affected, _ := res.RowsAffected()
		if affected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// newHMACSecret mints a 256-bit webhook signing key.
func newHMACSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate HMAC secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// RegisterAgent upserts an agent registration within the caller's
// tenant. The HMAC signing secret is minted on first registration and
// kept on re-registration.
func (s *Store) RegisterAgent(ctx context.Context, id models.Identity, req models.RegisterAgentRequest) (*models.AgentRegistration, error) {
	agentID := req.AgentID
	if agentID == "" {
		agentID = uuid.New().String()
	}
	roles := req.Roles
	if len(roles) == 0 {
		roles = []string{models.RoleEmitter, models.RoleSubscriber}
	}
	for _, r := range roles {
		if r != models.RoleEmitter && r != models.RoleSubscriber && r != models.RoleCurator {
			return nil, NewValidationError("roles", fmt.Sprintf("unknown role %q", r))
		}
	}
	secret, err := newHMACSecret()
	if err != nil {
		return nil, err
	}

	var out *models.AgentRegistration
	err = s.withTenant(ctx, id, func(tx *sql.Tx) error {
		reg, err := scanAgent(tx.QueryRowContext(ctx,
			`INSERT INTO agents (owner_id, agent_id, roles, hmac_secret)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (owner_id, agent_id)
			 DO UPDATE SET roles = EXCLUDED.roles, updated_at = now()
			 RETURNING owner_id, agent_id, roles, hmac_secret, created_at, updated_at`,
			id.OwnerID, agentID, pq.Array(roles), secret))
		if err != nil {
			return fmt.Errorf("failed to upsert agent: %w", err)
		}
		out = reg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func scanAgent(row rowScanner) (*models.AgentRegistration, error) {
	var (
		reg    models.AgentRegistration
		secret sql.NullString
	)
	err := row.Scan(&reg.OwnerID, &reg.AgentID, pq.Array(&reg.Roles), &secret,
		&reg.CreatedAt, &reg.UpdatedAt)
	if err != nil {
		return nil, err
	}
	reg.HMACSecret = secret.String
	return &reg, nil
}

// GetAgent loads one registration within the caller's tenant.
func (s *Store) GetAgent(ctx context.Context, id models.Identity, agentID string) (*models.AgentRegistration, error) {
	var out *models.AgentRegistration
	err := s.withTenant(ctx, id, func(tx *sql.Tx) error {
		reg, err := scanAgent(tx.QueryRowContext(ctx,
			`SELECT owner_id, agent_id, roles, hmac_secret, created_at, updated_at
			 FROM agents WHERE agent_id = $1`, agentID))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load agent: %w", err)
		}
		out = reg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetAgentBypass loads one registration on the bypass path. The
// dispatcher uses it to pick up signing secrets during fan-out.
func (s *Store) GetAgentBypass(ctx context.Context, ownerID, agentID string) (*models.AgentRegistration, error) {
	var out *models.AgentRegistration
	err := s.withBypass(ctx, func(tx *sql.Tx) error {
		reg, err := scanAgent(tx.QueryRowContext(ctx,
			`SELECT owner_id, agent_id, roles, hmac_secret, created_at, updated_at
			 FROM agents WHERE owner_id = $1 AND agent_id = $2`, ownerID, agentID))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load agent: %w", err)
		}
		out = reg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListAgents returns the registrations in the caller's tenant.
func (s *Store) ListAgents(ctx context.Context, id models.Identity) ([]*models.AgentRegistration, error) {
	var out []*models.AgentRegistration
	err := s.withTenant(ctx, id, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT owner_id, agent_id, roles, hmac_secret, created_at, updated_at
			 FROM agents ORDER BY created_at`)
		if err != nil {
			return fmt.Errorf("failed to list agents: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			reg, err := scanAgent(rows)
			if err != nil {
				return fmt.Errorf("failed to scan agent: %w", err)
			}
			out = append(out, reg)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RotateAgentHMAC replaces the agent's webhook signing secret and
// returns the new registration. In-flight deliveries signed with the
// old secret will fail verification; callers rotate receivers first.
func (s *Store) RotateAgentHMAC(ctx context.Context, id models.Identity, agentID string) (*models.AgentRegistration, error) {
	secret, err := newHMACSecret()
	if err != nil {
		return nil, err
	}

	var out *models.AgentRegistration
	err = s.withTenant(ctx, id, func(tx *sql.Tx) error {
		reg, err := scanAgent(tx.QueryRowContext(ctx,
			`UPDATE agents SET hmac_secret = $2, updated_at = now()
			 WHERE agent_id = $1
			 RETURNING owner_id, agent_id, roles, hmac_secret, created_at, updated_at`,
			agentID, secret))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to rotate HMAC secret: %w", err)
		}
		out = reg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
