package models

import "time"

// Roles recognized by the authorization layer. Emitters may write
// records, subscribers may register selectors and stream events, and
// curators additionally see past the visibility clause within their
// tenant and unlock the full view, ACL administration and maintenance
// surfaces.
const (
	RoleEmitter    = "emitter"
	RoleSubscriber = "subscriber"
	RoleCurator    = "curator"
)

// AgentRegistration is a registered principal within a tenant, keyed
// by (owner_id, agent_id). The agent's definition breadcrumb
// (agent.def.v1) carries behavior; this row carries identity, roles
// and the webhook signing key.
type AgentRegistration struct {
	OwnerID    string    `json:"owner_id"`
	AgentID    string    `json:"agent_id"`
	Roles      []string  `json:"roles"`
	HMACSecret string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// HasRole reports whether the registration carries the given role.
func (a *AgentRegistration) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// RegisterAgentRequest is the POST /agents payload. AgentID is
// optional; the server mints one when absent.
type RegisterAgentRequest struct {
	AgentID string   `json:"agent_id,omitempty"`
	Roles   []string `json:"roles,omitempty"`
}

// Tenant is one isolation boundary. Every breadcrumb, selector,
// webhook, secret and agent row is keyed by the tenant's owner ID.
type Tenant struct {
	OwnerID   string         `json:"owner_id"`
	Name      string         `json:"name"`
	Settings  map[string]any `json:"settings,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// CreateTenantRequest is the POST /tenants payload. OwnerID comes from
// the path when the caller picks the id; empty means generate one.
type CreateTenantRequest struct {
	OwnerID  string         `json:"-"`
	Name     string         `json:"name" binding:"required"`
	Settings map[string]any `json:"settings,omitempty"`
}
