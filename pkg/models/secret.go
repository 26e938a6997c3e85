package models

import "time"

// Secret scopes. Agent-scoped secrets decrypt only for the named
// agent; owner-scoped for any agent in the tenant; global for any
// principal holding the admin role.
const (
	SecretScopeAgent  = "agent"
	SecretScopeOwner  = "owner"
	SecretScopeGlobal = "global"
)

// ValidSecretScope reports whether s names a known scope.
func ValidSecretScope(s string) bool {
	switch s {
	case SecretScopeAgent, SecretScopeOwner, SecretScopeGlobal:
		return true
	default:
		return false
	}
}

// Secret is the decrypted view of a stored secret. Value is populated
// only on read paths that passed the scope check; list paths return
// metadata with Value empty.
type Secret struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	Value     string    `json:"value,omitempty"`
	Scope     string    `json:"scope"`
	ScopeID   string    `json:"scope_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateSecretRequest is the POST /secrets payload. Value is write
// only and never echoed back.
type CreateSecretRequest struct {
	Name    string `json:"name" binding:"required"`
	Value   string `json:"value" binding:"required"`
	Scope   string `json:"scope,omitempty"`
	ScopeID string `json:"scope_id,omitempty"`
}

// SecretAuditEntry is one row of the secret access log.
type SecretAuditEntry struct {
	ID       int64     `json:"id"`
	SecretID string    `json:"secret_id"`
	OwnerID  string    `json:"owner_id"`
	AgentID  string    `json:"agent_id,omitempty"`
	Action   string    `json:"action"`
	At       time.Time `json:"at"`
}

// Secret audit actions.
const (
	SecretActionCreate  = "create"
	SecretActionDecrypt = "decrypt"
	SecretActionUpdate  = "update"
	SecretActionDelete  = "delete"
)
