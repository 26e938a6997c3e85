package models

import "time"

// ACL actions grantable on a breadcrumb. ActionReadContext exposes the
// transformed context view only; ActionReadFull exposes the raw record.
const (
	ActionReadContext = "read_context"
	ActionReadFull    = "read_full"
	ActionUpdate      = "update"
	ActionDelete      = "delete"
	ActionSubscribe   = "subscribe"
)

// ValidACLAction reports whether s names a grantable action.
func ValidACLAction(s string) bool {
	switch s {
	case ActionReadContext, ActionReadFull, ActionUpdate, ActionDelete, ActionSubscribe:
		return true
	default:
		return false
	}
}

// ACLGrant allows a grantee an action set on one breadcrumb beyond
// what its visibility would otherwise permit. GranteeOwnerID extends a
// grant across the tenant boundary; GranteeAgentID pins it to one
// agent.
type ACLGrant struct {
	ID             string    `json:"id"`
	BreadcrumbID   string    `json:"breadcrumb_id"`
	OwnerID        string    `json:"owner_id"`
	GranteeOwnerID string    `json:"grantee_owner_id,omitempty"`
	GranteeAgentID string    `json:"grantee_agent_id,omitempty"`
	Actions        []string  `json:"actions"`
	CreatedAt      time.Time `json:"created_at"`
}

// Allows reports whether the grant covers the given action.
func (g *ACLGrant) Allows(action string) bool {
	for _, a := range g.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// CreateGrantRequest is the POST /breadcrumbs/:id/acl payload. At
// least one grantee must be set.
type CreateGrantRequest struct {
	GranteeOwnerID string   `json:"grantee_owner_id,omitempty"`
	GranteeAgentID string   `json:"grantee_agent_id,omitempty"`
	Actions        []string `json:"actions" binding:"required"`
}
