package models

// Identity is the request-scoped principal every storage operation
// runs under. OwnerID scopes tenancy, AgentID attributes writes and
// unlocks private rows, Roles gate the API surface.
type Identity struct {
	OwnerID string
	AgentID string
	Roles   []string
}

// HasRole reports whether the identity carries the given role.
func (id Identity) HasRole(role string) bool {
	for _, r := range id.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsCurator reports whether the identity may bypass the visibility
// clause and reach curator-only surfaces.
func (id Identity) IsCurator() bool {
	return id.HasRole(RoleCurator)
}
