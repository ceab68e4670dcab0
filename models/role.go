package models

import "strings"

// Role is a deployment-defined user role (for example "Admin", "Empleado",
// "estudiante" or "Director").
type Role string

// DefaultFirstName is used when a display name carries no usable tokens.
const DefaultFirstName = "Usuario"

// RoleSet is the configured role vocabulary of a deployment.
type RoleSet struct {
	roles       []Role
	defaultRole Role
}

// NewRoleSet builds a vocabulary. The default role is added when missing.
func NewRoleSet(roles []Role, defaultRole Role) RoleSet {
	rs := RoleSet{defaultRole: defaultRole}
	seen := make(map[Role]bool)
	for _, r := range append(roles, defaultRole) {
		r = Role(strings.TrimSpace(string(r)))
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		rs.roles = append(rs.roles, r)
	}
	return rs
}

// Default returns the baseline role.
func (rs RoleSet) Default() Role {
	return rs.defaultRole
}

// Roles returns the configured roles.
func (rs RoleSet) Roles() []Role {
	out := make([]Role, len(rs.roles))
	copy(out, rs.roles)
	return out
}

// Contains reports whether r belongs to the vocabulary.
func (rs RoleSet) Contains(r Role) bool {
	for _, known := range rs.roles {
		if known == r {
			return true
		}
	}
	return false
}
