package usersync

import (
	"fmt"
	"strings"

	"github.com/upb/arca-auth/config"
	"github.com/upb/arca-auth/models"
)

// RoleRule grants Role to emails ending with Suffix
type RoleRule struct {
	Suffix string
	Role   models.Role
}

// RolePolicy assigns the initial role of a provisioned user. Rules are
// evaluated in order; the first matching suffix wins.
type RolePolicy struct {
	roles models.RoleSet
	rules []RoleRule
}

// NewRolePolicy validates that every rule targets a known role
func NewRolePolicy(roles models.RoleSet, rules []RoleRule) (*RolePolicy, error) {
	p := &RolePolicy{roles: roles}
	for _, rule := range rules {
		suffix := strings.ToLower(strings.TrimSpace(rule.Suffix))
		if suffix == "" {
			return nil, fmt.Errorf("role rule with empty suffix")
		}
		if !roles.Contains(rule.Role) {
			return nil, fmt.Errorf("role rule %s targets unknown role %q", suffix, rule.Role)
		}
		p.rules = append(p.rules, RoleRule{Suffix: suffix, Role: rule.Role})
	}
	return p, nil
}

// RolePolicyFromConfig builds the policy described by ROLES, DEFAULT_ROLE and ROLE_RULES
func RolePolicyFromConfig(cfg config.RolesConfig) (*RolePolicy, error) {
	roles := make([]models.Role, 0, len(cfg.Roles))
	for _, r := range cfg.Roles {
		roles = append(roles, models.Role(r))
	}
	rules := make([]RoleRule, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		rules = append(rules, RoleRule{Suffix: r.Suffix, Role: models.Role(r.Role)})
	}
	return NewRolePolicy(models.NewRoleSet(roles, models.Role(cfg.Default)), rules)
}

// RoleFor returns the initial role for an email
func (p *RolePolicy) RoleFor(email string) models.Role {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, rule := range p.rules {
		if strings.HasSuffix(email, rule.Suffix) {
			return rule.Role
		}
	}
	return p.roles.Default()
}

// DefaultRole returns the baseline role
func (p *RolePolicy) DefaultRole() models.Role {
	return p.roles.Default()
}

// Roles returns the role vocabulary
func (p *RolePolicy) Roles() models.RoleSet {
	return p.roles
}
