package models

import (
	"fmt"
	"regexp"
	"strings"
)

// Tenant maps an email domain (or explicit key) to a storage schema.
type Tenant struct {
	SchemaName string `json:"schema_name" yaml:"schema" db:"schema_name"`
	Domain     string `json:"domain" yaml:"domain" db:"domain"`
}

const (
	// SingleTenantUsersResource is the users table of single-tenant deployments.
	SingleTenantUsersResource = "usuarios"

	usersResourceSuffix = "_usuarios"

	emailConstraintSuffix = "_email_key"

	// maxIdentifierLength is PostgreSQL's NAMEDATALEN-1; longer names are truncated
	maxIdentifierLength = 63
)

var schemaIdentifierRegex = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// Namespace addresses one tenant's user storage. Build it once per request with
// NewNamespace or SingleTenantNamespace and pass it down; never rebuild resource
// names at call sites.
type Namespace struct {
	schema        string
	usersResource string
}

// NewNamespace validates the tenant schema identifier and derives its resource names.
func NewNamespace(t *Tenant) (Namespace, error) {
	if t == nil {
		return Namespace{}, fmt.Errorf("nil tenant")
	}
	schema := strings.ToLower(strings.TrimSpace(t.SchemaName))
	if !schemaIdentifierRegex.MatchString(schema) {
		return Namespace{}, fmt.Errorf("invalid schema identifier %q", t.SchemaName)
	}
	return Namespace{
		schema:        schema,
		usersResource: schema + usersResourceSuffix,
	}, nil
}

// SingleTenantNamespace addresses the shared users table.
func SingleTenantNamespace() Namespace {
	return Namespace{usersResource: SingleTenantUsersResource}
}

// Schema returns the tenant schema, or "" for the single-tenant namespace.
func (n Namespace) Schema() string {
	return n.schema
}

// UsersResource returns the users table (or REST resource) name.
func (n Namespace) UsersResource() string {
	return n.usersResource
}

// EmailConstraint returns the name of the UNIQUE(email) constraint of the
// users table. A violation of this constraint, and only this one, means the
// user already exists.
func (n Namespace) EmailConstraint() string {
	name := n.usersResource + emailConstraintSuffix
	if len(name) > maxIdentifierLength {
		name = name[:maxIdentifierLength]
	}
	return name
}

// IsZero reports whether the namespace was never initialized.
func (n Namespace) IsZero() bool {
	return n.usersResource == ""
}

func (n Namespace) String() string {
	if n.schema == "" {
		return n.usersResource
	}
	return n.schema
}
