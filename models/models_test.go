package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNamespace(t *testing.T) {
	t.Run("derives users resource from schema", func(t *testing.T) {
		ns, err := NewNamespace(&Tenant{SchemaName: "ucb", Domain: "ucb.edu.bo"})
		require.NoError(t, err)
		assert.Equal(t, "ucb", ns.Schema())
		assert.Equal(t, "ucb_usuarios", ns.UsersResource())
		assert.False(t, ns.IsZero())
	})

	t.Run("normalizes case and whitespace", func(t *testing.T) {
		ns, err := NewNamespace(&Tenant{SchemaName: "  UPB "})
		require.NoError(t, err)
		assert.Equal(t, "upb_usuarios", ns.UsersResource())
	})

	invalid := []string{"", "1abc", "ucb;drop table x", "ucb-usuarios", "a/b", "ucb usuarios"}
	for _, schema := range invalid {
		t.Run("rejects "+schema, func(t *testing.T) {
			_, err := NewNamespace(&Tenant{SchemaName: schema})
			assert.Error(t, err)
		})
	}

	t.Run("rejects nil tenant", func(t *testing.T) {
		_, err := NewNamespace(nil)
		assert.Error(t, err)
	})
}

func TestSingleTenantNamespace(t *testing.T) {
	ns := SingleTenantNamespace()
	assert.Equal(t, "", ns.Schema())
	assert.Equal(t, "usuarios", ns.UsersResource())
	assert.Equal(t, "usuarios", ns.String())
	assert.True(t, Namespace{}.IsZero())
}

func TestNamespace_EmailConstraint(t *testing.T) {
	assert.Equal(t, "usuarios_email_key", SingleTenantNamespace().EmailConstraint())

	ns, err := NewNamespace(&Tenant{SchemaName: "ucb"})
	require.NoError(t, err)
	assert.Equal(t, "ucb_usuarios_email_key", ns.EmailConstraint())

	long, err := NewNamespace(&Tenant{SchemaName: strings.Repeat("a", 60)})
	require.NoError(t, err)
	assert.Len(t, long.EmailConstraint(), 63)
}

func TestRoleSet(t *testing.T) {
	rs := NewRoleSet([]Role{"Admin", " Empleado ", "Admin", ""}, "Empleado")

	assert.Equal(t, Role("Empleado"), rs.Default())
	assert.Equal(t, []Role{"Admin", "Empleado"}, rs.Roles())
	assert.True(t, rs.Contains("Admin"))
	assert.False(t, rs.Contains("Director"))

	withMissingDefault := NewRoleSet([]Role{"Director"}, "estudiante")
	assert.True(t, withMissingDefault.Contains("estudiante"))
}

func TestUserRecord_ToProfile(t *testing.T) {
	cargo := "Docente"
	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	rec := &UserRecord{
		ID:        "42",
		FirstName: "Ana",
		LastName:  "Ruiz",
		Email:     "ana@ucb.edu.bo",
		Role:      "Admin",
		CreatedAt: created,
		Position:  &cargo,
	}

	p := rec.ToProfile("Empleado")
	assert.Equal(t, "Ana", p.FirstName)
	assert.Equal(t, Role("Admin"), p.Role)
	assert.Equal(t, "2025-03-01T10:00:00Z", p.CreatedAt)

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"42","nombre":"Ana","apellido":"Ruiz","email":"ana@ucb.edu.bo","rol":"Admin","cargo":"Docente","created_at":"2025-03-01T10:00:00Z"}`, string(data))

	t.Run("fills empty name and role", func(t *testing.T) {
		p := (&UserRecord{Email: "x@y.z"}).ToProfile("estudiante")
		assert.Equal(t, DefaultFirstName, p.FirstName)
		assert.Equal(t, Role("estudiante"), p.Role)
		assert.Empty(t, p.CreatedAt)
	})
}
