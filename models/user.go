package models

import (
	"time"
)

// UserRecord is a user provisioned inside a tenant namespace.
// JSON field names match the storage columns of the users tables.
type UserRecord struct {
	ID        string    `json:"id,omitempty" db:"id"`
	FirstName string    `json:"nombre" db:"nombre"`
	LastName  string    `json:"apellido" db:"apellido"`
	Email     string    `json:"email" db:"email"`
	Role      Role      `json:"rol" db:"rol"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// Tenant-specific columns, absent in most deployments.
	Position *string  `json:"cargo,omitempty" db:"cargo"`
	Salary   *float64 `json:"remuneracion,omitempty" db:"remuneracion"`
}

// NewUserRecord creates a record ready to be inserted. The ID is assigned by storage.
func NewUserRecord(email, firstName, lastName string, role Role) *UserRecord {
	return &UserRecord{
		FirstName: firstName,
		LastName:  lastName,
		Email:     email,
		Role:      role,
		CreatedAt: time.Now().UTC(),
	}
}

// Profile is the projection returned to clients by the profile endpoint.
type Profile struct {
	ID        string   `json:"id,omitempty"`
	FirstName string   `json:"nombre"`
	LastName  string   `json:"apellido"`
	Email     string   `json:"email"`
	Role      Role     `json:"rol"`
	Position  *string  `json:"cargo,omitempty"`
	Salary    *float64 `json:"remuneracion,omitempty"`
	CreatedAt string   `json:"created_at,omitempty"`
}

// ToProfile projects the record, filling empty names and role with the given fallbacks.
func (u *UserRecord) ToProfile(defaultRole Role) *Profile {
	p := &Profile{
		ID:        u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Email:     u.Email,
		Role:      u.Role,
		Position:  u.Position,
		Salary:    u.Salary,
	}
	if p.FirstName == "" {
		p.FirstName = DefaultFirstName
	}
	if p.Role == "" {
		p.Role = defaultRole
	}
	if !u.CreatedAt.IsZero() {
		p.CreatedAt = u.CreatedAt.UTC().Format(time.RFC3339)
	}
	return p
}
