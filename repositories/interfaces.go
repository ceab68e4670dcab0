package repositories

import (
	"context"
	"errors"

	"github.com/upb/arca-auth/models"
)

var (
	// ErrDuplicate is returned when an insert violates the (namespace, email)
	// uniqueness constraint. Callers treat it as "already exists".
	ErrDuplicate = errors.New("record already exists")

	// ErrNotFound is returned when a lookup matches no row
	ErrNotFound = errors.New("record not found")

	// ErrUnavailable is returned when the store cannot be reached or times out
	ErrUnavailable = errors.New("store unavailable")
)

// UserRepository handles user record operations within a tenant namespace
type UserRepository interface {
	// ExistsByEmail reports whether a record with the email exists, fetching no row data
	ExistsByEmail(ctx context.Context, ns models.Namespace, email string) (bool, error)

	// Create inserts a user record and returns the stored representation.
	// A uniqueness violation is reported as ErrDuplicate.
	Create(ctx context.Context, ns models.Namespace, user *models.UserRecord) (*models.UserRecord, error)

	// GetByEmail retrieves a user record by email, or ErrNotFound
	GetByEmail(ctx context.Context, ns models.Namespace, email string) (*models.UserRecord, error)
}

// TenantRepository handles read-only tenant registry lookups
type TenantRepository interface {
	// GetByDomain retrieves a tenant by its domain key, or ErrNotFound
	GetByDomain(ctx context.Context, domain string) (*models.Tenant, error)
}

// HealthChecker reports store reachability for readiness probes
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Users   UserRepository
	Tenants TenantRepository
	Health  HealthChecker
}
