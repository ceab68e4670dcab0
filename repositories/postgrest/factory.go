package postgrest

import (
	"context"

	"github.com/upb/arca-auth/config"
	"github.com/upb/arca-auth/repositories"
	"go.uber.org/zap"
)

// RepositoryFactory builds REST-backed repositories. Writes use the
// service-role key, tenant lookups the anon key.
//
// The REST API cannot create tables, so every users table must already carry
// the UNIQUE(email) constraint named by models.Namespace.EmailConstraint.
// Apply migrations/0001_users_email_unique.sql before serving, and again
// after registering a tenant.
type RepositoryFactory struct {
	service *Client
	anon    *Client
	logger  *zap.Logger
}

// MigrationFile holds the DDL the REST backend expects to have been applied
const MigrationFile = "migrations/0001_users_email_unique.sql"

// NewRepositoryFactory creates a new repository factory
func NewRepositoryFactory(cfg *config.Config, logger *zap.Logger) *RepositoryFactory {
	base := cfg.Supabase.RESTURL()
	return &RepositoryFactory{
		service: NewClient(base, cfg.Supabase.ServiceRoleKey, cfg.Store.Timeout, logger),
		anon:    NewClient(base, cfg.Supabase.AnonKey, cfg.Store.Timeout, logger),
		logger:  logger,
	}
}

// NewRepositories creates all repository instances
func (f *RepositoryFactory) NewRepositories() *repositories.Repositories {
	return &repositories.Repositories{
		Users:   NewUserRepository(f.service, f.logger),
		Tenants: NewTenantRepository(f.anon, f.logger),
		Health:  f,
	}
}

// HealthCheck reports whether the REST endpoint is reachable
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	return f.anon.HealthCheck(ctx)
}
