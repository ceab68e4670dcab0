package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/upb/arca-auth/models"
	"github.com/upb/arca-auth/repositories"
	"go.uber.org/zap"
)

// TenantRepository implements the repositories.TenantRepository interface
type TenantRepository struct {
	db      *DB
	timeout time.Duration
	logger  *zap.Logger
}

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(db *DB, timeout time.Duration, logger *zap.Logger) repositories.TenantRepository {
	return &TenantRepository{
		db:      db,
		timeout: timeout,
		logger:  logger,
	}
}

// GetByDomain retrieves a tenant by domain
func (r *TenantRepository) GetByDomain(ctx context.Context, domain string) (*models.Tenant, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	query := `
		SELECT domain, schema_name
		FROM tenants
		WHERE domain = $1
	`

	tenant := &models.Tenant{}
	err := r.db.QueryRowContext(ctx, query, strings.ToLower(domain)).Scan(
		&tenant.Domain,
		&tenant.SchemaName,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant %q: %w", domain, translateError(err))
	}

	return tenant, nil
}
