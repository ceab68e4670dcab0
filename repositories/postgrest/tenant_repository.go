package postgrest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/upb/arca-auth/models"
	"github.com/upb/arca-auth/repositories"
	"go.uber.org/zap"
)

const tenantsResource = "tenants"

// TenantRepository implements repositories.TenantRepository over the REST store.
// Tenant lookups only need the anon key.
type TenantRepository struct {
	client *Client
	logger *zap.Logger
}

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(client *Client, logger *zap.Logger) repositories.TenantRepository {
	return &TenantRepository{
		client: client,
		logger: logger,
	}
}

// GetByDomain retrieves a tenant by domain
func (r *TenantRepository) GetByDomain(ctx context.Context, domain string) (*models.Tenant, error) {
	var rows []models.Tenant
	err := r.client.do(ctx, request{
		method:   http.MethodGet,
		resource: tenantsResource,
		query: url.Values{
			"domain": {eq(strings.ToLower(domain))},
			"select": {"schema_name,domain"},
			"limit":  {"1"},
		},
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant %q: %w", domain, err)
	}
	if len(rows) == 0 {
		return nil, repositories.ErrNotFound
	}
	return &rows[0], nil
}
