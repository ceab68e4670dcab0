package tenant

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/upb/arca-auth/models"
	"github.com/upb/arca-auth/repositories"
	"gopkg.in/yaml.v3"
)

// StaticRegistry is an in-memory domain → tenant table
type StaticRegistry struct {
	tenants map[string]models.Tenant
}

// registryFile is the YAML layout of TENANT_REGISTRY_FILE
type registryFile struct {
	Tenants []models.Tenant `yaml:"tenants"`
}

// NewStaticRegistry builds a registry from a domain → schema map
func NewStaticRegistry(domains map[string]string) *StaticRegistry {
	r := &StaticRegistry{tenants: make(map[string]models.Tenant, len(domains))}
	for domain, schema := range domains {
		r.add(models.Tenant{Domain: domain, SchemaName: schema})
	}
	return r
}

// LoadStaticRegistry reads a YAML registry file:
//
//	tenants:
//	  - domain: ucb.edu.bo
//	    schema: ucb
func LoadStaticRegistry(path string) (*StaticRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tenant registry: %w", err)
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse tenant registry %s: %w", path, err)
	}

	r := &StaticRegistry{tenants: make(map[string]models.Tenant, len(file.Tenants))}
	for i, t := range file.Tenants {
		if strings.TrimSpace(t.Domain) == "" || strings.TrimSpace(t.SchemaName) == "" {
			return nil, fmt.Errorf("tenant registry entry %d: domain and schema are required", i)
		}
		if _, err := models.NewNamespace(&t); err != nil {
			return nil, fmt.Errorf("tenant registry entry %d: %w", i, err)
		}
		r.add(t)
	}
	return r, nil
}

func (r *StaticRegistry) add(t models.Tenant) {
	t.Domain = normalizeKey(t.Domain)
	r.tenants[t.Domain] = t
}

// Len returns the number of registered tenants
func (r *StaticRegistry) Len() int {
	return len(r.tenants)
}

// GetByDomain implements repositories.TenantRepository
func (r *StaticRegistry) GetByDomain(_ context.Context, domain string) (*models.Tenant, error) {
	t, ok := r.tenants[normalizeKey(domain)]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &t, nil
}

// ChainRegistry consults registries in order; the first hit wins
type ChainRegistry []repositories.TenantRepository

// GetByDomain implements repositories.TenantRepository
func (c ChainRegistry) GetByDomain(ctx context.Context, domain string) (*models.Tenant, error) {
	for _, registry := range c {
		t, err := registry.GetByDomain(ctx, domain)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, repositories.ErrNotFound) {
			return nil, err
		}
	}
	return nil, repositories.ErrNotFound
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
