package tenant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/upb/arca-auth/config"
	"github.com/upb/arca-auth/models"
	"github.com/upb/arca-auth/repositories"
	"github.com/upb/arca-auth/services"
	"go.uber.org/zap"
)

// Resolver maps callers to the namespace holding their user record.
// It only reads the tenant registry and never touches user tables.
type Resolver struct {
	mode     string
	registry repositories.TenantRepository
	logger   *zap.Logger
}

// NewResolver creates a resolver for one of the config.TenantMode* strategies
func NewResolver(mode string, registry repositories.TenantRepository, logger *zap.Logger) (*Resolver, error) {
	switch mode {
	case config.TenantModeSingle:
	case config.TenantModeDomain, config.TenantModeExplicit:
		if registry == nil {
			return nil, fmt.Errorf("tenant mode %q requires a registry", mode)
		}
	default:
		return nil, fmt.Errorf("unknown tenant mode %q", mode)
	}
	return &Resolver{
		mode:     mode,
		registry: registry,
		logger:   logger,
	}, nil
}

// Mode returns the configured strategy
func (r *Resolver) Mode() string {
	return r.mode
}

// RequiresExplicitKey reports whether sync callers must name their tenant
func (r *Resolver) RequiresExplicitKey() bool {
	return r.mode == config.TenantModeExplicit
}

// ResolveForSync picks the namespace for provisioning. In explicit mode the
// caller supplied key is used; otherwise the email domain.
func (r *Resolver) ResolveForSync(ctx context.Context, email, key string) (models.Namespace, error) {
	switch r.mode {
	case config.TenantModeSingle:
		return models.SingleTenantNamespace(), nil
	case config.TenantModeExplicit:
		return r.ResolveByKey(ctx, key)
	default:
		return r.ResolveByEmail(ctx, email)
	}
}

// ResolveForProfile picks the namespace for profile reads, always from the email domain
func (r *Resolver) ResolveForProfile(ctx context.Context, email string) (models.Namespace, error) {
	if r.mode == config.TenantModeSingle {
		return models.SingleTenantNamespace(), nil
	}
	return r.ResolveByEmail(ctx, email)
}

// ResolveByEmail resolves the tenant registered for the email's domain
func (r *Resolver) ResolveByEmail(ctx context.Context, email string) (models.Namespace, error) {
	domain := EmailDomain(email)
	if domain == "" {
		return models.Namespace{}, services.ErrTenantNotFound.WithDetail("email", email)
	}
	return r.lookup(ctx, domain)
}

// ResolveByKey resolves an explicit tenant key
func (r *Resolver) ResolveByKey(ctx context.Context, key string) (models.Namespace, error) {
	key = normalizeKey(key)
	if key == "" {
		return models.Namespace{}, services.ErrMissingTenant
	}
	return r.lookup(ctx, key)
}

func (r *Resolver) lookup(ctx context.Context, key string) (models.Namespace, error) {
	if r.registry == nil {
		return models.Namespace{}, services.ErrTenantNotFound.WithDetail("tenant", key)
	}

	t, err := r.registry.GetByDomain(ctx, key)
	if err != nil {
		switch {
		case errors.Is(err, repositories.ErrNotFound):
			return models.Namespace{}, services.ErrTenantNotFound.WithDetail("tenant", key)
		case errors.Is(err, repositories.ErrUnavailable):
			return models.Namespace{}, services.ErrUnavailable.Wrap(err)
		default:
			r.logger.Error("tenant lookup failed", zap.String("tenant", key), zap.Error(err))
			return models.Namespace{}, services.ErrTenantNotFound.Wrap(err).WithDetail("tenant", key)
		}
	}

	ns, err := models.NewNamespace(t)
	if err != nil {
		r.logger.Error("tenant has an invalid schema",
			zap.String("tenant", key), zap.String("schema", t.SchemaName), zap.Error(err))
		return models.Namespace{}, services.ErrTenantNotFound.Wrap(err).WithDetail("tenant", key)
	}
	return ns, nil
}

// EmailDomain returns the lower-cased text after the last '@', or "" when absent
func EmailDomain(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}
