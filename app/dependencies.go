package app

import (
	"context"
	"fmt"

	"github.com/upb/arca-auth/config"
	"github.com/upb/arca-auth/handlers"
	"github.com/upb/arca-auth/middleware"
	"github.com/upb/arca-auth/repositories"
	"github.com/upb/arca-auth/repositories/postgres"
	"github.com/upb/arca-auth/repositories/postgrest"
	"github.com/upb/arca-auth/services/tenant"
	"github.com/upb/arca-auth/services/usersync"
	"github.com/upb/arca-auth/supabase"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	Logger *zap.Logger

	// Storage
	Repos      *repositories.Repositories
	closeStore func() error

	// Services
	Validator      *supabase.Validator
	TenantResolver *tenant.Resolver
	UserSync       *usersync.Service

	// HTTP
	AuthMiddleware  *middleware.AuthMiddleware
	SyncRateLimiter *middleware.RateLimiter
	AuthHandler     *handlers.AuthHandler
	HealthHandler   *handlers.HealthHandler

	cancel context.CancelFunc
}

// NewDependencies connects the configured store and wires every component on top of it
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	repos, closeStore, err := initStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	deps, err := NewDependenciesWithRepositories(cfg, logger, repos)
	if err != nil {
		if closeStore != nil {
			_ = closeStore()
		}
		return nil, err
	}
	deps.closeStore = closeStore

	logger.Info("all dependencies initialized successfully",
		zap.String("store", cfg.Store.Backend),
		zap.String("tenant_mode", cfg.Tenancy.Mode))
	return deps, nil
}

// NewDependenciesWithRepositories wires services and HTTP components over existing repositories
func NewDependenciesWithRepositories(cfg *config.Config, logger *zap.Logger, repos *repositories.Repositories) (*Dependencies, error) {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dependencies{
		Config: cfg,
		Logger: logger,
		Repos:  repos,
		cancel: cancel,
	}

	if err := d.initTenancy(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize tenancy: %w", err)
	}
	if err := d.initUserSync(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize user sync: %w", err)
	}
	if err := d.initAuth(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize auth: %w", err)
	}

	if cfg.RateLimit.SyncRPS > 0 {
		d.SyncRateLimiter = middleware.NewRateLimiter(ctx, cfg.RateLimit.SyncRPS, cfg.RateLimit.SyncBurst, logger)
	} else {
		logger.Warn("sync-user rate limiting disabled")
	}

	d.AuthHandler = handlers.NewAuthHandler(d.TenantResolver, d.UserSync, logger)
	d.HealthHandler = handlers.NewHealthHandler(repos.Health, logger)
	return d, nil
}

// initStore builds the repositories of the configured backend
func initStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*repositories.Repositories, func() error, error) {
	switch cfg.Store.Backend {
	case config.StoreBackendPostgres:
		factory, err := postgres.NewRepositoryFactory(cfg, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create repository factory: %w", err)
		}
		if err := factory.GetDB().PingContext(ctx); err != nil {
			_ = factory.Close()
			return nil, nil, fmt.Errorf("database ping failed: %w", err)
		}
		if err := factory.InitSchema(ctx); err != nil {
			_ = factory.Close()
			return nil, nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
		logger.Info("database connection established",
			zap.String("connection", cfg.Database.LogString()))
		return factory.NewRepositories(), factory.Close, nil

	case config.StoreBackendPostgREST:
		factory := postgrest.NewRepositoryFactory(cfg, logger)
		logger.Info("using REST store", zap.String("url", cfg.Supabase.RESTURL()))
		logger.Warn("REST store relies on a UNIQUE(email) constraint on every users table",
			zap.String("migration", postgrest.MigrationFile))
		return factory.NewRepositories(), nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// initTenancy builds the registry chain (TENANT_DOMAINS, registry file, store) and the resolver
func (d *Dependencies) initTenancy() error {
	cfg := d.Config.Tenancy

	var registry repositories.TenantRepository
	if cfg.Mode != config.TenantModeSingle {
		var chain tenant.ChainRegistry
		if len(cfg.Domains) > 0 {
			chain = append(chain, tenant.NewStaticRegistry(cfg.Domains))
		}
		if cfg.RegistryFile != "" {
			fileRegistry, err := tenant.LoadStaticRegistry(cfg.RegistryFile)
			if err != nil {
				return err
			}
			d.Logger.Info("tenant registry file loaded",
				zap.String("path", cfg.RegistryFile),
				zap.Int("tenants", fileRegistry.Len()))
			chain = append(chain, fileRegistry)
		}
		if d.Repos != nil && d.Repos.Tenants != nil {
			chain = append(chain, d.Repos.Tenants)
		}
		if len(chain) > 0 {
			registry = chain
		}
	}

	resolver, err := tenant.NewResolver(cfg.Mode, registry, d.Logger)
	if err != nil {
		return err
	}
	d.TenantResolver = resolver
	return nil
}

func (d *Dependencies) initUserSync() error {
	if d.Repos == nil || d.Repos.Users == nil {
		return fmt.Errorf("user repository is required")
	}
	policy, err := usersync.RolePolicyFromConfig(d.Config.Roles)
	if err != nil {
		return err
	}
	d.UserSync = usersync.NewService(d.Repos.Users, policy, d.Logger)
	return nil
}

func (d *Dependencies) initAuth() error {
	cfg := d.Config.Supabase

	validator, err := supabase.NewValidator(supabase.Config{
		Issuer:      cfg.Issuer(),
		JWTSecret:   cfg.JWTSecret,
		JWKSURL:     cfg.JWKSURL,
		ClockSkew:   cfg.ClockSkew,
		HTTPTimeout: cfg.JWKSTimeout,
	})
	if err != nil {
		return err
	}

	d.Logger.Warn("token audience validation is disabled; any audience issued by the trusted issuer is accepted",
		zap.String("issuer", cfg.Issuer()))
	if cfg.JWTSecretFromAnonKey {
		d.Logger.Warn("SUPABASE_JWT_SECRET not set, verifying HS256 tokens with the anon key")
	}

	d.Validator = validator
	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.Logger)
	return nil
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	if d.cancel != nil {
		d.cancel()
	}

	var errs []error
	if d.closeStore != nil {
		if err := d.closeStore(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close store: %w", err))
		} else {
			d.Logger.Info("store connection closed")
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}
	return nil
}
