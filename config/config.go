package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Tenant resolution strategies
const (
	TenantModeSingle   = "single"
	TenantModeDomain   = "domain"
	TenantModeExplicit = "explicit"
)

// Store backends
const (
	StoreBackendPostgREST = "postgrest"
	StoreBackendPostgres  = "postgres"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Supabase      SupabaseConfig
	Tenancy       TenancyConfig
	Roles         RolesConfig
	Store         StoreConfig
	Database      DatabaseConfig
	RateLimit     RateLimitConfig
	CORS          CORSConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int `validate:"min=1,max=65535"`
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
}

// SupabaseConfig holds the identity provider and REST store settings
type SupabaseConfig struct {
	URL            string `validate:"required,url"`
	AnonKey        string `validate:"required"`
	JWTSecret      string
	ServiceRoleKey string
	JWTIssuer      string `validate:"omitempty,url"`
	JWKSURL        string `validate:"omitempty,url"`
	ClockSkew      time.Duration
	JWKSTimeout    time.Duration

	// JWTSecretFromAnonKey is set when SUPABASE_JWT_SECRET was absent and the
	// anon key is used for HS256 verification instead.
	JWTSecretFromAnonKey bool
}

// TenancyConfig selects how a request is mapped to a tenant namespace
type TenancyConfig struct {
	Mode         string `validate:"oneof=single domain explicit"`
	Domains      map[string]string
	RegistryFile string
}

// RoleRule assigns Role to new users whose email ends with Suffix
type RoleRule struct {
	Suffix string
	Role   string
}

// RolesConfig holds the role vocabulary and default assignment policy
type RolesConfig struct {
	Roles   []string `validate:"min=1,dive,required"`
	Default string   `validate:"required"`
	Rules   []RoleRule
}

// StoreConfig selects the user storage backend
type StoreConfig struct {
	Backend string `validate:"oneof=postgrest postgres"`
	Timeout time.Duration
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// Sync rate limit defaults. The bucket is per signed-in user, so the burst
// only has to cover one user's concurrent tabs.
const (
	DefaultSyncRPS   = 1.0
	DefaultSyncBurst = 20
)

// RateLimitConfig bounds how often a single user may call sync-user
type RateLimitConfig struct {
	SyncRPS   float64 `validate:"gte=0"`
	SyncBurst int     `validate:"gte=0"`
}

// CORSConfig holds the browser origins allowed to call the API
type CORSConfig struct {
	AllowedOrigins []string
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	LogLevel  string `validate:"oneof=debug info warn error"`
	LogFormat string `validate:"oneof=json console text"`
}

var validate = validator.New()

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			RequestTimeout:  getEnvAsDuration("SERVER_REQUEST_TIMEOUT", 30*time.Second),
		},
		Supabase: loadSupabaseConfig(),
		Tenancy: TenancyConfig{
			Mode:         strings.ToLower(getEnv("TENANT_MODE", TenantModeSingle)),
			Domains:      parseDomainMap(getEnv("TENANT_DOMAINS", "")),
			RegistryFile: getEnv("TENANT_REGISTRY_FILE", ""),
		},
		Roles: RolesConfig{
			Roles:   getEnvAsList("ROLES", []string{"Admin", "Empleado"}),
			Default: getEnv("DEFAULT_ROLE", "Empleado"),
			Rules:   parseRoleRules(getEnv("ROLE_RULES", "@ucb.edu.bo=Admin")),
		},
		Store: StoreConfig{
			Backend: strings.ToLower(getEnv("STORE_BACKEND", StoreBackendPostgREST)),
			Timeout: getEnvAsDuration("STORE_TIMEOUT", 10*time.Second),
		},
		Database: loadDatabaseConfig(),
		RateLimit: RateLimitConfig{
			SyncRPS:   getEnvAsFloat("SYNC_RATE_LIMIT", DefaultSyncRPS),
			SyncBurst: getEnvAsInt("SYNC_RATE_BURST", DefaultSyncBurst),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{
				"http://localhost:5173",
				"http://localhost:3000",
				"http://frontend:80",
			}),
		},
		Observability: ObservabilityConfig{
			LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
			LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "json")),
		},
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	switch c.Store.Backend {
	case StoreBackendPostgREST:
		if c.Supabase.ServiceRoleKey == "" {
			return fmt.Errorf("SUPABASE_SERVICE_ROLE_KEY is required for the postgrest store")
		}
	case StoreBackendPostgres:
		if c.Database.ConnectionString == "" && c.Database.Host == "" {
			return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
		}
		if c.Database.ConnectionString == "" {
			if c.Database.User == "" {
				return fmt.Errorf("database user is required")
			}
			if c.Database.Database == "" {
				return fmt.Errorf("database name is required")
			}
		}
	}

	if !c.hasRole(c.Roles.Default) {
		return fmt.Errorf("default role %q is not in ROLES", c.Roles.Default)
	}
	for _, rule := range c.Roles.Rules {
		if !c.hasRole(rule.Role) {
			return fmt.Errorf("role rule %s=%s references unknown role", rule.Suffix, rule.Role)
		}
	}

	if c.IsProduction() && c.Supabase.JWTSecretFromAnonKey && c.Supabase.JWKSURL == "" {
		return fmt.Errorf("SUPABASE_JWT_SECRET or SUPABASE_JWKS_URL is required in production")
	}

	return nil
}

func (c *Config) hasRole(role string) bool {
	for _, r := range c.Roles.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// Issuer returns the expected iss claim; defaults to <SUPABASE_URL>/auth/v1
func (c *SupabaseConfig) Issuer() string {
	if c.JWTIssuer != "" {
		return c.JWTIssuer
	}
	return strings.TrimRight(c.URL, "/") + "/auth/v1"
}

// RESTURL returns the base URL of the tabular REST store
func (c *SupabaseConfig) RESTURL() string {
	return strings.TrimRight(c.URL, "/") + "/rest/v1"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func loadSupabaseConfig() SupabaseConfig {
	cfg := SupabaseConfig{
		URL:            getEnv("SUPABASE_URL", ""),
		AnonKey:        getEnv("SUPABASE_ANON_KEY", ""),
		JWTSecret:      getEnv("SUPABASE_JWT_SECRET", ""),
		ServiceRoleKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),
		JWTIssuer:      getEnv("SUPABASE_JWT_ISSUER", ""),
		JWKSURL:        getEnv("SUPABASE_JWKS_URL", ""),
		ClockSkew:      getEnvAsDuration("JWT_CLOCK_SKEW", 5*time.Minute),
		JWKSTimeout:    getEnvAsDuration("JWKS_TIMEOUT", 10*time.Second),
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = cfg.AnonKey
		cfg.JWTSecretFromAnonKey = true
	}
	return cfg
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars
func loadDatabaseConfig() DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL != "" {
		return DatabaseConfig{
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		}
	}
	return DatabaseConfig{
		Host:            getEnv("DB_HOST", ""),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "postgres"),
		Password:        getEnv("DB_PASSWORD", ""),
		Database:        getEnv("DB_NAME", "arca"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// parseDomainMap parses "ucb.edu.bo=ucb,upb.edu.bo=upb"
func parseDomainMap(value string) map[string]string {
	out := make(map[string]string)
	for _, pair := range splitList(value) {
		domain, schema, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		domain = strings.ToLower(strings.TrimSpace(domain))
		schema = strings.TrimSpace(schema)
		if domain == "" || schema == "" {
			continue
		}
		out[domain] = schema
	}
	return out
}

// parseRoleRules parses "@ucb.edu.bo=Admin,@upb.edu.bo=Director"; order is preserved
func parseRoleRules(value string) []RoleRule {
	var rules []RoleRule
	for _, pair := range splitList(value) {
		suffix, role, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		suffix = strings.ToLower(strings.TrimSpace(suffix))
		role = strings.TrimSpace(role)
		if suffix == "" || role == "" {
			continue
		}
		rules = append(rules, RoleRule{Suffix: suffix, Role: role})
	}
	return rules
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 5002)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 5002
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	items := splitList(os.Getenv(key))
	if len(items) == 0 {
		return defaultValue
	}
	return items
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
