package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/lib/pq"
	"github.com/upb/arca-auth/config"
	"github.com/upb/arca-auth/models"
	"github.com/upb/arca-auth/repositories"
	"go.uber.org/zap"
)

// uniqueViolation is the SQLSTATE raised when a UNIQUE constraint rejects a row
const uniqueViolation = "23505"

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return WrapDB(db, logger), nil
}

// WrapDB wraps an already opened pool
func WrapDB(db *sql.DB, logger *zap.Logger) *DB {
	return &DB{
		DB:     db,
		logger: logger,
	}
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	// Check if we can query
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// InitSchema creates the tenant registry, the single-tenant users table and
// one users table per registered tenant.
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS tenants (
			domain VARCHAR(255) PRIMARY KEY,
			schema_name VARCHAR(63) NOT NULL
		);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := db.EnsureUsersTable(ctx, models.SingleTenantNamespace()); err != nil {
		return err
	}

	rows, err := db.QueryContext(ctx, `SELECT domain, schema_name FROM tenants`)
	if err != nil {
		return fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var namespaces []models.Namespace
	for rows.Next() {
		var t models.Tenant
		if err := rows.Scan(&t.Domain, &t.SchemaName); err != nil {
			return fmt.Errorf("failed to scan tenant: %w", err)
		}
		ns, err := models.NewNamespace(&t)
		if err != nil {
			db.logger.Warn("skipping tenant with invalid schema",
				zap.String("domain", t.Domain), zap.Error(err))
			continue
		}
		namespaces = append(namespaces, ns)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to list tenants: %w", err)
	}

	for _, ns := range namespaces {
		if err := db.EnsureUsersTable(ctx, ns); err != nil {
			return err
		}
	}

	db.logger.Info("database schema initialized successfully", zap.Int("tenants", len(namespaces)))
	return nil
}

// EnsureUsersTable creates the users table of a namespace. The named
// UNIQUE(email) constraint is what makes concurrent first syncs safe; see
// migrations/0001_users_email_unique.sql for the same DDL on REST deployments.
func (db *DB) EnsureUsersTable(ctx context.Context, ns models.Namespace) error {
	table := pq.QuoteIdentifier(ns.UsersResource())
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			nombre VARCHAR(255) NOT NULL,
			apellido VARCHAR(255) NOT NULL DEFAULT '',
			email VARCHAR(255) NOT NULL,
			rol VARCHAR(50) NOT NULL,
			cargo VARCHAR(255),
			remuneracion NUMERIC(12, 2),
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT %s UNIQUE (email)
		);
	`, table, pq.QuoteIdentifier(ns.EmailConstraint()))

	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create users table for %s: %w", ns, err)
	}
	return nil
}

// translateError maps driver errors onto repository sentinels
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return repositories.ErrNotFound
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, sql.ErrConnDone) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", repositories.ErrUnavailable, err)
	}
	return err
}

// isEmailConflict reports whether err is a unique violation of the
// namespace's email constraint. Other unique violations, such as a primary
// key collision, are not "already exists".
func isEmailConflict(err error, ns models.Namespace) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) &&
		string(pqErr.Code) == uniqueViolation &&
		pqErr.Constraint == ns.EmailConstraint()
}
