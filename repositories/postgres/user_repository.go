package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/upb/arca-auth/models"
	"github.com/upb/arca-auth/repositories"
	"go.uber.org/zap"
)

const userColumns = "id, nombre, apellido, email, rol, cargo, remuneracion, created_at"

// UserRepository implements the repositories.UserRepository interface
type UserRepository struct {
	db      *DB
	timeout time.Duration
	logger  *zap.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *DB, timeout time.Duration, logger *zap.Logger) repositories.UserRepository {
	return &UserRepository{
		db:      db,
		timeout: timeout,
		logger:  logger,
	}
}

func (r *UserRepository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}

// ExistsByEmail reports whether the namespace holds a user with the email
func (r *UserRepository) ExistsByEmail(ctx context.Context, ns models.Namespace, email string) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE email = $1)`,
		pq.QuoteIdentifier(ns.UsersResource()))

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, email).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check user existence: %w", translateError(err))
	}
	return exists, nil
}

// Create inserts a new user record
func (r *UserRepository) Create(ctx context.Context, ns models.Namespace, user *models.UserRecord) (*models.UserRecord, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	id := user.ID
	if id == "" {
		id = uuid.New().String()
	}
	createdAt := user.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, nombre, apellido, email, rol, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING %s
	`, pq.QuoteIdentifier(ns.UsersResource()), userColumns)

	row := r.db.QueryRowContext(ctx, query,
		id,
		user.FirstName,
		user.LastName,
		user.Email,
		string(user.Role),
		createdAt,
	)

	created, err := scanUser(row)
	if err != nil {
		if isEmailConflict(err, ns) {
			return nil, fmt.Errorf("failed to create user: %w: %w", repositories.ErrDuplicate, err)
		}
		return nil, fmt.Errorf("failed to create user: %w", translateError(err))
	}

	r.logger.Debug("user created",
		zap.String("id", created.ID),
		zap.String("namespace", ns.String()))
	return created, nil
}

// GetByEmail retrieves a user by email
func (r *UserRepository) GetByEmail(ctx context.Context, ns models.Namespace, email string) (*models.UserRecord, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE email = $1`,
		userColumns, pq.QuoteIdentifier(ns.UsersResource()))

	user, err := scanUser(r.db.QueryRowContext(ctx, query, email))
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", translateError(err))
	}
	return user, nil
}

func scanUser(row *sql.Row) (*models.UserRecord, error) {
	var (
		user     models.UserRecord
		role     string
		position sql.NullString
		salary   sql.NullFloat64
	)
	err := row.Scan(
		&user.ID,
		&user.FirstName,
		&user.LastName,
		&user.Email,
		&role,
		&position,
		&salary,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	user.Role = models.Role(role)
	if position.Valid {
		user.Position = &position.String
	}
	if salary.Valid {
		user.Salary = &salary.Float64
	}
	return &user, nil
}
