package postgrest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/upb/arca-auth/models"
	"github.com/upb/arca-auth/repositories"
	"go.uber.org/zap"
)

// UserRepository implements repositories.UserRepository over the REST store.
// It must be given a client holding the service-role key.
type UserRepository struct {
	client *Client
	logger *zap.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(client *Client, logger *zap.Logger) repositories.UserRepository {
	return &UserRepository{
		client: client,
		logger: logger,
	}
}

// userRow is the wire shape of a users table row
type userRow struct {
	ID        interface{} `json:"id"`
	FirstName string      `json:"nombre"`
	LastName  string      `json:"apellido"`
	Email     string      `json:"email"`
	Role      string      `json:"rol"`
	Position  *string     `json:"cargo"`
	Salary    *float64    `json:"remuneracion"`
	CreatedAt string      `json:"created_at"`
}

// newUserRow is the insert payload; id and defaults are assigned by storage
type newUserRow struct {
	FirstName string `json:"nombre"`
	LastName  string `json:"apellido"`
	Email     string `json:"email"`
	Role      string `json:"rol"`
	CreatedAt string `json:"created_at,omitempty"`
}

// ExistsByEmail issues an id-only projection filtered on email
func (r *UserRepository) ExistsByEmail(ctx context.Context, ns models.Namespace, email string) (bool, error) {
	var rows []struct {
		ID interface{} `json:"id"`
	}
	err := r.client.do(ctx, request{
		method:   http.MethodGet,
		resource: ns.UsersResource(),
		query: url.Values{
			"email":  {eq(email)},
			"select": {"id"},
			"limit":  {"1"},
		},
	}, &rows)
	if err != nil {
		return false, fmt.Errorf("failed to check user existence: %w", err)
	}
	return len(rows) > 0, nil
}

// Create inserts a row and returns the representation echoed by the store
func (r *UserRepository) Create(ctx context.Context, ns models.Namespace, user *models.UserRecord) (*models.UserRecord, error) {
	payload := newUserRow{
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Email:     user.Email,
		Role:      string(user.Role),
	}
	if !user.CreatedAt.IsZero() {
		payload.CreatedAt = user.CreatedAt.UTC().Format(time.RFC3339)
	}

	var rows []userRow
	err := r.client.do(ctx, request{
		method:   http.MethodPost,
		resource: ns.UsersResource(),
		body:     payload,
		prefer:   preferRepresentation,
	}, &rows)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.violatesUnique(ns.EmailConstraint(), "email") {
			return nil, fmt.Errorf("failed to create user: %w: %w", repositories.ErrDuplicate, err)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("failed to create user: empty representation")
	}

	created := rows[0].toModel()
	r.logger.Debug("user created",
		zap.String("id", created.ID),
		zap.String("namespace", ns.String()))
	return created, nil
}

// GetByEmail retrieves the full row for an email
func (r *UserRepository) GetByEmail(ctx context.Context, ns models.Namespace, email string) (*models.UserRecord, error) {
	var rows []userRow
	err := r.client.do(ctx, request{
		method:   http.MethodGet,
		resource: ns.UsersResource(),
		query: url.Values{
			"email":  {eq(email)},
			"select": {"*"},
			"limit":  {"1"},
		},
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if len(rows) == 0 {
		return nil, repositories.ErrNotFound
	}
	return rows[0].toModel(), nil
}

func (row userRow) toModel() *models.UserRecord {
	return &models.UserRecord{
		ID:        idString(row.ID),
		FirstName: row.FirstName,
		LastName:  row.LastName,
		Email:     row.Email,
		Role:      models.Role(row.Role),
		Position:  row.Position,
		Salary:    row.Salary,
		CreatedAt: parseTimestamp(row.CreatedAt),
	}
}

// idString accepts both uuid and serial primary keys
func idString(v interface{}) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case float64:
		return fmt.Sprintf("%.0f", id)
	default:
		return fmt.Sprint(id)
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999-07",
	"2006-01-02",
}

// parseTimestamp accepts timestamptz and timestamp columns; unknown formats yield the zero time
func parseTimestamp(s string) time.Time {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
