package usersync

import (
	"context"
	"errors"
	"strings"

	"github.com/upb/arca-auth/models"
	"github.com/upb/arca-auth/repositories"
	"github.com/upb/arca-auth/services"
	"go.uber.org/zap"
)

// SyncResult reports the outcome of SyncUser
type SyncResult struct {
	Created   bool
	Email     string
	Namespace models.Namespace
}

// Service provisions user records on first authenticated contact.
//
// Existence check and insert are not coordinated in-process. Two concurrent
// first syncs may both insert; the store's UNIQUE(email) constraint rejects
// the loser with repositories.ErrDuplicate, which is reported as Created=false.
type Service struct {
	users  repositories.UserRepository
	policy *RolePolicy
	logger *zap.Logger
}

// NewService creates a new user sync service
func NewService(users repositories.UserRepository, policy *RolePolicy, logger *zap.Logger) *Service {
	return &Service{
		users:  users,
		policy: policy,
		logger: logger,
	}
}

// SyncUser ensures a record exists for the identity in the namespace
func (s *Service) SyncUser(ctx context.Context, identity *models.Identity, ns models.Namespace) (*SyncResult, error) {
	if identity == nil {
		return nil, services.ErrUnauthenticated
	}
	email := normalizeEmail(identity.Email)
	if email == "" {
		return nil, services.ErrMissingEmail
	}
	if !identity.EmailVerified {
		return nil, services.ErrEmailNotVerified
	}
	if ns.IsZero() {
		return nil, services.ErrInternal.WithDetail("reason", "namespace not resolved")
	}

	logger := s.logger.With(zap.String("email", email), zap.String("schema", ns.String()))

	exists, err := s.users.ExistsByEmail(ctx, ns, email)
	if err != nil {
		logger.Error("user existence check failed", zap.Error(err))
		return nil, storeError(err, services.ErrSyncFailed)
	}
	if exists {
		logger.Debug("user already provisioned")
		return &SyncResult{Created: false, Email: email, Namespace: ns}, nil
	}

	firstName, lastName := SplitFullName(identity.DisplayName)
	record := models.NewUserRecord(email, firstName, lastName, s.policy.RoleFor(email))

	created, err := s.users.Create(ctx, ns, record)
	if err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			logger.Info("concurrent sync lost the insert race, user already exists")
			return &SyncResult{Created: false, Email: email, Namespace: ns}, nil
		}
		logger.Error("user provisioning failed", zap.Error(err))
		return nil, storeError(err, services.ErrSyncFailed)
	}

	logger.Info("user provisioned",
		zap.String("user_id", created.ID),
		zap.String("role", string(created.Role)))
	return &SyncResult{Created: true, Email: email, Namespace: ns}, nil
}

// GetProfile returns the stored record for an email
func (s *Service) GetProfile(ctx context.Context, email string, ns models.Namespace) (*models.UserRecord, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, services.ErrMissingEmail
	}
	if ns.IsZero() {
		return nil, services.ErrInternal.WithDetail("reason", "namespace not resolved")
	}

	user, err := s.users.GetByEmail(ctx, ns, email)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrUserNotFound
		}
		s.logger.Error("profile lookup failed",
			zap.String("email", email),
			zap.String("schema", ns.String()),
			zap.Error(err))
		return nil, storeError(err, services.ErrInternal)
	}
	return user, nil
}

// DefaultRole is the role reported for records with an empty rol column
func (s *Service) DefaultRole() models.Role {
	return s.policy.DefaultRole()
}

// storeError maps repository failures: unreachable stores become
// ErrUnavailable, anything else the given fallback.
func storeError(err error, fallback *services.DomainError) error {
	if errors.Is(err, repositories.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return services.ErrUnavailable.Wrap(err)
	}
	return fallback.Wrap(err)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
