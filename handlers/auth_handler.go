package handlers

import (
	"context"
	"net/http"

	"github.com/upb/arca-auth/middleware"
	"github.com/upb/arca-auth/models"
	"github.com/upb/arca-auth/services"
	"github.com/upb/arca-auth/services/usersync"
	"github.com/upb/arca-auth/utils"
	"go.uber.org/zap"
)

const (
	messageUserCreated = "Usuario creado"
	messageUserExists  = "Usuario ya existe"
)

// TenantResolver resolves the namespace a request operates on
type TenantResolver interface {
	ResolveForSync(ctx context.Context, email, key string) (models.Namespace, error)
	ResolveForProfile(ctx context.Context, email string) (models.Namespace, error)
}

// UserSyncService provisions and reads user records
type UserSyncService interface {
	SyncUser(ctx context.Context, identity *models.Identity, ns models.Namespace) (*usersync.SyncResult, error)
	GetProfile(ctx context.Context, email string, ns models.Namespace) (*models.UserRecord, error)
	DefaultRole() models.Role
}

// SyncUserRequest is the optional body of POST /auth/sync-user
type SyncUserRequest struct {
	Tenant string `json:"tenant" validate:"omitempty,max=253,printascii"`
}

// SyncUserResponse is the body of a successful sync
type SyncUserResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Email     string `json:"email"`
	IsNewUser bool   `json:"isNewUser"`
	Schema    string `json:"schema,omitempty"`
}

// AuthHandler serves the identity sync endpoints
type AuthHandler struct {
	resolver TenantResolver
	users    UserSyncService
	logger   *zap.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(resolver TenantResolver, users UserSyncService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		resolver: resolver,
		users:    users,
		logger:   logger,
	}
}

// HandleSyncUser handles POST /auth/sync-user.
// Resolves the tenant and ensures a user record exists for the caller.
func (h *AuthHandler) HandleSyncUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With(zap.String("request_id", middleware.GetRequestIDFromContext(ctx)))

	identity := middleware.GetIdentityFromContext(ctx)
	if identity == nil {
		HandleServiceError(w, services.ErrUnauthenticated, logger)
		return
	}

	var req SyncUserRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		HandleValidationError(w, err, logger)
		return
	}

	// Reject before touching the tenant registry.
	if identity.Email == "" {
		HandleServiceError(w, services.ErrMissingEmail, logger)
		return
	}
	if !identity.EmailVerified {
		HandleServiceError(w, services.ErrEmailNotVerified, logger)
		return
	}

	ns, err := h.resolver.ResolveForSync(ctx, identity.Email, req.Tenant)
	if err != nil {
		logger.Info("tenant resolution failed",
			zap.String("email", identity.Email),
			zap.String("tenant", req.Tenant),
			zap.Error(err))
		HandleServiceError(w, err, logger)
		return
	}

	result, err := h.users.SyncUser(ctx, identity, ns)
	if err != nil {
		HandleServiceError(w, err, logger)
		return
	}

	resp := SyncUserResponse{
		Success:   true,
		Message:   messageUserExists,
		Email:     result.Email,
		IsNewUser: result.Created,
		Schema:    result.Namespace.Schema(),
	}
	if result.Created {
		resp.Message = messageUserCreated
	}
	if err := utils.WriteOK(w, resp); err != nil {
		logger.Error("failed to write sync response", zap.Error(err))
	}
}

// HandleUserProfile handles GET /auth/user-profile
func (h *AuthHandler) HandleUserProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With(zap.String("request_id", middleware.GetRequestIDFromContext(ctx)))

	identity := middleware.GetIdentityFromContext(ctx)
	if identity == nil || identity.Email == "" {
		HandleServiceError(w, services.ErrUnauthenticated, logger)
		return
	}
	if !identity.EmailVerified {
		HandleServiceError(w, services.ErrEmailNotVerified, logger)
		return
	}

	ns, err := h.resolver.ResolveForProfile(ctx, identity.Email)
	if err != nil {
		HandleServiceError(w, err, logger)
		return
	}

	user, err := h.users.GetProfile(ctx, identity.Email, ns)
	if err != nil {
		HandleServiceError(w, err, logger)
		return
	}

	if err := utils.WriteOK(w, user.ToProfile(h.users.DefaultRole())); err != nil {
		logger.Error("failed to write profile response", zap.Error(err))
	}
}
