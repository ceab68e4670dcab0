package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/upb/arca-auth/models"
	"github.com/upb/arca-auth/services"
	"github.com/upb/arca-auth/utils"
	"go.uber.org/zap"
)

// TokenValidator defines the interface for validating access tokens
type TokenValidator interface {
	// ValidateToken validates a token and returns the caller identity
	ValidateToken(ctx context.Context, token string) (*models.Identity, error)
}

// AuthMiddleware provides authentication middleware functionality
type AuthMiddleware struct {
	validator TokenValidator
	logger    *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(validator TokenValidator, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		validator: validator,
		logger:    logger,
	}
}

// RequireAuth is a middleware that requires a valid bearer token
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		token := extractBearerToken(r)
		if token == "" {
			m.logger.Warn("missing token",
				zap.String("request_id", requestID),
				zap.String("path", r.URL.Path))
			_ = utils.WriteUnauthorized(w, services.ErrUnauthenticated.Message)
			return
		}

		identity, err := m.validator.ValidateToken(ctx, token)
		if err != nil {
			if services.IsUnavailableError(err) {
				// Key material could not be fetched; the token itself was not judged.
				m.logger.Error("token validation unavailable",
					zap.String("request_id", requestID),
					zap.Error(err))
				_ = utils.WriteInternalServerError(w, "")
				return
			}
			m.logger.Warn("token validation failed",
				zap.String("request_id", requestID),
				zap.Error(err))
			_ = utils.WriteUnauthorized(w, unauthorizedMessage(err))
			return
		}

		ctx = WithIdentity(ctx, identity)

		m.logger.Debug("authentication successful",
			zap.String("request_id", requestID),
			zap.String("sub", identity.Subject),
			zap.String("email", identity.Email))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// unauthorizedMessage returns the public message of a validator error
func unauthorizedMessage(err error) string {
	var domainErr *services.DomainError
	if errors.As(err, &domainErr) && domainErr.Type == services.ErrorTypeUnauthorized {
		return domainErr.Message
	}
	return "Invalid or expired token"
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
