package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/upb/arca-auth/models"
	"github.com/upb/arca-auth/services"
	"go.uber.org/zap"
)

// DefaultProfileTimeout bounds a single profile or sync call
const DefaultProfileTimeout = 10 * time.Second

const (
	syncUserPath    = "/api/auth/sync-user"
	userProfilePath = "/api/auth/user-profile"
)

// ProfileFetcher loads the signed-in user's profile with a bearer token.
// A rejected token is reported as services.ErrUnauthenticated.
type ProfileFetcher interface {
	FetchProfile(ctx context.Context, token string) (*models.Profile, error)
}

// SyncResult is the body of a successful sync-user call
type SyncResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Email     string `json:"email"`
	IsNewUser bool   `json:"isNewUser"`
	Schema    string `json:"schema,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// APIClient calls the auth service endpoints
type APIClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewAPIClient creates a client for the auth service at baseURL. A zero
// timeout means DefaultProfileTimeout.
func NewAPIClient(baseURL string, timeout time.Duration, logger *zap.Logger) *APIClient {
	if timeout <= 0 {
		timeout = DefaultProfileTimeout
	}
	return &APIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// FetchProfile calls GET /api/auth/user-profile
func (c *APIClient) FetchProfile(ctx context.Context, token string) (*models.Profile, error) {
	var profile models.Profile
	if err := c.call(ctx, http.MethodGet, userProfilePath, token, nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// SyncUser calls POST /api/auth/sync-user. tenant may be empty unless the
// service runs in explicit tenant mode.
func (c *APIClient) SyncUser(ctx context.Context, token, tenant string) (*SyncResult, error) {
	var body interface{}
	if tenant != "" {
		body = map[string]string{"tenant": tenant}
	}
	var result SyncResult
	if err := c.call(ctx, http.MethodPost, syncUserPath, token, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *APIClient) call(ctx context.Context, method, path, token string, body, out interface{}) error {
	if token == "" {
		return services.ErrUnauthenticated
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return services.WrapInternal("failed to encode request", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return services.WrapInternal("failed to create request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return services.ErrUnavailable.Wrap(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return c.statusError(method, path, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return services.WrapInternal("failed to decode response", err)
	}
	return nil
}

func (c *APIClient) statusError(method, path string, resp *http.Response) error {
	var body errorBody
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)

	c.logger.Debug("auth service call failed",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.String("code", body.Code))

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return services.ErrUnauthenticated
	case http.StatusNotFound:
		return services.ErrUserNotFound
	case http.StatusTooManyRequests:
		return services.ErrRateLimited
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return services.ErrUnavailable.WithDetail("status", resp.StatusCode)
	}
	if resp.StatusCode < http.StatusInternalServerError {
		msg := body.Error
		if msg == "" {
			msg = fmt.Sprintf("request rejected with status %d", resp.StatusCode)
		}
		return services.NewDomainError(services.ErrorTypeValidation, msg, nil)
	}
	return services.ErrInternal.WithDetail("status", resp.StatusCode)
}
