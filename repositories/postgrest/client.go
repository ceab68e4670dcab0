package postgrest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/upb/arca-auth/repositories"
	"go.uber.org/zap"
)

const (
	uniqueViolation = "23505"

	preferRepresentation = "return=representation"
)

// APIError is the error body returned by PostgREST
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("rest store error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("rest store error %d: %s", e.Status, e.Message)
}

// Client is a minimal PostgREST client. The key is sent both as apikey and
// as bearer token, which is what the Supabase gateway expects.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a client for the REST endpoint at baseURL, e.g. https://<ref>.supabase.co/rest/v1
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// request describes one call against a resource
type request struct {
	method   string
	resource string
	query    url.Values
	body     interface{}
	prefer   string
}

func (c *Client) do(ctx context.Context, r request, out interface{}) error {
	endpoint := c.baseURL + "/" + url.PathEscape(r.resource)
	if len(r.query) > 0 {
		endpoint += "?" + r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		payload, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.prefer != "" {
		req.Header.Set("Prefer", r.prefer)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return translateTransportError(err)
	}
	defer resp.Body.Close()

	c.logger.Debug("rest store call",
		zap.String("method", r.method),
		zap.String("resource", r.resource),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)))

	if resp.StatusCode >= http.StatusBadRequest {
		return translateStatus(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// HealthCheck reports whether the REST endpoint answers
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return translateTransportError(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: status %d", repositories.ErrUnavailable, resp.StatusCode)
	}
	return nil
}

// translateTransportError reports every failure to get a response, timeouts
// included, as the store being unavailable.
func translateTransportError(err error) error {
	return fmt.Errorf("%w: %v", repositories.ErrUnavailable, err)
}

func translateStatus(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(raw))
	}

	switch resp.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %v", repositories.ErrUnavailable, apiErr)
	default:
		return apiErr
	}
}

// violatesUnique reports whether the error is a unique violation of the named
// constraint. PostgREST answers 409 for every integrity error (foreign keys
// included), so the status alone says nothing about which constraint fired.
func (e *APIError) violatesUnique(constraint, column string) bool {
	if e.Code != uniqueViolation {
		return false
	}
	return strings.Contains(e.Message, `"`+constraint+`"`) ||
		strings.HasPrefix(e.Details, "Key ("+column+")=")
}

// eq builds a PostgREST equality filter
func eq(value string) string {
	return "eq." + value
}
