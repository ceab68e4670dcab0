package client

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/upb/arca-auth/models"
	"github.com/upb/arca-auth/services"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// CachedSession is a point-in-time view of the cache
type CachedSession struct {
	Token   string
	Profile *models.Profile
	Role    models.Role
}

// ProfileCache holds the signed-in user's profile and role for the session.
//
// The role is only ever cached together with a profile fetched for the
// current token. Every token change bumps a generation counter; a fetch that
// started under an older generation never commits its result.
type ProfileCache struct {
	tokens      *TokenStore
	fetcher     ProfileFetcher
	defaultRole models.Role
	logger      *zap.Logger

	// fetchTimeout bounds a shared fetch, which outlives any single caller
	fetchTimeout time.Duration
	flights      singleflight.Group

	mu         sync.Mutex
	generation uint64
	profile    *models.Profile
	role       models.Role
}

// NewProfileCache creates an empty cache. defaultRole is reported when no
// profile can be loaded and for profiles with an empty role.
func NewProfileCache(tokens *TokenStore, fetcher ProfileFetcher, defaultRole models.Role, logger *zap.Logger) *ProfileCache {
	return &ProfileCache{
		tokens:       tokens,
		fetcher:      fetcher,
		defaultRole:  defaultRole,
		logger:       logger,
		fetchTimeout: DefaultProfileTimeout,
	}
}

// GetProfile returns the cached profile, fetching it with the stored token
// when absent. It returns nil without error when there is no token, when the
// token is rejected (the session is cleared) or when the fetch fails. Only a
// cancelled ctx is reported as an error.
//
// Concurrent callers share one fetch. The fetch runs detached from the
// caller that started it, so a caller giving up only stops its own wait.
func (c *ProfileCache) GetProfile(ctx context.Context) (*models.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.profile != nil {
		p := c.profile
		c.mu.Unlock()
		return p, nil
	}
	generation := c.generation
	token := c.tokens.Token()
	c.mu.Unlock()

	if token == "" {
		return nil, nil
	}

	flight := c.flights.DoChan(strconv.FormatUint(generation, 10), func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()
		return c.fetch(fetchCtx, token, generation)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-flight:
		if res.Shared {
			c.logger.Debug("joined in-flight profile fetch")
		}
		if res.Err != nil {
			return nil, nil
		}
		profile, _ := res.Val.(*models.Profile)
		return profile, nil
	}
}

func (c *ProfileCache) fetch(ctx context.Context, token string, generation uint64) (*models.Profile, error) {
	profile, err := c.fetcher.FetchProfile(ctx, token)
	if err != nil {
		if errors.Is(err, services.ErrUnauthenticated) {
			c.logger.Info("profile fetch rejected the token, clearing session")
			c.clearIf(generation)
		} else {
			c.logger.Warn("profile fetch failed, using default role",
				zap.String("default_role", string(c.defaultRole)),
				zap.Error(err))
		}
		return nil, err
	}
	if profile == nil {
		c.logger.Warn("profile fetch returned no profile, using default role")
		return nil, services.ErrUserNotFound
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != generation {
		c.logger.Debug("discarding profile fetched for a replaced token")
		return profile, nil
	}
	c.profile = profile
	c.role = profile.Role
	if c.role == "" {
		c.role = c.defaultRole
	}
	return profile, nil
}

// Role returns the cached role, loading the profile when needed. Without a
// profile the default role is returned and nothing is cached.
func (c *ProfileCache) Role(ctx context.Context) (models.Role, error) {
	c.mu.Lock()
	role := c.role
	c.mu.Unlock()
	if role != "" {
		return role, nil
	}

	profile, err := c.GetProfile(ctx)
	if err != nil {
		return "", err
	}
	if profile == nil || profile.Role == "" {
		return c.defaultRole, nil
	}
	return profile.Role, nil
}

// Token returns the stored access token
func (c *ProfileCache) Token() string {
	return c.tokens.Token()
}

// SetToken stores a new access token and drops the cached profile
func (c *ProfileCache) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens.SetToken(token)
	c.invalidateLocked()
}

// Invalidate drops the cached profile and role
func (c *ProfileCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidateLocked()
}

// Clear drops the cached profile and role and removes the stored token
func (c *ProfileCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens.RemoveToken()
	c.invalidateLocked()
}

// clearIf clears the session unless the token was replaced since generation
func (c *ProfileCache) clearIf(generation uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != generation {
		return
	}
	c.tokens.RemoveToken()
	c.invalidateLocked()
}

func (c *ProfileCache) invalidateLocked() {
	c.generation++
	c.profile = nil
	c.role = ""
}

// Snapshot returns the current token, profile and role
func (c *ProfileCache) Snapshot() CachedSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CachedSession{
		Token:   c.tokens.Token(),
		Profile: c.profile,
		Role:    c.role,
	}
}

// Subscribe keeps the cache in step with the identity provider: sign-in and
// token refresh store the new token, sign-out clears everything.
func (c *ProfileCache) Subscribe(events *AuthEvents) error {
	return events.Subscribe(c.handleAuthStateChange)
}

func (c *ProfileCache) handleAuthStateChange(change AuthStateChange) {
	switch change.Event {
	case EventSignedIn, EventTokenRefreshed:
		if change.Session == nil {
			return
		}
		c.logger.Debug("auth state changed, refreshing token", zap.String("event", string(change.Event)))
		c.SetToken(change.Session.AccessToken)
	case EventSignedOut:
		c.logger.Debug("signed out, clearing session")
		c.Clear()
	}
}
