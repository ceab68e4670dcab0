package client

import (
	"context"
	"fmt"

	"github.com/upb/arca-auth/models"
	"go.uber.org/zap"
)

// State is a step of a single guard evaluation
type State int

const (
	StateIdle State = iota
	StateCheckingSession
	StateCheckingRole
	StateAllowed
	StateDeniedRedirectSignin
	StateDeniedRedirectHome
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateCheckingSession:
		return "CheckingSession"
	case StateCheckingRole:
		return "CheckingRole"
	case StateAllowed:
		return "Allowed"
	case StateDeniedRedirectSignin:
		return "DeniedRedirectSignin"
	case StateDeniedRedirectHome:
		return "DeniedRedirectHome"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Default redirect targets
const (
	DefaultSigninPath = "/signin"
	DefaultHomePath   = "/home"
)

// RouteMeta holds the access requirements of a route
type RouteMeta struct {
	RequiresAuth  bool
	RequiresGuest bool
	// RequiredRole, when set, must equal the user's role exactly
	RequiredRole models.Role
}

// Route is a navigation target
type Route struct {
	Path    string
	Pattern string
	Params  map[string]string
	Meta    RouteMeta
}

// Decision is the outcome of a guard evaluation
type Decision struct {
	State    State
	Redirect string
	Route    Route
	Trace    []State
	Err      error
}

// Allowed reports whether navigation may proceed
func (d Decision) Allowed() bool {
	return d.State == StateAllowed
}

// SessionProvider returns the identity provider's current session, or nil
// when there is none
type SessionProvider interface {
	CurrentSession(ctx context.Context) (*Session, error)
}

// GuardConfig configures a Guard. Empty paths use the defaults.
type GuardConfig struct {
	SigninPath string
	HomePath   string
	Routes     *RouteTable
}

// Guard decides every navigation from the current session and the cached role.
// It keeps no state between evaluations besides the ProfileCache.
type Guard struct {
	sessions   SessionProvider
	cache      *ProfileCache
	routes     *RouteTable
	signinPath string
	homePath   string
	logger     *zap.Logger
}

// NewGuard creates a navigation guard
func NewGuard(sessions SessionProvider, cache *ProfileCache, cfg GuardConfig, logger *zap.Logger) *Guard {
	g := &Guard{
		sessions:   sessions,
		cache:      cache,
		routes:     cfg.Routes,
		signinPath: cfg.SigninPath,
		homePath:   cfg.HomePath,
		logger:     logger,
	}
	if g.signinPath == "" {
		g.signinPath = DefaultSigninPath
	}
	if g.homePath == "" {
		g.homePath = DefaultHomePath
	}
	return g
}

// evaluation records the states visited by one Evaluate call
type evaluation struct {
	route Route
	trace []State
}

func (e *evaluation) enter(s State) {
	e.trace = append(e.trace, s)
}

func (e *evaluation) finish(s State, redirect string, err error) Decision {
	e.enter(s)
	return Decision{State: s, Redirect: redirect, Route: e.route, Trace: e.trace, Err: err}
}

// Evaluate runs the guard for a navigation to route
func (g *Guard) Evaluate(ctx context.Context, to Route) Decision {
	e := &evaluation{route: to}
	e.enter(StateIdle)
	e.enter(StateCheckingSession)

	session, err := g.sessions.CurrentSession(ctx)
	if err != nil {
		return g.failClosed(e, fmt.Errorf("session check failed: %w", err))
	}
	authenticated := session != nil && g.cache.Token() != "" && session.User.EmailVerified

	switch {
	case to.Meta.RequiresAuth:
		if !authenticated {
			g.logger.Debug("not authenticated, redirecting to sign-in", zap.String("path", to.Path))
			g.cache.Clear()
			return e.finish(StateDeniedRedirectSignin, g.signinPath, nil)
		}
		if to.Meta.RequiredRole == "" {
			return e.finish(StateAllowed, "", nil)
		}

		e.enter(StateCheckingRole)
		role, err := g.cache.Role(ctx)
		if err != nil {
			return g.failClosed(e, fmt.Errorf("role check failed: %w", err))
		}
		if role != to.Meta.RequiredRole {
			g.logger.Debug("role denied",
				zap.String("path", to.Path),
				zap.String("role", string(role)),
				zap.String("required_role", string(to.Meta.RequiredRole)))
			return e.finish(StateDeniedRedirectHome, g.homePath, nil)
		}
		return e.finish(StateAllowed, "", nil)

	case to.Meta.RequiresGuest && authenticated:
		return e.finish(StateDeniedRedirectHome, g.homePath, nil)

	default:
		return e.finish(StateAllowed, "", nil)
	}
}

func (g *Guard) failClosed(e *evaluation, err error) Decision {
	g.logger.Warn("navigation guard failed, redirecting to sign-in",
		zap.String("path", e.route.Path),
		zap.Error(err))
	g.cache.Clear()
	return e.finish(StateDeniedRedirectSignin, g.signinPath, err)
}

// Navigate resolves path against the route table, following redirects, and
// evaluates the resulting route
func (g *Guard) Navigate(ctx context.Context, path string) Decision {
	if g.routes == nil {
		return g.Evaluate(ctx, Route{Path: path})
	}
	route, err := g.routes.Resolve(path)
	if err != nil {
		e := &evaluation{route: Route{Path: path}}
		e.enter(StateIdle)
		return g.failClosed(e, err)
	}
	return g.Evaluate(ctx, route)
}
