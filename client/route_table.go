package client

import (
	"errors"
	"fmt"
	"strings"

	"github.com/upb/arca-auth/models"
)

const maxRedirects = 8

// ErrRedirectLoop is returned when redirects do not settle on a route
var ErrRedirectLoop = errors.New("route redirect loop")

// RouteDef declares a route. Exactly one of Redirect or Meta applies: a
// definition with Redirect set only forwards to another path.
type RouteDef struct {
	Pattern  string
	Redirect string
	Meta     RouteMeta
}

type compiledRoute struct {
	def      RouteDef
	segments []string
}

// RouteTable maps paths to routes. Patterns are matched segment by segment;
// a ":name" segment matches any single non-empty segment. Definitions are
// tried in order and unmatched paths go to the catch-all redirect.
type RouteTable struct {
	routes   []compiledRoute
	catchAll string
}

// NewRouteTable compiles route definitions. catchAll must resolve to a
// declared route.
func NewRouteTable(defs []RouteDef, catchAll string) (*RouteTable, error) {
	t := &RouteTable{catchAll: catchAll}
	seen := make(map[string]bool, len(defs))
	for _, def := range defs {
		if !strings.HasPrefix(def.Pattern, "/") {
			return nil, fmt.Errorf("route pattern %q must start with /", def.Pattern)
		}
		if seen[def.Pattern] {
			return nil, fmt.Errorf("duplicate route pattern %q", def.Pattern)
		}
		seen[def.Pattern] = true
		t.routes = append(t.routes, compiledRoute{def: def, segments: splitPath(def.Pattern)})
	}
	if catchAll != "" {
		if _, ok := t.match(catchAll); !ok {
			return nil, fmt.Errorf("catch-all redirect %q matches no route", catchAll)
		}
	}
	return t, nil
}

// Resolve returns the route for path after following redirects
func (t *RouteTable) Resolve(path string) (Route, error) {
	current := path
	for i := 0; i <= maxRedirects; i++ {
		route, ok := t.match(current)
		if !ok {
			if t.catchAll == "" {
				return Route{}, fmt.Errorf("no route matches %q", current)
			}
			current = t.catchAll
			continue
		}
		if route.def.Redirect != "" {
			current = route.def.Redirect
			continue
		}
		return Route{
			Path:    current,
			Pattern: route.def.Pattern,
			Params:  route.params,
			Meta:    route.def.Meta,
		}, nil
	}
	return Route{}, fmt.Errorf("%w: %s", ErrRedirectLoop, path)
}

type matchedRoute struct {
	def    RouteDef
	params map[string]string
}

func (t *RouteTable) match(path string) (matchedRoute, bool) {
	segments := splitPath(path)
	for _, r := range t.routes {
		if params, ok := matchSegments(r.segments, segments); ok {
			return matchedRoute{def: r.def, params: params}, true
		}
	}
	return matchedRoute{}, false
}

func matchSegments(pattern, path []string) (map[string]string, bool) {
	if len(pattern) != len(path) {
		return nil, false
	}
	var params map[string]string
	for i, seg := range pattern {
		if strings.HasPrefix(seg, ":") {
			if path[i] == "" {
				return nil, false
			}
			if params == nil {
				params = make(map[string]string)
			}
			params[seg[1:]] = path[i]
			continue
		}
		if seg != path[i] {
			return nil, false
		}
	}
	return params, true
}

// splitPath drops the query, fragment and trailing slash
func splitPath(path string) []string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// DefaultRoutes returns the web client's route table. elevatedRole guards
// the database admin page.
func DefaultRoutes(elevatedRole models.Role) []RouteDef {
	auth := RouteMeta{RequiresAuth: true}
	return []RouteDef{
		{Pattern: "/", Redirect: DefaultSigninPath},
		{Pattern: DefaultSigninPath, Meta: RouteMeta{RequiresGuest: true}},
		{Pattern: "/auth/callback"},
		{Pattern: DefaultHomePath, Meta: auth},
		{Pattern: "/foro", Meta: auth},
		{Pattern: "/features", Meta: auth},
		{Pattern: "/pricing", Meta: auth},
		{Pattern: "/info", Meta: auth},
		{Pattern: "/contact", Meta: auth},
		{Pattern: "/nosotros", Meta: auth},
		{Pattern: "/base", Meta: RouteMeta{RequiresAuth: true, RequiredRole: elevatedRole}},
		{Pattern: "/courses", Meta: auth},
		{Pattern: "/my-courses", Meta: auth},
		{Pattern: "/courses/:id", Meta: auth},
	}
}
