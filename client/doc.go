// Package client holds the browser-side half of the sign-in flow expressed as
// a Go library: token storage, the auth state event bus, the session scoped
// profile/role cache and the navigation guard that consults it.
package client
