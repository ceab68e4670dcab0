// Package observability builds the structured zap logger shared by every
// component of the auth service.
package observability
