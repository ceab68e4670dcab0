package models

// Identity is the caller identity extracted from a validated access token.
// It is derived per request and never persisted.
type Identity struct {
	Subject       string
	Email         string
	DisplayName   string
	EmailVerified bool
}
