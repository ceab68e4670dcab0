package supabase

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/upb/arca-auth/models"
)

// Claims represents the claims of a GoTrue access token
type Claims struct {
	jwt.RegisteredClaims
	Email            string       `json:"email"`
	EmailVerified    flexBool     `json:"email_verified"`
	Name             string       `json:"name"`
	Role             string       `json:"role"`
	EmailConfirmedAt string       `json:"email_confirmed_at,omitempty"`
	ConfirmedAt      string       `json:"confirmed_at,omitempty"`
	UserMetadata     UserMetadata `json:"user_metadata"`
}

// UserMetadata holds the provider supplied profile attributes
type UserMetadata struct {
	FullName      string   `json:"full_name"`
	Name          string   `json:"name"`
	EmailVerified flexBool `json:"email_verified"`
}

// ToIdentity extracts the caller identity from the claims
func (c *Claims) ToIdentity() *models.Identity {
	return &models.Identity{
		Subject:       c.Subject,
		Email:         strings.TrimSpace(c.Email),
		DisplayName:   c.displayName(),
		EmailVerified: c.emailVerified(),
	}
}

func (c *Claims) displayName() string {
	for _, candidate := range []string{c.Name, c.UserMetadata.FullName, c.UserMetadata.Name} {
		if s := strings.TrimSpace(candidate); s != "" {
			return s
		}
	}
	return ""
}

// emailVerified accepts the top level claim, the OAuth provider metadata flag,
// or a confirmation timestamp.
func (c *Claims) emailVerified() bool {
	return bool(c.EmailVerified) ||
		bool(c.UserMetadata.EmailVerified) ||
		c.EmailConfirmedAt != "" ||
		c.ConfirmedAt != ""
}

// flexBool decodes JSON booleans that some providers emit as strings.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	s := strings.ToLower(strings.Trim(string(data), `"`))
	switch s {
	case "true":
		*b = true
	case "false", "null", "":
		*b = false
	default:
		return fmt.Errorf("invalid boolean claim value %s", string(data))
	}
	return nil
}

func (b flexBool) MarshalJSON() ([]byte, error) {
	if b {
		return []byte("true"), nil
	}
	return []byte("false"), nil
}
