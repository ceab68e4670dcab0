package supabase

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/upb/arca-auth/models"
	"github.com/upb/arca-auth/services"
)

const (
	// DefaultClockSkew absorbs clock drift between the issuer and this service
	DefaultClockSkew = 5 * time.Minute

	defaultCacheTTL    = time.Hour
	defaultHTTPTimeout = 10 * time.Second
)

var (
	// errJWKSFetchFailed is returned when the JWKS endpoint cannot be reached
	errJWKSFetchFailed = errors.New("failed to fetch JWKS")

	// errKeyNotFound is returned when no JWKS key matches the token kid
	errKeyNotFound = errors.New("signing key not found")

	// errNoKeyMaterial is returned when the token algorithm has no configured key
	errNoKeyMaterial = errors.New("no key material for signing method")
)

// JWKS represents the JSON Web Key Set
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK represents a JSON Web Key
type JWK struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
}

// Config holds configuration for Validator
type Config struct {
	// Issuer must match the iss claim exactly, e.g. https://<ref>.supabase.co/auth/v1
	Issuer string
	// JWTSecret verifies HS256 tokens
	JWTSecret string
	// JWKSURL enables RS256/ES256 verification against the issuer key set
	JWKSURL     string
	ClockSkew   time.Duration
	CacheTTL    time.Duration
	HTTPTimeout time.Duration
}

// Validator validates access tokens issued by Supabase Auth (GoTrue).
//
// Audience is deliberately not validated: tokens are accepted regardless of
// their aud claim.
type Validator struct {
	issuer     string
	secret     []byte
	jwksURL    string
	leeway     time.Duration
	httpClient *http.Client
	methods    []string
	now        func() time.Time

	// Cache for JWKS
	jwksCache    *JWKS
	jwksCacheExp time.Time
	jwksCacheTTL time.Duration
	cacheMu      sync.RWMutex

	// Cache for parsed public keys
	keyCache   map[string]interface{}
	keyCacheMu sync.RWMutex
}

// NewValidator creates a token validator
func NewValidator(config Config) (*Validator, error) {
	if config.Issuer == "" {
		return nil, fmt.Errorf("issuer is required")
	}
	if config.JWTSecret == "" && config.JWKSURL == "" {
		return nil, fmt.Errorf("either a JWT secret or a JWKS URL is required")
	}
	if config.ClockSkew == 0 {
		config.ClockSkew = DefaultClockSkew
	}
	if config.CacheTTL == 0 {
		config.CacheTTL = defaultCacheTTL
	}
	if config.HTTPTimeout == 0 {
		config.HTTPTimeout = defaultHTTPTimeout
	}

	v := &Validator{
		issuer:       config.Issuer,
		jwksURL:      config.JWKSURL,
		leeway:       config.ClockSkew,
		jwksCacheTTL: config.CacheTTL,
		httpClient: &http.Client{
			Timeout: config.HTTPTimeout,
		},
		now:      time.Now,
		keyCache: make(map[string]interface{}),
	}
	if config.JWTSecret != "" {
		v.secret = []byte(config.JWTSecret)
		v.methods = append(v.methods, jwt.SigningMethodHS256.Alg())
	}
	if config.JWKSURL != "" {
		v.methods = append(v.methods, jwt.SigningMethodRS256.Alg(), jwt.SigningMethodES256.Alg())
	}
	return v, nil
}

// ValidateToken verifies signature, issuer and expiry and returns the caller identity
func (v *Validator) ValidateToken(ctx context.Context, tokenString string) (*models.Identity, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, services.ErrUnauthenticated
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(v.methods),
		jwt.WithIssuer(v.issuer),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)

	claims := &Claims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return v.keyFor(ctx, token)
	})
	if err != nil {
		return nil, classify(err)
	}
	if !token.Valid {
		return nil, services.ErrUnauthenticated
	}

	return claims.ToIdentity(), nil
}

// classify maps jwt parser errors onto the authentication error taxonomy
func classify(err error) error {
	switch {
	case errors.Is(err, errJWKSFetchFailed):
		return services.ErrUnavailable.Wrap(err)
	case errors.Is(err, errKeyNotFound), errors.Is(err, errNoKeyMaterial):
		return services.ErrInvalidSignature.Wrap(err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return services.ErrUnauthenticated.Wrap(err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return services.ErrInvalidSignature.Wrap(err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return services.ErrTokenExpired.Wrap(err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return services.ErrIssuerMismatch.Wrap(err)
	default:
		return services.ErrUnauthenticated.Wrap(err)
	}
}

// keyFor returns the verification key for the token's signing method
func (v *Validator) keyFor(ctx context.Context, token *jwt.Token) (interface{}, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodHMAC:
		if len(v.secret) == 0 {
			return nil, errNoKeyMaterial
		}
		return v.secret, nil
	case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA:
		if v.jwksURL == "" {
			return nil, errNoKeyMaterial
		}
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, fmt.Errorf("%w: kid header not found", errKeyNotFound)
		}
		return v.getPublicKey(ctx, kid)
	default:
		return nil, fmt.Errorf("%w: %v", errNoKeyMaterial, token.Header["alg"])
	}
}

// FetchJWKS fetches the JWKS from the issuer
func (v *Validator) FetchJWKS(ctx context.Context) (*JWKS, error) {
	// Check cache first
	v.cacheMu.RLock()
	if v.jwksCache != nil && v.now().Before(v.jwksCacheExp) {
		defer v.cacheMu.RUnlock()
		return v.jwksCache, nil
	}
	v.cacheMu.RUnlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errJWKSFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status code %d", errJWKSFetchFailed, resp.StatusCode)
	}

	var jwks JWKS
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", errJWKSFetchFailed, err)
	}

	v.cacheMu.Lock()
	v.jwksCache = &jwks
	v.jwksCacheExp = v.now().Add(v.jwksCacheTTL)
	v.cacheMu.Unlock()

	return &jwks, nil
}

// getPublicKey retrieves the public key for a given kid
func (v *Validator) getPublicKey(ctx context.Context, kid string) (interface{}, error) {
	v.keyCacheMu.RLock()
	if key, exists := v.keyCache[kid]; exists {
		v.keyCacheMu.RUnlock()
		return key, nil
	}
	v.keyCacheMu.RUnlock()

	jwks, err := v.FetchJWKS(ctx)
	if err != nil {
		return nil, err
	}

	var jwk *JWK
	for i := range jwks.Keys {
		if jwks.Keys[i].Kid == kid {
			jwk = &jwks.Keys[i]
			break
		}
	}
	if jwk == nil {
		return nil, fmt.Errorf("%w: kid %s", errKeyNotFound, kid)
	}

	publicKey, err := jwk.publicKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errKeyNotFound, err)
	}

	v.keyCacheMu.Lock()
	v.keyCache[kid] = publicKey
	v.keyCacheMu.Unlock()

	return publicKey, nil
}

// publicKey converts the JWK to an RSA or ECDSA public key
func (k *JWK) publicKey() (interface{}, error) {
	switch k.Kty {
	case "RSA":
		nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			return nil, fmt.Errorf("failed to decode modulus: %w", err)
		}
		eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			return nil, fmt.Errorf("failed to decode exponent: %w", err)
		}
		var e int
		for _, b := range eBytes {
			e = e*256 + int(b)
		}
		return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: e}, nil
	case "EC":
		if k.Crv != "P-256" {
			return nil, fmt.Errorf("unsupported curve %q", k.Crv)
		}
		xBytes, err := base64.RawURLEncoding.DecodeString(k.X)
		if err != nil {
			return nil, fmt.Errorf("failed to decode x: %w", err)
		}
		yBytes, err := base64.RawURLEncoding.DecodeString(k.Y)
		if err != nil {
			return nil, fmt.Errorf("failed to decode y: %w", err)
		}
		return &ecdsa.PublicKey{
			Curve: elliptic.P256(),
			X:     new(big.Int).SetBytes(xBytes),
			Y:     new(big.Int).SetBytes(yBytes),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported key type %q", k.Kty)
	}
}

// InvalidateCache invalidates the JWKS cache (useful for key rotation)
func (v *Validator) InvalidateCache() {
	v.cacheMu.Lock()
	defer v.cacheMu.Unlock()
	v.jwksCache = nil
	v.jwksCacheExp = time.Time{}

	v.keyCacheMu.Lock()
	defer v.keyCacheMu.Unlock()
	v.keyCache = make(map[string]interface{})
}
