package identity

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/silvanus-labs/greenchain/internal/apperr"
)

// HeaderAPIKey carries an allow-listed API key.
const HeaderAPIKey = "X-API-Key"

// Credentials are the raw values presented by a caller.
type Credentials struct {
	APIKey      string
	BearerToken string
}

// CredentialsFromRequest extracts the X-API-Key header and an
// "Authorization: Bearer" token.
func CredentialsFromRequest(r *http.Request) Credentials {
	var c Credentials
	c.APIKey = strings.TrimSpace(r.Header.Get(HeaderAPIKey))
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			c.BearerToken = strings.TrimSpace(token)
		}
	}
	return c
}

// Grant is the subset of a stored OAuth token grant needed to authenticate
// its bearer token.
type Grant struct {
	ID            string
	WalletAddress string
	Provider      string
	ExpiresAt     time.Time
}

// GrantFinder looks up the grant owning an access token. It returns
// (nil, nil) when no grant matches.
type GrantFinder interface {
	FindByAccessToken(ctx context.Context, accessToken string) (*Grant, error)
}

// Resolver turns credentials into an Identity.
type Resolver struct {
	keys   [][]byte
	grants GrantFinder
	now    func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock overrides the clock used for grant expiry checks.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// NewResolver creates a resolver over an API-key allow-list and a grant
// store. grants may be nil, in which case every bearer token is rejected.
func NewResolver(apiKeys []string, grants GrantFinder, opts ...Option) *Resolver {
	r := &Resolver{grants: grants, now: time.Now}
	for _, k := range apiKeys {
		if k != "" {
			r.keys = append(r.keys, []byte(k))
		}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve authenticates creds. A bearer token takes precedence over an API
// key when both are present.
func (r *Resolver) Resolve(ctx context.Context, creds Credentials) (Identity, error) {
	if creds.BearerToken != "" {
		return r.resolveBearer(ctx, creds.BearerToken)
	}
	if creds.APIKey != "" {
		if !r.allowed(creds.APIKey) {
			return nil, apperr.NewAuthorization("Invalid API key")
		}
		return NewAPIKey(creds.APIKey), nil
	}
	return nil, apperr.NewAuthentication("API key or bearer token required")
}

func (r *Resolver) resolveBearer(ctx context.Context, token string) (Identity, error) {
	if r.grants == nil {
		return nil, apperr.NewAuthentication("Invalid or expired token")
	}
	g, err := r.grants.FindByAccessToken(ctx, token)
	if err != nil {
		return nil, apperr.NewInternal("grant lookup failed", err)
	}
	if g == nil || !r.now().Before(g.ExpiresAt) {
		return nil, apperr.NewAuthentication("Invalid or expired token")
	}
	return OAuthPrincipal{
		GrantID:       g.ID,
		WalletAddress: g.WalletAddress,
		Provider:      g.Provider,
		Scopes:        append([]string(nil), DefaultScopes...),
		ExpiresAt:     g.ExpiresAt,
	}, nil
}

func (r *Resolver) allowed(key string) bool {
	presented := []byte(key)
	match := 0
	for _, k := range r.keys {
		match |= subtle.ConstantTimeCompare(k, presented)
	}
	return match == 1
}
