// Package identity resolves request credentials into a caller identity.
package identity

import (
	"slices"
	"time"

	"github.com/silvanus-labs/greenchain/internal/util"
)

// Scopes granted to every OAuth principal.
const (
	ScopeRead  = "read"
	ScopeWrite = "write"
)

// DefaultScopes are attached to principals resolved from a bearer token.
var DefaultScopes = []string{ScopeRead, ScopeWrite}

// Identity is either an APIKey or an OAuthPrincipal.
type Identity interface {
	// Subject is a loggable, non-secret description of the caller.
	Subject() string
	// Tier returns the caller's tier.
	Tier() Tier

	sealed()
}

// APIKey is a caller authenticated by an allow-listed key.
type APIKey struct {
	Key  string
	tier Tier
}

// NewAPIKey returns an APIKey identity with its tier classified.
func NewAPIKey(key string) APIKey {
	return APIKey{Key: key, tier: ClassifyTier(key)}
}

func (k APIKey) Subject() string { return "apikey:" + util.MaskSecret(k.Key) }
func (k APIKey) Tier() Tier      { return k.tier }
func (APIKey) sealed()           {}

// OAuthPrincipal is a caller authenticated by a bearer token issued through
// a linked OAuth grant.
type OAuthPrincipal struct {
	GrantID       string
	WalletAddress string
	Provider      string
	Scopes        []string
	ExpiresAt     time.Time
}

func (p OAuthPrincipal) Subject() string { return "oauth:" + p.Provider + ":" + p.WalletAddress }

// Tier is always basic for OAuth principals.
func (p OAuthPrincipal) Tier() Tier { return TierBasic }
func (OAuthPrincipal) sealed()      {}

// HasScope reports whether the principal was granted scope.
func (p OAuthPrincipal) HasScope(scope string) bool {
	return slices.Contains(p.Scopes, scope)
}
