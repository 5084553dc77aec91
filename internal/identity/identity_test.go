package identity

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silvanus-labs/greenchain/internal/apperr"
)

type grantMap map[string]*Grant

func (m grantMap) FindByAccessToken(_ context.Context, token string) (*Grant, error) {
	return m[token], nil
}

type failingFinder struct{}

func (failingFinder) FindByAccessToken(context.Context, string) (*Grant, error) {
	return nil, errors.New("database is locked")
}

func TestClassifyTier(t *testing.T) {
	tests := []struct {
		key  string
		want Tier
	}{
		{"admin-test-key-1234567890", TierAdmin},
		{"basickey123", TierBasic},
		{"myADMINkey", TierAdmin},
		{"premiumkey123456", TierPremium},
		{"abcdefghijklmnopq", TierBasic},
		{"1234567890123456", TierBasic},
		{"abcdefghij1234567890", TierPremium},
		{"abcdefghij12345678901", TierAdmin},
		// 12 characters, 20 bytes.
		{"ключключ1234", TierBasic},
		// 17 characters, 29 bytes.
		{"ключключключ12345", TierPremium},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyTier(tt.key))
		})
	}
}

func TestResolveAPIKey(t *testing.T) {
	r := NewResolver([]string{"basickey123", "admin-test-key-1234567890"}, nil)

	id, err := r.Resolve(context.Background(), Credentials{APIKey: "admin-test-key-1234567890"})
	require.NoError(t, err)
	key, ok := id.(APIKey)
	require.True(t, ok)
	assert.Equal(t, TierAdmin, key.Tier())
	assert.NotContains(t, key.Subject(), "1234567890")

	_, err = r.Resolve(context.Background(), Credentials{APIKey: "unknown-key"})
	assert.True(t, apperr.IsAuthorization(err))
}

func TestResolveWithoutCredentials(t *testing.T) {
	r := NewResolver([]string{"basickey123"}, nil)

	_, err := r.Resolve(context.Background(), Credentials{})
	assert.True(t, apperr.IsAuthentication(err))
}

func TestResolveBearer(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	grants := grantMap{
		"live":    {ID: "g1", WalletAddress: "0xabc", Provider: "github", ExpiresAt: now.Add(time.Hour)},
		"expired": {ID: "g2", WalletAddress: "0xdef", Provider: "github", ExpiresAt: now},
	}
	r := NewResolver([]string{"basickey123"}, grants, WithClock(func() time.Time { return now }))

	id, err := r.Resolve(context.Background(), Credentials{BearerToken: "live"})
	require.NoError(t, err)
	p, ok := id.(OAuthPrincipal)
	require.True(t, ok)
	assert.Equal(t, "0xabc", p.WalletAddress)
	assert.True(t, p.HasScope(ScopeWrite))
	assert.True(t, p.HasScope(ScopeRead))
	assert.Equal(t, TierBasic, p.Tier())

	_, err = r.Resolve(context.Background(), Credentials{BearerToken: "expired"})
	assert.True(t, apperr.IsAuthentication(err))

	_, err = r.Resolve(context.Background(), Credentials{BearerToken: "nope"})
	assert.True(t, apperr.IsAuthentication(err))
}

func TestBearerTakesPrecedence(t *testing.T) {
	r := NewResolver([]string{"basickey123"}, grantMap{})

	_, err := r.Resolve(context.Background(), Credentials{APIKey: "basickey123", BearerToken: "stale"})
	assert.True(t, apperr.IsAuthentication(err), "a bad bearer token must not fall back to the API key")
}

func TestResolveBearerStoreFailure(t *testing.T) {
	r := NewResolver(nil, failingFinder{})

	_, err := r.Resolve(context.Background(), Credentials{BearerToken: "x"})
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
}

func TestCredentialsFromRequest(t *testing.T) {
	req := httptest.NewRequest("POST", "/v1/activities/submit", nil)
	req.Header.Set("X-API-Key", " basickey123 ")
	req.Header.Set("Authorization", "bearer tok-1")

	c := CredentialsFromRequest(req)
	assert.Equal(t, "basickey123", c.APIKey)
	assert.Equal(t, "tok-1", c.BearerToken)

	req.Header.Set("Authorization", "Basic Zm9vOmJhcg==")
	assert.Empty(t, CredentialsFromRequest(req).BearerToken)
}
