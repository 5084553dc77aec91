package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silvanus-labs/greenchain/internal/activity"
	"github.com/silvanus-labs/greenchain/internal/apperr"
	"github.com/silvanus-labs/greenchain/internal/identity"
)

const wallet = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

func act(v float64) activity.Activity {
	return activity.Activity{WalletAddress: wallet, Type: activity.SolarExport, Value: v}
}

func TestAuthorizeRequiresValidate(t *testing.T) {
	g := New(identity.NewAPIKey("admin-test-key-1234567890"), act(5))

	_, err := g.Authorize()
	assert.True(t, apperr.IsValidation(err))

	require.NoError(t, g.Validate())
	auth, err := g.Authorize()
	require.NoError(t, err)
	assert.True(t, auth.Valid())
	assert.Equal(t, 5.0, auth.Activity().Value)
}

func TestAuthorizeIsSingleUse(t *testing.T) {
	g := New(identity.NewAPIKey("admin-test-key-1234567890"), act(5))
	require.NoError(t, g.Validate())
	_, err := g.Authorize()
	require.NoError(t, err)

	_, err = g.Authorize()
	assert.True(t, apperr.IsValidation(err))
}

func TestFailedValidateDoesNotAuthorize(t *testing.T) {
	g := New(identity.NewAPIKey("admin-test-key-1234567890"), act(10000.5))

	assert.True(t, apperr.IsValidation(g.Validate()))
	_, err := g.Authorize()
	assert.True(t, apperr.IsValidation(err))
}

func TestTierCeiling(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value float64
		want  apperr.Kind
	}{
		{"basic over ceiling", "basickey123", 100.01, apperr.KindAuthorization},
		{"basic at ceiling", "basickey123", 100.0, ""},
		{"admin large", "admin-test-key-1234567890", 9999, ""},
		{"premium over basic ceiling", "premiumkey123456", 500, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New(identity.NewAPIKey(tt.key), act(tt.value))
			require.NoError(t, g.Validate())
			_, err := g.Authorize()
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.want, apperr.KindOf(err))
		})
	}
}

func TestOAuthPrincipalPolicy(t *testing.T) {
	p := identity.OAuthPrincipal{
		Provider:      "solaredge",
		WalletAddress: wallet,
		Scopes:        identity.DefaultScopes,
	}

	g := New(p, act(50))
	require.NoError(t, g.Validate())
	_, err := g.Authorize()
	require.NoError(t, err)

	other := act(50)
	other.WalletAddress = "0x0000000000000000000000000000000000000001"
	g = New(p, other)
	require.NoError(t, g.Validate())
	_, err = g.Authorize()
	assert.True(t, apperr.IsAuthorization(err))

	readOnly := p
	readOnly.Scopes = []string{identity.ScopeRead}
	g = New(readOnly, act(50))
	require.NoError(t, g.Validate())
	_, err = g.Authorize()
	assert.True(t, apperr.IsAuthorization(err))

	g = New(p, act(150))
	require.NoError(t, g.Validate())
	_, err = g.Authorize()
	assert.True(t, apperr.IsAuthorization(err), "oauth principals are capped like basic keys")
}

func TestZeroAuthorizationIsInvalid(t *testing.T) {
	assert.False(t, Authorization{}.Valid())
}
