package token

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"gorm.io/gorm"

	"github.com/silvanus-labs/greenchain/internal/db"
	"github.com/silvanus-labs/greenchain/internal/db/models"
	"github.com/silvanus-labs/greenchain/internal/oauth"
)

type fakeProvider struct {
	name  string
	calls int
	resp  *oauth.TokenResponse
	err   error
	// during runs inside Refresh, before it answers.
	during func()
	sent   []string
}

func (p *fakeProvider) Name() string { return p.name }
func (p *fakeProvider) Login(context.Context, string, string) (*oauth.Login, error) {
	return nil, errors.New("not used")
}
func (p *fakeProvider) Exchange(context.Context, string, string, string, string) (*oauth.TokenResponse, error) {
	return nil, errors.New("not used")
}
func (p *fakeProvider) Refresh(_ context.Context, rt string) (*oauth.TokenResponse, error) {
	p.calls++
	p.sent = append(p.sent, rt)
	if p.during != nil {
		p.during()
	}
	return p.resp, p.err
}

func newTestTokenDB(t *testing.T) *db.GrantStore {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))
	return db.NewGrantStore(gdb)
}

func TestRefreshExpiringUpdatesGrant(t *testing.T) {
	store := newTestTokenDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	due := &models.OAuthGrant{WalletAddress: "0x1", Provider: "solaredge", AccessToken: "old", RefreshToken: "r1", ExpiresAt: now.Add(5 * time.Minute)}
	fresh := &models.OAuthGrant{WalletAddress: "0x2", Provider: "solaredge", AccessToken: "keep", RefreshToken: "r2", ExpiresAt: now.Add(3 * time.Hour)}
	require.NoError(t, store.Save(ctx, due))
	require.NoError(t, store.Save(ctx, fresh))

	provider := &fakeProvider{name: "solaredge", resp: &oauth.TokenResponse{AccessToken: "new", RefreshToken: "r1-rotated", Expiry: now.Add(time.Hour)}}
	m := NewManager(store, oauth.NewRegistry(provider), zap.NewNop())

	n, err := m.RefreshExpiring(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, provider.calls)

	g, err := store.Get(ctx, due.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", g.AccessToken)
	assert.Equal(t, "r1-rotated", g.RefreshToken)

	g, err = store.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, "keep", g.AccessToken)
}

func TestPermanentFailureDeletesGrant(t *testing.T) {
	store := newTestTokenDB(t)
	ctx := context.Background()

	g := &models.OAuthGrant{WalletAddress: "0x3", Provider: "github", AccessToken: "a", RefreshToken: "r", ExpiresAt: time.Now().Add(time.Minute)}
	require.NoError(t, store.Save(ctx, g))

	provider := &fakeProvider{name: "github", err: &oauth2.RetrieveError{ErrorCode: "invalid_grant"}}
	m := NewManager(store, oauth.NewRegistry(provider), zap.NewNop())

	n, err := m.RefreshExpiring(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := store.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestTransientFailureKeepsGrant(t *testing.T) {
	store := newTestTokenDB(t)
	ctx := context.Background()

	g := &models.OAuthGrant{WalletAddress: "0x4", Provider: "github", AccessToken: "a", RefreshToken: "r", ExpiresAt: time.Now().Add(time.Minute)}
	require.NoError(t, store.Save(ctx, g))

	provider := &fakeProvider{name: "github", err: context.DeadlineExceeded}
	m := NewManager(store, oauth.NewRegistry(provider), zap.NewNop())

	_, err := m.EnsureFresh(ctx, g.ID)
	require.Error(t, err)

	got, err := store.Get(ctx, g.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "a", got.AccessToken)
}

func TestEnsureFreshSkipsValidGrant(t *testing.T) {
	store := newTestTokenDB(t)
	ctx := context.Background()

	g := &models.OAuthGrant{WalletAddress: "0x5", Provider: "github", AccessToken: "a", RefreshToken: "r", ExpiresAt: time.Now().Add(2 * time.Hour)}
	require.NoError(t, store.Save(ctx, g))

	provider := &fakeProvider{name: "github"}
	m := NewManager(store, oauth.NewRegistry(provider), zap.NewNop())

	got, err := m.EnsureFresh(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", got.AccessToken)
	assert.Zero(t, provider.calls)
}

// staleList serves the expiring list as it was before another process
// rotated the grant.
type staleList struct {
	*db.GrantStore
	snapshot []models.OAuthGrant
}

func (s staleList) ListExpiringBefore(context.Context, time.Time) ([]models.OAuthGrant, error) {
	return s.snapshot, nil
}

func TestRefreshSkipsGrantRotatedSinceListed(t *testing.T) {
	store := newTestTokenDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	g := &models.OAuthGrant{WalletAddress: "0x6", Provider: "solaredge", AccessToken: "a1", RefreshToken: "rt1", ExpiresAt: now.Add(5 * time.Minute)}
	require.NoError(t, store.Save(ctx, g))
	snapshot := *g

	// The other process already spent rt1.
	require.NoError(t, store.UpdateTokens(ctx, g.ID, "a2", "rt2", now.Add(time.Hour)))

	provider := &fakeProvider{name: "solaredge", err: &oauth2.RetrieveError{ErrorCode: "invalid_grant"}}
	m := NewManager(staleList{store, []models.OAuthGrant{snapshot}}, oauth.NewRegistry(provider), zap.NewNop())

	n, err := m.RefreshExpiring(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, provider.calls)

	got, err := store.Get(ctx, g.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "rt2", got.RefreshToken)
}

func TestRejectedRefreshKeepsGrantRotatedMeanwhile(t *testing.T) {
	store := newTestTokenDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	g := &models.OAuthGrant{WalletAddress: "0x7", Provider: "solaredge", AccessToken: "a1", RefreshToken: "rt1", ExpiresAt: now.Add(5 * time.Minute)}
	require.NoError(t, store.Save(ctx, g))

	provider := &fakeProvider{name: "solaredge", err: &oauth2.RetrieveError{ErrorCode: "invalid_grant"}}
	provider.during = func() {
		// The other process wins the race at the token endpoint.
		require.NoError(t, store.UpdateTokens(ctx, g.ID, "a2", "rt2", now.Add(time.Hour)))
	}
	m := NewManager(store, oauth.NewRegistry(provider), zap.NewNop())

	got, err := m.EnsureFresh(ctx, g.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "a2", got.AccessToken)
	assert.Equal(t, []string{"rt1"}, provider.sent)

	stored, err := store.Get(ctx, g.ID)
	require.NoError(t, err)
	require.NotNil(t, stored, "a grant rotated elsewhere is not deleted")
	assert.Equal(t, "rt2", stored.RefreshToken)
}

func TestIsPermanentRefreshError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		permanent bool
	}{
		{name: "invalid grant", err: assertErr("oauth2: cannot fetch token: 400 Bad Request {\"error\":\"invalid_grant\"}"), permanent: true},
		{name: "revoked", err: assertErr("token has been expired or revoked"), permanent: true},
		{name: "retrieve error", err: &oauth2.RetrieveError{ErrorCode: "unauthorized_client"}, permanent: true},
		{name: "timeout", err: assertErr("context deadline exceeded"), permanent: false},
		{name: "temporary", err: assertErr("temporarily_unavailable"), permanent: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := isPermanentRefreshError(tt.err)
			if got != tt.permanent {
				t.Fatalf("expected %v, got %v", tt.permanent, got)
			}
		})
	}
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
