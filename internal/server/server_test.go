package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/silvanus-labs/greenchain/internal/activity"
	"github.com/silvanus-labs/greenchain/internal/db"
	"github.com/silvanus-labs/greenchain/internal/identity"
	"github.com/silvanus-labs/greenchain/internal/ledger"
	"github.com/silvanus-labs/greenchain/internal/metrics"
	"github.com/silvanus-labs/greenchain/internal/oauth"
	"github.com/silvanus-labs/greenchain/internal/ratelimit"
	"github.com/silvanus-labs/greenchain/internal/rewards"
)

const (
	adminKey = "admin-test-key-1234567890"
	basicKey = "basickey123"

	rawWallet      = "0X5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"
	checksumWallet = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	otherWallet    = "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"
)

type testEnv struct {
	handler    http.Handler
	grants     *db.GrantStore
	tokenCalls *atomic.Int32
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))
	grants := db.NewGrantStore(gdb)

	calls := &atomic.Int32{}
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  fmt.Sprintf("se-access-%d", n),
			"refresh_token": "se-refresh",
			"token_type":    "bearer",
			"expires_in":    3600,
		})
	}))
	t.Cleanup(tokenSrv.Close)

	sessions := oauth.NewMemorySessions()
	t.Cleanup(func() { _ = sessions.Close() })
	provider := oauth.NewProvider(oauth.Config{
		Name:         "solaredge",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		AuthURL:      "https://solaredge.example/oauth/authorize",
		TokenURL:     tokenSrv.URL + "/token",
		Scopes:       []string{"read_site"},
		Timeout:      2 * time.Second,
	}, oauth.NewStore(sessions, time.Minute), oauth.WithHTTPClient(tokenSrv.Client()))

	logger := zap.NewNop()
	m := metrics.New()
	s := New(Deps{
		Logger:    logger,
		Resolver:  identity.NewResolver([]string{adminKey, basicKey}, grants),
		Limiter:   ratelimit.New(ratelimit.NewMemoryCounter()),
		Providers: oauth.NewRegistry(provider),
		Grants:    grants,
		Rewards:   rewards.NewService(ledger.NewDryRunSettler(logger), logger, m),
		Metrics:   m,
	})
	return &testEnv{handler: s.Handler(), grants: grants, tokenCalls: calls}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func submitRequest(path, header, value, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if header != "" {
		req.Header.Set(header, value)
	}
	return req
}

func submissionBody(wallet string, value float64) string {
	return fmt.Sprintf(`{"wallet_address":%q,"activity_type":"solar_export","value":%v,"details":{"site":"roof"}}`, wallet, value)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestSubmitChecksumsWalletOnEveryVersion(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/activities/submit", "/legacy/activities/submit", "/v1/activities/submit", "/v2/activities/submit"} {
		t.Run(path, func(t *testing.T) {
			rec := env.do(submitRequest(path, identity.HeaderAPIKey, adminKey, submissionBody(rawWallet, 5.0)))
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			body := decodeBody(t, rec)
			assert.Equal(t, checksumWallet, body["wallet_address"])
			assert.Contains(t, []any{"confirmed", "pending"}, body["status"])
			assert.True(t, strings.HasPrefix(body["txHash"].(string), "0x"))
		})
	}
}

func TestSubmitUnknownVersion(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(submitRequest("/v3/activities/submit", identity.HeaderAPIKey, adminKey, submissionBody(rawWallet, 5.0)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitErrors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		header string
		value  string
		body   string
		status int
		kind   string
	}{
		{"no credentials", "", "", submissionBody(rawWallet, 1), http.StatusUnauthorized, "authentication_error"},
		{"unknown key", identity.HeaderAPIKey, "not-a-key", submissionBody(rawWallet, 1), http.StatusForbidden, "authorization_error"},
		{"unknown bearer", "Authorization", "Bearer nope", submissionBody(rawWallet, 1), http.StatusUnauthorized, "authentication_error"},
		{"basic over ceiling", identity.HeaderAPIKey, basicKey, submissionBody(rawWallet, 100.01), http.StatusForbidden, "authorization_error"},
		{"out of bounds", identity.HeaderAPIKey, adminKey, submissionBody(rawWallet, 10000.5), http.StatusUnprocessableEntity, "validation_error"},
		{"bad wallet", identity.HeaderAPIKey, adminKey, submissionBody("0x1234", 1), http.StatusUnprocessableEntity, "validation_error"},
		{"bad type", identity.HeaderAPIKey, adminKey, `{"wallet_address":"` + rawWallet + `","activity_type":"coal","value":1}`, http.StatusUnprocessableEntity, "validation_error"},
		{"malformed json", identity.HeaderAPIKey, adminKey, `{"wallet_address":`, http.StatusBadRequest, "bad_request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(submitRequest("/v1/activities/submit", tt.header, tt.value, tt.body))
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			body := decodeBody(t, rec)
			assert.Equal(t, tt.kind, body["error"])
			assert.NotEmpty(t, body["detail"])
		})
	}
}

func TestBasicTierCeilingBoundary(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(submitRequest("/v1/activities/submit", identity.HeaderAPIKey, basicKey, submissionBody(rawWallet, 100.0)))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(submitRequest("/v1/activities/submit", identity.HeaderAPIKey, adminKey, submissionBody(rawWallet, 9999)))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestSubmitBodyTooLarge(t *testing.T) {
	env := newTestEnv(t)
	body := `{"wallet_address":"` + strings.Repeat("a", MaxBodyBytes+1) + `"}`

	rec := env.do(submitRequest("/v1/activities/submit", identity.HeaderAPIKey, adminKey, body))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestActivityTypesRequiresIdentity(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/activities/types", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/activities/types", nil)
	req.Header.Set(identity.HeaderAPIKey, basicKey)
	rec = env.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	var types []activity.TypeInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &types), "the catalog is a bare list")
	require.Len(t, types, len(activity.Catalog()))
	assert.Contains(t, rec.Body.String(), `"solar_export"`)
	assert.Contains(t, rec.Body.String(), `"expectedDetails"`)
}

func TestAnonymousRateLimit(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < ratelimit.QuotaAnonymous; i++ {
		rec := env.do(httptest.NewRequest(http.MethodGet, "/oauth/providers", nil))
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
	}

	rec := env.do(httptest.NewRequest(http.MethodGet, "/oauth/providers", nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	// A keyed caller from the same address has its own budget.
	req := httptest.NewRequest(http.MethodGet, "/oauth/providers", nil)
	req.Header.Set(identity.HeaderAPIKey, basicKey)
	assert.Equal(t, http.StatusOK, env.do(req).Code)
}

func TestLoginUnknownProvider(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/oauth/login/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func login(t *testing.T, env *testEnv, userID string) map[string]any {
	t.Helper()
	rec := env.do(httptest.NewRequest(http.MethodGet, "/oauth/login/solaredge?redirect_uri=https://app.example/cb&user_id="+userID, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeBody(t, rec)
}

func callbackURL(state, sessionKey, wallet string) string {
	q := url.Values{}
	q.Set("code", "auth-code")
	q.Set("state", state)
	q.Set("redirect_uri", "https://app.example/cb")
	q.Set("session_key", sessionKey)
	if wallet != "" {
		q.Set("wallet_address", wallet)
	}
	return "/oauth/callback/solaredge?" + q.Encode()
}

func TestCallbackRequiresWalletBeforeExchange(t *testing.T) {
	env := newTestEnv(t)
	l := login(t, env, "")

	rec := env.do(httptest.NewRequest(http.MethodGet, callbackURL(l["state"].(string), l["session_key"].(string), ""), nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, env.tokenCalls.Load())

	// The attempt survives and can still be completed.
	rec = env.do(httptest.NewRequest(http.MethodGet, callbackURL(l["state"].(string), l["session_key"].(string), rawWallet), nil))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestCallbackStateMismatch(t *testing.T) {
	env := newTestEnv(t)
	l := login(t, env, "user-1")
	assert.Equal(t, "user-1", l["session_key"])

	rec := env.do(httptest.NewRequest(http.MethodGet, callbackURL("forged", "user-1", rawWallet), nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "oauth_error", body["error"])
	assert.Equal(t, "state_mismatch", body["code"])
	assert.Zero(t, env.tokenCalls.Load())

	// The attempt was consumed by the failed check.
	rec = env.do(httptest.NewRequest(http.MethodGet, callbackURL(l["state"].(string), "user-1", rawWallet), nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, env.tokenCalls.Load())
}

func TestOAuthLinkThenBearerSubmit(t *testing.T) {
	env := newTestEnv(t)
	l := login(t, env, "")
	assert.Equal(t, "solaredge", l["provider"])
	assert.Contains(t, l["auth_url"], "code_challenge_method=S256")

	rec := env.do(httptest.NewRequest(http.MethodGet, callbackURL(l["state"].(string), l["session_key"].(string), rawWallet), nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, checksumWallet, body["wallet_address"])
	assert.Equal(t, true, body["has_refresh_token"])
	assert.NotEmpty(t, body["token_id"])
	assert.Positive(t, body["expires_in"])

	g, err := env.grants.Get(t.Context(), body["token_id"].(string))
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, "se-access-1", g.AccessToken)

	// Replaying the callback fails.
	rec = env.do(httptest.NewRequest(http.MethodGet, callbackURL(l["state"].(string), l["session_key"].(string), rawWallet), nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	bearer := "Bearer " + g.AccessToken
	rec = env.do(submitRequest("/v2/activities/submit", "Authorization", bearer, submissionBody(checksumWallet, 12.5)))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(submitRequest("/v2/activities/submit", "Authorization", bearer, submissionBody(otherWallet, 12.5)))
	assert.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
}
