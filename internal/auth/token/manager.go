// Package token keeps stored OAuth grants usable by refreshing them before
// they expire.
package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/silvanus-labs/greenchain/internal/db/models"
	"github.com/silvanus-labs/greenchain/internal/metrics"
	"github.com/silvanus-labs/greenchain/internal/oauth"
)

const (
	// DefaultInterval is how often the refresh loop runs.
	DefaultInterval = 15 * time.Minute
	// DefaultThreshold refreshes grants expiring within this window.
	DefaultThreshold = 20 * time.Minute
	// defaultExpiresIn is assumed when a provider omits expires_in.
	defaultExpiresIn = time.Hour
)

// GrantRepository is the persistence the manager needs.
type GrantRepository interface {
	Get(ctx context.Context, id string) (*models.OAuthGrant, error)
	ListExpiringBefore(ctx context.Context, t time.Time) ([]models.OAuthGrant, error)
	UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt time.Time) error
	Delete(ctx context.Context, id string) error
}

// ProviderLookup resolves a provider by name.
type ProviderLookup interface {
	Get(name string) (oauth.Provider, error)
}

// Manager refreshes grants through their provider's token endpoint.
type Manager struct {
	grants    GrantRepository
	providers ProviderLookup
	logger    *zap.Logger
	metrics   *metrics.Metrics

	interval  time.Duration
	threshold time.Duration
	now       func() time.Time

	// locks serializes refreshes of the same grant.
	locks sync.Map
}

// Option configures a Manager.
type Option func(*Manager)

// WithInterval sets the refresh loop interval.
func WithInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithMetrics records refresh outcomes.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithClock overrides the manager clock.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a grant refresh manager.
func NewManager(grants GrantRepository, providers ProviderLookup, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		grants:    grants,
		providers: providers,
		logger:    logger,
		interval:  DefaultInterval,
		threshold: DefaultThreshold,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run refreshes expiring grants every interval until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	m.logger.Info("grant refresh loop started", zap.Duration("interval", m.interval))
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.RefreshExpiring(ctx); err != nil {
				m.logger.Warn("grant refresh pass failed", zap.Error(err))
			}
		}
	}
}

// RefreshExpiring refreshes every grant expiring within the threshold and
// returns how many were refreshed.
func (m *Manager) RefreshExpiring(ctx context.Context) (int, error) {
	due, err := m.grants.ListExpiringBefore(ctx, m.now().Add(m.threshold))
	if err != nil {
		return 0, fmt.Errorf("failed to list expiring grants: %w", err)
	}

	refreshed := 0
	for i := range due {
		if ctx.Err() != nil {
			return refreshed, ctx.Err()
		}
		if _, ok, err := m.refresh(ctx, &due[i]); err == nil && ok {
			refreshed++
		}
	}
	return refreshed, nil
}

// EnsureFresh returns the grant with a refreshed access token when it
// expires within the threshold. It returns (nil, nil) for unknown grants and
// for grants removed after a permanent refresh failure.
func (m *Manager) EnsureFresh(ctx context.Context, grantID string) (*models.OAuthGrant, error) {
	g, err := m.grants.Get(ctx, grantID)
	if err != nil || g == nil {
		return nil, err
	}
	if g.ExpiresAt.After(m.now().Add(m.threshold)) {
		return g, nil
	}
	if g.RefreshToken == "" {
		if g.Expired(m.now()) {
			return nil, fmt.Errorf("grant %s expired and has no refresh token", g.ID)
		}
		return g, nil
	}
	g, _, err = m.refresh(ctx, g)
	return g, err
}

// refresh renews the grant snapshot under its lock and reports whether new
// tokens were stored. Another process may rotate the tokens at any time, so
// the grant is read again before and after calling the provider.
func (m *Manager) refresh(ctx context.Context, snapshot *models.OAuthGrant) (*models.OAuthGrant, bool, error) {
	lock, _ := m.locks.LoadOrStore(snapshot.ID, &sync.Mutex{})
	mu := lock.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	log := m.logger.With(zap.String("grant_id", snapshot.ID), zap.String("provider", snapshot.Provider))

	g, err := m.grants.Get(ctx, snapshot.ID)
	if err != nil {
		return nil, false, err
	}
	if g == nil {
		return nil, false, nil
	}
	if g.RefreshToken != snapshot.RefreshToken || g.ExpiresAt.After(m.now().Add(m.threshold)) {
		log.Debug("grant already refreshed")
		return g, false, nil
	}

	provider, err := m.providers.Get(g.Provider)
	if err != nil {
		log.Warn("no provider for grant")
		m.metrics.GrantRefresh(g.Provider, "unknown_provider")
		return nil, false, err
	}

	tok, err := provider.Refresh(ctx, g.RefreshToken)
	if err != nil {
		if isPermanentRefreshError(err) {
			return m.revoke(ctx, log, g, err)
		}
		log.Warn("transient refresh failure, grant kept", zap.Error(err))
		m.metrics.GrantRefresh(g.Provider, "transient_error")
		return nil, false, err
	}

	expiresAt := tok.Expiry
	if expiresAt.IsZero() {
		expiresAt = m.now().Add(defaultExpiresIn)
	}
	refreshToken := g.RefreshToken
	if tok.RefreshToken != "" && tok.RefreshToken != g.RefreshToken {
		log.Debug("rotating refresh token")
		refreshToken = tok.RefreshToken
	}
	if err := m.grants.UpdateTokens(ctx, g.ID, tok.AccessToken, refreshToken, expiresAt); err != nil {
		log.Error("failed to save refreshed grant", zap.Error(err))
		m.metrics.GrantRefresh(g.Provider, "store_error")
		return nil, false, err
	}

	updated := *g
	updated.AccessToken = tok.AccessToken
	updated.RefreshToken = refreshToken
	updated.ExpiresAt = expiresAt
	log.Info("grant refreshed", zap.Time("expires_at", expiresAt))
	m.metrics.GrantRefresh(g.Provider, "ok")
	return &updated, true, nil
}

// revoke deletes g after its refresh token was rejected, unless the stored
// refresh token no longer is the one that was sent.
func (m *Manager) revoke(ctx context.Context, log *zap.Logger, g *models.OAuthGrant, cause error) (*models.OAuthGrant, bool, error) {
	cur, err := m.grants.Get(ctx, g.ID)
	if err != nil {
		return nil, false, err
	}
	if cur == nil {
		return nil, false, nil
	}
	if cur.RefreshToken != g.RefreshToken {
		log.Info("refresh token rotated concurrently, rejection ignored", zap.Error(cause))
		m.metrics.GrantRefresh(g.Provider, "superseded")
		return cur, false, nil
	}

	if err := m.grants.Delete(ctx, g.ID); err != nil {
		log.Error("failed to delete revoked grant", zap.Error(err))
	}
	m.locks.Delete(g.ID)
	log.Warn("refresh token rejected, grant removed; the wallet owner must link the account again", zap.Error(cause))
	m.metrics.GrantRefresh(g.Provider, "revoked")
	return nil, false, nil
}

func isPermanentRefreshError(err error) bool {
	if err == nil {
		return false
	}
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		switch rerr.ErrorCode {
		case "invalid_grant", "invalid_client", "unauthorized_client":
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	permanentMarkers := []string{
		"invalid_grant",
		"invalid_client",
		"unauthorized_client",
		"token has been expired or revoked",
		"revoked",
	}
	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
