package oauth

import (
	"context"
	"crypto/subtle"
	"time"

	"github.com/silvanus-labs/greenchain/internal/apperr"
)

// DefaultSessionTTL bounds how long an abandoned login attempt is kept.
const DefaultSessionTTL = 10 * time.Minute

// Store issues and verifies CSRF state and PKCE verifiers. At most one
// attempt is live per provider and session key, and an attempt can only be
// completed by the provider that started it.
type Store struct {
	backend SessionBackend
	ttl     time.Duration
	now     func() time.Time
}

// NewStore creates a store over backend. A non-positive ttl selects
// DefaultSessionTTL.
func NewStore(backend SessionBackend, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Store{backend: backend, ttl: ttl, now: time.Now}
}

// Begin starts a login attempt with provider. The session key is userID,
// or the state itself when userID is empty.
func (s *Store) Begin(ctx context.Context, provider, userID string) (*Session, error) {
	state, err := NewState()
	if err != nil {
		return nil, apperr.NewInternal("failed to start login", err)
	}
	key := userID
	if key == "" {
		key = state
	}
	sess := Session{
		Provider:  provider,
		Key:       key,
		State:     state,
		Verifier:  NewVerifier(),
		CreatedAt: s.now().UTC(),
	}
	if err := s.backend.Put(ctx, storageKey(provider, key), sess, s.ttl); err != nil {
		return nil, apperr.NewInternal("failed to store login session", err)
	}
	return &sess, nil
}

// Complete consumes provider's session for sessionKey (state when empty)
// and checks the presented state against it. The session is removed
// whether or not the check passes.
func (s *Store) Complete(ctx context.Context, provider, sessionKey, state string) (*Session, error) {
	if sessionKey == "" {
		sessionKey = state
	}
	if sessionKey == "" {
		return nil, apperr.NewOAuth(apperr.CodeStateMissing, "Missing state parameter: possible CSRF attack", nil)
	}

	sess, err := s.backend.Take(ctx, storageKey(provider, sessionKey))
	if err != nil {
		return nil, apperr.NewInternal("failed to load login session", err)
	}
	if sess == nil || sess.State == "" {
		return nil, apperr.NewOAuth(apperr.CodeStateMissing, "No stored state for session: possible CSRF attack", nil)
	}
	if sess.Provider != provider || subtle.ConstantTimeCompare([]byte(sess.State), []byte(state)) != 1 {
		return nil, apperr.NewOAuth(apperr.CodeStateMismatch, "State mismatch: possible CSRF attack", nil)
	}
	if sess.Verifier == "" {
		return nil, apperr.NewOAuth(apperr.CodeVerifierMissing, "No PKCE verifier stored for session", nil)
	}
	return sess, nil
}

func storageKey(provider, key string) string {
	return provider + ":" + key
}
