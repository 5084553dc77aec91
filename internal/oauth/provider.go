// Package oauth links third-party accounts through the authorization code
// flow with PKCE. State and verifiers are checked locally before any code
// reaches a provider's token endpoint.
package oauth

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/silvanus-labs/greenchain/internal/apperr"
)

// Login is returned to the client to start the redirect.
type Login struct {
	AuthURL    string `json:"auth_url"`
	State      string `json:"state"`
	SessionKey string `json:"session_key"`
	Provider   string `json:"provider"`
}

// TokenResponse is the provider's answer to a code exchange or refresh.
type TokenResponse struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	// ExpiresIn is zero when the provider did not announce an expiry.
	ExpiresIn int64
	Expiry    time.Time
}

// Provider is one third-party identity or data provider.
type Provider interface {
	Name() string
	// Login starts an attempt and returns the authorization URL.
	Login(ctx context.Context, redirectURI, userID string) (*Login, error)
	// Exchange verifies state and PKCE, then trades code for tokens.
	Exchange(ctx context.Context, code, state, redirectURI, sessionKey string) (*TokenResponse, error)
	// Refresh obtains a new access token from a refresh token.
	Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error)
}

// Config describes a provider's endpoints and client credentials.
type Config struct {
	Name               string
	ClientID           string
	ClientSecret       string
	AuthURL            string
	TokenURL           string
	Scopes             []string
	DefaultRedirectURI string
	Timeout            time.Duration
}

// OAuth2Provider implements Provider on top of golang.org/x/oauth2.
type OAuth2Provider struct {
	cfg      Config
	sessions *Store
	client   *http.Client
	now      func() time.Time
}

// ProviderOption configures an OAuth2Provider.
type ProviderOption func(*OAuth2Provider)

// WithHTTPClient sets the client used for token endpoint calls.
func WithHTTPClient(c *http.Client) ProviderOption {
	return func(p *OAuth2Provider) { p.client = c }
}

// NewProvider creates a provider that keeps its login sessions in sessions.
func NewProvider(cfg Config, sessions *Store, opts ...ProviderOption) *OAuth2Provider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	p := &OAuth2Provider{
		cfg:      cfg,
		sessions: sessions,
		client:   &http.Client{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements Provider.
func (p *OAuth2Provider) Name() string { return p.cfg.Name }

func (p *OAuth2Provider) oauthConfig(redirectURI string) *oauth2.Config {
	if redirectURI == "" {
		redirectURI = p.cfg.DefaultRedirectURI
	}
	return &oauth2.Config{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       p.cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   p.cfg.AuthURL,
			TokenURL:  p.cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// Login implements Provider.
func (p *OAuth2Provider) Login(ctx context.Context, redirectURI, userID string) (*Login, error) {
	sess, err := p.sessions.Begin(ctx, p.cfg.Name, userID)
	if err != nil {
		return nil, err
	}
	url := p.oauthConfig(redirectURI).AuthCodeURL(sess.State, oauth2.S256ChallengeOption(sess.Verifier))
	return &Login{
		AuthURL:    url,
		State:      sess.State,
		SessionKey: sess.Key,
		Provider:   p.cfg.Name,
	}, nil
}

// Exchange implements Provider.
func (p *OAuth2Provider) Exchange(ctx context.Context, code, state, redirectURI, sessionKey string) (*TokenResponse, error) {
	sess, err := p.sessions.Complete(ctx, p.cfg.Name, sessionKey, state)
	if err != nil {
		return nil, err
	}

	ctx, cancel := p.requestContext(ctx)
	defer cancel()

	tok, err := p.oauthConfig(redirectURI).Exchange(ctx, code, oauth2.VerifierOption(sess.Verifier))
	if err != nil {
		return nil, classify(p.cfg.Name, "code exchange", err)
	}
	return p.tokenResponse(tok), nil
}

// Refresh implements Provider.
func (p *OAuth2Provider) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	if refreshToken == "" {
		return nil, apperr.NewBadRequest("no refresh token")
	}

	ctx, cancel := p.requestContext(ctx)
	defer cancel()

	tok, err := p.oauthConfig("").TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, classify(p.cfg.Name, "token refresh", err)
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}
	return p.tokenResponse(tok), nil
}

func (p *OAuth2Provider) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	return context.WithTimeout(ctx, p.cfg.Timeout)
}

func (p *OAuth2Provider) tokenResponse(tok *oauth2.Token) *TokenResponse {
	resp := &TokenResponse{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.Type(),
		Expiry:       tok.Expiry,
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		resp.Scope = scope
	}
	if !tok.Expiry.IsZero() {
		resp.ExpiresIn = max(int64(tok.Expiry.Sub(p.now()).Round(time.Second)/time.Second), 0)
	}
	return resp
}

// classify separates provider rejections from transport failures.
func classify(provider, op string, err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		msg := provider + " rejected " + op
		if rerr.ErrorCode != "" {
			msg += ": " + rerr.ErrorCode
			if rerr.ErrorDescription != "" {
				msg += " (" + rerr.ErrorDescription + ")"
			}
		}
		return apperr.NewOAuth(apperr.CodeProviderRejected, msg, err)
	}

	var nerr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.As(err, &nerr) {
		return apperr.NewNetwork(apperr.CodeProviderUnreachable, provider+" unreachable during "+op, err)
	}
	return apperr.NewOAuth(apperr.CodeProviderRejected, provider+" returned an unusable "+op+" response", err)
}
