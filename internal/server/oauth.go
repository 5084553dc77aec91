package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/silvanus-labs/greenchain/internal/activity"
	"github.com/silvanus-labs/greenchain/internal/apperr"
	"github.com/silvanus-labs/greenchain/internal/db/models"
	"github.com/silvanus-labs/greenchain/internal/logging"
)

// defaultExpiresIn is reported when the provider announced no expiry.
const defaultExpiresIn = 3600

type callbackResponse struct {
	Message         string `json:"message"`
	Provider        string `json:"provider"`
	WalletAddress   string `json:"wallet_address"`
	TokenID         string `json:"token_id"`
	ExpiresIn       int64  `json:"expires_in"`
	ExpiresAt       string `json:"expires_at"`
	HasRefreshToken bool   `json:"has_refresh_token"`
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"providers": s.providers.Names()})
}

// handleLogin starts a PKCE login attempt and returns the authorization URL.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	p, err := s.providers.Get(chi.URLParam(r, "provider"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	q := r.URL.Query()
	login, err := p.Login(r.Context(), q.Get("redirect_uri"), q.Get("user_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, login)
}

// handleCallback completes the code exchange and links the resulting tokens
// to a wallet.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")
	p, err := s.providers.Get(name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	q := r.URL.Query()
	// The wallet is checked before Exchange so a bad request leaves the
	// login attempt intact.
	wallet := q.Get("wallet_address")
	if wallet == "" {
		s.writeError(w, r, apperr.NewBadRequest("wallet_address is required"))
		return
	}
	addr, err := activity.ChecksumAddress(wallet)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	code := q.Get("code")
	if code == "" {
		s.writeError(w, r, apperr.NewBadRequest("code is required"))
		return
	}

	tok, err := p.Exchange(r.Context(), code, q.Get("state"), q.Get("redirect_uri"), q.Get("session_key"))
	if err != nil {
		outcome := apperr.CodeOf(err)
		if outcome == "" {
			outcome = string(apperr.KindOf(err))
		}
		s.metrics.OAuthCallback(name, outcome)
		s.writeError(w, r, err)
		return
	}

	expiresIn := tok.ExpiresIn
	expiresAt := tok.Expiry
	if expiresAt.IsZero() {
		if expiresIn <= 0 {
			expiresIn = defaultExpiresIn
		}
		expiresAt = s.now().Add(time.Duration(expiresIn) * time.Second)
	}

	grant := &models.OAuthGrant{
		WalletAddress: addr,
		Provider:      name,
		AccessToken:   tok.AccessToken,
		RefreshToken:  tok.RefreshToken,
		Scope:         tok.Scope,
		ExpiresAt:     expiresAt.UTC(),
	}
	if err := s.grants.Save(r.Context(), grant); err != nil {
		s.metrics.OAuthCallback(name, "store_error")
		s.writeError(w, r, apperr.NewInternal("Failed to store tokens", err))
		return
	}

	logging.FromContext(r.Context(), s.logger).Info("oauth grant stored",
		zap.String("provider", name),
		zap.String("wallet", addr),
		zap.String("grant_id", grant.ID),
		zap.Bool("has_refresh_token", grant.RefreshToken != ""))
	s.metrics.OAuthCallback(name, "ok")

	writeJSON(w, http.StatusOK, callbackResponse{
		Message:         "OAuth tokens stored successfully",
		Provider:        name,
		WalletAddress:   addr,
		TokenID:         grant.ID,
		ExpiresIn:       expiresIn,
		ExpiresAt:       grant.ExpiresAt.Format(time.RFC3339),
		HasRefreshToken: grant.RefreshToken != "",
	})
}
