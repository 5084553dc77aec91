// Package server exposes the OAuth linking flow and activity submission over
// HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/silvanus-labs/greenchain/internal/db/models"
	"github.com/silvanus-labs/greenchain/internal/identity"
	"github.com/silvanus-labs/greenchain/internal/logging"
	"github.com/silvanus-labs/greenchain/internal/metrics"
	"github.com/silvanus-labs/greenchain/internal/oauth"
	"github.com/silvanus-labs/greenchain/internal/ratelimit"
	"github.com/silvanus-labs/greenchain/internal/rewards"
)

// GrantSaver persists the tokens obtained by an OAuth callback.
type GrantSaver interface {
	Save(ctx context.Context, g *models.OAuthGrant) error
}

// Deps are the collaborators the HTTP layer is built from. Metrics may be nil.
type Deps struct {
	Logger    *zap.Logger
	Resolver  *identity.Resolver
	Limiter   *ratelimit.Limiter
	Providers *oauth.Registry
	Grants    GrantSaver
	Rewards   *rewards.Service
	Metrics   *metrics.Metrics
}

// Server holds the handlers.
type Server struct {
	logger    *zap.Logger
	resolver  *identity.Resolver
	limiter   *ratelimit.Limiter
	providers *oauth.Registry
	grants    GrantSaver
	rewards   *rewards.Service
	metrics   *metrics.Metrics
	now       func() time.Time
}

// New creates a server from d.
func New(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		logger:    logger,
		resolver:  d.Resolver,
		limiter:   d.Limiter,
		providers: d.Providers,
		grants:    d.Grants,
		rewards:   d.Rewards,
		metrics:   d.Metrics,
		now:       time.Now,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(logging.RequestID)
	r.Use(logging.AccessLog(s.logger))
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", handleHealth)
	r.Get("/version", handleVersion)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	// Unauthenticated callers are still counted against their address.
	r.Group(func(r chi.Router) {
		r.Use(s.identify)
		r.Use(s.rateLimit)

		r.Route("/oauth", func(r chi.Router) {
			r.Get("/providers", s.handleProviders)
			r.Get("/login/{provider}", s.handleLogin)
			r.Get("/callback/{provider}", s.handleCallback)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireIdentity(s))
			r.Use(limitBody)

			r.Get("/activities/types", s.handleActivityTypes)
			r.Post("/activities/submit", s.handleSubmit)
			r.Post("/{version}/activities/submit", s.handleSubmit)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, errNotFound)
	})
	return r
}
