package server

import (
	"context"
	"net"
	"net/http"
	"strconv"

	"github.com/silvanus-labs/greenchain/internal/apperr"
	"github.com/silvanus-labs/greenchain/internal/identity"
	"github.com/silvanus-labs/greenchain/internal/ratelimit"
)

type contextKey string

const callerKey contextKey = "caller"

// caller is the outcome of credential resolution for one request.
type caller struct {
	id  identity.Identity
	err error
}

func callerFrom(ctx context.Context) caller {
	c, _ := ctx.Value(callerKey).(caller)
	return c
}

// identityFrom returns the identity resolved for the request, or nil.
func identityFrom(ctx context.Context) identity.Identity {
	return callerFrom(ctx).id
}

// identify resolves the presented credentials. Failures are recorded and
// only enforced by requireIdentity.
func (s *Server) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var c caller
		c.id, c.err = s.resolver.Resolve(r.Context(), identity.CredentialsFromRequest(r))
		ctx := context.WithValue(r.Context(), callerKey, c)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requireIdentity(s *Server) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c := callerFrom(r.Context())
			if c.id == nil {
				err := c.err
				if err == nil {
					err = apperr.NewAuthentication("API key or bearer token required")
				}
				s.writeError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimit counts the request against the caller's bucket, or the
// anonymous bucket of the remote address.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}

		b := ratelimit.BucketFor(identityFrom(r.Context()), clientIP(r))
		d, err := s.limiter.Allow(r.Context(), b)
		if !d.ResetAt.IsZero() && d.Bucket.Limit > 0 {
			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Bucket.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
		}
		if err != nil {
			if apperr.IsRateLimit(err) {
				s.metrics.RateLimited(b.Tier)
				retry := int(d.ResetAt.Sub(s.now()).Seconds()) + 1
				w.Header().Set("Retry-After", strconv.Itoa(max(retry, 1)))
			}
			s.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
