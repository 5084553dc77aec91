package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/silvanus-labs/greenchain/internal/apperr"
)

// Window is the quota period.
const Window = time.Hour

// Decision describes the outcome of one Allow call.
type Decision struct {
	Bucket    Bucket
	Allowed   bool
	Count     int64
	Remaining int
	ResetAt   time.Time
}

// Limiter applies fixed-window quotas on top of a Counter.
type Limiter struct {
	counter Counter
	window  time.Duration
	now     func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the limiter clock.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithWindow overrides the quota window.
func WithWindow(d time.Duration) Option {
	return func(l *Limiter) { l.window = d }
}

// New creates a limiter.
func New(counter Counter, opts ...Option) *Limiter {
	l := &Limiter{counter: counter, window: Window, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow counts one request against b. When the bucket is exhausted the
// returned error is a rate limit error and the decision is still populated.
func (l *Limiter) Allow(ctx context.Context, b Bucket) (Decision, error) {
	start := l.now().Truncate(l.window)
	d := Decision{Bucket: b, ResetAt: start.Add(l.window)}

	n, err := l.counter.Incr(ctx, b.Key, start, l.window)
	if err != nil {
		return d, apperr.NewInternal("rate limit backend unavailable", err)
	}
	d.Count = n
	d.Remaining = max(b.Limit-int(n), 0)
	d.Allowed = n <= int64(b.Limit)
	if !d.Allowed {
		return d, apperr.NewRateLimit(fmt.Sprintf("Rate limit exceeded: %d requests per hour for %s tier", b.Limit, b.Tier))
	}
	return d, nil
}
