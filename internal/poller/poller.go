// Package poller reads energy data from linked provider accounts and submits
// it as activities on behalf of the linked wallets.
package poller

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/silvanus-labs/greenchain/internal/activity"
	"github.com/silvanus-labs/greenchain/internal/db/models"
	"github.com/silvanus-labs/greenchain/internal/gate"
	"github.com/silvanus-labs/greenchain/internal/metrics"
	"github.com/silvanus-labs/greenchain/internal/util"
	"github.com/silvanus-labs/greenchain/pkg/sdk"
)

const (
	DefaultInterval    = time.Hour
	DefaultConcurrency = 4
	DefaultRate        = 5.0
)

// GrantSource lists linked provider accounts.
type GrantSource interface {
	List(ctx context.Context) ([]models.OAuthGrant, error)
}

// Refresher returns a grant with a usable access token, or nil when the
// grant no longer exists.
type Refresher interface {
	EnsureFresh(ctx context.Context, grantID string) (*models.OAuthGrant, error)
}

// Submitter submits an activity authenticated as the grant's bearer.
type Submitter interface {
	Submit(ctx context.Context, accessToken string, a sdk.Activity) (*sdk.SubmitResult, error)
}

// SDKSubmitter submits through the API client.
type SDKSubmitter struct {
	BaseURL string
	Options []sdk.Option
}

// Submit implements Submitter.
func (s SDKSubmitter) Submit(ctx context.Context, accessToken string, a sdk.Activity) (*sdk.SubmitResult, error) {
	opts := append([]sdk.Option{sdk.WithAccessToken(accessToken)}, s.Options...)
	return sdk.New(s.BaseURL, opts...).SubmitActivity(ctx, a)
}

// Summary counts the outcome of one pass.
type Summary struct {
	Grants    int
	Submitted int
	Skipped   int
	Failed    int
}

// Poller runs passes over every grant.
type Poller struct {
	grants    GrantSource
	refresher Refresher
	sources   map[string]DataSource
	submitter Submitter
	logger    *zap.Logger
	metrics   *metrics.Metrics

	skip        map[string]bool
	interval    time.Duration
	concurrency int
	limiter     *rate.Limiter
	now         func() time.Time
}

// Option configures a Poller.
type Option func(*Poller)

// WithInterval sets the pass interval and the length of each read window.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithConcurrency bounds how many grants are polled at once.
func WithConcurrency(n int) Option {
	return func(p *Poller) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithRate paces submissions to perSecond.
func WithRate(perSecond float64) Option {
	return func(p *Poller) {
		if perSecond > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithSkipProviders excludes providers that carry no activity data.
func WithSkipProviders(names ...string) Option {
	return func(p *Poller) {
		for _, n := range names {
			p.skip[n] = true
		}
	}
}

// WithMetrics records submission outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Poller) { p.metrics = m }
}

// WithClock overrides the clock that bounds read windows.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) { p.now = now }
}

// New creates a poller. sources maps provider name to its data source;
// grants of providers without a source are skipped. refresher may be nil.
func New(grants GrantSource, refresher Refresher, sources map[string]DataSource, submitter Submitter, logger *zap.Logger, opts ...Option) *Poller {
	p := &Poller{
		grants:      grants,
		refresher:   refresher,
		sources:     sources,
		submitter:   submitter,
		logger:      logger,
		skip:        map[string]bool{},
		interval:    DefaultInterval,
		concurrency: DefaultConcurrency,
		limiter:     rate.NewLimiter(rate.Limit(DefaultRate), 1),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls every interval until ctx is done. The first pass starts
// immediately.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if _, err := p.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.logger.Error("poll pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce polls every grant once. A failing grant does not stop the others.
func (p *Poller) RunOnce(ctx context.Context) (Summary, error) {
	grants, err := p.grants.List(ctx)
	if err != nil {
		return Summary{}, err
	}

	to := p.now().UTC()
	from := to.Add(-p.interval)
	sum := Summary{Grants: len(grants)}
	var mu sync.Mutex
	record := func(o outcome) {
		mu.Lock()
		defer mu.Unlock()
		switch o {
		case outcomeSubmitted:
			sum.Submitted++
		case outcomeSkipped:
			sum.Skipped++
		default:
			sum.Failed++
		}
	}

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for _, grant := range grants {
		log := p.logger.With(zap.String("wallet", grant.WalletAddress), zap.String("provider", grant.Provider))
		if reason := p.skipReason(grant); reason != "" {
			log.Debug("skipping grant", zap.String("reason", reason))
			record(outcomeSkipped)
			continue
		}
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			o := p.pollGrant(ctx, log, grant, from, to)
			p.metrics.PollSubmission(grant.Provider, string(o))
			record(o)
			return nil
		})
	}
	_ = g.Wait()

	p.logger.Info("poll pass finished",
		zap.Int("grants", sum.Grants),
		zap.Int("submitted", sum.Submitted),
		zap.Int("skipped", sum.Skipped),
		zap.Int("failed", sum.Failed))
	return sum, ctx.Err()
}

type outcome string

const (
	outcomeSubmitted outcome = "submitted"
	outcomeSkipped   outcome = "skipped"
	outcomeFailed    outcome = "failed"
)

func (p *Poller) skipReason(g models.OAuthGrant) string {
	switch {
	case p.skip[g.Provider]:
		return "identity-only provider"
	case p.sources[g.Provider] == nil:
		return "no data source"
	case g.AccessToken == "":
		return "missing access token"
	}
	return ""
}

func (p *Poller) pollGrant(ctx context.Context, log *zap.Logger, grant models.OAuthGrant, from, to time.Time) outcome {
	token := grant.AccessToken
	if p.refresher != nil {
		fresh, err := p.refresher.EnsureFresh(ctx, grant.ID)
		if err != nil {
			log.Warn("grant refresh failed", zap.Error(err))
			return outcomeFailed
		}
		if fresh == nil {
			log.Info("grant no longer linked")
			return outcomeSkipped
		}
		token = fresh.AccessToken
	}

	reading, err := p.sources[grant.Provider].Exported(ctx, token, from, to)
	if err != nil {
		log.Warn("reading energy data failed", zap.Error(err))
		return outcomeFailed
	}
	kwh := math.Round(reading.KWh*100) / 100
	if kwh <= 0 {
		log.Debug("no exported energy in window")
		return outcomeSkipped
	}

	// Bearer callers are basic tier, so larger readings go in several parts.
	parts := splitReading(kwh, gate.BasicCeiling)
	for i, part := range parts {
		if err := p.limiter.Wait(ctx); err != nil {
			return outcomeFailed
		}
		details := map[string]any{
			"kWhExported": part,
			"source":      "oauth:" + grant.Provider,
			"sites":       reading.Sites,
			"from":        from.Format(time.RFC3339),
			"to":          to.Format(time.RFC3339),
		}
		if len(parts) > 1 {
			details["part"] = i + 1
			details["parts"] = len(parts)
		}
		res, err := p.submitter.Submit(ctx, token, sdk.Activity{
			WalletAddress: grant.WalletAddress,
			ActivityType:  string(activity.SolarExport),
			Value:         part,
			Details:       details,
		})
		if err != nil {
			var apiErr *sdk.Error
			if errors.As(err, &apiErr) {
				log.Warn("submission rejected",
					zap.Int("part", i+1),
					zap.String("kind", string(apiErr.Kind)),
					zap.Int("status", apiErr.StatusCode),
					zap.String("detail", util.TruncateLog(apiErr.Message, 200)))
			} else {
				log.Warn("submission failed", zap.Int("part", i+1), zap.Error(err))
			}
			return outcomeFailed
		}

		log.Info("activity submitted",
			zap.Float64("kwh", part),
			zap.Int("part", i+1),
			zap.Int("parts", len(parts)),
			zap.String("tx_hash", res.TxHash),
			zap.String("status", res.Status))
	}
	return outcomeSubmitted
}

// splitReading divides kwh into values no larger than ceiling, rounded to
// hundredths.
func splitReading(kwh, ceiling float64) []float64 {
	var parts []float64
	for kwh > ceiling {
		parts = append(parts, ceiling)
		kwh = math.Round((kwh-ceiling)*100) / 100
	}
	if kwh > 0 {
		parts = append(parts, kwh)
	}
	return parts
}
