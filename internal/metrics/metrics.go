// Package metrics exposes prometheus counters for the request pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "greenchain"

// Metrics holds the collectors registered on one registry. A nil *Metrics
// discards every observation.
type Metrics struct {
	registry *prometheus.Registry

	submissions     *prometheus.CounterVec
	settlementTime  prometheus.Histogram
	rateLimited     *prometheus.CounterVec
	oauthCallbacks  *prometheus.CounterVec
	grantRefreshes  *prometheus.CounterVec
	pollSubmissions *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		submissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activity_submissions_total",
			Help:      "Activity submissions by endpoint version and outcome.",
		}, []string{"version", "outcome"}),
		settlementTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "settlement_duration_seconds",
			Help:      "Time from broadcast request to confirmed or pending result.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		rateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected for exceeding their hourly quota.",
		}, []string{"tier"}),
		oauthCallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oauth_callbacks_total",
			Help:      "OAuth callbacks by provider and outcome.",
		}, []string{"provider", "outcome"}),
		grantRefreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grant_refreshes_total",
			Help:      "Grant refresh attempts by provider and outcome.",
		}, []string{"provider", "outcome"}),
		pollSubmissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poller_submissions_total",
			Help:      "Activities submitted by the poller by provider and outcome.",
		}, []string{"provider", "outcome"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Submission(version, outcome string) {
	if m != nil {
		m.submissions.WithLabelValues(version, outcome).Inc()
	}
}

func (m *Metrics) SettlementSeconds(s float64) {
	if m != nil {
		m.settlementTime.Observe(s)
	}
}

func (m *Metrics) RateLimited(tier string) {
	if m != nil {
		m.rateLimited.WithLabelValues(tier).Inc()
	}
}

func (m *Metrics) OAuthCallback(provider, outcome string) {
	if m != nil {
		m.oauthCallbacks.WithLabelValues(provider, outcome).Inc()
	}
}

func (m *Metrics) GrantRefresh(provider, outcome string) {
	if m != nil {
		m.grantRefreshes.WithLabelValues(provider, outcome).Inc()
	}
}

func (m *Metrics) PollSubmission(provider, outcome string) {
	if m != nil {
		m.pollSubmissions.WithLabelValues(provider, outcome).Inc()
	}
}
