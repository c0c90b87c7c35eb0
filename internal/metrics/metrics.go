// Package metrics exposes Prometheus counters and histograms for the
// authorization server. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kbgate"

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	registry        *prometheus.Registry
	tokensIssued    *prometheus.CounterVec
	oauthErrors     *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry, including the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "Signed tokens minted, by kind.",
		}, []string{"kind"}),
		oauthErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oauth_errors_total",
			Help:      "OAuth error responses, by route and error code.",
		}, []string{"route", "code"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Duration of outbound calls to the identity provider and docs origin.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}

	m.registry.MustRegister(
		m.tokensIssued,
		m.oauthErrors,
		m.upstreamLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// TokenIssued counts one minted token of the given kind.
func (m *Metrics) TokenIssued(kind string) {
	if m == nil {
		return
	}
	m.tokensIssued.WithLabelValues(kind).Inc()
}

// OAuthError counts one error response written by route.
func (m *Metrics) OAuthError(route, code string) {
	if m == nil {
		return
	}
	m.oauthErrors.WithLabelValues(route, code).Inc()
}

// ObserveUpstream records how long an outbound call took.
func (m *Metrics) ObserveUpstream(op string, started time.Time) {
	if m == nil {
		return
	}
	m.upstreamLatency.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
