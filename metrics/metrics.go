// Package metrics holds the prometheus collectors of the server. All
// methods are safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "xeroinvoice"

// Metrics are the collectors registered with one registry
type Metrics struct {
	registry         *prometheus.Registry
	upstreamRequests *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	rateLimitWaits   *prometheus.CounterVec
	tokenRefreshes   *prometheus.CounterVec
	webhooks         *prometheus.CounterVec
}

// New registers the collectors with a new registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		upstreamRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "upstream_requests_total", Help: "Xero API requests by endpoint, method and status code."},
			[]string{"endpoint", "method", "code"},
		),
		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Namespace: namespace, Name: "upstream_request_duration_seconds", Help: "Xero API request latency.", Buckets: prometheus.DefBuckets},
			[]string{"endpoint"},
		),
		rateLimitWaits: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "rate_limit_waits_total", Help: "Xero API requests delayed by the per-tenant limiter."},
			[]string{"endpoint"},
		),
		tokenRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "token_refreshes_total", Help: "OAuth2 token refreshes by result."},
			[]string{"result"},
		),
		webhooks: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "webhook_deliveries_total", Help: "Webhook deliveries by verification result."},
			[]string{"result"},
		),
	}
	m.registry.MustRegister(
		m.upstreamRequests,
		m.upstreamDuration,
		m.rateLimitWaits,
		m.tokenRefreshes,
		m.webhooks,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the registry holding the collectors
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveUpstream records one Xero API request. A code of 0 means no
// response was received.
func (m *Metrics) ObserveUpstream(endpoint, method string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.upstreamRequests.WithLabelValues(endpoint, method, strconv.Itoa(code)).Inc()
	m.upstreamDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// RateLimitWait records a request held back by the rate limiter
func (m *Metrics) RateLimitWait(endpoint string) {
	if m == nil {
		return
	}
	m.rateLimitWaits.WithLabelValues(endpoint).Inc()
}

// TokenRefresh records a refresh with result "ok" or "failed"
func (m *Metrics) TokenRefresh(result string) {
	if m == nil {
		return
	}
	m.tokenRefreshes.WithLabelValues(result).Inc()
}

// Webhook records a webhook delivery with result "ok" or "rejected"
func (m *Metrics) Webhook(result string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(result).Inc()
}
