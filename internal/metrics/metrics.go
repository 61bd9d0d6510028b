// Package metrics exposes Prometheus metrics for the quota monitor.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// TokenExchanges counts token cache hits, refreshes and failures
	TokenExchanges *prometheus.CounterVec
	// EndpointAttempts counts quota endpoint attempts by endpoint and outcome
	EndpointAttempts *prometheus.CounterVec
	// AccountFetches counts per-account pipeline results
	AccountFetches *prometheus.CounterVec
	// BatchDuration tracks how long a full fan-out takes
	BatchDuration prometheus.Histogram
	// FamilyRemaining is the latest reconciled percent per account and family
	FamilyRemaining *prometheus.GaugeVec
	// HTTPRequestsTotal total HTTP requests
	HTTPRequestsTotal *prometheus.CounterVec
	// RequestLatency tracks HTTP request latency by endpoint and method
	RequestLatency *prometheus.HistogramVec
	// WebSocketClients is the number of connected push clients
	WebSocketClients prometheus.Gauge
	// registry is the custom registry for this metrics instance
	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		TokenExchanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_exchanges_total",
				Help:      "Total number of access token lookups by result",
			},
			[]string{"result"},
		),
		EndpointAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "endpoint_attempts_total",
				Help:      "Total number of quota endpoint attempts",
			},
			[]string{"endpoint", "outcome"},
		),
		AccountFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "account_fetches_total",
				Help:      "Total number of per-account quota fetches",
			},
			[]string{"result"},
		),
		BatchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_duration_seconds",
				Help:      "Duration of a full quota fetch batch",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30, 60},
			},
		),
		FamilyRemaining: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "family_remaining_percent",
				Help:      "Remaining quota percent per account and model family",
			},
			[]string{"account", "family"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"endpoint", "method", "status"},
		),
		RequestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_latency_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"endpoint", "method", "status"},
		),
		WebSocketClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "websocket_clients",
				Help:      "Current number of connected WebSocket clients",
			},
		),
	}

	registry.MustRegister(
		m.TokenExchanges,
		m.EndpointAttempts,
		m.AccountFetches,
		m.BatchDuration,
		m.FamilyRemaining,
		m.HTTPRequestsTotal,
		m.RequestLatency,
		m.WebSocketClients,
	)

	return m
}

// Handler returns a Prometheus handler for these metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordTokenExchange records a token lookup result: cached, refreshed or error.
func (m *Metrics) RecordTokenExchange(result string) {
	if m == nil {
		return
	}
	m.TokenExchanges.WithLabelValues(result).Inc()
}

// RecordEndpointAttempt records one quota endpoint attempt.
func (m *Metrics) RecordEndpointAttempt(endpoint, outcome string) {
	if m == nil {
		return
	}
	m.EndpointAttempts.WithLabelValues(endpoint, outcome).Inc()
}

// RecordAccountFetch records the result of one account pipeline.
func (m *Metrics) RecordAccountFetch(result string) {
	if m == nil {
		return
	}
	m.AccountFetches.WithLabelValues(result).Inc()
}

// ObserveBatch records the duration of a fan-out batch.
func (m *Metrics) ObserveBatch(d time.Duration) {
	if m == nil {
		return
	}
	m.BatchDuration.Observe(d.Seconds())
}

// SetFamilyRemaining sets the family gauge, or removes it when percent is nil.
func (m *Metrics) SetFamilyRemaining(account, family string, percent *int) {
	if m == nil {
		return
	}
	if percent == nil {
		m.FamilyRemaining.DeleteLabelValues(account, family)
		return
	}
	m.FamilyRemaining.WithLabelValues(account, family).Set(float64(*percent))
}

// ResetFamilyRemaining drops every family gauge, for accounts that disappeared.
func (m *Metrics) ResetFamilyRemaining() {
	if m == nil {
		return
	}
	m.FamilyRemaining.Reset()
}

// RecordHTTPRequest records an HTTP request and its latency.
func (m *Metrics) RecordHTTPRequest(endpoint, method, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
	m.RequestLatency.WithLabelValues(endpoint, method, status).Observe(durationSeconds)
}

// IncWebSocketClients increments the connected client gauge.
func (m *Metrics) IncWebSocketClients() {
	if m == nil {
		return
	}
	m.WebSocketClients.Inc()
}

// DecWebSocketClients decrements the connected client gauge.
func (m *Metrics) DecWebSocketClients() {
	if m == nil {
		return
	}
	m.WebSocketClients.Dec()
}

// Middleware records HTTP metrics for each request.
func Middleware(m *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		m.RecordHTTPRequest(endpoint, c.Request.Method, strconv.Itoa(c.Writer.Status()), time.Since(start).Seconds())
	}
}
