package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gateway"

// Metrics holds the gateway collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	calls             *prometheus.CounterVec
	callDuration      *prometheus.HistogramVec
	retries           *prometheus.CounterVec
	rateLimitDenials  *prometheus.CounterVec
	negativeCacheHits *prometheus.CounterVec
}

// New builds and registers the collectors, plus the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "calls_total",
				Help:      "Outbound gateway calls by service, endpoint and final status.",
			},
			[]string{"service", "endpoint", "status"},
		),
		callDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "call_duration_seconds",
				Help:      "Wall time of outbound gateway calls including retries.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"service", "endpoint"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_total",
				Help:      "Retried outbound attempts.",
			},
			[]string{"service", "endpoint"},
		),
		rateLimitDenials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ratelimit_denials_total",
				Help:      "Calls rejected by the per-endpoint rate limiter.",
			},
			[]string{"service", "endpoint"},
		),
		negativeCacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "negative_cache_hits_total",
				Help:      "Identity lookups answered from the negative cache.",
			},
			[]string{"kind"},
		),
	}

	m.registry.MustRegister(
		m.calls,
		m.callDuration,
		m.retries,
		m.rateLimitDenials,
		m.negativeCacheHits,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCall records the final outcome of one gateway call.
func (m *Metrics) ObserveCall(service, endpoint, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(service, endpoint, status).Inc()
	m.callDuration.WithLabelValues(service, endpoint).Observe(duration.Seconds())
}

// IncRetry counts one retried attempt.
func (m *Metrics) IncRetry(service, endpoint string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(service, endpoint).Inc()
}

// IncRateLimitDenial counts one limiter denial.
func (m *Metrics) IncRateLimitDenial(service, endpoint string) {
	if m == nil {
		return
	}
	m.rateLimitDenials.WithLabelValues(service, endpoint).Inc()
}

// IncNegativeCacheHit counts one short-circuited lookup.
func (m *Metrics) IncNegativeCacheHit(kind string) {
	if m == nil {
		return
	}
	m.negativeCacheHits.WithLabelValues(kind).Inc()
}
