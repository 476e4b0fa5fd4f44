// Package metrics exposes the gateway's Prometheus instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the gateway's Prometheus collectors. All methods are
// safe to call on a nil receiver, so components can treat instrumentation
// as optional.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     prometheus.Counter
	cacheTierErrors *prometheus.CounterVec
	coalesced       *prometheus.CounterVec
	backendCalls    *prometheus.CounterVec
	breakerChanges  *prometheus.CounterVec
	validations     *prometheus.CounterVec
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "predyx",
			Name:      "requests_total",
			Help:      "Gateway requests by outcome.",
		}, []string{"outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "predyx",
			Name:      "request_duration_seconds",
			Help:      "End-to-end gateway request latency.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
		}, []string{"outcome"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "predyx",
			Name:      "cache_hits_total",
			Help:      "Cache hits by tier.",
		}, []string{"tier"}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "predyx",
			Name:      "cache_misses_total",
			Help:      "Lookups that missed every tier.",
		}),
		cacheTierErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "predyx",
			Name:      "cache_tier_errors_total",
			Help:      "Tier operations that failed and degraded to a miss.",
		}, []string{"tier"}),
		coalesced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "predyx",
			Name:      "coalesced_requests_total",
			Help:      "Requests by coalescer role (leader or joined).",
		}, []string{"role"}),
		backendCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "predyx",
			Name:      "backend_calls_total",
			Help:      "Backend adapter calls by backend and status.",
		}, []string{"backend", "status"}),
		breakerChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "predyx",
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions by backend.",
		}, []string{"backend", "to"}),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "predyx",
			Name:      "validations_total",
			Help:      "Validator verdicts.",
		}, []string{"verdict"}),
	}

	registry.MustRegister(
		m.requests, m.requestDuration,
		m.cacheHits, m.cacheMisses, m.cacheTierErrors,
		m.coalesced, m.backendCalls, m.breakerChanges, m.validations,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome).Inc()
	m.requestDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) CacheHit(tier string) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(tier).Inc()
}

func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}

func (m *Metrics) CacheTierError(tier string) {
	if m == nil {
		return
	}
	m.cacheTierErrors.WithLabelValues(tier).Inc()
}

func (m *Metrics) CoalesceLeader() {
	if m == nil {
		return
	}
	m.coalesced.WithLabelValues("leader").Inc()
}

func (m *Metrics) CoalesceJoined() {
	if m == nil {
		return
	}
	m.coalesced.WithLabelValues("joined").Inc()
}

func (m *Metrics) BackendCall(backend, status string) {
	if m == nil {
		return
	}
	m.backendCalls.WithLabelValues(backend, status).Inc()
}

func (m *Metrics) BreakerTransition(backend, to string) {
	if m == nil {
		return
	}
	m.breakerChanges.WithLabelValues(backend, to).Inc()
}

func (m *Metrics) Validation(verdict string) {
	if m == nil {
		return
	}
	m.validations.WithLabelValues(verdict).Inc()
}
