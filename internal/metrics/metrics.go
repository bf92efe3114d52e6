// Package metrics holds the Prometheus collectors of the web service. Every recording method
// is safe on a nil *Metrics so components can run without instrumentation in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "savedu"

// Metrics groups the collectors registered on a dedicated registry.
type Metrics struct {
	registry *prometheus.Registry

	guardDecisions   *prometheus.CounterVec
	roleLookups      *prometheus.CounterVec
	sessionFetches   *prometheus.CounterVec
	discardedResults *prometheus.CounterVec
	providerCalls    *prometheus.CounterVec
	activeVisitors   prometheus.Gauge
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// New creates the collectors on a fresh registry with the Go and process collectors attached.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		guardDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guard_decisions_total",
			Help:      "Route guard decisions by rule and outcome",
		}, []string{"rule", "outcome"}),
		roleLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "role_lookups_total",
			Help:      "Role lookups by outcome",
		}, []string{"outcome"}),
		sessionFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_fetches_total",
			Help:      "Session fetches by outcome",
		}, []string{"outcome"}),
		discardedResults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_results_discarded_total",
			Help:      "Asynchronous auth results dropped because a newer transition superseded them",
		}, []string{"kind"}),
		providerCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Calls to the auth provider by operation and outcome",
		}, []string{"op", "outcome"}),
		activeVisitors: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_visitors",
			Help:      "Visitors with a live auth context",
		}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route pattern and status",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) GuardDecision(rule, outcome string) {
	if m == nil {
		return
	}
	m.guardDecisions.WithLabelValues(rule, outcome).Inc()
}

func (m *Metrics) RoleLookup(outcome string) {
	if m == nil {
		return
	}
	m.roleLookups.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SessionFetch(outcome string) {
	if m == nil {
		return
	}
	m.sessionFetches.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Discarded(kind string) {
	if m == nil {
		return
	}
	m.discardedResults.WithLabelValues(kind).Inc()
}

func (m *Metrics) ProviderCall(op, outcome string) {
	if m == nil {
		return
	}
	m.providerCalls.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) VisitorOpened() {
	if m == nil {
		return
	}
	m.activeVisitors.Inc()
}

func (m *Metrics) VisitorClosed() {
	if m == nil {
		return
	}
	m.activeVisitors.Dec()
}

// ObserveRequest records one served request.
func (m *Metrics) ObserveRequest(method, route, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
