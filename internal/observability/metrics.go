package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the Prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	auditFailures   *prometheus.CounterVec
	auditDropped    prometheus.Counter
}

// NewMetrics initialises the registry and the base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "keystone_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "keystone_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "keystone_cache_hits_total",
		Help: "Cache lookups answered from Redis.",
	})
	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "keystone_cache_misses_total",
		Help: "Cache lookups that fell through to the source of truth.",
	})
	auditFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "keystone_audit_sink_failures_total",
		Help: "Audit events rejected per sink.",
	}, []string{"sink"})
	auditDropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "keystone_audit_events_dropped_total",
		Help: "Audit events dropped because the recorder buffer was full.",
	})
	registry.MustRegister(requests, duration, cacheHits, cacheMisses, auditFailures, auditDropped)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		auditFailures:   auditFailures,
		auditDropped:    auditDropped,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and duration for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// CacheHit satisfies cache.Stats.
func (m *Metrics) CacheHit() {
	if m != nil {
		m.cacheHits.Inc()
	}
}

// CacheMiss satisfies cache.Stats.
func (m *Metrics) CacheMiss() {
	if m != nil {
		m.cacheMisses.Inc()
	}
}

// AuditSinkFailure satisfies audit.Stats.
func (m *Metrics) AuditSinkFailure(sink string) {
	if m != nil {
		m.auditFailures.WithLabelValues(sink).Inc()
	}
}

// AuditEventDropped satisfies audit.Stats.
func (m *Metrics) AuditEventDropped() {
	if m != nil {
		m.auditDropped.Inc()
	}
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
