// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pothole"

// Metrics groups the application collectors.
type Metrics struct {
	gatherer prometheus.Gatherer

	requests         *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	reportsSubmitted prometheus.Counter
	accountsCreated  *prometheus.CounterVec
	shareFailures    prometheus.Counter
}

// New registers the collectors on reg. Passing a fresh prometheus.NewRegistry
// keeps tests isolated from the default registry.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		gatherer: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern, method and status.",
		}, []string{"route", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern and method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		reportsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_submitted_total",
			Help:      "Reports created through upload or resubmit.",
		}),
		accountsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accounts_created_total",
			Help:      "Accounts created by kind (registered, guest, converted).",
		}, []string{"kind"}),
		shareFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "share_failures_total",
			Help:      "Reports that could not be published to the share channel.",
		}),
	}

	reg.MustRegister(
		m.requests,
		m.requestDuration,
		m.reportsSubmitted,
		m.accountsCreated,
		m.shareFailures,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

// ReportSubmitted counts a created report.
func (m *Metrics) ReportSubmitted() {
	if m == nil {
		return
	}
	m.reportsSubmitted.Inc()
}

// AccountCreated counts a new or converted account of the given kind.
func (m *Metrics) AccountCreated(kind string) {
	if m == nil {
		return
	}
	m.accountsCreated.WithLabelValues(kind).Inc()
}

// ShareFailed counts a failed share publish.
func (m *Metrics) ShareFailed() {
	if m == nil {
		return
	}
	m.shareFailures.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Middleware records request count and latency keyed by the chi route pattern,
// so path parameters do not explode label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		m.requestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

// ShareFailures exposes the share failure counter.
func (m *Metrics) ShareFailures() prometheus.Counter {
	return m.shareFailures
}

// ReportsSubmitted exposes the submitted report counter for assertions.
func (m *Metrics) ReportsSubmitted() prometheus.Counter {
	return m.reportsSubmitted
}
