// Package metrics provides Prometheus metrics for gitwiki.
//
// Every method is safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics of one server instance.
type Metrics struct {
	reg *prometheus.Registry

	// Document store metrics
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec
	StoreWarningsTotal     *prometheus.CounterVec
	ReconcileRepairsTotal  *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	RateLimitedTotal     *prometheus.CounterVec
}

// New creates the metrics on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	m := &Metrics{reg: reg}

	m.StoreOperationsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gitwiki_store_operations_total",
			Help: "Total number of document store operations",
		},
		[]string{"op", "result"},
	)
	m.StoreOperationDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gitwiki_store_operation_duration_seconds",
			Help:    "Duration of document store operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"op"},
	)
	m.StoreWarningsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gitwiki_store_warnings_total",
			Help: "Total number of operations that succeeded with a warning",
		},
		[]string{"op"},
	)
	m.ReconcileRepairsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gitwiki_reconcile_repairs_total",
			Help: "Total number of inconsistencies repaired by reconcile",
		},
		[]string{"kind"},
	)

	m.HTTPRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gitwiki_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "code"},
	)
	m.HTTPRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gitwiki_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
	m.HTTPRequestsInFlight = f.NewGauge(
		prometheus.GaugeOpts{
			Name: "gitwiki_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
	m.RateLimitedTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gitwiki_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
		[]string{"tier"},
	)
	return m
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// RecordStoreOperation records a document store operation.
func (m *Metrics) RecordStoreOperation(op, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.StoreOperationsTotal.WithLabelValues(op, result).Inc()
	m.StoreOperationDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordWarning records an operation that succeeded with a warning.
func (m *Metrics) RecordWarning(op string) {
	if m == nil {
		return
	}
	m.StoreWarningsTotal.WithLabelValues(op).Inc()
}

// RecordRepairs records n repairs of the given kind.
func (m *Metrics) RecordRepairs(kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.ReconcileRepairsTotal.WithLabelValues(kind).Add(float64(n))
}

// RecordHTTPRequest records a completed HTTP request.
func (m *Metrics) RecordHTTPRequest(method, code string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, code).Inc()
	m.HTTPRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// TrackInFlight increments the in-flight gauge and returns a func that
// decrements it.
func (m *Metrics) TrackInFlight() func() {
	if m == nil {
		return func() {}
	}
	m.HTTPRequestsInFlight.Inc()
	return m.HTTPRequestsInFlight.Dec
}

// RecordRateLimited records a request rejected by the limiter of tier.
func (m *Metrics) RecordRateLimited(tier string) {
	if m == nil {
		return
	}
	m.RateLimitedTotal.WithLabelValues(tier).Inc()
}
