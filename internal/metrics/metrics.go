// Package metrics exposes Prometheus collectors for chain resolution runs.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a registry and the collectors registered on it. It implements
// chain.Observer.
type Metrics struct {
	registry *prometheus.Registry

	outcomesTotal              *prometheus.CounterVec
	chainHops                  *prometheus.HistogramVec
	passDurationSeconds        *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
}

// New registers the chainmap collectors plus the Go runtime collectors on a fresh
// registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		outcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chainmap_outcomes_total",
				Help: "Total number of records processed, labeled by pass and outcome.",
			},
			[]string{"pass", "outcome"},
		),
		chainHops: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chainmap_chain_hops",
				Help:    "Histogram of resolved redirect chain lengths, labeled by pass.",
				Buckets: []float64{0, 1, 2, 3, 5, 10, 20, 40},
			},
			[]string{"pass"},
		),
		passDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chainmap_pass_duration_seconds",
				Help:    "Histogram of pass wall-clock durations, labeled by pass.",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
			[]string{"pass"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		),
		httpRequestDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveOutcome increments the outcome counter for a pass.
func (m *Metrics) ObserveOutcome(pass, outcome string) {
	m.outcomesTotal.WithLabelValues(pass, outcome).Inc()
}

// ObserveChain records the hop count of a resolved chain.
func (m *Metrics) ObserveChain(pass string, hops int) {
	m.chainHops.WithLabelValues(pass).Observe(float64(hops))
}

// ObservePass records how long a pass took.
func (m *Metrics) ObservePass(pass string, duration time.Duration) {
	m.passDurationSeconds.WithLabelValues(pass).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func (m *Metrics) ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Handler returns an http.Handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// WriteTextfile dumps the registry in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// Middleware records request counts and latencies for chi routes.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			routePattern = rctx.RoutePattern()
		}
		m.ObserveHTTPRequest(r.Method, routePattern, ww.statusCode, time.Since(start))
	})
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}
