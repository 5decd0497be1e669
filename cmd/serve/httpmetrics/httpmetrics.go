// Package httpmetrics exposes prometheus metrics for the HTTP surface
// and the task queue.
package httpmetrics

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the request and task counters.
type Metrics struct {
	Requests *prometheus.CounterVec
	InFlight prometheus.Gauge
	Tasks    *prometheus.CounterVec
}

// New creates the metric set under the given namespace.
func New(namespace string) *Metrics {
	return &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Requests currently being served.",
		}),
		Tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "transitions_total",
			Help:      "Task queue status transitions.",
		}, []string{"status"}),
	}
}

// Collectors returns all prometheus metrics for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.Requests, m.InFlight, m.Tasks}
}

// MustRegister registers the metric set with the given registerer.
func (m *Metrics) MustRegister(reg prometheus.Registerer) *Metrics {
	reg.MustRegister(m.Collectors()...)
	return m
}

// TaskObserver is the task queue transition hook.
func (m *Metrics) TaskObserver(status string) {
	m.Tasks.WithLabelValues(status).Inc()
}

// Middleware counts requests by chi route pattern. The pattern is only
// known after routing, so the counter is bumped once the handler
// returns.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.InFlight.Inc()
		defer m.InFlight.Dec()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.Requests.WithLabelValues(r.Method, route, fmt.Sprint(status)).Inc()
	})
}

// Handler serves the /metrics endpoint from the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
