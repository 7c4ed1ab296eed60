// Package obs holds the Prometheus metrics shared by the gateway, the
// matcher, and the HTTP server.
package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every collector. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	gatewayOps   *prometheus.CounterVec
	matchTiers   *prometheus.CounterVec
	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		gatewayOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "casewise_gateway_operations_total",
			Help: "Gateway reads and writes by operation and outcome.",
		}, []string{"op", "outcome"}),
		matchTiers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "casewise_match_tier_total",
			Help: "Session matches by the tier that produced them.",
		}, []string{"tier"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	if reg != nil {
		reg.MustRegister(m.gatewayOps, m.matchTiers, m.httpInFlight, m.httpRequests, m.httpDuration)
	}
	return m
}

// GatewayOp counts one gateway operation.
func (m *Metrics) GatewayOp(op, outcome string) {
	if m == nil {
		return
	}
	m.gatewayOps.WithLabelValues(op, outcome).Inc()
}

// MatchTier counts one matcher result.
func (m *Metrics) MatchTier(tier string) {
	if m == nil {
		return
	}
	m.matchTiers.WithLabelValues(tier).Inc()
}

// Handler exposes the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Instrument records request count, latency, and in-flight requests,
// labelled by the chi route pattern so ids do not explode cardinality.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := strconv.Itoa(sw.code)
		m.httpDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		m.httpRequests.WithLabelValues(r.Method, route, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
