// ABOUTME: Prometheus collectors for HTTP requests and WebSocket sessions
// ABOUTME: Owns a per-service registry so several services can coexist in one process

package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/mcp-dispatch/internal/middleware"
)

// UnmatchedRoute labels requests that no route pattern matched, so unknown
// paths never create new series.
const UnmatchedRoute = "unmatched"

// Metrics holds every collector exported by the service.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestSize     *prometheus.HistogramVec
	responseSize    *prometheus.HistogramVec

	wsConnections prometheus.Gauge
	wsFrames      *prometheus.CounterVec
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors under the mcp_ prefix, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status_code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
		}, []string{"method", "path", "status_code"}),
		requestSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_size_bytes",
			Help:    "Size of HTTP requests in bytes",
			Buckets: []float64{100, 1000, 5000, 10000, 50000},
		}, []string{"method", "path"}),
		responseSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Size of HTTP responses in bytes",
			Buckets: []float64{100, 1000, 10000, 50000, 100000},
		}, []string{"method", "path", "status_code"}),
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mcp_ws_connections",
			Help: "Number of open WebSocket connections",
		}),
		wsFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcp_ws_frames_total",
			Help: "Inbound WebSocket frames by message type",
		}, []string{"type"}),
	}

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.requestSize,
		m.responseSize,
		m.wsConnections,
		m.wsFrames,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: "mcp"}),
	)
	prometheus.WrapRegistererWithPrefix("mcp_", m.registry).MustRegister(collectors.NewGoCollector())
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records one sample per request. Recording happens in a defer
// so that a panic further down still produces a sample before it propagates.
// It must sit directly in front of a ServeMux: the path label is the matched
// route pattern, which the mux stores on the request.
func (m *Metrics) Middleware() middleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := middleware.WrapWriter(w)

			defer func() {
				status := sw.Status()
				if rec := recover(); rec != nil {
					if !sw.Started() {
						status = http.StatusInternalServerError
					}
					m.observe(r, status, sw.BytesWritten(), time.Since(start))
					panic(rec)
				}
				m.observe(r, status, sw.BytesWritten(), time.Since(start))
			}()

			next.ServeHTTP(sw, r)
		})
	}
}

func (m *Metrics) observe(r *http.Request, status int, respBytes int64, elapsed time.Duration) {
	code := strconv.Itoa(status)
	path := routeLabel(r)

	m.requestsTotal.WithLabelValues(r.Method, path, code).Inc()
	m.requestDuration.WithLabelValues(r.Method, path, code).Observe(elapsed.Seconds())
	if r.ContentLength > 0 {
		m.requestSize.WithLabelValues(r.Method, path).Observe(float64(r.ContentLength))
	}
	m.responseSize.WithLabelValues(r.Method, path, code).Observe(float64(respBytes))
}

// routeLabel returns the matched pattern without its method, or UnmatchedRoute.
func routeLabel(r *http.Request) string {
	pattern := r.Pattern
	if pattern == "" {
		return UnmatchedRoute
	}
	if _, rest, ok := strings.Cut(pattern, " "); ok {
		pattern = rest
	}
	return pattern
}

// ConnectionOpened increments the open WebSocket connection gauge.
func (m *Metrics) ConnectionOpened() { m.wsConnections.Inc() }

// ConnectionClosed decrements the open WebSocket connection gauge.
func (m *Metrics) ConnectionClosed() { m.wsConnections.Dec() }

// FrameReceived counts one inbound WebSocket frame of the given type.
func (m *Metrics) FrameReceived(msgType string) {
	if msgType == "" {
		msgType = "unknown"
	}
	m.wsFrames.WithLabelValues(msgType).Inc()
}
