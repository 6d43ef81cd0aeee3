package prometheus

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles prometheus collectors of the media relay.
// Implements port.MediaMetrics.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal      *prometheus.CounterVec
	RequestDurationSec *prometheus.HistogramVec
	TierRequests       *prometheus.CounterVec
	TierDurationSec    *prometheus.HistogramVec
	CacheLookups       *prometheus.CounterVec
	QuotaDenied        *prometheus.CounterVec
	ArchivedAssets     *prometheus.CounterVec
}

func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "media_relay_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"route", "method", "status"}),
		RequestDurationSec: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "media_relay_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
		TierRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "media_relay_tier_requests_total",
			Help: "Provider chain tier attempts by outcome.",
		}, []string{"tier", "outcome"}),
		TierDurationSec: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "media_relay_tier_duration_seconds",
			Help:    "Provider chain tier latency in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		}, []string{"tier"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "media_relay_cache_lookups_total",
			Help: "Cache lookups by layer and result.",
		}, []string{"layer", "result"}),
		QuotaDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "media_relay_quota_denied_total",
			Help: "Metered requests refused by the quota governor.",
		}, []string{"ceiling"}),
		ArchivedAssets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "media_relay_archived_assets_total",
			Help: "Archived assets by outcome.",
		}, []string{"outcome"}),
	}

	registry.MustRegister(
		m.RequestsTotal,
		m.RequestDurationSec,
		m.TierRequests,
		m.TierDurationSec,
		m.CacheLookups,
		m.QuotaDenied,
		m.ArchivedAssets,
	)

	return m
}

// Handler отдает метрики в формате Prometheus
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveTier(tier, outcome string, duration time.Duration) {
	m.TierRequests.WithLabelValues(tier, outcome).Inc()
	m.TierDurationSec.WithLabelValues(tier).Observe(duration.Seconds())
}

func (m *Metrics) ObserveCache(layer string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(layer, result).Inc()
}

func (m *Metrics) ObserveQuotaDenied(ceiling string) {
	m.QuotaDenied.WithLabelValues(ceiling).Inc()
}

func (m *Metrics) ObserveArchive(outcome string, count int) {
	if count <= 0 {
		return
	}
	m.ArchivedAssets.WithLabelValues(outcome).Add(float64(count))
}

func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedAt := time.Now()
		wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		status := strconv.Itoa(wrapped.statusCode)
		route := normalizeRoute(r.URL.Path)
		m.RequestsTotal.WithLabelValues(route, r.Method, status).Inc()
		m.RequestDurationSec.WithLabelValues(route, r.Method, status).Observe(time.Since(startedAt).Seconds())
	})
}

// normalizeRoute ограничивает кардинальность label route
func normalizeRoute(path string) string {
	switch path {
	case "/ws", "/healthz", "/readyz", "/metrics",
		"/api/v1/media", "/api/v1/quota", "/api/v1/cache", "/api/v1/cache/stats",
		"/api/v1/cache/purge", "/api/v1/archive":
		return path
	}
	if strings.HasPrefix(path, "/api/") {
		return "/api/*"
	}
	return "other"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusRecorder) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

// Hijack passes websocket upgrades through wrapped ResponseWriter.
func (rw *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}

func (rw *statusRecorder) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
