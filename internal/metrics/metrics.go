package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "beacon_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	connectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "beacon_connections_open",
			Help: "Currently open realtime connections",
		},
	)

	usersOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "beacon_users_online",
			Help: "Users with at least one live connection",
		},
	)

	dispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_dispatches_total",
			Help: "Dispatch outcomes by path (direct/fallback) and result",
		},
		[]string{"path", "result"},
	)

	pushResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_push_results_total",
			Help: "Per-device push results by classification",
		},
		[]string{"result"},
	)

	tokensInvalidated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "beacon_device_tokens_invalidated_total",
			Help: "Device tokens removed after permanent push failures",
		},
	)

	fanoutDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "beacon_fanout_sends_dropped_total",
			Help: "Per-connection sends abandoned after the bounded timeout",
		},
	)

	idempotencyHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "beacon_idempotency_hits_total",
			Help: "Requests served from idempotency cache",
		},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_rate_limit_rejections_total",
			Help: "Requests rejected by rate limiter",
		},
		[]string{"user_id"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SetConnectionsOpen sets the open realtime connection count
func SetConnectionsOpen(count int) {
	connectionsOpen.Set(float64(count))
}

// SetUsersOnline sets the online user count
func SetUsersOnline(count int) {
	usersOnline.Set(float64(count))
}

// RecordDispatch records a dispatch outcome. Path is "direct" or "fallback",
// result is "delivered" or "failed".
func RecordDispatch(path, result string) {
	dispatchesTotal.WithLabelValues(path, result).Inc()
}

// RecordPushResult records one per-device push classification
// (ok, transient, permanent).
func RecordPushResult(result string) {
	pushResultsTotal.WithLabelValues(result).Inc()
}

// RecordTokenInvalidated counts a removed device token
func RecordTokenInvalidated() {
	tokensInvalidated.Inc()
}

// RecordFanoutDrop counts a fan-out send abandoned on timeout
func RecordFanoutDrop() {
	fanoutDropped.Inc()
}

// RecordIdempotencyHit records a cache hit for idempotency
func RecordIdempotencyHit() {
	idempotencyHits.Inc()
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection(userID string) {
	rateLimitRejections.WithLabelValues(userID).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
