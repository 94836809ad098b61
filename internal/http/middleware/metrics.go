package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// unmatchedRoute labels requests no route matched, so scans of random URLs
// cannot create new series.
const unmatchedRoute = "unmatched"

// httpMetrics groups the HTTP collectors. Every label set is bounded: routes
// are gin patterns, never raw paths.
type httpMetrics struct {
	requests *prometheus.CounterVec   // method, route, code
	duration *prometheus.HistogramVec // method, route
	inflight prometheus.Gauge
	size     *prometheus.HistogramVec // method, route
	replays  *prometheus.CounterVec   // route
	limited  *prometheus.CounterVec   // class
}

func newHTTPMetrics(reg prometheus.Registerer) *httpMetrics {
	m := &httpMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"method", "route"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_requests_inflight",
			Help: "HTTP requests currently being served.",
		}),
		size: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "HTTP response body size by method and route.",
			Buckets: prometheus.ExponentialBuckets(128, 4, 8), // 128B .. 2MiB
		}, []string{"method", "route"}),
		replays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_idempotent_replays_total",
			Help: "Responses served from a stored Idempotency-Key result.",
		}, []string{"route"}),
		limited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_rate_limited_total",
			Help: "Requests rejected by the rate limiter, by budget class.",
		}, []string{"class"}),
	}
	reg.MustRegister(m.requests, m.duration, m.inflight, m.size, m.replays, m.limited)
	return m
}

var defaultMetrics = newHTTPMetrics(prometheus.DefaultRegisterer)

// Metrics records request count, latency, in-flight requests, response size
// and idempotent replays into the default Prometheus registry. Serve them
// with promhttp.Handler().
func Metrics() gin.HandlerFunc { return defaultMetrics.handler() }

func (m *httpMetrics) handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		m.inflight.Inc()
		defer m.inflight.Dec()

		c.Next()

		method, route := c.Request.Method, routeOf(c)
		m.requests.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.duration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		if n := c.Writer.Size(); n >= 0 {
			m.size.WithLabelValues(method, route).Observe(float64(n))
		}
		if c.Writer.Header().Get(HeaderIdempotencyReplayed) == "true" {
			m.replays.WithLabelValues(route).Inc()
		}
	}
}
