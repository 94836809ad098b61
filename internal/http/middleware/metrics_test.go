package middleware

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func meteredEngine(t *testing.T) (*gin.Engine, *httpMetrics) {
	t.Helper()
	m := newHTTPMetrics(prometheus.NewRegistry())
	r := newEngine(m.handler())
	r.POST("/api/v1/purchases", func(c *gin.Context) {
		if c.GetHeader(HeaderIdempotencyKey) != "" {
			c.Header(HeaderIdempotencyReplayed, "true")
			c.JSON(http.StatusOK, gin.H{"id": "p-1"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"id": "p-1"})
	})
	r.GET("/api/v1/purchases/:id", func(c *gin.Context) {
		assert.Equal(t, float64(1), testutil.ToFloat64(m.inflight))
		c.JSON(http.StatusOK, gin.H{"id": c.Param("id")})
	})
	return r, m
}

func TestMetrics_LabelsUseRoutePatterns(t *testing.T) {
	r, m := meteredEngine(t)

	serve(r, http.MethodGet, "/api/v1/purchases/p-1", nil, nil)
	serve(r, http.MethodGet, "/api/v1/purchases/p-2", nil, nil)
	serve(r, http.MethodGet, "/wp-admin.php", nil, nil)
	serve(r, http.MethodGet, "/.env", nil, nil)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.requests.WithLabelValues("GET", "/api/v1/purchases/:id", "200")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.requests.WithLabelValues("GET", unmatchedRoute, "404")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.requests), "one series per route pattern")
	assert.Equal(t, float64(0), testutil.ToFloat64(m.inflight))
}

func TestMetrics_CountsIdempotentReplays(t *testing.T) {
	r, m := meteredEngine(t)

	serve(r, http.MethodPost, "/api/v1/purchases", nil, nil)
	serve(r, http.MethodPost, "/api/v1/purchases", nil, map[string]string{HeaderIdempotencyKey: "order-7"})
	serve(r, http.MethodPost, "/api/v1/purchases", nil, map[string]string{HeaderIdempotencyKey: "order-7"})

	assert.Equal(t, float64(2), testutil.ToFloat64(m.replays.WithLabelValues("/api/v1/purchases")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.requests.WithLabelValues("POST", "/api/v1/purchases", "201")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.requests.WithLabelValues("POST", "/api/v1/purchases", "200")))
}

func TestMetrics_ObservesLatencyAndSize(t *testing.T) {
	r, m := meteredEngine(t)
	serve(r, http.MethodPost, "/api/v1/purchases", nil, nil)

	assert.Equal(t, 1, testutil.CollectAndCount(m.duration))
	assert.Equal(t, 1, testutil.CollectAndCount(m.size))
}

func TestMetrics_RegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	newHTTPMetrics(reg)
	require.Panics(t, func() { newHTTPMetrics(reg) })
}
