package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestID(t *testing.T) {
	cases := []struct {
		name   string
		header string
		keep   bool
	}{
		{"absent", "", false},
		{"client token kept", "checkout-42:retry.1", true},
		{"too long", strings.Repeat("r", maxRequestIDLen+1), false},
		{"spaces", "two words", false},
		{"markup", "<script>", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var inCtx string
			r := newEngine(RequestID())
			r.GET("/purchases", func(c *gin.Context) {
				inCtx = RequestIDFrom(c)
				c.Status(http.StatusOK)
			})

			w := serve(r, http.MethodGet, "/purchases", nil, map[string]string{requestIDHeader: tc.header})
			got := w.Header().Get(requestIDHeader)
			assert.Equal(t, got, inCtx)
			if tc.keep {
				assert.Equal(t, tc.header, got)
				return
			}
			_, err := uuid.Parse(got)
			assert.NoError(t, err, "minted id %q", got)
		})
	}
}

func TestRequestIDFrom_ResponseHeaderFallback(t *testing.T) {
	r := newEngine(func(c *gin.Context) {
		c.Header(requestIDHeader, "from-header")
		c.Next()
	})
	var got string
	r.GET("/x", func(c *gin.Context) { got = RequestIDFrom(c) })
	serve(r, http.MethodGet, "/x", nil, nil)
	assert.Equal(t, "from-header", got)
}

func TestLogger_LevelsAndPurchaseFields(t *testing.T) {
	buf := captureLogs(t)
	r := newEngine(RequestID(), Logger())
	r.GET("/api/v1/purchases/:id", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"id": c.Param("id")}) })
	r.POST("/api/v1/purchases", func(c *gin.Context) { c.Status(http.StatusBadRequest) })
	r.GET("/api/v1/purchases", func(c *gin.Context) {
		_ = c.Error(errors.New("store offline"))
		c.Status(http.StatusInternalServerError)
	})

	serve(r, http.MethodGet, "/api/v1/purchases/p-1?expand=items", nil, map[string]string{requestIDHeader: "rid-1"})
	serve(r, http.MethodPost, "/api/v1/purchases", nil, nil)
	serve(r, http.MethodGet, "/api/v1/purchases", nil, nil)
	serve(r, http.MethodGet, "/nowhere", nil, nil)

	lines := logLines(t, buf)
	require.Len(t, lines, 4)

	get := lines[0]
	assert.Equal(t, "info", get["level"])
	assert.Equal(t, "rid-1", get["request_id"])
	assert.Equal(t, "/api/v1/purchases/:id", get["route"])
	assert.Equal(t, "p-1", get["purchase_id"])
	assert.Equal(t, "expand=items", get["query"])
	assert.EqualValues(t, 200, get["status"])
	assert.Contains(t, get, "remote_ip")
	assert.NotContains(t, get, "headers")

	assert.Equal(t, "warn", lines[1]["level"])
	assert.NotContains(t, lines[1], "purchase_id")

	assert.Equal(t, "error", lines[2]["level"])
	assert.Equal(t, "store offline", lines[2]["errors"])

	assert.Equal(t, unmatchedRoute, lines[3]["route"])
	assert.Equal(t, "warn", lines[3]["level"])
}

func TestLogger_RecordsIdempotencyReplay(t *testing.T) {
	buf := captureLogs(t)
	replay := func(context.Context, string, string, []byte) (bool, error) { return true, nil }
	r := newEngine(RequestID(), Logger(), IdempotencyValidator(IdempotencyOptions{}, replay))
	r.POST("/purchases", func(c *gin.Context) { c.Status(http.StatusOK) })

	serve(r, http.MethodPost, "/purchases", strings.NewReader(`{}`), map[string]string{HeaderIdempotencyKey: "k1"})
	serve(r, http.MethodPost, "/purchases", strings.NewReader(`{}`), nil)

	lines := logLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, true, lines[0]["idempotency_replay"])
	assert.NotContains(t, lines[1], "idempotency_replay")
}

func TestRecovery(t *testing.T) {
	buf := captureLogs(t)
	r := newEngine(RequestID(), Logger(), Recovery())
	r.POST("/purchases", func(*gin.Context) { panic("ledger exploded") })
	r.GET("/purchases", func(c *gin.Context) {
		c.String(http.StatusOK, "partial")
		panic("after write")
	})

	w := serve(r, http.MethodPost, "/purchases", nil, map[string]string{requestIDHeader: "rid-p"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, map[string]string{
		"request_id": "rid-p",
		"error":      "internal_error",
		"message":    "internal server error",
	}, envelope(t, w))

	panicLine := lineWith(t, buf, "panic recovered")
	assert.Equal(t, "ledger exploded", panicLine["panic"])
	assert.Equal(t, "rid-p", panicLine["request_id"])
	assert.NotEmpty(t, panicLine["stack"])

	w = serve(r, http.MethodGet, "/purchases", nil, nil)
	assert.Equal(t, "partial", w.Body.String(), "a started response is left alone")
}

func TestLoggerFrom_WithoutAccessLogger(t *testing.T) {
	buf := captureLogs(t)
	r := newEngine(RequestID())
	r.GET("/x", func(c *gin.Context) {
		LoggerFrom(c).Info().Msg("handler says hi")
		c.Status(http.StatusNoContent)
	})
	serve(r, http.MethodGet, "/x", nil, map[string]string{requestIDHeader: "rid-9"})

	assert.Equal(t, "rid-9", lineWith(t, buf, "handler says hi")["request_id"])
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 3))
	assert.Equal(t, "ab…", truncate("abc", 2))
	assert.Equal(t, "abc", truncate("abc", 0))
}
