// Package middleware holds the Gin middleware shared by every route: request
// correlation, access logging, panic recovery, metrics, rate limiting,
// idempotency and security headers.
//
// Install RequestID first and the access logger before Recovery so that
// panics are logged with the correlation id.
package middleware

import (
	"net/http"
	"regexp"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDHeader = "X-Request-ID"

	ctxKeyRequestID = "request.id"
	ctxKeyLogger    = "request.logger"

	maxRequestIDLen   = 128
	maxQueryLogLength = 2048
)

// Client ids are echoed in headers and logs, so only short printable tokens
// are accepted.
var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:\-]+$`)

// RequestID propagates the caller's X-Request-ID when it is a short printable
// token and mints a UUIDv4 otherwise. The id is stored on the context and
// echoed on the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if len(rid) > maxRequestIDLen || !requestIDPattern.MatchString(rid) {
			rid = uuid.NewString()
		}
		c.Set(ctxKeyRequestID, rid)
		c.Header(requestIDHeader, rid)
		c.Next()
	}
}

// RequestIDFrom returns the id assigned by RequestID. Outside that middleware
// it falls back to the X-Request-ID already set on the response, or "".
func RequestIDFrom(c *gin.Context) string {
	if rid := c.GetString(ctxKeyRequestID); rid != "" {
		return rid
	}
	return c.Writer.Header().Get(requestIDHeader)
}

// abortWithError writes the API error envelope and stops the chain.
func abortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": RequestIDFrom(c),
		"error":      code,
		"message":    message,
	})
}

// Logger writes one access log line per request without any scrubbing.
// Prefer RedactingLogger outside local development.
func Logger() gin.HandlerFunc { return accessLog(nil) }

// accessLog is the shared core of Logger and RedactingLogger. It installs a
// request-scoped logger (see LoggerFrom) and logs the outcome once the chain
// returns: error for 5xx or recorded gin errors, warn for 4xx, info
// otherwise. A nil scrubber logs query and client details verbatim.
func accessLog(s *scrubber) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		lc := log.With().
			Str("request_id", RequestIDFrom(c)).
			Str("method", c.Request.Method).
			Str("route", routeOf(c))
		if id := c.Param("id"); id != "" {
			lc = lc.Str("purchase_id", id)
		}
		l := lc.Logger()
		c.Set(ctxKeyLogger, &l)

		c.Next()

		status := c.Writer.Status()
		var ev *zerolog.Event
		switch {
		case status >= http.StatusInternalServerError || len(c.Errors) > 0:
			ev = l.Error()
		case status >= http.StatusBadRequest:
			ev = l.Warn()
		default:
			ev = l.Info()
		}

		query := truncate(c.Request.URL.RawQuery, maxQueryLogLength)
		errs := strings.Join(c.Errors.Errors(), "; ")
		if s != nil {
			query, errs = s.text(query), s.text(errs)
			ev = ev.Interface("headers", s.headers(c.Request.Header))
		} else {
			ev = ev.Str("remote_ip", c.ClientIP()).Str("user_agent", c.Request.UserAgent())
		}
		if query != "" {
			ev = ev.Str("query", query)
		}
		if errs != "" {
			ev = ev.Str("errors", errs)
		}
		if _, ok := GetIdempotencyKey(c); ok {
			ev = ev.Bool("idempotency_replay", IsReplay(c))
		}

		ev.Int("status", status).
			Int("bytes_out", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

// Recovery converts a panic into a 500 with the API error envelope and logs
// the panic value and stack. When the handler already started the response
// only the status is recorded.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			LoggerFrom(c).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("panic recovered")
			if c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			abortWithError(c, http.StatusInternalServerError, "internal_error", "internal server error")
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger installed by the access
// logger, or the global logger tagged with the request id. Never nil.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(ctxKeyLogger); ok {
		if l, ok := v.(*zerolog.Logger); ok {
			return l
		}
	}
	l := log.With().Str("request_id", RequestIDFrom(c)).Logger()
	return &l
}

// routeOf is the matched route pattern, or unmatchedRoute.
func routeOf(c *gin.Context) string {
	if r := c.FullPath(); r != "" {
		return r
	}
	return unmatchedRoute
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
