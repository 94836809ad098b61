package middleware

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
)

const (
	// HeaderIdempotencyKey carries the client's retry key on POST /purchases.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderIdempotencyReplayed is "true" on responses served from a stored
	// result.
	HeaderIdempotencyReplayed = "Idempotency-Replayed"

	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"

	defaultIdemKeyMaxLen = 200
)

var defaultIdemKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._~:\-]+$`)

// IdempotencyOptions restricts the accepted Idempotency-Key values.
type IdempotencyOptions struct {
	MaxLen  int            // <= 0 means 200
	Pattern *regexp.Regexp // nil means ^[A-Za-z0-9._~:\-]+$
}

// IdempotencyLookup reports whether key already produced a live result for
// route ("POST /api/v1/purchases") with exactly this body. Errors count as a
// miss.
type IdempotencyLookup func(ctx context.Context, route, key string, body []byte) (replay bool, err error)

// GetIdempotencyKey returns the key accepted by IdempotencyValidator.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	k := c.GetString(ctxKeyIdemKey)
	return k, k != ""
}

// IsReplay reports whether IdempotencyValidator found a stored result for
// this exact request.
func IsReplay(c *gin.Context) bool { return c.GetBool(ctxKeyIdemReplay) }

// IdempotencyValidator checks the Idempotency-Key header and, with a lookup,
// flags exact replays so the rate limiter lets them through for free.
//
// No header is a no-op and a malformed key is a 400. A key reused with a
// different body is not a replay: it is limited like any other request and
// the create handler answers 409. Replaying the stored purchase is the
// handler's job.
//
// The lookup needs the body, so it is buffered and handed back unchanged,
// read errors included. Handlers still see *http.MaxBytesError for an
// oversized payload, and no lookup runs for one.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = defaultIdemKeyMaxLen
	}
	pattern := opts.Pattern
	if pattern == nil {
		pattern = defaultIdemKeyPattern
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pattern.MatchString(key) {
			abortWithError(c, http.StatusBadRequest, "bad_request", "invalid Idempotency-Key")
			return
		}
		c.Set(ctxKeyIdemKey, key)

		if lookup != nil {
			if body, err := bufferBody(c.Request); err == nil {
				route := c.Request.Method + " " + c.FullPath()
				if replay, err := lookup(c.Request.Context(), route, key, body); err == nil && replay {
					c.Set(ctxKeyIdemReplay, true)
					c.Set(ctxKeyRateBypass, true)
				}
			}
		}
		c.Next()
	}
}

// bufferBody reads r.Body and replaces it with a reader that yields the same
// bytes followed by the same error.
func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	body, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), errReader{err}))
	return body, err
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	return 0, io.EOF
}
