package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Class names the budget a request draws tokens from.
type Class string

const (
	ClassRead  Class = "read"
	ClassWrite Class = "write"
)

// Budget is the shape of one token bucket.
type Budget struct {
	RPS   float64 // refill rate; 0 means the burst is never refilled
	Burst int     // <= 0 means 1
}

// Classifier assigns a request to a budget class.
type Classifier func(*gin.Context) Class

// PurchaseWrites classifies POST, PUT, PATCH and DELETE on purchasesRoute
// (the gin route of the collection, e.g. "/api/v1/purchases") or any route
// below it as ClassWrite. Everything else is ClassRead.
func PurchaseWrites(purchasesRoute string) Classifier {
	return func(c *gin.Context) Class {
		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
			if route := c.FullPath(); route == purchasesRoute || strings.HasPrefix(route, purchasesRoute+"/") {
				return ClassWrite
			}
		}
		return ClassRead
	}
}

// ClientIP identifies callers by the address gin resolves, honoring the
// engine's trusted proxies. The API has no authenticated identity.
func ClientIP(c *gin.Context) string { return c.ClientIP() }

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// RateLimiter keeps one token bucket per (class, client) and drops buckets
// that have been idle for IdleTTL. Safe for concurrent use.
type RateLimiter struct {
	budgets  map[Class]Budget
	classify Classifier
	client   func(*gin.Context) string

	// IdleTTL is how long an unused bucket survives. Sweeps run at most
	// once per IdleTTL, on the request path.
	IdleTTL time.Duration
	now     func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	nextSweep time.Time
}

// NewRateLimiter builds a limiter from per-class budgets. A class without
// its own budget uses ClassRead's. A nil classify puts every request in
// ClassRead; a nil client uses ClientIP.
func NewRateLimiter(budgets map[Class]Budget, classify Classifier, client func(*gin.Context) string) *RateLimiter {
	if classify == nil {
		classify = func(*gin.Context) Class { return ClassRead }
	}
	if client == nil {
		client = ClientIP
	}
	own := make(map[Class]Budget, len(budgets))
	for cl, b := range budgets {
		if b.Burst <= 0 {
			b.Burst = 1
		}
		own[cl] = b
	}
	return &RateLimiter{
		budgets:  own,
		classify: classify,
		client:   client,
		IdleTTL:  10 * time.Minute,
		now:      time.Now,
		buckets:  make(map[string]*bucket),
	}
}

func (rl *RateLimiter) budget(cl Class) Budget {
	if b, ok := rl.budgets[cl]; ok {
		return b
	}
	if b, ok := rl.budgets[ClassRead]; ok {
		return b
	}
	return Budget{Burst: 1}
}

// limiter returns the bucket for (cl, who), creating it on first use.
func (rl *RateLimiter) limiter(cl Class, who string) *rate.Limiter {
	now := rl.now()
	key := string(cl) + "|" + who

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.After(rl.nextSweep) {
		for k, b := range rl.buckets {
			if now.Sub(b.seen) >= rl.IdleTTL {
				delete(rl.buckets, k)
			}
		}
		rl.nextSweep = now.Add(rl.IdleTTL)
	}

	b, ok := rl.buckets[key]
	if !ok {
		bud := rl.budget(cl)
		b = &bucket{lim: rate.NewLimiter(rate.Limit(bud.RPS), bud.Burst)}
		rl.buckets[key] = b
	}
	b.seen = now
	return b.lim
}

// size reports the number of live buckets.
func (rl *RateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// IsRateBypass reports whether IdempotencyValidator marked the request as an
// exact replay, which is served without spending a token.
func IsRateBypass(c *gin.Context) bool {
	return c.GetBool(ctxKeyRateBypass)
}

// Handler enforces the budgets. Rejections get 429 with Retry-After set to
// the time one token takes to refill, and are counted per class.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}

		cl := rl.classify(c)
		if rl.limiter(cl, rl.client(c)).Allow() {
			c.Next()
			return
		}

		defaultMetrics.limited.WithLabelValues(string(cl)).Inc()
		c.Header("Retry-After", retryAfter(rl.budget(cl).RPS))
		LoggerFrom(c).Warn().Str("class", string(cl)).Msg("rate limited")
		abortWithError(c, http.StatusTooManyRequests, "too_many_requests", "rate limit exceeded")
	}
}

// retryAfter is the whole seconds until one token is back, at least 1. A
// bucket that never refills asks for a minute.
func retryAfter(rps float64) string {
	if rps <= 0 {
		return "60"
	}
	return strconv.Itoa(int(math.Max(1, math.Ceil(1/rps))))
}
