package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const defaultHSTSMaxAge = 180 * 24 * time.Hour

// SecurityOptions configures SecurityHeaders.
type SecurityOptions struct {
	// HSTS sends Strict-Transport-Security on HTTPS requests only. Enable it
	// only when TLS terminates in front of every instance.
	HSTS       bool
	HSTSMaxAge time.Duration // <= 0 means 180 days

	// NoStorePrefixes are URL path prefixes whose responses carry purchase
	// data and must never be cached.
	NoStorePrefixes []string

	// BrowserPolicies adds Permissions-Policy and
	// X-Permitted-Cross-Domain-Policies.
	BrowserPolicies bool
}

// SecurityHeaders sets the hardening headers for a JSON API: nosniff, frame
// denial and no referrer on every response, plus the optional groups
// selected by opt. No CSP is sent; the only HTML served is the Swagger UI.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	fixed := [][2]string{
		{"X-Content-Type-Options", "nosniff"},
		{"X-Frame-Options", "DENY"},
		{"Referrer-Policy", "no-referrer"},
	}
	if opt.BrowserPolicies {
		fixed = append(fixed,
			[2]string{"Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()"},
			[2]string{"X-Permitted-Cross-Domain-Policies", "none"},
		)
	}

	maxAge := opt.HSTSMaxAge
	if maxAge <= 0 {
		maxAge = defaultHSTSMaxAge
	}
	hsts := fmt.Sprintf("max-age=%d; includeSubDomains", int64(maxAge/time.Second))

	return func(c *gin.Context) {
		h := c.Writer.Header()
		for _, kv := range fixed {
			h.Set(kv[0], kv[1])
		}
		if hasAnyPrefix(c.Request.URL.Path, opt.NoStorePrefixes) {
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")
		}
		if opt.HSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}
		c.Next()
	}
}

// isHTTPS reports TLS on the connection or X-Forwarded-Proto: https from a
// proxy.
func isHTTPS(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

// hasAnyPrefix matches whole path segments: "/purchases" covers
// "/purchases/1" but not "/purchases-archive".
func hasAnyPrefix(p string, prefixes []string) bool {
	for _, pre := range prefixes {
		if pre == "" {
			continue
		}
		if p == pre || strings.HasPrefix(p, strings.TrimSuffix(pre, "/")+"/") {
			return true
		}
	}
	return false
}
