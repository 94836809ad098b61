package middleware

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// RedactOptions configures RedactingLogger.
type RedactOptions struct {
	// MaskHeaders are masked on top of Authorization, Cookie and Set-Cookie.
	MaskHeaders []string
}

// scrubRules run in order. Ids go before phones because the phone pattern
// would otherwise match UUID segments.
var scrubRules = []struct {
	re   *regexp.Regexp
	repl string
}{
	// Purchase owners are identified by user_id; never log the value.
	{regexp.MustCompile(`(?i)\b(user_id=)[^&]*`), "${1}[REDACTED]"},
	{regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}\b`), "[REDACTED:id]"},
	{regexp.MustCompile(`(?i)\b[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}\b`), "[REDACTED:email]"},
	{regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`), "[REDACTED:phone]"},
}

type scrubber struct {
	masked map[string]bool // canonical header names
}

func newScrubber(extra []string) *scrubber {
	s := &scrubber{masked: map[string]bool{
		"Authorization": true,
		"Cookie":        true,
		"Set-Cookie":    true,
	}}
	for _, h := range extra {
		if h = strings.TrimSpace(h); h != "" {
			s.masked[http.CanonicalHeaderKey(h)] = true
		}
	}
	return s
}

// text applies every scrub rule to v.
func (s *scrubber) text(v string) string {
	if v == "" {
		return v
	}
	for _, r := range scrubRules {
		v = r.re.ReplaceAllString(v, r.repl)
	}
	return v
}

// headers flattens h for logging with masked and scrubbed values.
func (s *scrubber) headers(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vv := range h {
		if s.masked[http.CanonicalHeaderKey(k)] {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = s.text(strings.Join(vv, ", "))
	}
	return out
}

// RedactingLogger is the default access logger. It never logs bodies, masks
// credential headers and scrubs user ids, e-mail addresses, phone numbers
// and UUIDs out of the query string, the remaining headers and any recorded
// errors. Otherwise it behaves like Logger.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	return accessLog(newScrubber(opts.MaskHeaders))
}
