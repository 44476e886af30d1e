// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// RedactingLogger is the access logger used when LOG_REDACT is on. Letter
// bodies never reach the access log, but query strings and headers can still
// carry sender contact data: free-text search terms are dropped, emails,
// phone numbers and UUIDs are masked by pattern and credential headers are
// replaced outright.
package middleware

import (
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const redacted = "[REDACTED]"

var (
	// UUIDs go first: the phone pattern matches their digit groups.
	uuidRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}\b`)
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)

	defaultMaskedHeaders = []string{"Authorization", "Cookie", "Set-Cookie", "X-User-Token"}
	// defaultDroppedParams hold free text typed by operators.
	defaultDroppedParams = []string{"q"}
)

// RedactOptions extends the built-in masks.
type RedactOptions struct {
	// MaskHeaders are replaced by [REDACTED]; matched case-insensitively.
	MaskHeaders []string
	// DropParams are query parameters whose values are replaced by [REDACTED]
	// before pattern scrubbing.
	DropParams []string
}

// Redactor scrubs strings, query strings and headers for logging.
type Redactor struct {
	headers map[string]struct{}
	params  map[string]struct{}
}

// NewRedactor merges opts with the built-in header and parameter sets.
func NewRedactor(opts RedactOptions) *Redactor {
	r := &Redactor{headers: map[string]struct{}{}, params: map[string]struct{}{}}
	for _, h := range append(defaultMaskedHeaders, opts.MaskHeaders...) {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			r.headers[h] = struct{}{}
		}
	}
	for _, p := range append(defaultDroppedParams, opts.DropParams...) {
		if p = strings.TrimSpace(p); p != "" {
			r.params[p] = struct{}{}
		}
	}
	return r
}

// Redact masks ids, emails and phone numbers in s.
func (r *Redactor) Redact(s string) string {
	if s == "" {
		return s
	}
	s = uuidRE.ReplaceAllString(s, "[REDACTED:id]")
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
	return phoneRE.ReplaceAllString(s, "[REDACTED:phone]")
}

// Query drops the configured parameters and scrubs the rest. An unparsable
// query is scrubbed as a plain string. Parameters come out sorted by name.
func (r *Redactor) Query(raw string) string {
	if raw == "" {
		return ""
	}
	vals, err := url.ParseQuery(raw)
	if err != nil {
		return r.Redact(raw)
	}
	keys := make([]string, 0, len(vals))
	for k := range vals {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		for _, v := range vals[k] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			if _, drop := r.params[k]; drop {
				v = redacted
			} else {
				v = r.Redact(v)
			}
			b.WriteString(k + "=" + v)
		}
	}
	return b.String()
}

// Headers flattens h, masking credential headers and scrubbing the rest.
func (r *Redactor) Headers(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vv := range h {
		if _, ok := r.headers[strings.ToLower(k)]; ok {
			out[k] = redacted
			continue
		}
		out[k] = r.Redact(strings.Join(vv, ", "))
	}
	return out
}

// RedactingLogger writes the same access line as Logger, with a scrubbed
// query and the request headers attached, and installs the request-scoped
// logger for LoggerFrom.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	red := NewRedactor(opts)

	return func(c *gin.Context) {
		start := time.Now()
		l := log.With().
			Str("request_id", requestID(c)).
			Str("method", c.Request.Method).
			Str("path", routePath(c)).
			Logger()
		c.Set(loggerKey, &l)
		headers := red.Headers(c.Request.Header)
		query := truncate(red.Query(c.Request.URL.RawQuery), maxQueryLogLength)

		c.Next()

		accessEvent(&l, c, start).
			Str("query", query).
			Interface("headers", headers).
			Msg("request")
	}
}
