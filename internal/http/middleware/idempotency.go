// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// IdempotencyValidator guards the Idempotency-Key header on letter writes.
// A key is remembered per actor and per target, the target being the method
// plus the concrete URL path ("POST /api/v1/letters/42/approval/decision"),
// so one key may be reused across different letters. The validator only
// checks the key and looks it up; handlers replay the stored outcome.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey carries the client-chosen key of a retryable write.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay" // bool, set only when a lookup ran
	ctxKeyRateBypass = "rate.bypass"

	defaultIdempotencyMaxLen = 200
)

var defaultIdempotencyPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// GetIdempotencyKey returns the key accepted by IdempotencyValidator.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// ReplayStatus reports whether the key of this request names a completed
// operation. checked is false when no lookup ran (no key, no actor, no
// lookup configured or the lookup failed); callers then decide for
// themselves.
func ReplayStatus(c *gin.Context) (replay, checked bool) {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// IdempotencyOptions tunes key validation.
type IdempotencyOptions struct {
	// MaxLen caps the key length; <= 0 means 200.
	MaxLen int
	// Pattern restricts key characters; nil means ^[A-Za-z0-9._~\-:]+$.
	Pattern *regexp.Regexp
	// Now is the lookup time; nil means time.Now in UTC.
	Now func() time.Time
}

// IdempotencyLookup reports whether an unexpired outcome exists for
// (actorID, scope, key) at now. Expiry is the lookup's concern.
type IdempotencyLookup func(ctx context.Context, actorID, scope, key string, now time.Time) (bool, error)

// IdempotencyScope is the target a key of this request is recorded under.
func IdempotencyScope(c *gin.Context) string {
	return c.Request.Method + " " + c.Request.URL.Path
}

// IdempotencyValidator accepts or rejects the Idempotency-Key of unsafe
// requests. Safe methods and requests without the header pass untouched. A
// malformed key is answered with 400 bad_idempotency_key. With a lookup and
// a known actor, a hit marks the request as a replay and lets it skip the
// rate limiter; a lookup error is logged and the request proceeds normally.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = defaultIdempotencyMaxLen
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultIdempotencyPattern
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
		if key == "" || isSafeMethod(c.Request.Method) {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			SetErrorCode(c, "bad_idempotency_key")
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "bad_idempotency_key",
				"message":    "invalid Idempotency-Key",
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)

		if actorID := actorIDFromCtx(c); lookup != nil && actorID != "" {
			hit, err := lookup(c.Request.Context(), actorID, IdempotencyScope(c), key, now())
			switch {
			case err != nil:
				LoggerFrom(c).Warn().Err(err).Msg("idempotency lookup failed")
			case hit:
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true)
			default:
				c.Set(ctxKeyIdemReplay, false)
			}
		}

		c.Next()
	}
}

func isSafeMethod(m string) bool {
	return m == http.MethodGet || m == http.MethodHead || m == http.MethodOptions
}

// actorIDFromCtx returns the resolved actor id, else the raw X-User-ID.
func actorIDFromCtx(c *gin.Context) string {
	if a, ok := ActorFrom(c); ok {
		return a.ID
	}
	return strings.TrimSpace(c.GetHeader(HeaderUserID))
}
