// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// Request correlation and logging: RequestID tags every request, Logger and
// RedactingLogger write one access line per request and install the
// request-scoped logger that LoggerFrom returns, and Recovery turns panics
// into the JSON error envelope. Mount them in that order so panics carry the
// request id.
package middleware

import (
	"net/http"
	"runtime/debug"
	"time"
	"unicode"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey    = "requestID"
	requestIDHeader = "X-Request-ID"
	loggerKey       = "logger" // *zerolog.Logger

	maxRequestIDLength = 128
	maxQueryLogLength  = 2048
)

// RequestID propagates a caller's X-Request-ID or mints a UUIDv4. Ids that
// are too long or contain spaces or control characters are replaced.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if !validRequestID(rid) {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

func validRequestID(s string) bool {
	if s == "" || len(s) > maxRequestIDLength {
		return false
	}
	for _, r := range s {
		if unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

// requestID is the id set by RequestID, else whatever the response carries.
func requestID(c *gin.Context) string {
	if v, ok := c.Get(requestIDKey); ok {
		if s := asString(v); s != "" {
			return s
		}
	}
	return c.Writer.Header().Get(requestIDHeader)
}

// routePath is the matched route pattern, or the raw path when no route
// matched.
func routePath(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return c.Request.URL.Path
}

// Logger writes the access line: client, route, size and timing fields,
// plus actor_id, actor_role and letter_id once known.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		l := log.With().
			Str("request_id", requestID(c)).
			Str("method", c.Request.Method).
			Str("path", routePath(c)).
			Str("remote_ip", c.ClientIP()).
			Str("user_agent", c.Request.UserAgent()).
			Str("referer", c.Request.Referer()).
			Str("query", truncate(c.Request.URL.RawQuery, maxQueryLogLength)).
			Int64("bytes_in", c.Request.ContentLength). // -1 when unknown
			Logger()
		c.Set(loggerKey, &l)

		c.Next()

		accessEvent(&l, c, start).Msg("request")
	}
}

// accessEvent opens the access line for a finished request. Gin errors and
// 5xx log at error, 4xx at warn, the rest at info.
func accessEvent(l *zerolog.Logger, c *gin.Context, start time.Time) *zerolog.Event {
	status := c.Writer.Status()
	var ev *zerolog.Event
	switch {
	case len(c.Errors) > 0:
		ev = l.Error().Str("errors", c.Errors.String())
	case status >= http.StatusInternalServerError:
		ev = l.Error()
	case status >= http.StatusBadRequest:
		ev = l.Warn()
	default:
		ev = l.Info()
	}
	if a, ok := ActorFrom(c); ok {
		ev = ev.Str("actor_id", a.ID).Str("actor_role", string(a.Role))
	}
	if id := c.Param("id"); id != "" {
		ev = ev.Str("letter_id", id)
	}
	return ev.
		Int("status", status).
		Dur("latency", time.Since(start)).
		Int("bytes_out", c.Writer.Size())
}

// Recovery logs a panic with its stack and answers 500 with the error
// envelope, or only the status when a response was already started.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			rid := requestID(c)
			ev := log.Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Str("request_id", rid).
				Str("path", c.Request.URL.Path)
			if a, ok := ActorFrom(c); ok {
				ev = ev.Str("actor_id", a.ID)
			}
			ev.Msg("panic recovered")

			if c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.Header(requestIDHeader, rid)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"request_id": rid,
				"code":       "internal_error",
				"message":    "internal server error",
			})
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger, or a child of the global
// logger. Never nil.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// truncate cuts s to max bytes and marks the cut; max <= 0 keeps s whole.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
