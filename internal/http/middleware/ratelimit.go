// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements the process-local token-bucket limiter for the letter
// API. Buckets are keyed per actor (client IP for anonymous traffic), idle
// buckets are collected opportunistically, idempotent replays pass for free
// and selected service roles can be exempted.
//
// The limiter is abuse and cost control, not authorization. In a multi-replica
// deployment each replica enforces its own budget.
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

	"github.com/tbourn/go-letter-workflow/internal/domain"
)

// keyFunc selects the identity used to key a rate-limit bucket.
type keyFunc func(*gin.Context) string

// KeyByActorOrIP keys buckets by the actor resolved by Actor, then by the raw
// X-User-ID header, then by client IP. Keys are namespaced ("actor:law-1",
// "ip:203.0.113.7") so the two spaces never collide.
func KeyByActorOrIP() keyFunc {
	return func(c *gin.Context) string {
		if a, ok := ActorFrom(c); ok && a.ID != "" {
			return "actor:" + a.ID
		}
		if id := strings.TrimSpace(c.GetHeader(HeaderUserID)); id != "" {
			return "actor:" + id
		}
		return "ip:" + c.ClientIP()
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-key token-bucket limiter. Safe for concurrent use.
type RateLimiter struct {
	rps      rate.Limit
	burst    int
	keyFn    keyFunc
	mu       sync.Mutex
	visitors map[string]*visitor
	exempt   map[domain.Role]struct{}

	ttl      time.Duration
	cleanupN uint64
}

// NewRateLimiter builds a limiter refilling rps tokens per second with the
// given burst (coerced to at least 1). rps == 0 admits only the burst.
func NewRateLimiter(rps float64, burst int, keyFn keyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		keyFn:    keyFn,
		visitors: make(map[string]*visitor),
		exempt:   make(map[domain.Role]struct{}),
		ttl:      10 * time.Minute,
	}
}

// Exempt skips limiting for actors holding any of roles. It must be called
// before Handler is installed.
func (rl *RateLimiter) Exempt(roles ...domain.Role) *RateLimiter {
	for _, r := range roles {
		rl.exempt[r] = struct{}{}
	}
	return rl
}

// getVisitor returns the bucket for key, creating it when absent. Every 5000
// lookups idle buckets older than ttl are dropped first, so a stale bucket is
// replaced rather than refreshed.
func (rl *RateLimiter) getVisitor(key string) *rate.Limiter {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.cleanupN++
	if rl.cleanupN >= 5000 {
		for k, vv := range rl.visitors {
			if now.Sub(vv.lastSeen) >= rl.ttl {
				delete(rl.visitors, k)
			}
		}
		rl.cleanupN = 0
	}

	if v, ok := rl.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}

// IsRateBypass reports whether IdempotencyValidator marked this request as a
// replay of a completed request.
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// retryAfter is the whole number of seconds until lim has a token, at least 1.
func retryAfter(lim *rate.Limiter) int {
	if lim.Limit() <= 0 {
		return 60
	}
	r := lim.Reserve()
	d := r.Delay()
	r.Cancel()
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Handler enforces the limits. Replays and exempt roles pass through; an
// over-budget request gets 429 with Retry-After and the error envelope
// (code "too_many_requests").
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}
		if a, ok := ActorFrom(c); ok {
			if _, skip := rl.exempt[a.Role]; skip {
				c.Next()
				return
			}
		}

		lim := rl.getVisitor(rl.keyFn(c))
		if lim.Allow() {
			c.Next()
			return
		}

		SetErrorCode(c, "too_many_requests")
		c.Header("Retry-After", strconv.Itoa(retryAfter(lim)))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get(requestIDHeader),
			"code":       "too_many_requests",
			"message":    "rate limit exceeded",
		})
	}
}
