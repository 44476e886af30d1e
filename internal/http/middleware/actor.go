// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file resolves the request-scoped actor. Authentication happens at the
// upstream gateway, which forwards the caller's identity in X-User-ID and
// X-User-Role. The role is parsed into the closed domain.Role set and the
// approver department is derived from it through the routing policy; clients
// never name their own department.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-letter-workflow/internal/domain"
)

const (
	// HeaderUserID carries the authenticated actor id.
	HeaderUserID = "X-User-ID"
	// HeaderUserRole carries the actor's role name.
	HeaderUserRole = "X-User-Role"

	ctxKeyActor  = "actor"
	ctxKeyUserID = "userID"
)

// DepartmentResolver maps an approver role onto the department it signs for.
type DepartmentResolver interface {
	DepartmentFor(role domain.Role) string
}

// Actor requires X-User-ID and a known X-User-Role and stores the resulting
// domain.Actor in the Gin context. Missing or unknown identity is a 401.
func Actor(resolver DepartmentResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(HeaderUserID))
		role, err := domain.ParseRole(c.GetHeader(HeaderUserRole))
		if id == "" || err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "unauthorized",
				"message":    "missing or unknown actor identity",
			})
			return
		}

		a := domain.Actor{ID: id, Role: role}
		if resolver != nil {
			a.Department = resolver.DepartmentFor(role)
		}
		c.Set(ctxKeyActor, a)
		c.Set(ctxKeyUserID, id)

		lg := LoggerFrom(c).With().
			Str("actor_id", a.ID).
			Str("actor_role", string(a.Role)).
			Logger()
		c.Set(loggerKey, &lg)

		c.Next()
	}
}

// ActorFrom returns the actor stored by Actor.
func ActorFrom(c *gin.Context) (domain.Actor, bool) {
	v, ok := c.Get(ctxKeyActor)
	if !ok {
		return domain.Actor{}, false
	}
	a, ok := v.(domain.Actor)
	return a, ok
}
