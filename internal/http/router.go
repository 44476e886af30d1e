// Package httpapi mounts the letter workflow API on a Gin engine: the global
// middleware chain, the operational endpoints and the versioned routes.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	_ "github.com/tbourn/go-letter-workflow/docs"
	"github.com/tbourn/go-letter-workflow/internal/config"
	"github.com/tbourn/go-letter-workflow/internal/domain"
	"github.com/tbourn/go-letter-workflow/internal/http/handlers"
	"github.com/tbourn/go-letter-workflow/internal/http/middleware"
	"github.com/tbourn/go-letter-workflow/internal/services"
	"github.com/tbourn/go-letter-workflow/internal/workflow"
)

const maxBodyBytes = 1 << 20

var (
	corsMethods       = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsAllowHeaders  = []string{"Origin", "Content-Type", "Accept", "Authorization", "If-None-Match", middleware.HeaderUserID, middleware.HeaderUserRole, middleware.HeaderIdempotencyKey}
	corsExposeHeaders = []string{"X-Request-ID", "ETag", "Idempotency-Replayed", "Content-Length"}
)

// RegisterRoutes installs middleware and routes on r. Global middleware, in
// order: tracing, request id, access log, recovery, body limit, gzip,
// metrics, CORS, security headers. The API group under cfg.APIBasePath adds
// actor resolution, then the Idempotency-Key check, then the rate limiter,
// so a replayed write is never throttled.
func RegisterRoutes(r *gin.Engine, engine *services.Engine, policy *workflow.Policy, cfg config.Config) {
	r.HandleMethodNotAllowed = true
	if policy == nil {
		policy = workflow.DefaultPolicy()
	}

	r.Use(
		otelgin.Middleware(cfg.OTEL.ServiceName),
		middleware.RequestID(),
		accessLogger(cfg.LogRedact),
		middleware.Recovery(),
		limitBody(maxBodyBytes),
		gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})),
		middleware.Metrics(),
	)
	r.Use(corsChain(cfg.CORS.AllowedOrigins)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		Private:      true,
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/ready", readiness(engine))
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	idem := services.NewIdempotencyService(engine.DB, engine.Clock, cfg.IdempotencyTTL)
	h := handlers.New(
		services.NewLetterService(engine, policy, cfg.Workflow.SLAWarningFraction),
		services.NewApprovalService(engine),
		services.NewReservationService(engine),
		services.NewQueryService(engine.DB),
		idem,
	)

	// The classifier posts results in bursts after each batch run.
	limiter := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByActorOrIP()).
		Exempt(domain.RoleClassifier)

	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(
		middleware.Actor(policy),
		middleware.IdempotencyValidator(
			middleware.IdempotencyOptions{Now: engine.Clock.Now},
			func(ctx context.Context, actorID, scope, key string, now time.Time) (bool, error) {
				return idem.Exists(ctx, actorID, scope, key, now)
			},
		),
		limiter.Handler(),
	)
	mountLetters(api, h)
}

func mountLetters(api *gin.RouterGroup, h *handlers.Handlers) {
	letters := api.Group("/letters")
	letters.POST("", h.IngestLetter)
	letters.GET("", h.ListLetters)
	letters.GET("/:id", h.GetLetter)
	letters.POST("/:id/analysis", h.BeginAnalysis)
	letters.PUT("/:id/classification", h.ApplyClassification)
	letters.PUT("/:id/response", h.SelectResponse)
	letters.PATCH("/:id/status", h.ChangeStatus)
	letters.POST("/:id/send", h.SendLetter)
	letters.PUT("/:id/deadline", h.OverrideDeadline)
	letters.GET("/:id/sla", h.GetSLA)

	letters.POST("/:id/approval", h.StartApproval)
	letters.POST("/:id/approval/decision", h.RecordDecision)

	letters.POST("/:id/reservation", h.ReserveLetter)
	letters.DELETE("/:id/reservation", h.ReleaseLetter)

	api.GET("/search/letters", h.SearchLetters)
}

// accessLogger picks the access log. Letters carry sender names and emails,
// which the redacting variant keeps out of query and header fields.
func accessLogger(redact bool) gin.HandlerFunc {
	if redact {
		return middleware.RedactingLogger(middleware.RedactOptions{MaskHeaders: []string{"X-API-Key"}})
	}
	return middleware.Logger()
}

// corsChain allows any origin when origins is empty, without credentials.
// Otherwise only listed origins are echoed back, with Vary: Origin. The
// header is also set on plain requests that gin-contrib/cors leaves alone.
func corsChain(origins []string) []gin.HandlerFunc {
	base := cors.Config{
		AllowMethods:  corsMethods,
		AllowHeaders:  corsAllowHeaders,
		ExposeHeaders: corsExposeHeaders,
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		base.AllowAllOrigins = true
		return []gin.HandlerFunc{
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(base),
		}
	}

	base.AllowOrigins = origins
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return []gin.HandlerFunc{
		func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					c.Writer.Header().Add("Vary", "Origin")
				}
			}
			c.Next()
		},
		cors.New(base),
	}
}

// readiness answers 503 while the database cannot be reached.
func readiness(engine *services.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		sqlDB, err := engine.DB.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("readiness check failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

// limitBody caps request bodies at maxBytes; reads past it fail.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix treats "" and "/" as the root group.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
