// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// Metrics instruments the API with Prometheus. Routes are labelled by their
// registered pattern ("/api/v1/letters/:id/reservation") and unmatched
// requests share one label, so scanners cannot grow the series count. The
// actor role is recorded on the request counter to show which department
// drives the load; its values are bounded by the role enum.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	ctxKeyErrorCode = "api_error_code"

	unmatchedRoute = "unmatched"
	anonymousRole  = "anonymous"
)

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route, status and actor role.",
		},
		[]string{"method", "route", "status", "role"},
	)
	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)
	httpInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_inflight",
			Help: "HTTP requests currently being served.",
		},
	)
	// Letter payloads are small; anything past 1 MiB is a listing gone wrong.
	httpRespSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "HTTP response body size by method and route.",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8),
		},
		[]string{"method", "route"},
	)
	// 409 invalid_transition and 409 already_reserved are told apart here.
	httpAPIErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_api_errors_total",
			Help: "API error responses by route and error code.",
		},
		[]string{"route", "code"},
	)
)

func init() {
	prometheus.MustRegister(httpReqs, httpLat, httpInflight, httpRespSize, httpAPIErrors)
}

// SetErrorCode records the API error code of the current response.
func SetErrorCode(c *gin.Context, code string) {
	c.Set(ctxKeyErrorCode, code)
}

// routeLabel is the registered route pattern or "unmatched".
func routeLabel(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return unmatchedRoute
}

func roleLabel(c *gin.Context) string {
	if a, ok := ActorFrom(c); ok && a.Role != "" {
		return string(a.Role)
	}
	return anonymousRole
}

// Metrics records the request counter, latency, response size, in-flight
// gauge and reported API error codes. Mount /metrics with promhttp.Handler.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		c.Next()

		route := routeLabel(c)
		method := c.Request.Method

		httpReqs.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status()), roleLabel(c)).Inc()
		httpLat.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		// Size is -1 when nothing was written.
		if size := c.Writer.Size(); size >= 0 {
			httpRespSize.WithLabelValues(method, route).Observe(float64(size))
		}
		if code := c.GetString(ctxKeyErrorCode); code != "" {
			httpAPIErrors.WithLabelValues(route, code).Inc()
		}
	}
}
