package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"smmswarm/internal/ids"
	"smmswarm/internal/logging"
	"smmswarm/internal/observability"
)

const (
	HeaderRequestID = "X-Request-ID"
	HeaderUserID    = "X-User-ID"
)

// RequestIDMiddleware puts request and user ids on the request context and
// echoes the request id back.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(HeaderRequestID))
		if requestID == "" {
			requestID = ids.NewRequestID()
		}
		ctx := ids.WithIDs(c.Request.Context(), ids.IDs{
			RequestID: requestID,
			UserID:    strings.TrimSpace(c.GetHeader(HeaderUserID)),
		})
		c.Request = c.Request.WithContext(ctx)
		c.Header(HeaderRequestID, requestID)
		c.Next()
	}
}

// JSONMiddleware rejects request bodies that are not JSON.
func JSONMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
			if ct := c.ContentType(); ct != "" && ct != gin.MIMEJSON {
				c.AbortWithStatusJSON(http.StatusUnsupportedMediaType, APIResponse{
					Success: false,
					Error:   "Content-Type must be application/json",
				})
				return
			}
		}
		c.Next()
	}
}

// ObservabilityMiddleware wraps each request in a span, records its latency
// and logs one line per request.
func ObservabilityMiddleware(tracer *observability.TracerProvider, metrics *observability.Metrics, latencyLogger logging.Logger) gin.HandlerFunc {
	latencyLogger = logging.OrNop(latencyLogger)
	return func(c *gin.Context) {
		start := time.Now()
		ctx, span := tracer.StartSpan(c.Request.Context(), observability.SpanHTTPServer,
			attribute.String("http.method", c.Request.Method),
		)
		defer span.End()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		latency := time.Since(start)
		span.SetAttributes(
			attribute.String("http.route", route),
			attribute.Int("http.status_code", status),
		)
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
		metrics.ObserveHTTPRequest(c.Request.Method, route, status, latency)
		logging.FromContext(ctx, latencyLogger).Info(
			"route=%s method=%s status=%d latency_ms=%.2f bytes=%d",
			route,
			c.Request.Method,
			status,
			float64(latency.Microseconds())/1000.0,
			c.Writer.Size(),
		)
	}
}
