package http

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"iris/internal/id"
	"iris/internal/logging"
	"iris/internal/observability"
)

const requestIDHeader = "X-Request-ID"

// RequestIDMiddleware adopts the caller's request id or assigns one, and
// stores it on the request context for downstream logs.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if requestID == "" {
			requestID = id.NewRequestID()
		}
		c.Request = c.Request.WithContext(id.WithRequestID(c.Request.Context(), requestID))
		c.Header(requestIDHeader, requestID)
		c.Next()
	}
}

// LoggingMiddleware logs one line per request once it completes.
func LoggingMiddleware(logger logging.Logger) gin.HandlerFunc {
	logger = logging.OrNop(logger)
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		logger.Info(
			"[req:%s] route=%s method=%s status=%d latency_ms=%.2f bytes=%d",
			id.RequestIDFromContext(c.Request.Context()),
			route,
			c.Request.Method,
			c.Writer.Status(),
			float64(time.Since(start).Microseconds())/1000.0,
			c.Writer.Size(),
		)
	}
}

// TracingMiddleware wraps each request in a span.
func TracingMiddleware(tracer *observability.TracerProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.StartSpan(c.Request.Context(), observability.SpanHTTPRequest,
			attribute.String("http.method", c.Request.Method),
		)
		defer span.End()
		c.Request = c.Request.WithContext(ctx)
		c.Next()

		span.SetAttributes(
			attribute.String("http.route", c.FullPath()),
			attribute.Int("http.status_code", c.Writer.Status()),
		)
		if c.Writer.Status() >= 500 {
			span.SetStatus(codes.Error, c.Errors.String())
		}
	}
}
