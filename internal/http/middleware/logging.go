// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides request correlation, a request-scoped logger and panic
// recovery:
//
//   - RequestID() reuses or mints the X-Request-ID correlation ID.
//   - ContextLogger() builds a zerolog.Logger carrying the correlation ID and
//     route, and attaches it to both the Gin context and the request's
//     context.Context so services can log through zerolog.Ctx(ctx).
//   - Recovery() converts panics into the standard JSON 500 envelope.
//   - LoggerFrom() returns the request-scoped logger for handlers.
//
// Recommended order: RequestID, ContextLogger, RedactingLogger, Recovery.
package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey    = "requestID"
	requestIDHeader = "X-Request-ID"
	loggerKey       = "logger"
)

// RequestID attaches (or propagates) a correlation identifier per request.
// An incoming X-Request-ID is reused; otherwise a UUIDv4 is generated. The ID
// is echoed on the response and stored in the Gin context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// ContextLogger derives a request-scoped logger from the global zerolog
// logger and makes it reachable from the Gin context (LoggerFrom) and from
// c.Request.Context() (zerolog.Ctx). It emits nothing itself; the access log
// is written by RedactingLogger.
func ContextLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid, _ := c.Get(requestIDKey)
		l := log.With().
			Str("request_id", asString(rid)).
			Str("method", c.Request.Method).
			Str("route", routeOf(c)).
			Logger()

		c.Set(loggerKey, &l)
		c.Request = c.Request.WithContext(l.WithContext(c.Request.Context()))
		c.Next()
	}
}

// Recovery intercepts panics, logs the stack with the request ID and, if
// nothing was written yet, responds with
// { "request_id": "...", "code": "internal_error", "message": "internal server error" }.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				rid, _ := c.Get(requestIDKey)
				LoggerFrom(c).Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Str("request_id", asString(rid)).
					Msg("panic recovered")

				if !c.Writer.Written() {
					c.Header(requestIDHeader, asString(rid))
					abortError(c, http.StatusInternalServerError, "internal_error", "internal server error")
					return
				}
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger, or a copy of the global
// logger when ContextLogger did not run. Never nil.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

// routeOf prefers the registered route pattern (bounded cardinality) and
// falls back to the raw path for unmatched requests.
func routeOf(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return c.Request.URL.Path
}

func asString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
