package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Timeout returns a Gin middleware that attaches a deadline to the request
// context. The handler chain runs synchronously, so gin.Context is never
// touched from two goroutines.
//
// If the deadline fired and the handler returned without writing a response,
// a 503 is sent. A handler blocked on something that ignores its context is
// not interrupted; every store and provider call takes the context, so they
// unblock when the deadline fires.
func Timeout(d time.Duration, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)

		c.Next()

		if ctx.Err() != nil && !c.Writer.Written() {
			logger.Warn("request timed out",
				zap.String("method", c.Request.Method),
				zap.String("path", c.FullPath()),
				zap.Duration("timeout", d),
				zap.String("request_id", RequestIDFrom(c)))
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "request timed out",
			})
		}
	}
}
