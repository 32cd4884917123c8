package httpmiddleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// InjectLogger places the base logger into every request context, tagged
// with the request id, so handlers can use zctx.From.
func InjectLogger(lg *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqLg := lg
		if id := RequestIDFromContext(c); id != "" {
			reqLg = lg.With(zap.String("request_id", id))
		}
		ctx := zctx.Base(c.Request.Context(), reqLg)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// LogRequests writes one structured line per request.
func LogRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		zctx.From(c.Request.Context()).Info("Request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}
