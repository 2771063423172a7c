package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cinemood/watchparty/pkg/logger"
)

// Logger writes a concise structured access log for each request. When the
// Identity middleware ran earlier in the chain the participant id is included.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()

		fields := []zap.Field{
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("duration", duration),
			zap.String("client_ip", c.ClientIP()),
		}
		if participantID, ok := ParticipantID(c); ok {
			fields = append(fields, zap.String("participant_id", participantID))
		}

		logger.WithModule("http").Info("request", fields...)
	}
}
