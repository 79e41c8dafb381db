package middleware

import (
	"time"

	"github.com/Dhoini/humanizer-billing/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const RequestIDHeader = "X-Request-ID"

// RequestLogger - Gin middleware для логирования запросов.
// Проставляет X-Request-ID, если клиент его не прислал.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeader, requestID)

		path := c.Request.URL.Path
		if rawQuery := c.Request.URL.RawQuery; rawQuery != "" {
			path = path + "?" + rawQuery
		}

		c.Next()

		fields := []any{
			"status_code", c.Writer.Status(),
			"method", c.Request.Method,
			"path", path,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
			"request_id", requestID,
		}
		if userID, ok := UserID(c); ok {
			fields = append(fields, "userID", userID)
		}
		if errs := c.Errors.ByType(gin.ErrorTypePrivate).String(); errs != "" {
			fields = append(fields, "errors", errs)
		}

		switch status := c.Writer.Status(); {
		case status >= 500:
			log.Errorw("Request handled", fields...)
		case status >= 400:
			log.Warnw("Request handled", fields...)
		default:
			log.Infow("Request handled", fields...)
		}
	}
}
