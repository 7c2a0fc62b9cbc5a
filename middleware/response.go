// Package middleware provides the request identity and response envelope
// used by the live status surface.
package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func setResponseDefaults(r *Response) {
	if r.Message == "" {
		r.Message = "Success"
	}
	if r.Code == 0 {
		r.Code = http.StatusOK
	}
}

func getStartTime(c *gin.Context) time.Time {
	if value, exists := c.Get("start-time"); exists {
		if t, ok := value.(time.Time); ok {
			return t
		}
	}
	return time.Now()
}

func buildDebugInfo(c *gin.Context, r Response) *ResponseAPIDebug {
	startTime := getStartTime(c)
	endTime := time.Now()

	debug := &ResponseAPIDebug{
		Version:   c.GetString("version"),
		StartTime: startTime,
		EndTime:   endTime,
		RuntimeMs: endTime.Sub(startTime).Milliseconds(),
	}
	if r.Error != nil {
		msg := r.Error.Error()
		debug.Error = &msg
	}
	return debug
}

func send(c *gin.Context, log *zap.Logger, shouldDebug bool) func(r Response) {
	return func(r Response) {
		setResponseDefaults(&r)

		if r.Error != nil {
			log.Warn("request failed",
				zap.String("requestId", c.GetString("requestId")),
				zap.String("path", c.Request.URL.Path),
				zap.Int("code", r.Code),
				zap.Error(r.Error))
		}

		response := ResponseAPI{
			RequestID: c.GetString("requestId"),
			Message:   r.Message,
			Data:      r.Data,
		}
		if shouldDebug {
			response.Debug = buildDebugInfo(c, r)
		}

		c.Abort()
		c.JSON(r.Code, response)
	}
}

// RequestInit tags every request with an id, a version and a start time.
func RequestInit() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("requestId", uuid.New().String())
		version := c.Request.Header.Get("version")
		if version == "" {
			version = "1.0.0"
		}
		c.Set("version", version)
		c.Set("start-time", time.Now())
		c.Next()
	}
}

// ResponseInit installs the send function handlers retrieve from the
// context.
func ResponseInit(log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		shouldDebug := gin.Mode() == gin.DebugMode
		c.Set("send", send(c, log, shouldDebug))
		c.Next()
	}
}
