package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const requestIDContextKey = "request_id"

// RequestID echoes or assigns X-Request-ID so websocket lifecycle events and
// logs can be correlated with the handshake.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := requestIDFromContext(c)
		c.Request.Header.Set("X-Request-Id", id)
		c.Writer.Header().Set("X-Request-Id", id)
		c.Next()
	}
}

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(requestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDContextKey, requestID)
	return requestID
}

func userIDFromContext(c *gin.Context) *int64 {
	val, ok := c.Get("userID")
	if !ok {
		return nil
	}
	switch userID := val.(type) {
	case int64:
		if userID > 0 {
			return &userID
		}
	case int:
		if userID > 0 {
			value := int64(userID)
			return &value
		}
	}
	return nil
}
