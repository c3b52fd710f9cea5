// Package session identifies the editing session a request belongs to. A
// session owns one current-proposal selection and at most one open
// transaction group.
package session

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	HeaderKey  = "X-TOMs-Session"
	contextKey = "toms_session"
)

// Middleware resolves the session ID from the request header or assigns a new one.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.GetHeader(HeaderKey)
		if sessionID == "" {
			sessionID = uuid.NewString()
		}

		c.Set(contextKey, sessionID)
		c.Writer.Header().Set(HeaderKey, sessionID)

		c.Next()
	}
}

// Value returns the session ID stored in the Gin context.
func Value(c *gin.Context) string {
	if v, exists := c.Get(contextKey); exists {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// Set stores a session ID on the context, used by tests and internal callers.
func Set(c *gin.Context, sessionID string) {
	c.Set(contextKey, sessionID)
}
