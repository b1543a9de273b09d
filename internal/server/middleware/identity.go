package middleware

import (
	"github.com/gin-gonic/gin"
)

const (
	UserIDHeader = "X-User-ID"
	UserIDKey    = "user_id"
)

// Identity stores the caller supplied user id for usage accounting.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if user := c.GetHeader(UserIDHeader); user != "" {
			c.Set(UserIDKey, user)
		}
		c.Next()
	}
}
