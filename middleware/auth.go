package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/chatmate-app/chatmate/server/cache"
	"github.com/chatmate-app/chatmate/server/config"
	"github.com/gin-gonic/gin"
)

const UserIDKey = "user_id"

// Auth validates the Bearer JWT and checks the session cache. A token that
// parses but has been logged out (no session entry) is rejected, so logout is
// effective before the JWT expires.
func Auth(sec config.SecurityConfig, c cache.Cache) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		header := ctx.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "missing token"})
			return
		}
		tokenStr := strings.TrimPrefix(header, "Bearer ")

		claims, err := ParseToken(tokenStr, sec.JWTSecret)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid token"})
			return
		}

		cacheCtx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
		defer cancel()
		exists, err := c.Exists(cacheCtx, "session:"+tokenStr)
		if err != nil || !exists {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "session expired"})
			return
		}

		ctx.Set(UserIDKey, claims.UserID)
		ctx.Next()
	}
}

// GetUserID retrieves the authenticated user ID from the Gin context.
func GetUserID(c *gin.Context) int64 {
	if v, exists := c.Get(UserIDKey); exists {
		return v.(int64)
	}
	return 0
}
