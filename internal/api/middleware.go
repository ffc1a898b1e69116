package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/pytake/pytake-go/internal/api/auth"
)

// requireAuth validates the bearer JWT on every request, the way the
// teacher's AuthMiddleware validates session JWTs, generalized to a worker
// subject instead of a user/tenant pair.
func requireAuth(manager *auth.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			c.Abort()
			return
		}

		claims, err := manager.ValidateToken(parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			c.Abort()
			return
		}

		c.Set("worker_id", claims.WorkerID)
		c.Set("role", claims.Role)
		c.Next()
	}
}
