package middlewares

import (
	"net/http"

	"bitbucket.org/mmdatafocus/governance_backend/config"
	"bitbucket.org/mmdatafocus/governance_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// RevokedTokenKey is the Redis key the auth service sets when it revokes a token.
func RevokedTokenKey(token string) string {
	return "RevokedToken:" + token
}

// SessionMiddleware rejects tokens revoked before they expire. It runs after
// AuthMiddleware and is a no-op until Redis is connected.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		rdb := config.GetRedisDB()
		token, ok := utils.GetTokenFromContext(c.Request.Context())
		if rdb == nil || !ok || token == "" {
			c.Next()
			return
		}
		err := rdb.Get(c.Request.Context(), RevokedTokenKey(token)).Err()
		if err == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if err != redis.Nil {
			config.LogError(config.GetLogger(), "SessionMiddleware", "SessionMiddleware", "revocation lookup failed", nil, err)
		}
		c.Next()
	}
}
