package middlewares

import (
	"net/http"
	"strings"

	"bitbucket.org/mmdatafocus/governance_backend/utils"
	"github.com/gin-gonic/gin"
)

// AuthMiddleware turns a bearer token issued by the external auth service into
// the actor identity the engine consumes. Requests without a valid token are rejected.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.Request.Header.Get("Authorization")
		const bearer = "Bearer "
		if !strings.HasPrefix(auth, bearer) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		token := strings.TrimSpace(auth[len(bearer):])

		claims, err := utils.JwtValidate(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		ctx := utils.SetTokenInContext(c.Request.Context(), token)
		ctx = utils.SetActorIdInContext(ctx, claims.ActorId)
		ctx = utils.SetActorNameInContext(ctx, claims.Name)
		ctx = utils.SetActorRoleInContext(ctx, claims.Role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
