package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"detox/pkg/auth"
)

const (
	// AuthHeaderKey is the standard Authorization header
	AuthHeaderKey = "Authorization"
	// ContextClaimsKey is the key used to store token claims in context
	ContextClaimsKey = "claims"
)

// AuthMiddleware requires a valid Bearer token granting scope.
// An empty scope accepts any valid token.
func AuthMiddleware(svc *auth.JWTService, scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := svc.ValidateToken(bearerToken(c))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": err.Error(),
				"hint":  "provide a Bearer token",
			})
			return
		}

		if scope != "" && !claims.HasScope(scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":    auth.ErrInsufficientScope.Error(),
				"required": scope,
			})
			return
		}

		c.Set(ContextClaimsKey, claims)
		c.Next()
	}
}

// bearerToken extracts the token of an "Authorization: Bearer <token>" header.
func bearerToken(c *gin.Context) string {
	parts := strings.SplitN(c.GetHeader(AuthHeaderKey), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// GetClaims retrieves token claims from the request context
func GetClaims(c *gin.Context) (*auth.Claims, bool) {
	value, exists := c.Get(ContextClaimsKey)
	if !exists {
		return nil, false
	}
	claims, ok := value.(*auth.Claims)
	return claims, ok
}
