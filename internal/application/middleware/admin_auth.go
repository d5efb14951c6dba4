package middleware

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sofia-platform/billing/internal/interfaces/http/response"
)

// DunningAdminAuth admits callers presenting either the shared service token
// or a JWT whose role is admin or service.
func DunningAdminAuth(adminToken string, verifier *JWTVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminToken == "" && verifier == nil {
			response.Error(c, http.StatusInternalServerError, "AUTH_NOT_CONFIGURED", "Dunning credentials are not configured")
			c.Abort()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Unauthorized(c, "Missing authorization header")
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader || tokenString == "" {
			response.Unauthorized(c, "Invalid token format")
			c.Abort()
			return
		}

		if adminToken != "" && subtle.ConstantTimeCompare([]byte(tokenString), []byte(adminToken)) == 1 {
			c.Set("caller", "service-token")
			c.Next()
			return
		}

		if verifier == nil {
			response.Unauthorized(c, "Invalid token")
			c.Abort()
			return
		}

		claims, err := verifier.ParseToken(c.Request.Context(), tokenString)
		switch {
		case errors.Is(err, ErrBlocklistDegraded):
			response.ServiceUnavailable(c, "Token validation unavailable")
			c.Abort()
			return
		case errors.Is(err, ErrTokenRevoked):
			response.Error(c, http.StatusUnauthorized, "TOKEN_REVOKED", "Token has been revoked")
			c.Abort()
			return
		case err != nil:
			response.Unauthorized(c, "Invalid or expired token")
			c.Abort()
			return
		}

		if !claims.IsOperator() {
			response.Forbidden(c, "Admin access required")
			c.Abort()
			return
		}

		c.Set("caller", claims.Subject)
		c.Set("role", claims.Role)
		c.Next()
	}
}
