package middleware

import (
	"strings"

	"fleet-sync/pkg/jwt"

	"github.com/gin-gonic/gin"
)

// Context keys set by AuthMiddleware.
const (
	ContextClaims    = "claims"
	ContextToken     = "token"
	ContextAuthError = "auth_error"
)

// TokenAuthenticator validates bearer tokens.
type TokenAuthenticator interface {
	Authenticate(token string) (*jwt.Claims, error)
}

// AuthMiddleware resolves the bearer token, if any. Requests are never
// rejected here: operations such as connexion are public, so each resolver
// decides whether it needs the claims.
func AuthMiddleware(auth TokenAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.Next()
			return
		}

		// Handle both "Bearer token" and just "token" formats
		tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		c.Set(ContextToken, tokenString)

		claims, err := auth.Authenticate(tokenString)
		if err != nil {
			c.Set(ContextAuthError, err)
		} else {
			c.Set(ContextClaims, claims)
			c.Set("user_id", claims.UserID)
		}
		c.Next()
	}
}

// Claims returns the claims of an authenticated request. err explains why
// the request is not authenticated; it is nil when no token was sent.
func Claims(c *gin.Context) (*jwt.Claims, error) {
	if v, ok := c.Get(ContextClaims); ok {
		return v.(*jwt.Claims), nil
	}
	if v, ok := c.Get(ContextAuthError); ok {
		return nil, v.(error)
	}
	return nil, nil
}

// Token returns the raw bearer token of the request.
func Token(c *gin.Context) string {
	return c.GetString(ContextToken)
}
