package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const CtxClaimsKey = "auth_claims"

func AuthMiddleware(tokens TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := authenticate(c, tokens); !ok {
			return
		}
		c.Next()
	}
}

// RequireSameUser authenticates the request and rejects tokens issued to a
// user other than the one named by the route parameter param.
func RequireSameUser(tokens TokenService, param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := authenticate(c, tokens)
		if !ok {
			return
		}
		if claims.Username != c.Param(param) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

func authenticate(c *gin.Context, tokens TokenService) (*Claims, bool) {
	h := c.GetHeader("Authorization")
	if h == "" || !strings.HasPrefix(strings.ToLower(h), "bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return nil, false
	}

	raw := strings.TrimSpace(h[len("Bearer "):])
	claims, err := tokens.Parse(raw)
	if errors.Is(err, ErrTokenExpired) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token expired, please log in again."})
		return nil, false
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication failed!"})
		return nil, false
	}

	c.Set(CtxClaimsKey, claims)
	return claims, true
}

func MustGetClaims(c *gin.Context) *Claims {
	v, ok := c.Get(CtxClaimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*Claims)
	return claims
}
