package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const claimsKey = "auth.claims"

// Authenticate parses a bearer token when one is present. With required set,
// a request without a valid token is rejected; otherwise it continues as a
// guest. A malformed or invalid token is always rejected.
func Authenticate(v *Verifier, required bool, log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			if required {
				abort(c, http.StatusUnauthorized, "authorization header is required", "unauthorized")
				return
			}
			c.Next()
			return
		}

		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			abort(c, http.StatusUnauthorized, "expected: Bearer <token>", "unauthorized")
			return
		}

		claims, err := v.Parse(strings.TrimSpace(token))
		if err != nil {
			log.WithError(err).WithFields(logrus.Fields{
				"path": c.Request.URL.Path,
				"ip":   c.ClientIP(),
			}).Warn("rejected access token")
			abort(c, http.StatusUnauthorized, "invalid access token", "unauthorized")
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

// RequireRole must run after Authenticate.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := ClaimsFrom(c)
		if !ok {
			abort(c, http.StatusUnauthorized, "authentication required", "unauthorized")
			return
		}
		if !claims.HasRole(role) {
			abort(c, http.StatusForbidden, "insufficient permissions", "forbidden")
			return
		}
		c.Next()
	}
}

func ClaimsFrom(c *gin.Context) (*Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*Claims)
	return claims, ok
}

func abort(c *gin.Context, status int, message, kind string) {
	c.AbortWithStatusJSON(status, gin.H{"error": message, "kind": kind})
}
