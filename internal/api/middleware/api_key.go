package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/Wikid82/warden/internal/metrics"
)

const APIKeyHeader = "X-API-Key"

// RequireAPIKey checks the shared-secret header. A bcrypt hash takes
// precedence over a plain key; with neither configured every request passes.
func RequireAPIKey(plain, hash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if plain == "" && hash == "" {
			c.Next()
			return
		}
		provided := c.GetHeader(APIKeyHeader)
		if provided == "" || !apiKeyMatches(provided, plain, hash) {
			metrics.IncCollectorRejection("401")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
			return
		}
		c.Next()
	}
}

func apiKeyMatches(provided, plain, hash string) bool {
	if hash != "" {
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(provided)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(plain)) == 1
}
