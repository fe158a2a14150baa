package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Wikid82/warden/internal/metrics"
)

const (
	corsAllowMethods = "GET, POST, OPTIONS"
	corsAllowHeaders = "Content-Type, X-API-Key, X-Request-ID"
)

// OriginList is the set of origins allowed to submit telemetry. An empty
// list allows any origin.
type OriginList []string

func (l OriginList) Allows(origin string) bool {
	if len(l) == 0 {
		return true
	}
	for _, o := range l {
		if strings.EqualFold(strings.TrimRight(o, "/"), strings.TrimRight(origin, "/")) {
			return true
		}
	}
	return false
}

// CORS answers preflight requests before any other check runs and echoes
// allowed origins on actual requests.
func CORS(allowed OriginList) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && allowed.Allows(origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}

		if c.Request.Method == http.MethodOptions {
			if origin == "" || !allowed.Allows(origin) {
				c.Header("Access-Control-Allow-Origin", "*")
			}
			c.Header("Access-Control-Allow-Methods", corsAllowMethods)
			c.Header("Access-Control-Allow-Headers", corsAllowHeaders)
			c.Header("Access-Control-Max-Age", "86400")
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// RequireOrigin rejects requests whose Origin header is not allowed.
func RequireOrigin(allowed OriginList) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(allowed) == 0 {
			c.Next()
			return
		}
		if origin := c.GetHeader("Origin"); origin == "" || !allowed.Allows(origin) {
			metrics.IncCollectorRejection("403")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
			return
		}
		c.Next()
	}
}

// MethodNotAllowed is installed as the engine's NoMethod handler.
func MethodNotAllowed(c *gin.Context) {
	metrics.IncCollectorRejection("405")
	c.AbortWithStatusJSON(http.StatusMethodNotAllowed, gin.H{"error": "method not allowed"})
}
