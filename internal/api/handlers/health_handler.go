package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Wikid82/warden/internal/services"
	"github.com/Wikid82/warden/internal/version"
)

// HealthHandler responds with basic service metadata for uptime checks. The
// status degrades when the event store cannot be queried.
func HealthHandler(store *services.EventStoreService) gin.HandlerFunc {
	return func(c *gin.Context) {
		info := version.Get()
		resp := gin.H{
			"status":     "ok",
			"service":    info.Name,
			"version":    info.Version,
			"git_commit": info.GitCommit,
			"build_time": info.BuildTime,
		}
		if store != nil {
			n, err := store.Count()
			if err != nil {
				resp["status"] = "degraded"
				c.JSON(http.StatusServiceUnavailable, resp)
				return
			}
			resp["stored_events"] = n
		}
		c.JSON(http.StatusOK, resp)
	}
}
