package routes

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/Wikid82/warden/internal/api/handlers"
	"github.com/Wikid82/warden/internal/api/middleware"
	"github.com/Wikid82/warden/internal/config"
	"github.com/Wikid82/warden/internal/services"
)

// Register wires up collector routes and migrates the event table. It
// returns the event store so callers can schedule retention against it.
func Register(router *gin.Engine, db *gorm.DB, cfg config.CollectorConfig, registry *prometheus.Registry) (*services.EventStoreService, error) {
	store, err := services.NewEventStoreService(db)
	if err != nil {
		return nil, fmt.Errorf("event store: %w", err)
	}

	router.GET("/api/v1/health", handlers.HealthHandler(store))
	if registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})))
	}

	origins := middleware.OriginList(cfg.AllowedOrigins)
	api := router.Group("/api/v1")
	api.Use(middleware.RequireOrigin(origins), middleware.RequireAPIKey(cfg.APIKey, cfg.APIKeyHash))

	collector := handlers.NewCollectorHandler(store)
	api.POST("/events", collector.Ingest)
	api.GET("/events/recent", collector.Recent)

	return store, nil
}
