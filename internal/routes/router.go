package routes

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	gocache "github.com/patrickmn/go-cache"

	"smartlocker/internal/config"
	"smartlocker/internal/database"
	"smartlocker/internal/delivery/http/handler"
	"smartlocker/internal/eventlog"
	"smartlocker/internal/ingestion"
	"smartlocker/internal/logger"
	"smartlocker/internal/middleware"
	"smartlocker/internal/registry"
	"smartlocker/internal/relay"
	"smartlocker/internal/reservation"
)

// Deps are the long-lived services the router exposes.
type Deps struct {
	DB           *database.DB
	Registry     *registry.Service
	Reservations *reservation.Service
	Relay        *relay.Client
	Events       *eventlog.Repository
	Processor    *ingestion.Processor
}

func SetupRoutes(cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Middleware order: recovery, request ID, logging, security headers,
	// CORS, request size limit, general rate limit.
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggingMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware())
	router.Use(middleware.CORSMiddleware(&cfg.CORS))
	router.Use(middleware.RequestSizeLimitMiddleware(middleware.DefaultMaxRequestSize))
	router.Use(middleware.RateLimitMiddleware(cfg.RateLimit.GeneralRPS, cfg.RateLimit.GeneralBurst))

	router.GET("/health", func(c *gin.Context) {
		if err := deps.DB.Health(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unhealthy",
				"message": "Database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"message": "Service is running",
		})
	})

	columnHandler := handler.NewColumnHandler(deps.Registry, deps.Reservations, deps.Processor)
	reservationHandler := handler.NewReservationHandler(deps.Reservations, deps.Registry)
	commandHandler := handler.NewCommandHandler(deps.Relay)
	eventHandler := handler.NewEventHandler(deps.Events, deps.Processor)

	v1 := router.Group("/api/v1")
	{
		columnHandler.RegisterSyncRoutes(v1)
		reservationHandler.RegisterRoutes(v1)
		commandHandler.RegisterRoutes(v1)
		eventHandler.RegisterRoutes(v1)

		// Kiosk UIs poll the listings; a short response cache absorbs that.
		listings := v1.Group("")
		store := gocache.New(2*time.Second, time.Minute)
		listings.Use(middleware.CacheMiddleware(store, 2*time.Second))
		{
			columnHandler.RegisterRoutes(listings)
		}
	}

	logger.Info("All routes initialized")
	return router
}
