package router

import (
	"database/sql"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/phonginreallife/masajid/handlers"
	"github.com/phonginreallife/masajid/internal/bootstrap"
	"github.com/phonginreallife/masajid/internal/config"
	"github.com/phonginreallife/masajid/internal/logger"
	"github.com/phonginreallife/masajid/services"
)

func NewGinRouter(pg *sql.DB, redisClient *redis.Client, log *logger.Logger) *gin.Engine {
	engine := services.NewEngine(pg, redisClient, log, bootstrap.EngineOptions())
	return NewRouterForEngine(engine, pg, services.NewAdminAuthService(config.App.Auth.JWTSecret, config.App.Auth.AdminAPIKeyHash), log)
}

// NewRouterForEngine mounts every route on an already wired engine.
func NewRouterForEngine(engine *services.Engine, pg *sql.DB, adminAuth *services.AdminAuthService, log *logger.Logger) *gin.Engine {
	log = logger.OrNop(log)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	// Add CORS middleware
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, X-API-Key, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Initialize handlers
	catalogHandler := handlers.NewStageCatalogHandler(engine.Catalog, log)
	trackingHandler := handlers.NewStageTrackingHandler(engine.Stages, engine.Lifecycle, log)
	subStageHandler := handlers.NewSubStageTrackingHandler(engine.SubStages, log)
	escalationHandler := handlers.NewEscalationHandler(engine.Escalations, engine.Scanner, log)
	admin := handlers.NewAdminAuthMiddleware(adminAuth, log).RequireAdmin()

	r.GET("/health", func(c *gin.Context) {
		if pg != nil {
			if err := pg.PingContext(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "database": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	{
		// STAGE CATALOG
		stageRoutes := api.Group("/stages")
		{
			stageRoutes.GET("", catalogHandler.ListStages)
			stageRoutes.GET("/:code", catalogHandler.GetStage)
			stageRoutes.GET("/:code/sub-stages", catalogHandler.ListSubStages)

			stageRoutes.POST("/seed", admin, catalogHandler.SeedDefaults)
			stageRoutes.PUT("/:code", admin, catalogHandler.UpsertStage)
			stageRoutes.PATCH("/:code/active", admin, catalogHandler.SetStageActive)
			stageRoutes.PUT("/:code/sub-stages/:sub_code", admin, catalogHandler.UpsertSubStage)
		}

		// REQUEST LIFECYCLE
		requestRoutes := api.Group("/requests/:request_id")
		{
			requestRoutes.POST("/stages/:code/enter", trackingHandler.EnterStage)
			requestRoutes.POST("/stages/:code/exit", trackingHandler.ExitStage)
			requestRoutes.GET("/trackings", trackingHandler.ListRequestTrackings)

			requestRoutes.POST("/sub-stages/:sub_code/open", subStageHandler.OpenSubStage)
			requestRoutes.POST("/sub-stages/:sub_code/complete", subStageHandler.CompleteSubStage)
			requestRoutes.GET("/sub-stages", subStageHandler.ListRequestSubStages)
		}

		// TRACKINGS
		trackingRoutes := api.Group("/trackings")
		{
			trackingRoutes.GET("/delayed", trackingHandler.ListDelayed)
			trackingRoutes.GET("/at-risk", trackingHandler.ListAtRisk)
			trackingRoutes.GET("/:id", trackingHandler.GetTracking)
			trackingRoutes.POST("/:id/close", trackingHandler.CloseTracking)
			trackingRoutes.PATCH("/:id/assignee", trackingHandler.ReassignTracking)
		}

		api.GET("/sub-stages/delayed", subStageHandler.ListDelayed)

		// ESCALATIONS
		api.GET("/escalations", escalationHandler.ListEscalations)
		api.POST("/escalations/scan", admin, escalationHandler.RunScan)
	}

	return r
}
