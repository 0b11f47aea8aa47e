package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/harvestlink/harvestlink-backend/internal/handlers"
	"github.com/harvestlink/harvestlink-backend/internal/middleware"
)

type RouterConfig struct {
	AuthHandler     *handlers.AuthHandler
	ContractHandler *handlers.ContractHandler
	AuthMiddleware  *middleware.AuthMiddleware
	AllowOrigins    []string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	// Public
	router.GET("/healthcheck", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	api := router.Group("/api")
	{
		api.POST("/register", cfg.AuthHandler.Register)
		api.POST("/login", cfg.AuthHandler.Login)
	}

	// Protected
	protected := api.Group("/")
	protected.Use(cfg.AuthMiddleware.RequireAuth())
	protected.POST("/contracts", cfg.ContractHandler.Create)
	protected.GET("/contracts", cfg.ContractHandler.List)
	protected.GET("/contracts/:id", cfg.ContractHandler.Get)
	protected.POST("/contracts/:id/respond", cfg.ContractHandler.Respond)
	protected.POST("/contracts/:id/advance", cfg.ContractHandler.Advance)

	return router
}
