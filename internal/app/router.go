package app

import (
	"github.com/gin-gonic/gin"

	"github.com/harvestlink/harvestlink-backend/internal/server"
)

func wireRouter(cfg Config, handlerset Handlers, middlewareset Middleware) *gin.Engine {
	return server.NewRouter(server.RouterConfig{
		AuthHandler:     handlerset.Auth,
		ContractHandler: handlerset.Contract,
		AuthMiddleware:  middlewareset.Auth,
		AllowOrigins:    cfg.AllowOrigins,
	})
}
