package app

import (
	"github.com/harvestlink/harvestlink-backend/internal/handlers"
	"github.com/harvestlink/harvestlink-backend/internal/platform/logger"
)

type Handlers struct {
	Auth     *handlers.AuthHandler
	Contract *handlers.ContractHandler
}

func wireHandlers(log *logger.Logger, cfg Config, serviceset Services) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Auth:     handlers.NewAuthHandler(serviceset.Auth, cfg.AccessTokenTTL),
		Contract: handlers.NewContractHandler(log, serviceset.Contract),
	}
}
