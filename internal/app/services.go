package app

import (
	"gorm.io/gorm"

	"github.com/harvestlink/harvestlink-backend/internal/clients/redis"
	"github.com/harvestlink/harvestlink-backend/internal/platform/logger"
	"github.com/harvestlink/harvestlink-backend/internal/services"
)

type Services struct {
	Auth          services.AuthService
	Contract      services.ContractService
	ExpirySweeper *services.ExpirySweeper
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, reposet Repos, bus redis.EventBus) Services {
	log.Info("Wiring services...")

	var notifier services.ContractNotifier
	if bus != nil {
		notifier = services.NewContractNotifier(log, bus)
	} else {
		notifier = services.NopContractNotifier{}
	}

	exclusivity := services.NewExclusivityCoordinator(log, reposet.Contract, reposet.ContractRound)
	contractService := services.NewContractService(
		db, log,
		reposet.Contract, reposet.ContractRound, reposet.User,
		exclusivity, notifier,
		cfg.LockWaitTimeout, cfg.DefaultGracePeriodDays,
	)

	return Services{
		Auth:          services.NewAuthService(db, log, reposet.User, cfg.JWTSecretKey, cfg.AccessTokenTTL),
		Contract:      contractService,
		ExpirySweeper: services.NewExpirySweeper(log, contractService, cfg.ContractExpirySchedule),
	}
}
