package app

import (
	"github.com/harvestlink/harvestlink-backend/internal/clients/redis"
	"github.com/harvestlink/harvestlink-backend/internal/platform/logger"
)

// wireClients connects the optional external collaborators. A missing
// REDIS_ADDR disables notifications rather than failing startup.
func wireClients(log *logger.Logger, cfg Config) (redis.EventBus, error) {
	if cfg.RedisAddr == "" {
		log.Info("Redis not configured, contract notifications disabled")
		return nil, nil
	}
	bus, err := redis.NewEventBus(log)
	if err != nil {
		return nil, err
	}
	return bus, nil
}
