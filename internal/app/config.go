package app

import (
	"strings"
	"time"

	"github.com/harvestlink/harvestlink-backend/internal/platform/envutil"
)

type Config struct {
	Port                   string
	JWTSecretKey           string
	AccessTokenTTL         time.Duration
	LockWaitTimeout        time.Duration
	ContractExpirySchedule string
	DefaultGracePeriodDays int
	RedisAddr              string
	AllowOrigins           []string
}

func LoadConfig() Config {
	return Config{
		Port:                   envutil.String("PORT", "8080"),
		JWTSecretKey:           envutil.String("JWT_SECRET_KEY", "defaultsecret"),
		AccessTokenTTL:         time.Duration(envutil.Int("ACCESS_TOKEN_TTL", 3600)) * time.Second,
		LockWaitTimeout:        envutil.DurationMS("LOCK_WAIT_TIMEOUT_MS", 5*time.Second),
		ContractExpirySchedule: envutil.String("CONTRACT_EXPIRY_CRON", "@every 10m"),
		DefaultGracePeriodDays: envutil.Int("DEFAULT_GRACE_PERIOD_DAYS", 3),
		RedisAddr:              envutil.String("REDIS_ADDR", ""),
		AllowOrigins:           splitOrigins(envutil.String("CORS_ALLOW_ORIGINS", "")),
	}
}

func splitOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}
