package services

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/harvestlink/harvestlink-backend/internal/platform/logger"
)

// ExpirySweeper periodically cancels pending farmer requests whose grace
// period has lapsed. It is advisory: nothing else depends on it running, and
// a request responded to moments before the tick simply wins.
type ExpirySweeper struct {
	log      *logger.Logger
	service  ContractService
	schedule string
	cron     *cron.Cron
}

func NewExpirySweeper(baseLog *logger.Logger, service ContractService, schedule string) *ExpirySweeper {
	return &ExpirySweeper{
		log:      baseLog.With("service", "ExpirySweeper"),
		service:  service,
		schedule: schedule,
	}
}

func (sw *ExpirySweeper) Start(ctx context.Context) error {
	if sw.schedule == "" {
		sw.log.Info("expiry sweep disabled (no schedule configured)")
		return nil
	}
	c := cron.New()
	_, err := c.AddFunc(sw.schedule, func() {
		sweepCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()
		if _, err := sw.service.ExpireOverdue(sweepCtx, time.Now().UTC()); err != nil {
			sw.log.Warn("expiry sweep failed", "error", err)
		}
	})
	if err != nil {
		return err
	}
	sw.cron = c
	c.Start()
	sw.log.Info("expiry sweep scheduled", "schedule", sw.schedule)

	go func() {
		<-ctx.Done()
		sw.Stop()
	}()
	return nil
}

func (sw *ExpirySweeper) Stop() {
	if sw.cron != nil {
		sw.cron.Stop()
	}
}
