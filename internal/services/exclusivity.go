package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/harvestlink/harvestlink-backend/internal/data/repos"
	"github.com/harvestlink/harvestlink-backend/internal/domain/contracts"
	"github.com/harvestlink/harvestlink-backend/internal/platform/logger"
)

// ExclusivityCoordinator enforces the one-accepted-contract-per-farmer rule.
// OnAccepted must run in the same transaction as the acceptance it reacts
// to, under the per-farmer lock held by the facade; a farmer must never be
// observable with two simultaneously accepted contracts.
type ExclusivityCoordinator interface {
	OnAccepted(ctx context.Context, tx *gorm.DB, accepted *contracts.Contract) ([]uuid.UUID, error)
}

type exclusivityCoordinator struct {
	log       *logger.Logger
	contracts repos.ContractRepo
	rounds    repos.ContractRoundRepo
}

func NewExclusivityCoordinator(baseLog *logger.Logger, contractRepo repos.ContractRepo, roundRepo repos.ContractRoundRepo) ExclusivityCoordinator {
	return &exclusivityCoordinator{
		log:       baseLog.With("service", "ExclusivityCoordinator"),
		contracts: contractRepo,
		rounds:    roundRepo,
	}
}

func (e *exclusivityCoordinator) OnAccepted(ctx context.Context, tx *gorm.DB, accepted *contracts.Contract) ([]uuid.UUID, error) {
	if accepted.Kind != contracts.KindFarmerHHM {
		// HHM/factory partnerships carry no exclusivity rule.
		return nil, nil
	}
	if accepted.FarmerID == nil {
		return nil, fmt.Errorf("accepted farmer_hhm contract %s has no farmer id", accepted.ID)
	}

	siblings, err := e.contracts.ListPendingByFarmer(ctx, tx, *accepted.FarmerID)
	if err != nil {
		return nil, fmt.Errorf("exclusivity lookup for farmer %s: %w", accepted.FarmerID, err)
	}

	cancelled := make([]uuid.UUID, 0, len(siblings))
	for _, sibling := range siblings {
		if sibling.ID == accepted.ID {
			continue
		}
		tr, err := contracts.NextNegotiationStatus(sibling, contracts.SystemActorID, contracts.ActionSystemCancel)
		if err != nil {
			return nil, fmt.Errorf("system cancel contract %s: %w", sibling.ID, err)
		}
		sibling.Status = tr.NextStatus
		if err := e.contracts.Save(ctx, tx, sibling); err != nil {
			return nil, fmt.Errorf("persist auto-cancel of %s: %w", sibling.ID, err)
		}

		payload, _ := json.Marshal(map[string]any{
			"reason":                "farmer_exclusivity",
			"triggered_by_contract": accepted.ID,
		})
		_, err = e.rounds.Append(ctx, tx, &contracts.ContractRound{
			ContractID: sibling.ID,
			ActorID:    contracts.SystemActorID,
			Action:     contracts.ActionSystemCancel,
			Payload:    datatypes.JSON(payload),
		})
		if err != nil {
			return nil, fmt.Errorf("audit auto-cancel of %s: %w", sibling.ID, err)
		}
		cancelled = append(cancelled, sibling.ID)
	}

	if len(cancelled) > 0 {
		e.log.Info("exclusivity cascade cancelled pending siblings",
			"farmer_id", accepted.FarmerID,
			"accepted_contract", accepted.ID,
			"cancelled_count", len(cancelled))
	}
	return cancelled, nil
}
