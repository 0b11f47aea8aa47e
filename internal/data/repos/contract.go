package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/harvestlink/harvestlink-backend/internal/domain/contracts"
	"github.com/harvestlink/harvestlink-backend/internal/platform/logger"
)

// ContractFilter narrows ListForActor. Zero values mean "no filter".
type ContractFilter struct {
	Status string
	// Role is the actor's role in the contract: "initiator" or "counterparty".
	Role string
	Kind string
}

type ContractRepo interface {
	Create(ctx context.Context, tx *gorm.DB, contract *contracts.Contract) (*contracts.Contract, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*contracts.Contract, error)
	GetByIDWithRounds(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*contracts.Contract, error)
	Save(ctx context.Context, tx *gorm.DB, contract *contracts.Contract) error
	ListPendingByFarmer(ctx context.Context, tx *gorm.DB, farmerID uuid.UUID) ([]*contracts.Contract, error)
	ListForActor(ctx context.Context, tx *gorm.DB, actorID uuid.UUID, filter ContractFilter) ([]*contracts.Contract, error)
	ListPendingFarmerHHM(ctx context.Context, tx *gorm.DB) ([]*contracts.Contract, error)
}

type contractRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewContractRepo(db *gorm.DB, baseLog *logger.Logger) ContractRepo {
	return &contractRepo{db: db, log: baseLog.With("repo", "ContractRepo")}
}

func (r *contractRepo) handle(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *contractRepo) Create(ctx context.Context, tx *gorm.DB, contract *contracts.Contract) (*contracts.Contract, error) {
	if err := r.handle(tx).WithContext(ctx).Create(contract).Error; err != nil {
		return nil, err
	}
	return contract, nil
}

func (r *contractRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*contracts.Contract, error) {
	var result contracts.Contract
	err := r.handle(tx).WithContext(ctx).
		Where("id = ?", id).
		First(&result).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, contracts.ErrNotFound
		}
		return nil, err
	}
	return &result, nil
}

func (r *contractRepo) GetByIDWithRounds(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*contracts.Contract, error) {
	var result contracts.Contract
	err := r.handle(tx).WithContext(ctx).
		Preload("Rounds", func(db *gorm.DB) *gorm.DB {
			return db.Order("contract_round.created_at ASC")
		}).
		Where("id = ?", id).
		First(&result).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, contracts.ErrNotFound
		}
		return nil, err
	}
	return &result, nil
}

func (r *contractRepo) Save(ctx context.Context, tx *gorm.DB, contract *contracts.Contract) error {
	return r.handle(tx).WithContext(ctx).Save(contract).Error
}

// ListPendingByFarmer is the exclusivity lookup: every pending FarmerHHM
// contract belonging to one farmer, whichever hub manager it targets.
func (r *contractRepo) ListPendingByFarmer(ctx context.Context, tx *gorm.DB, farmerID uuid.UUID) ([]*contracts.Contract, error) {
	var results []*contracts.Contract
	err := r.handle(tx).WithContext(ctx).
		Where("kind = ? AND farmer_id = ? AND status = ?", contracts.KindFarmerHHM, farmerID, contracts.StatusPending).
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (r *contractRepo) ListForActor(ctx context.Context, tx *gorm.DB, actorID uuid.UUID, filter ContractFilter) ([]*contracts.Contract, error) {
	q := r.handle(tx).WithContext(ctx).Model(&contracts.Contract{})
	switch filter.Role {
	case "initiator":
		q = q.Where("initiator_id = ?", actorID)
	case "counterparty":
		q = q.Where("counterparty_id = ?", actorID)
	default:
		q = q.Where("initiator_id = ? OR counterparty_id = ?", actorID, actorID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Kind != "" {
		q = q.Where("kind = ?", filter.Kind)
	}
	var results []*contracts.Contract
	if err := q.Order("created_at DESC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// ListPendingFarmerHHM feeds the advisory expiry sweep.
func (r *contractRepo) ListPendingFarmerHHM(ctx context.Context, tx *gorm.DB) ([]*contracts.Contract, error) {
	var results []*contracts.Contract
	err := r.handle(tx).WithContext(ctx).
		Where("kind = ? AND status = ?", contracts.KindFarmerHHM, contracts.StatusPending).
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
