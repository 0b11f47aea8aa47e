package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/harvestlink/harvestlink-backend/internal/domain/contracts"
	"github.com/harvestlink/harvestlink-backend/internal/platform/logger"
)

// ContractRoundRepo is append-only: no update or delete methods exist on
// purpose, the round history is the audit trail.
type ContractRoundRepo interface {
	Append(ctx context.Context, tx *gorm.DB, round *contracts.ContractRound) (*contracts.ContractRound, error)
	ListByContract(ctx context.Context, tx *gorm.DB, contractID uuid.UUID) ([]*contracts.ContractRound, error)
	CountByContract(ctx context.Context, tx *gorm.DB, contractID uuid.UUID) (int64, error)
}

type contractRoundRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewContractRoundRepo(db *gorm.DB, baseLog *logger.Logger) ContractRoundRepo {
	return &contractRoundRepo{db: db, log: baseLog.With("repo", "ContractRoundRepo")}
}

func (r *contractRoundRepo) handle(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *contractRoundRepo) Append(ctx context.Context, tx *gorm.DB, round *contracts.ContractRound) (*contracts.ContractRound, error) {
	if err := r.handle(tx).WithContext(ctx).Create(round).Error; err != nil {
		return nil, err
	}
	return round, nil
}

func (r *contractRoundRepo) ListByContract(ctx context.Context, tx *gorm.DB, contractID uuid.UUID) ([]*contracts.ContractRound, error) {
	var results []*contracts.ContractRound
	err := r.handle(tx).WithContext(ctx).
		Where("contract_id = ?", contractID).
		Order("created_at ASC").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (r *contractRoundRepo) CountByContract(ctx context.Context, tx *gorm.DB, contractID uuid.UUID) (int64, error) {
	var count int64
	err := r.handle(tx).WithContext(ctx).
		Model(&contracts.ContractRound{}).
		Where("contract_id = ?", contractID).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}
