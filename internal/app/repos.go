package app

import (
	"gorm.io/gorm"

	"github.com/harvestlink/harvestlink-backend/internal/data/repos"
	"github.com/harvestlink/harvestlink-backend/internal/platform/logger"
)

type Repos struct {
	User          repos.UserRepo
	Contract      repos.ContractRepo
	ContractRound repos.ContractRoundRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		User:          repos.NewUserRepo(db, log),
		Contract:      repos.NewContractRepo(db, log),
		ContractRound: repos.NewContractRoundRepo(db, log),
	}
}
