// Package domain aggregates the persisted model set so migration and test
// setup have a single source for table registration.
package domain

import (
	"github.com/harvestlink/harvestlink-backend/internal/domain/contracts"
	"github.com/harvestlink/harvestlink-backend/internal/domain/user"
)

// AllModels lists every GORM model in migration order.
func AllModels() []any {
	return []any{
		&user.User{},
		&contracts.Contract{},
		&contracts.ContractRound{},
	}
}
