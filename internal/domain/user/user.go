package user

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	RoleFarmer   = "farmer"
	RoleHHM      = "hhm"
	RoleFactory  = "factory"
	RoleLabourer = "labourer"
)

func ValidRole(role string) bool {
	switch role {
	case RoleFarmer, RoleHHM, RoleFactory, RoleLabourer:
		return true
	default:
		return false
	}
}

type User struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Email    string    `gorm:"uniqueIndex;not null;column:email" json:"email"`
	Password string    `gorm:"not null;column:password" json:"-"`
	Name     string    `gorm:"not null;column:name" json:"name"`
	Role     string    `gorm:"not null;index;column:role" json:"role"`
	Phone    string    `gorm:"column:phone" json:"phone,omitempty"`
	Region   string    `gorm:"column:region;index" json:"region,omitempty"`

	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (User) TableName() string { return "user" }

func (u *User) BeforeCreate(_ *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
