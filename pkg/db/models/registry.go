package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/giftledger-backend/pkg/money"
)

// Registry is the owner's collection of wished-for items plus its general
// fund. Only the fields the ledger needs are mapped.
type Registry struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OwnerUserID uuid.UUID `gorm:"column:owner_user_id;type:uuid;not null;index"`
	Title       string    `gorm:"column:title;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (r *Registry) BeforeCreate(*gorm.DB) error {
	ensureID(&r.ID)
	return nil
}

// RegistryItem carries the fulfillment view of a single wished-for item.
// AccumulatedCents is written only by the balance projector.
type RegistryItem struct {
	ID               uuid.UUID    `gorm:"column:id;type:uuid;primaryKey"`
	RegistryID       uuid.UUID    `gorm:"column:registry_id;type:uuid;not null;index"`
	Name             string       `gorm:"column:name;not null"`
	GoalCents        money.Amount `gorm:"column:goal_cents;not null;default:0"`
	AccumulatedCents money.Amount `gorm:"column:accumulated_cents;not null;default:0"`
	Fulfilled        bool         `gorm:"column:fulfilled;not null;default:false"`
	CreatedAt        time.Time    `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time    `gorm:"column:updated_at;autoUpdateTime"`
}

func (i *RegistryItem) BeforeCreate(*gorm.DB) error {
	ensureID(&i.ID)
	return nil
}
