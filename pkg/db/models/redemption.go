package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/giftledger-backend/pkg/enums"
	"github.com/angelmondragon/giftledger-backend/pkg/money"
)

// Redemption is the owner's request to convert balance into a gift card.
type Redemption struct {
	ID                uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	RegistryID        uuid.UUID              `gorm:"column:registry_id;type:uuid;not null;index"`
	AmountCents       money.Amount           `gorm:"column:amount_cents;not null"`
	Kind              enums.RedemptionKind   `gorm:"column:kind;type:redemption_kind_enum;not null"`
	DestinationEmail  *string                `gorm:"column:destination_email"`
	RequestedByUserID uuid.UUID              `gorm:"column:requested_by_user_id;type:uuid;not null"`
	Status            enums.RedemptionStatus `gorm:"column:status;type:redemption_status_enum;not null"`
	FlagReason        *enums.FlagReason      `gorm:"column:flag_reason;type:flag_reason_enum"`
	CreatedAt         time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

func (r *Redemption) BeforeCreate(*gorm.DB) error {
	ensureID(&r.ID)
	return nil
}

// FlaggedTransaction queues a redemption for manual review.
type FlaggedTransaction struct {
	ID               uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	RedemptionID     uuid.UUID        `gorm:"column:redemption_id;type:uuid;not null;uniqueIndex"`
	RegistryID       uuid.UUID        `gorm:"column:registry_id;type:uuid;not null;index"`
	Reason           enums.FlagReason `gorm:"column:reason;type:flag_reason_enum;not null"`
	Details          json.RawMessage  `gorm:"column:details;type:jsonb;not null"`
	Status           enums.FlagStatus `gorm:"column:status;type:flag_status_enum;not null"`
	ReviewedByUserID *uuid.UUID       `gorm:"column:reviewed_by_user_id;type:uuid"`
	ReviewedAt       *time.Time       `gorm:"column:reviewed_at"`
	ReviewNote       *string          `gorm:"column:review_note"`
	CreatedAt        time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (f *FlaggedTransaction) BeforeCreate(*gorm.DB) error {
	ensureID(&f.ID)
	return nil
}
