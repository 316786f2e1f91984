package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/giftledger-backend/pkg/enums"
	"github.com/angelmondragon/giftledger-backend/pkg/money"
)

// Contribution is an append-only ledger entry for a guest's payment. Rows are
// never deleted; only status and the payment references move.
type Contribution struct {
	ID               uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	RegistryID       uuid.UUID                `gorm:"column:registry_id;type:uuid;not null;index"`
	ItemID           *uuid.UUID               `gorm:"column:item_id;type:uuid;index"`
	ContributorName  string                   `gorm:"column:contributor_name;not null"`
	ContributorEmail *string                  `gorm:"column:contributor_email"`
	AmountCents      money.Amount             `gorm:"column:amount_cents;not null"`
	Message          *string                  `gorm:"column:message"`
	IsPublic         bool                     `gorm:"column:is_public;not null;default:true"`
	ExternalRef      *string                  `gorm:"column:external_ref;uniqueIndex"`
	PaymentRef       *string                  `gorm:"column:payment_ref;index"`
	Status           enums.ContributionStatus `gorm:"column:status;type:contribution_status_enum;not null"`
	PaidAt           *time.Time               `gorm:"column:paid_at"`
	RefundedAt       *time.Time               `gorm:"column:refunded_at"`
	CreatedAt        time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *Contribution) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}

// IsGeneralFund reports whether the contribution targets no specific item.
func (c *Contribution) IsGeneralFund() bool {
	return c.ItemID == nil
}
