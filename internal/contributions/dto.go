package contributions

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/giftledger-backend/pkg/db/models"
	"github.com/angelmondragon/giftledger-backend/pkg/enums"
)

// PublicContribution is what guests see on the registry page. Email,
// payment references and non-public entries never appear here.
type PublicContribution struct {
	ID              uuid.UUID  `json:"id"`
	ItemID          *uuid.UUID `json:"item_id,omitempty"`
	ContributorName string     `json:"contributor_name"`
	AmountCents     int64      `json:"amount_cents"`
	Amount          string     `json:"amount"`
	Message         *string    `json:"message,omitempty"`
	PaidAt          *time.Time `json:"paid_at,omitempty"`
}

// OwnerContribution is the full ledger row as the registry owner sees it.
type OwnerContribution struct {
	ID               uuid.UUID                `json:"id"`
	ItemID           *uuid.UUID               `json:"item_id,omitempty"`
	ContributorName  string                   `json:"contributor_name"`
	ContributorEmail *string                  `json:"contributor_email,omitempty"`
	AmountCents      int64                    `json:"amount_cents"`
	Amount           string                   `json:"amount"`
	Message          *string                  `json:"message,omitempty"`
	IsPublic         bool                     `json:"is_public"`
	Status           enums.ContributionStatus `json:"status"`
	ExternalRef      *string                  `json:"external_ref,omitempty"`
	PaidAt           *time.Time               `json:"paid_at,omitempty"`
	RefundedAt       *time.Time               `json:"refunded_at,omitempty"`
	CreatedAt        time.Time                `json:"created_at"`
}

func toPublic(c models.Contribution) PublicContribution {
	return PublicContribution{
		ID:              c.ID,
		ItemID:          c.ItemID,
		ContributorName: c.ContributorName,
		AmountCents:     c.AmountCents.Int64(),
		Amount:          c.AmountCents.String(),
		Message:         c.Message,
		PaidAt:          c.PaidAt,
	}
}

func toOwner(c models.Contribution) OwnerContribution {
	return OwnerContribution{
		ID:               c.ID,
		ItemID:           c.ItemID,
		ContributorName:  c.ContributorName,
		ContributorEmail: c.ContributorEmail,
		AmountCents:      c.AmountCents.Int64(),
		Amount:           c.AmountCents.String(),
		Message:          c.Message,
		IsPublic:         c.IsPublic,
		Status:           c.Status,
		ExternalRef:      c.ExternalRef,
		PaidAt:           c.PaidAt,
		RefundedAt:       c.RefundedAt,
		CreatedAt:        c.CreatedAt,
	}
}
