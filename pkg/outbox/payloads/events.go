package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/giftledger-backend/pkg/enums"
)

// ContributionPaidEvent is emitted when a contribution settles. UI and
// notification consumers use it to thank the guest and refresh progress.
type ContributionPaidEvent struct {
	ContributionID   uuid.UUID  `json:"contribution_id"`
	RegistryID       uuid.UUID  `json:"registry_id"`
	ItemID           *uuid.UUID `json:"item_id,omitempty"`
	AmountCents      int64      `json:"amount_cents"`
	ContributorName  string     `json:"contributor_name"`
	IsPublic         bool       `json:"is_public"`
	ItemFulfilled    bool       `json:"item_fulfilled"`
	PaymentReference string     `json:"payment_reference,omitempty"`
	PaidAt           time.Time  `json:"paid_at"`
}

// ContributionRefundedEvent is emitted when a contribution is refunded.
type ContributionRefundedEvent struct {
	ContributionID uuid.UUID                `json:"contribution_id"`
	RegistryID     uuid.UUID                `json:"registry_id"`
	ItemID         *uuid.UUID               `json:"item_id,omitempty"`
	AmountCents    int64                    `json:"amount_cents"`
	PreviousStatus enums.ContributionStatus `json:"previous_status"`
	RefundedAt     time.Time                `json:"refunded_at"`
}

// RedemptionReadyEvent hands an approved redemption to the fulfillment
// provider, which issues the gift card.
type RedemptionReadyEvent struct {
	RedemptionID     uuid.UUID            `json:"redemption_id"`
	RegistryID       uuid.UUID            `json:"registry_id"`
	AmountCents      int64                `json:"amount_cents"`
	Kind             enums.RedemptionKind `json:"kind"`
	DestinationEmail string               `json:"destination_email"`
	ReviewedManually bool                 `json:"reviewed_manually"`
}

// RedemptionFlaggedEvent notifies reviewers that a redemption awaits review.
type RedemptionFlaggedEvent struct {
	RedemptionID         uuid.UUID        `json:"redemption_id"`
	FlaggedTransactionID uuid.UUID        `json:"flagged_transaction_id"`
	RegistryID           uuid.UUID        `json:"registry_id"`
	AmountCents          int64            `json:"amount_cents"`
	Reason               enums.FlagReason `json:"reason"`
}

// RedemptionRejectedEvent tells the owner a flagged redemption was declined.
type RedemptionRejectedEvent struct {
	RedemptionID         uuid.UUID `json:"redemption_id"`
	FlaggedTransactionID uuid.UUID `json:"flagged_transaction_id"`
	RegistryID           uuid.UUID `json:"registry_id"`
	AmountCents          int64     `json:"amount_cents"`
	Note                 string    `json:"note,omitempty"`
}
