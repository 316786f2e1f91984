package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/giftledger-backend/api/responses"
	"github.com/angelmondragon/giftledger-backend/api/validators"
	checkoutsvc "github.com/angelmondragon/giftledger-backend/internal/checkout"
	pkgerrors "github.com/angelmondragon/giftledger-backend/pkg/errors"
	"github.com/angelmondragon/giftledger-backend/pkg/logger"
	"github.com/angelmondragon/giftledger-backend/pkg/money"
)

// CreateCheckoutSession opens a hosted payment session for a guest
// contribution. The ledger row is pending until the provider confirms.
func CreateCheckoutSession(issuer checkoutsvc.Issuer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if issuer == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		var payload checkoutSessionRequest
		if err := validators.DecodeJSONBody(w, r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := issuer.IssueCheckoutSession(r.Context(), payload.toInput())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, checkoutSessionResponse{
			ContributionID: result.ContributionID,
			SessionID:      result.SessionID,
			CheckoutURL:    result.CheckoutURL,
			AmountCents:    result.Amount.Int64(),
			Amount:         result.Amount.String(),
		})
	}
}

type checkoutSessionRequest struct {
	RegistryID       uuid.UUID  `json:"registry_id" validate:"required"`
	ItemID           *uuid.UUID `json:"item_id,omitempty"`
	ContributorName  string     `json:"contributor_name" validate:"required,max=120"`
	ContributorEmail string     `json:"contributor_email,omitempty" validate:"omitempty,email"`
	AmountCents      int64      `json:"amount_cents"`
	Message          *string    `json:"message,omitempty" validate:"omitempty,max=500"`
	IsPublic         *bool      `json:"is_public,omitempty"`
}

func (p checkoutSessionRequest) toInput() checkoutsvc.IssueInput {
	input := checkoutsvc.IssueInput{
		RegistryID:       p.RegistryID,
		ItemID:           p.ItemID,
		ContributorName:  validators.SanitizeString(p.ContributorName, 120),
		ContributorEmail: validators.SanitizeString(p.ContributorEmail, 254),
		Amount:           money.Cents(p.AmountCents),
		IsPublic:         true,
	}
	if msg := validators.OptionalString(p.Message, 500); msg != nil {
		input.Message = *msg
	}
	if p.IsPublic != nil {
		input.IsPublic = *p.IsPublic
	}
	return input
}

type checkoutSessionResponse struct {
	ContributionID uuid.UUID `json:"contribution_id"`
	SessionID      string    `json:"session_id"`
	CheckoutURL    string    `json:"checkout_url"`
	AmountCents    int64     `json:"amount_cents"`
	Amount         string    `json:"amount"`
}
