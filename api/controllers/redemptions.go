package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/giftledger-backend/api/responses"
	"github.com/angelmondragon/giftledger-backend/api/validators"
	"github.com/angelmondragon/giftledger-backend/internal/redemptions"
	"github.com/angelmondragon/giftledger-backend/pkg/db/models"
	"github.com/angelmondragon/giftledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/giftledger-backend/pkg/errors"
	"github.com/angelmondragon/giftledger-backend/pkg/logger"
	"github.com/angelmondragon/giftledger-backend/pkg/money"
	"github.com/angelmondragon/giftledger-backend/pkg/pagination"
)

type redemptionGate interface {
	RequestRedemption(ctx context.Context, input redemptions.RequestInput) (*models.Redemption, error)
	ListRedemptions(ctx context.Context, registryID, userID uuid.UUID, params pagination.Params) (pagination.Page[models.Redemption], error)
}

// RequestRedemption answers 201 for auto-approved requests and 202 when the
// request waits in the review queue.
func RequestRedemption(gate redemptionGate, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		registryID, userID, err := ownerScope(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload redemptionRequest
		if err := validators.DecodeJSONBody(w, r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		kind, err := enums.ParseRedemptionKind(payload.Kind)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid redemption kind"))
			return
		}

		redemption, err := gate.RequestRedemption(r.Context(), redemptions.RequestInput{
			RegistryID:       registryID,
			UserID:           userID,
			Amount:           money.Cents(payload.AmountCents),
			Kind:             kind,
			DestinationEmail: validators.SanitizeString(payload.DestinationEmail, 254),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status := http.StatusCreated
		if redemption.Status == enums.RedemptionStatusFlagged {
			status = http.StatusAccepted
		}
		responses.WriteSuccessStatus(w, status, newRedemptionResponse(*redemption))
	}
}

func ListRedemptions(gate redemptionGate, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		registryID, userID, err := ownerScope(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := gate.ListRedemptions(r.Context(), registryID, userID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := pagination.Page[redemptionResponse]{Items: make([]redemptionResponse, 0, len(page.Items)), NextCursor: page.NextCursor}
		for _, item := range page.Items {
			out.Items = append(out.Items, newRedemptionResponse(item))
		}
		responses.WriteSuccess(w, out)
	}
}

type redemptionRequest struct {
	AmountCents      int64  `json:"amount_cents"`
	Kind             string `json:"kind" validate:"required"`
	DestinationEmail string `json:"destination_email,omitempty" validate:"omitempty,email"`
}

type redemptionResponse struct {
	ID               uuid.UUID         `json:"id"`
	RegistryID       uuid.UUID         `json:"registry_id"`
	AmountCents      int64             `json:"amount_cents"`
	Amount           string            `json:"amount"`
	Kind             string            `json:"kind"`
	DestinationEmail *string           `json:"destination_email,omitempty"`
	Status           string            `json:"status"`
	FlagReason       *enums.FlagReason `json:"flag_reason,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}

func newRedemptionResponse(r models.Redemption) redemptionResponse {
	return redemptionResponse{
		ID:               r.ID,
		RegistryID:       r.RegistryID,
		AmountCents:      r.AmountCents.Int64(),
		Amount:           r.AmountCents.String(),
		Kind:             string(r.Kind),
		DestinationEmail: r.DestinationEmail,
		Status:           string(r.Status),
		FlagReason:       r.FlagReason,
		CreatedAt:        r.CreatedAt,
	}
}
