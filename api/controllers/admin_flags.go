package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/giftledger-backend/api/middleware"
	"github.com/angelmondragon/giftledger-backend/api/responses"
	"github.com/angelmondragon/giftledger-backend/api/validators"
	"github.com/angelmondragon/giftledger-backend/internal/redemptions"
	"github.com/angelmondragon/giftledger-backend/pkg/db/models"
	"github.com/angelmondragon/giftledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/giftledger-backend/pkg/errors"
	"github.com/angelmondragon/giftledger-backend/pkg/logger"
	"github.com/angelmondragon/giftledger-backend/pkg/pagination"
)

type flagReviewer interface {
	ListFlags(ctx context.Context, status enums.FlagStatus, params pagination.Params) (pagination.Page[models.FlaggedTransaction], error)
	ResolveFlag(ctx context.Context, input redemptions.ResolveInput) (*redemptions.Resolution, error)
}

// AdminListFlags defaults to the pending review queue.
func AdminListFlags(reviewer flagReviewer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := enums.FlagStatusPending
		if raw := r.URL.Query().Get("status"); raw != "" {
			parsed, err := enums.ParseFlagStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
				return
			}
			status = parsed
		}
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := reviewer.ListFlags(r.Context(), status, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := pagination.Page[flagResponse]{Items: make([]flagResponse, 0, len(page.Items)), NextCursor: page.NextCursor}
		for _, flag := range page.Items {
			out.Items = append(out.Items, newFlagResponse(flag))
		}
		responses.WriteSuccess(w, out)
	}
}

func AdminResolveFlag(reviewer flagReviewer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flagID, err := validators.ParseUUIDParam(r, "flagId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload resolveFlagRequest
		if err := validators.DecodeJSONBody(w, r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		decision, err := enums.ParseFlagDecision(payload.Decision)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid decision"))
			return
		}

		resolution, err := reviewer.ResolveFlag(r.Context(), redemptions.ResolveInput{
			FlagID:     flagID,
			Decision:   decision,
			ReviewerID: middleware.PrincipalID(r.Context()),
			Note:       validators.SanitizeString(payload.Note, 1000),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, resolveFlagResponse{
			Flag:       newFlagResponse(*resolution.Flag),
			Redemption: newRedemptionResponse(*resolution.Redemption),
		})
	}
}

type resolveFlagRequest struct {
	Decision string `json:"decision" validate:"required,oneof=approve reject"`
	Note     string `json:"note,omitempty" validate:"max=1000"`
}

type flagResponse struct {
	ID               uuid.UUID       `json:"id"`
	RedemptionID     uuid.UUID       `json:"redemption_id"`
	RegistryID       uuid.UUID       `json:"registry_id"`
	Reason           string          `json:"reason"`
	Details          json.RawMessage `json:"details"`
	Status           string          `json:"status"`
	ReviewedByUserID *uuid.UUID      `json:"reviewed_by_user_id,omitempty"`
	ReviewedAt       *time.Time      `json:"reviewed_at,omitempty"`
	ReviewNote       *string         `json:"review_note,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

type resolveFlagResponse struct {
	Flag       flagResponse       `json:"flagged_transaction"`
	Redemption redemptionResponse `json:"redemption"`
}

func newFlagResponse(f models.FlaggedTransaction) flagResponse {
	details := f.Details
	if len(details) == 0 {
		details = json.RawMessage(`{}`)
	}
	return flagResponse{
		ID:               f.ID,
		RedemptionID:     f.RedemptionID,
		RegistryID:       f.RegistryID,
		Reason:           string(f.Reason),
		Details:          details,
		Status:           string(f.Status),
		ReviewedByUserID: f.ReviewedByUserID,
		ReviewedAt:       f.ReviewedAt,
		ReviewNote:       f.ReviewNote,
		CreatedAt:        f.CreatedAt,
	}
}
