package controllers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/giftledger-backend/api/middleware"
	"github.com/angelmondragon/giftledger-backend/api/responses"
	"github.com/angelmondragon/giftledger-backend/api/validators"
	"github.com/angelmondragon/giftledger-backend/internal/balance"
	"github.com/angelmondragon/giftledger-backend/internal/contributions"
	"github.com/angelmondragon/giftledger-backend/internal/registries"
	"github.com/angelmondragon/giftledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/giftledger-backend/pkg/errors"
	"github.com/angelmondragon/giftledger-backend/pkg/logger"
)

type progressReader interface {
	ItemProgress(ctx context.Context, itemID uuid.UUID) (*balance.Progress, error)
}

type breakdownReader interface {
	BalanceBreakdown(ctx context.Context, registryID uuid.UUID) (*balance.Breakdown, error)
}

// ItemProgress is public so the registry page can render progress bars.
func ItemProgress(reader progressReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		registryID, err := validators.ParseUUIDParam(r, "registryId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		itemID, err := validators.ParseUUIDParam(r, "itemId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		progress, err := reader.ItemProgress(r.Context(), itemID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if progress.RegistryID != registryID {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "registry item not found"))
			return
		}
		responses.WriteSuccess(w, progressResponse{
			ItemID:           progress.ItemID,
			RegistryID:       progress.RegistryID,
			AccumulatedCents: progress.Accumulated.Int64(),
			Accumulated:      progress.Accumulated.String(),
			GoalCents:        progress.Goal.Int64(),
			Goal:             progress.Goal.String(),
			Fulfilled:        progress.Fulfilled,
			Percent:          progress.Percent,
		})
	}
}

// RegistryBalance is the owner's view of paid, redeemed, held and available
// funds.
func RegistryBalance(registrySvc registries.Service, reader breakdownReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		registryID, userID, err := ownerScope(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if _, err := registrySvc.RequireOwner(r.Context(), registryID, userID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		breakdown, err := reader.BalanceBreakdown(r.Context(), registryID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read balance"))
			return
		}
		responses.WriteSuccess(w, balanceResponse{
			RegistryID:     breakdown.RegistryID,
			PaidCents:      breakdown.Paid.Int64(),
			RedeemedCents:  breakdown.Redeemed.Int64(),
			OnHoldCents:    breakdown.OnHold.Int64(),
			AvailableCents: breakdown.Available.Int64(),
			Available:      breakdown.Available.String(),
		})
	}
}

func PublicContributions(svc contributions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		registryID, err := validators.ParseUUIDParam(r, "registryId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.ListPublic(r.Context(), registryID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

// OwnerContributions accepts an optional status filter.
func OwnerContributions(svc contributions.Service, logg *logger.Logger) http.HandlerFunc {
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
		input := contributions.OwnerListInput{RegistryID: registryID, UserID: userID, Params: params}
		if raw := r.URL.Query().Get("status"); raw != "" {
			status, err := enums.ParseContributionStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
				return
			}
			input.Status = &status
		}
		page, err := svc.ListForOwner(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

// ExportContributions streams the ledger as CSV. Errors before the first
// byte use the JSON envelope; later failures can only be logged.
func ExportContributions(svc contributions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		registryID, userID, err := ownerScope(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := &deferredCSV{w: w, filename: fmt.Sprintf("contributions-%s.csv", registryID)}
		if err := svc.ExportCSV(r.Context(), registryID, userID, out); err != nil {
			if out.started {
				if logg != nil {
					logg.Error(r.Context(), "contribution export interrupted", err)
				}
				return
			}
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !out.started {
			out.writeHeaders()
		}
	}
}

// deferredCSV sets the CSV headers on the first write so ownership errors can
// still be answered as JSON.
type deferredCSV struct {
	w        http.ResponseWriter
	filename string
	started  bool
}

func (d *deferredCSV) writeHeaders() {
	d.started = true
	d.w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	d.w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", d.filename))
	d.w.WriteHeader(http.StatusOK)
}

func (d *deferredCSV) Write(p []byte) (int, error) {
	if !d.started {
		d.writeHeaders()
	}
	return d.w.Write(p)
}

func ownerScope(r *http.Request) (uuid.UUID, uuid.UUID, error) {
	registryID, err := validators.ParseUUIDParam(r, "registryId")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	userID := middleware.PrincipalID(r.Context())
	if userID == uuid.Nil {
		return uuid.Nil, uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	return registryID, userID, nil
}

type progressResponse struct {
	ItemID           uuid.UUID `json:"item_id"`
	RegistryID       uuid.UUID `json:"registry_id"`
	AccumulatedCents int64     `json:"accumulated_cents"`
	Accumulated      string    `json:"accumulated"`
	GoalCents        int64     `json:"goal_cents"`
	Goal             string    `json:"goal"`
	Fulfilled        bool      `json:"fulfilled"`
	Percent          int       `json:"percent"`
}

type balanceResponse struct {
	RegistryID     uuid.UUID `json:"registry_id"`
	PaidCents      int64     `json:"paid_cents"`
	RedeemedCents  int64     `json:"redeemed_cents"`
	OnHoldCents    int64     `json:"on_hold_cents"`
	AvailableCents int64     `json:"available_cents"`
	Available      string    `json:"available"`
}
