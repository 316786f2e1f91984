package contributions

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/giftledger-backend/internal/registries"
	"github.com/angelmondragon/giftledger-backend/pkg/db/models"
	"github.com/angelmondragon/giftledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/giftledger-backend/pkg/errors"
	"github.com/angelmondragon/giftledger-backend/pkg/pagination"
)

// OwnerListInput scopes the owner's view of the ledger.
type OwnerListInput struct {
	RegistryID uuid.UUID
	UserID     uuid.UUID
	Status     *enums.ContributionStatus
	Params     pagination.Params
}

// Service is the read side of the contribution ledger for the UI and export.
type Service interface {
	ListPublic(ctx context.Context, registryID uuid.UUID, params pagination.Params) (pagination.Page[PublicContribution], error)
	ListForOwner(ctx context.Context, input OwnerListInput) (pagination.Page[OwnerContribution], error)
	ExportCSV(ctx context.Context, registryID, userID uuid.UUID, w io.Writer) error
}

type service struct {
	repo       Repository
	registries registries.Service
}

func NewService(repo Repository, registrySvc registries.Service) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("contribution repository required")
	}
	if registrySvc == nil {
		return nil, fmt.Errorf("registry service required")
	}
	return &service{repo: repo, registries: registrySvc}, nil
}

func (s *service) ListPublic(ctx context.Context, registryID uuid.UUID, params pagination.Params) (pagination.Page[PublicContribution], error) {
	var empty pagination.Page[PublicContribution]
	if _, err := s.registries.Get(ctx, registryID); err != nil {
		return empty, err
	}
	rows, err := s.list(ctx, ListFilter{RegistryID: registryID, PublicOnly: true}, params)
	if err != nil {
		return empty, err
	}
	page := pagination.Trim(rows, params.Limit, cursorKey)
	out := pagination.Page[PublicContribution]{Items: make([]PublicContribution, 0, len(page.Items)), NextCursor: page.NextCursor}
	for _, row := range page.Items {
		out.Items = append(out.Items, toPublic(row))
	}
	return out, nil
}

func (s *service) ListForOwner(ctx context.Context, input OwnerListInput) (pagination.Page[OwnerContribution], error) {
	var empty pagination.Page[OwnerContribution]
	if _, err := s.registries.RequireOwner(ctx, input.RegistryID, input.UserID); err != nil {
		return empty, err
	}
	if input.Status != nil && !input.Status.IsValid() {
		return empty, pkgerrors.New(pkgerrors.CodeValidation, "invalid contribution status")
	}
	rows, err := s.list(ctx, ListFilter{RegistryID: input.RegistryID, Status: input.Status}, input.Params)
	if err != nil {
		return empty, err
	}
	page := pagination.Trim(rows, input.Params.Limit, cursorKey)
	out := pagination.Page[OwnerContribution]{Items: make([]OwnerContribution, 0, len(page.Items)), NextCursor: page.NextCursor}
	for _, row := range page.Items {
		out.Items = append(out.Items, toOwner(row))
	}
	return out, nil
}

func (s *service) list(ctx context.Context, filter ListFilter, params pagination.Params) ([]models.Contribution, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.List(ctx, filter, cursor, params.Limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list contributions")
	}
	return rows, nil
}

var exportHeader = []string{
	"contribution_id", "created_at", "status", "item_id", "contributor_name",
	"contributor_email", "amount_cents", "amount", "is_public", "message",
	"paid_at", "refunded_at",
}

// ExportCSV writes every ledger row for the registry, oldest first.
func (s *service) ExportCSV(ctx context.Context, registryID, userID uuid.UUID, w io.Writer) error {
	if _, err := s.registries.RequireOwner(ctx, registryID, userID); err != nil {
		return err
	}
	rows, err := s.repo.ListForExport(ctx, registryID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load contributions for export")
	}

	out := csv.NewWriter(w)
	if err := out.Write(exportHeader); err != nil {
		return err
	}
	for _, row := range rows {
		if err := out.Write(exportRecord(row)); err != nil {
			return err
		}
	}
	out.Flush()
	return out.Error()
}

func exportRecord(c models.Contribution) []string {
	itemID := ""
	if c.ItemID != nil {
		itemID = c.ItemID.String()
	}
	return []string{
		c.ID.String(),
		c.CreatedAt.UTC().Format(time.RFC3339),
		string(c.Status),
		itemID,
		c.ContributorName,
		deref(c.ContributorEmail),
		strconv.FormatInt(c.AmountCents.Int64(), 10),
		c.AmountCents.String(),
		strconv.FormatBool(c.IsPublic),
		deref(c.Message),
		formatTime(c.PaidAt),
		formatTime(c.RefundedAt),
	}
}

func cursorKey(c models.Contribution) pagination.Cursor {
	return pagination.Cursor{CreatedAt: c.CreatedAt, ID: c.ID}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
