package contributions

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/giftledger-backend/internal/ledgertest"
	"github.com/angelmondragon/giftledger-backend/internal/registries"
	"github.com/angelmondragon/giftledger-backend/pkg/db/models"
	"github.com/angelmondragon/giftledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/giftledger-backend/pkg/errors"
	"github.com/angelmondragon/giftledger-backend/pkg/money"
	"github.com/angelmondragon/giftledger-backend/pkg/pagination"
)

func newService(t *testing.T, l *ledgertest.Ledger) Service {
	t.Helper()
	regSvc, err := registries.NewService(registries.NewRepository(l.DB.DB()))
	require.NoError(t, err)
	svc, err := NewService(NewRepository(l.DB.DB()), regSvc)
	require.NoError(t, err)
	return svc
}

func TestListPublicPaginates(t *testing.T) {
	l := ledgertest.Open(t)
	svc := newService(t, l)
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		l.Contribution(t, nil, money.Dollars(int64(10+i)), enums.ContributionStatusPaid, func(c *models.Contribution) {
			c.CreatedAt = at
			c.ContributorEmail = ptr("guest@example.com")
		})
	}

	first, err := svc.ListPublic(context.Background(), l.Registry.ID, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	require.NotEmpty(t, first.NextCursor)
	require.Equal(t, "$12.00", first.Items[0].Amount)

	second, err := svc.ListPublic(context.Background(), l.Registry.ID, pagination.Params{Limit: 2, Cursor: first.NextCursor})
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	require.Empty(t, second.NextCursor)
	require.Equal(t, int64(1000), second.Items[0].AmountCents)
}

func TestListPublicUnknownRegistry(t *testing.T) {
	l := ledgertest.Open(t)
	svc := newService(t, l)
	_, err := svc.ListPublic(context.Background(), uuid.New(), pagination.Params{})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}

func TestListPublicRejectsBadCursor(t *testing.T) {
	l := ledgertest.Open(t)
	svc := newService(t, l)
	_, err := svc.ListPublic(context.Background(), l.Registry.ID, pagination.Params{Cursor: "!!"})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestListForOwnerRequiresOwnership(t *testing.T) {
	l := ledgertest.Open(t)
	svc := newService(t, l)
	l.Contribution(t, nil, money.Cents(1500), enums.ContributionStatusPending)

	_, err := svc.ListForOwner(context.Background(), OwnerListInput{RegistryID: l.Registry.ID, UserID: uuid.New()})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeForbidden))

	pending := enums.ContributionStatusPending
	page, err := svc.ListForOwner(context.Background(), OwnerListInput{RegistryID: l.Registry.ID, UserID: l.Owner, Status: &pending})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, enums.ContributionStatusPending, page.Items[0].Status)
}

func TestExportCSV(t *testing.T) {
	l := ledgertest.Open(t)
	svc := newService(t, l)
	l.Contribution(t, nil, money.Cents(123456), enums.ContributionStatusPaid, func(c *models.Contribution) {
		c.ContributorName = "Rae, Jr."
		c.Message = ptr("Congrats!")
	})

	var buf bytes.Buffer
	require.NoError(t, svc.ExportCSV(context.Background(), l.Registry.ID, l.Owner, &buf))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, exportHeader, records[0])
	require.Equal(t, "Rae, Jr.", records[1][4])
	require.Equal(t, "123456", records[1][6])
	require.Equal(t, "$1,234.56", records[1][7])
	require.Equal(t, "paid", records[1][2])

	err = svc.ExportCSV(context.Background(), l.Registry.ID, uuid.New(), &buf)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeForbidden))
}

func ptr(s string) *string { return &s }
