// Package ledgertest seeds sqlite ledgers for package tests.
package ledgertest

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/giftledger-backend/pkg/db"
	"github.com/angelmondragon/giftledger-backend/pkg/db/dbtest"
	"github.com/angelmondragon/giftledger-backend/pkg/db/models"
	"github.com/angelmondragon/giftledger-backend/pkg/enums"
	"github.com/angelmondragon/giftledger-backend/pkg/money"
)

// Ledger is a migrated database plus one registry owned by Owner.
type Ledger struct {
	DB       *db.Client
	Owner    uuid.UUID
	Registry *models.Registry
}

// Open migrates every ledger model into a fresh database.
func Open(t *testing.T) *Ledger {
	t.Helper()
	client := dbtest.Open(t, models.All()...)
	owner := uuid.New()
	registry := &models.Registry{OwnerUserID: owner, Title: "Maya & Theo"}
	if err := client.DB().Create(registry).Error; err != nil {
		t.Fatalf("seed registry: %v", err)
	}
	return &Ledger{DB: client, Owner: owner, Registry: registry}
}

// Item adds an item with the given goal to the registry.
func (l *Ledger) Item(t *testing.T, name string, goal money.Amount) *models.RegistryItem {
	t.Helper()
	item := &models.RegistryItem{RegistryID: l.Registry.ID, Name: name, GoalCents: goal}
	if err := l.DB.DB().Create(item).Error; err != nil {
		t.Fatalf("seed item: %v", err)
	}
	return item
}

// Contribution inserts a ledger row. Paid rows get a payment reference.
func (l *Ledger) Contribution(t *testing.T, itemID *uuid.UUID, amount money.Amount, status enums.ContributionStatus, opts ...func(*models.Contribution)) *models.Contribution {
	t.Helper()
	ref := "cs_test_" + uuid.NewString()
	c := &models.Contribution{
		RegistryID:      l.Registry.ID,
		ItemID:          itemID,
		ContributorName: "Guest",
		AmountCents:     amount,
		IsPublic:        true,
		ExternalRef:     &ref,
		Status:          status,
		CreatedAt:       time.Now().UTC(),
	}
	if status == enums.ContributionStatusPaid {
		pi := "pi_" + uuid.NewString()
		now := time.Now().UTC()
		c.PaymentRef = &pi
		c.PaidAt = &now
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := l.DB.DB().Create(c).Error; err != nil {
		t.Fatalf("seed contribution: %v", err)
	}
	return c
}

// Redemption inserts a redemption row in the given status.
func (l *Ledger) Redemption(t *testing.T, amount money.Amount, status enums.RedemptionStatus) *models.Redemption {
	t.Helper()
	email := "owner@example.com"
	r := &models.Redemption{
		RegistryID:        l.Registry.ID,
		AmountCents:       amount,
		Kind:              enums.RedemptionKindGiftCard,
		DestinationEmail:  &email,
		RequestedByUserID: l.Owner,
		Status:            status,
	}
	if err := l.DB.DB().Create(r).Error; err != nil {
		t.Fatalf("seed redemption: %v", err)
	}
	return r
}

// ReloadItem reads the item back from the database.
func (l *Ledger) ReloadItem(t *testing.T, id uuid.UUID) models.RegistryItem {
	t.Helper()
	var item models.RegistryItem
	if err := l.DB.DB().First(&item, "id = ?", id).Error; err != nil {
		t.Fatalf("reload item: %v", err)
	}
	return item
}

// ReloadContribution reads the contribution back from the database.
func (l *Ledger) ReloadContribution(t *testing.T, id uuid.UUID) models.Contribution {
	t.Helper()
	var c models.Contribution
	if err := l.DB.DB().First(&c, "id = ?", id).Error; err != nil {
		t.Fatalf("reload contribution: %v", err)
	}
	return c
}
