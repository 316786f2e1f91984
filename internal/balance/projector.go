package balance

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/giftledger-backend/pkg/db"
	"github.com/angelmondragon/giftledger-backend/pkg/db/models"
	"github.com/angelmondragon/giftledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/giftledger-backend/pkg/errors"
	"github.com/angelmondragon/giftledger-backend/pkg/money"
)

// ErrItemNotFound is returned when a projection targets a missing item.
var ErrItemNotFound = errors.New("registry item not found")

// Progress is the fulfillment view of one item.
type Progress struct {
	ItemID      uuid.UUID    `json:"item_id"`
	RegistryID  uuid.UUID    `json:"registry_id"`
	Accumulated money.Amount `json:"accumulated_cents"`
	Goal        money.Amount `json:"goal_cents"`
	Fulfilled   bool         `json:"fulfilled"`
	Percent     int          `json:"percent"`
}

// Projector owns item progress and derives registry balances from the ledger.
// It is the only writer of registry_items.accumulated_cents and fulfilled.
type Projector struct {
	db *gorm.DB
}

func NewProjector(db *gorm.DB) *Projector {
	return &Projector{db: db}
}

// ApplyPaid adds a settled contribution to its item inside tx.
func (p *Projector) ApplyPaid(ctx context.Context, tx *gorm.DB, itemID uuid.UUID, amount money.Amount) (*models.RegistryItem, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("paid amount must be positive, got %d", amount)
	}
	return p.adjust(ctx, tx, itemID, amount)
}

// ApplyRefund removes a refunded contribution from its item inside tx. The
// accumulated amount never drops below zero.
func (p *Projector) ApplyRefund(ctx context.Context, tx *gorm.DB, itemID uuid.UUID, amount money.Amount) (*models.RegistryItem, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("refund amount must be positive, got %d", amount)
	}
	return p.adjust(ctx, tx, itemID, -amount)
}

func (p *Projector) adjust(ctx context.Context, tx *gorm.DB, itemID uuid.UUID, delta money.Amount) (*models.RegistryItem, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	var item models.RegistryItem
	if err := db.ForUpdate(tx.WithContext(ctx)).Where("id = ?", itemID).First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrItemNotFound
		}
		return nil, err
	}

	Project(&item, delta)

	if err := tx.WithContext(ctx).
		Model(&item).
		Select("accumulated_cents", "fulfilled", "updated_at").
		Updates(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

// Project applies delta to the item in memory: accumulated is floored at zero
// and fulfilled is recomputed when the item has a goal. Items without a goal
// keep whatever fulfilled value they had.
func Project(item *models.RegistryItem, delta money.Amount) {
	item.AccumulatedCents = money.FloorZero(item.AccumulatedCents + delta)
	if item.GoalCents > 0 {
		item.Fulfilled = item.AccumulatedCents >= item.GoalCents
	}
}

// CurrentBalance is sum(paid contributions) minus sum(non-rejected
// redemptions), recomputed from the ledger on every call. Flagged
// redemptions are held: they reduce the balance until rejected.
func (p *Projector) CurrentBalance(ctx context.Context, registryID uuid.UUID) (money.Amount, error) {
	return p.CurrentBalanceTx(ctx, p.db, registryID)
}

// CurrentBalanceTx computes the balance on tx so callers holding the registry
// lock see their own uncommitted writes.
func (p *Projector) CurrentBalanceTx(ctx context.Context, tx *gorm.DB, registryID uuid.UUID) (money.Amount, error) {
	paid, err := p.SumPaid(ctx, tx, registryID)
	if err != nil {
		return 0, err
	}
	redeemed, err := p.SumRedeemed(ctx, tx, registryID)
	if err != nil {
		return 0, err
	}
	return paid - redeemed, nil
}

// SumPaid totals paid contributions for the registry, general fund included.
func (p *Projector) SumPaid(ctx context.Context, tx *gorm.DB, registryID uuid.UUID) (money.Amount, error) {
	var total int64
	err := tx.WithContext(ctx).
		Model(&models.Contribution{}).
		Select("COALESCE(SUM(amount_cents), 0)").
		Where("registry_id = ? AND status = ?", registryID, enums.ContributionStatusPaid).
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("sum paid contributions: %w", err)
	}
	return money.Cents(total), nil
}

// SumRedeemed totals redemptions that still deduct from the balance.
func (p *Projector) SumRedeemed(ctx context.Context, tx *gorm.DB, registryID uuid.UUID) (money.Amount, error) {
	var total int64
	err := tx.WithContext(ctx).
		Model(&models.Redemption{}).
		Select("COALESCE(SUM(amount_cents), 0)").
		Where("registry_id = ? AND status <> ?", registryID, enums.RedemptionStatusRejected).
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("sum redemptions: %w", err)
	}
	return money.Cents(total), nil
}

// Breakdown is the balance with the amounts it is derived from. OnHold is
// the part of Redeemed that sits in flagged redemptions awaiting review.
type Breakdown struct {
	RegistryID uuid.UUID    `json:"registry_id"`
	Paid       money.Amount `json:"paid_cents"`
	Redeemed   money.Amount `json:"redeemed_cents"`
	OnHold     money.Amount `json:"on_hold_cents"`
	Available  money.Amount `json:"available_cents"`
}

// BalanceBreakdown reads the balance and its components from the ledger.
func (p *Projector) BalanceBreakdown(ctx context.Context, registryID uuid.UUID) (*Breakdown, error) {
	paid, err := p.SumPaid(ctx, p.db, registryID)
	if err != nil {
		return nil, err
	}
	redeemed, err := p.SumRedeemed(ctx, p.db, registryID)
	if err != nil {
		return nil, err
	}
	var onHold int64
	if err := p.db.WithContext(ctx).
		Model(&models.Redemption{}).
		Select("COALESCE(SUM(amount_cents), 0)").
		Where("registry_id = ? AND status = ?", registryID, enums.RedemptionStatusFlagged).
		Scan(&onHold).Error; err != nil {
		return nil, fmt.Errorf("sum flagged redemptions: %w", err)
	}
	return &Breakdown{
		RegistryID: registryID,
		Paid:       paid,
		Redeemed:   redeemed,
		OnHold:     money.Cents(onHold),
		Available:  paid - redeemed,
	}, nil
}

// ItemProgress reports accumulated, goal and fulfilled for one item.
func (p *Projector) ItemProgress(ctx context.Context, itemID uuid.UUID) (*Progress, error) {
	var item models.RegistryItem
	if err := p.db.WithContext(ctx).Where("id = ?", itemID).First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "registry item not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load registry item")
	}
	return &Progress{
		ItemID:      item.ID,
		RegistryID:  item.RegistryID,
		Accumulated: item.AccumulatedCents,
		Goal:        item.GoalCents,
		Fulfilled:   item.Fulfilled,
		Percent:     money.ProgressPercent(item.AccumulatedCents, item.GoalCents),
	}, nil
}

// ItemLedgerSum is the ledger's view of one item: the sum of its paid
// contributions, which accumulated_cents must equal.
type ItemLedgerSum struct {
	ItemID      uuid.UUID
	RegistryID  uuid.UUID
	Goal        money.Amount
	Fulfilled   bool
	Stored      money.Amount
	LedgerTotal money.Amount
}

// Drift is stored minus ledger total.
func (s ItemLedgerSum) Drift() money.Amount {
	return s.Stored - s.LedgerTotal
}

// FulfillmentConsistent reports whether the stored flag matches the stored
// amount. Items without a goal are never checked.
func (s ItemLedgerSum) FulfillmentConsistent() bool {
	if s.Goal <= 0 {
		return true
	}
	return s.Fulfilled == (s.Stored >= s.Goal)
}

// ItemLedgerSums compares every item's stored progress with the ledger, in
// pages of batchSize items ordered by id.
func (p *Projector) ItemLedgerSums(ctx context.Context, afterID uuid.UUID, batchSize int) ([]ItemLedgerSum, error) {
	var items []models.RegistryItem
	q := p.db.WithContext(ctx).Order("id ASC").Limit(batchSize)
	if afterID != uuid.Nil {
		q = q.Where("id > ?", afterID)
	}
	if err := q.Find(&items).Error; err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	type row struct {
		ItemID uuid.UUID
		Total  int64
	}
	var rows []row
	if err := p.db.WithContext(ctx).
		Model(&models.Contribution{}).
		Select("item_id, COALESCE(SUM(amount_cents), 0) AS total").
		Where("item_id IN ? AND status = ?", ids, enums.ContributionStatusPaid).
		Group("item_id").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("sum item contributions: %w", err)
	}
	totals := make(map[uuid.UUID]int64, len(rows))
	for _, r := range rows {
		totals[r.ItemID] = r.Total
	}

	out := make([]ItemLedgerSum, 0, len(items))
	for _, item := range items {
		out = append(out, ItemLedgerSum{
			ItemID:      item.ID,
			RegistryID:  item.RegistryID,
			Goal:        item.GoalCents,
			Fulfilled:   item.Fulfilled,
			Stored:      item.AccumulatedCents,
			LedgerTotal: money.Cents(totals[item.ID]),
		})
	}
	return out, nil
}
