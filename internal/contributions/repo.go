package contributions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/giftledger-backend/pkg/db"
	"github.com/angelmondragon/giftledger-backend/pkg/db/models"
	"github.com/angelmondragon/giftledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/giftledger-backend/pkg/errors"
	"github.com/angelmondragon/giftledger-backend/pkg/pagination"
)

// ErrExternalRefTaken is returned when a provider session id is already bound
// to another contribution.
var ErrExternalRefTaken = errors.New("external reference already attached")

// ListFilter narrows contribution listings.
type ListFilter struct {
	RegistryID uuid.UUID
	PublicOnly bool
	Status     *enums.ContributionStatus
}

// Repository persists contribution ledger entries. Rows are never deleted.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, contribution *models.Contribution) error
	AttachExternalRef(ctx context.Context, id uuid.UUID, externalRef string) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Contribution, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.Contribution, error)
	LockByExternalRef(ctx context.Context, externalRef string) (*models.Contribution, error)
	LockByPaymentRef(ctx context.Context, paymentRef string) (*models.Contribution, error)
	UpdateSettlement(ctx context.Context, contribution *models.Contribution) error
	List(ctx context.Context, filter ListFilter, cursor *pagination.Cursor, limit int) ([]models.Contribution, error)
	ListForExport(ctx context.Context, registryID uuid.UUID) ([]models.Contribution, error)
	CountPendingBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, contribution *models.Contribution) error {
	err := r.db.WithContext(ctx).Create(contribution).Error
	if db.IsCheckViolation(err) {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "contribution amount must be positive")
	}
	return err
}

// AttachExternalRef records the provider session id. It only fills an empty
// reference; rebinding an attached contribution is refused.
func (r *repository) AttachExternalRef(ctx context.Context, id uuid.UUID, externalRef string) error {
	res := r.db.WithContext(ctx).
		Model(&models.Contribution{}).
		Where("id = ? AND external_ref IS NULL", id).
		Update("external_ref", externalRef)
	if res.Error != nil {
		if db.IsUniqueViolation(res.Error, "") {
			return ErrExternalRefTaken
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrExternalRefTaken
	}
	return nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Contribution, error) {
	return firstWhere(r.db.WithContext(ctx), "id = ?", id)
}

func (r *repository) LockByID(ctx context.Context, id uuid.UUID) (*models.Contribution, error) {
	return firstWhere(db.ForUpdate(r.db.WithContext(ctx)), "id = ?", id)
}

func (r *repository) LockByExternalRef(ctx context.Context, externalRef string) (*models.Contribution, error) {
	return firstWhere(db.ForUpdate(r.db.WithContext(ctx)), "external_ref = ?", externalRef)
}

func (r *repository) LockByPaymentRef(ctx context.Context, paymentRef string) (*models.Contribution, error) {
	return firstWhere(db.ForUpdate(r.db.WithContext(ctx)), "payment_ref = ?", paymentRef)
}

// UpdateSettlement writes the reconciler-owned columns only.
func (r *repository) UpdateSettlement(ctx context.Context, contribution *models.Contribution) error {
	return r.db.WithContext(ctx).
		Model(contribution).
		Select("status", "payment_ref", "external_ref", "paid_at", "refunded_at", "updated_at").
		Updates(contribution).Error
}

func (r *repository) List(ctx context.Context, filter ListFilter, cursor *pagination.Cursor, limit int) ([]models.Contribution, error) {
	q := r.db.WithContext(ctx).Where("registry_id = ?", filter.RegistryID)
	if filter.PublicOnly {
		q = q.Where("is_public = ? AND status = ?", true, enums.ContributionStatusPaid)
	}
	if filter.Status != nil {
		q = q.Where("status = ?", *filter.Status)
	}
	var rows []models.Contribution
	if err := pagination.Apply(q, cursor, limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListForExport(ctx context.Context, registryID uuid.UUID) ([]models.Contribution, error) {
	var rows []models.Contribution
	if err := r.db.WithContext(ctx).
		Where("registry_id = ?", registryID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) CountPendingBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Contribution{}).
		Where("status = ? AND created_at < ?", enums.ContributionStatusPending, cutoff).
		Count(&count).Error
	return count, err
}

func firstWhere(q *gorm.DB, cond string, arg any) (*models.Contribution, error) {
	var row models.Contribution
	if err := q.Where(cond, arg).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}
