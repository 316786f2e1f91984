package redemptions

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/giftledger-backend/pkg/db"
	"github.com/angelmondragon/giftledger-backend/pkg/db/models"
	"github.com/angelmondragon/giftledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/giftledger-backend/pkg/errors"
	"github.com/angelmondragon/giftledger-backend/pkg/pagination"
)

// Repository persists redemptions and their review flags.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, redemption *models.Redemption) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Redemption, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.Redemption, error)
	UpdateStatus(ctx context.Context, redemption *models.Redemption) error
	ListByRegistry(ctx context.Context, registryID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.Redemption, error)

	CreateFlag(ctx context.Context, flag *models.FlaggedTransaction) error
	FindFlag(ctx context.Context, id uuid.UUID) (*models.FlaggedTransaction, error)
	LockFlag(ctx context.Context, id uuid.UUID) (*models.FlaggedTransaction, error)
	UpdateFlagReview(ctx context.Context, flag *models.FlaggedTransaction) error
	ListFlags(ctx context.Context, status enums.FlagStatus, cursor *pagination.Cursor, limit int) ([]models.FlaggedTransaction, error)
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

func (r *repository) Create(ctx context.Context, redemption *models.Redemption) error {
	err := r.db.WithContext(ctx).Create(redemption).Error
	if db.IsCheckViolation(err) {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "redemption amount must be positive")
	}
	return err
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Redemption, error) {
	return first[models.Redemption](r.db.WithContext(ctx), id)
}

func (r *repository) LockByID(ctx context.Context, id uuid.UUID) (*models.Redemption, error) {
	return first[models.Redemption](db.ForUpdate(r.db.WithContext(ctx)), id)
}

func (r *repository) UpdateStatus(ctx context.Context, redemption *models.Redemption) error {
	return r.db.WithContext(ctx).
		Model(redemption).
		Select("status", "updated_at").
		Updates(redemption).Error
}

func (r *repository) ListByRegistry(ctx context.Context, registryID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.Redemption, error) {
	var rows []models.Redemption
	q := r.db.WithContext(ctx).Where("registry_id = ?", registryID)
	if err := pagination.Apply(q, cursor, limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) CreateFlag(ctx context.Context, flag *models.FlaggedTransaction) error {
	return r.db.WithContext(ctx).Create(flag).Error
}

func (r *repository) FindFlag(ctx context.Context, id uuid.UUID) (*models.FlaggedTransaction, error) {
	return first[models.FlaggedTransaction](r.db.WithContext(ctx), id)
}

func (r *repository) LockFlag(ctx context.Context, id uuid.UUID) (*models.FlaggedTransaction, error) {
	return first[models.FlaggedTransaction](db.ForUpdate(r.db.WithContext(ctx)), id)
}

// UpdateFlagReview writes the reviewer's decision columns.
func (r *repository) UpdateFlagReview(ctx context.Context, flag *models.FlaggedTransaction) error {
	return r.db.WithContext(ctx).
		Model(flag).
		Select("status", "reviewed_by_user_id", "reviewed_at", "review_note", "updated_at").
		Updates(flag).Error
}

func (r *repository) ListFlags(ctx context.Context, status enums.FlagStatus, cursor *pagination.Cursor, limit int) ([]models.FlaggedTransaction, error) {
	var rows []models.FlaggedTransaction
	q := r.db.WithContext(ctx).Where("status = ?", status)
	if err := pagination.Apply(q, cursor, limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func first[T any](q *gorm.DB, id uuid.UUID) (*T, error) {
	var row T
	if err := q.Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}
