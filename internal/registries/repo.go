package registries

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/giftledger-backend/pkg/db"
	"github.com/angelmondragon/giftledger-backend/pkg/db/models"
)

// Repository reads registries and their items. Item progress is written by
// the balance projector, not here.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.Registry, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.Registry, error)
	FindItem(ctx context.Context, id uuid.UUID) (*models.RegistryItem, error)
	ListItems(ctx context.Context, registryID uuid.UUID) ([]models.RegistryItem, error)
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

// FindByID returns nil when the registry does not exist.
func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Registry, error) {
	return first[models.Registry](r.db.WithContext(ctx), id)
}

// LockByID takes a row lock on the registry for the rest of the transaction.
func (r *repository) LockByID(ctx context.Context, id uuid.UUID) (*models.Registry, error) {
	return first[models.Registry](db.ForUpdate(r.db.WithContext(ctx)), id)
}

func (r *repository) FindItem(ctx context.Context, id uuid.UUID) (*models.RegistryItem, error) {
	return first[models.RegistryItem](r.db.WithContext(ctx), id)
}

func (r *repository) ListItems(ctx context.Context, registryID uuid.UUID) ([]models.RegistryItem, error) {
	var items []models.RegistryItem
	if err := r.db.WithContext(ctx).
		Where("registry_id = ?", registryID).
		Order("created_at ASC").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
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
