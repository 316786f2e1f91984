package registries

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/giftledger-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/giftledger-backend/pkg/errors"
)

// Service resolves registries for the ledger entry points and enforces
// ownership for owner-only operations.
type Service interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Registry, error)
	GetItem(ctx context.Context, registryID, itemID uuid.UUID) (*models.RegistryItem, error)
	RequireOwner(ctx context.Context, registryID, userID uuid.UUID) (*models.Registry, error)
}

type service struct {
	repo Repository
}

func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("registry repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Registry, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "registry id is required")
	}
	registry, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load registry")
	}
	if registry == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "registry not found")
	}
	return registry, nil
}

// GetItem loads an item and checks it belongs to the registry. A foreign item
// is reported as not found so ids from other registries are not confirmed.
func (s *service) GetItem(ctx context.Context, registryID, itemID uuid.UUID) (*models.RegistryItem, error) {
	if itemID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "item id is required")
	}
	item, err := s.repo.FindItem(ctx, itemID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load registry item")
	}
	if item == nil || item.RegistryID != registryID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "registry item not found")
	}
	return item, nil
}

func (s *service) RequireOwner(ctx context.Context, registryID, userID uuid.UUID) (*models.Registry, error) {
	registry, err := s.Get(ctx, registryID)
	if err != nil {
		return nil, err
	}
	if userID == uuid.Nil || registry.OwnerUserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "registry belongs to another user")
	}
	return registry, nil
}
