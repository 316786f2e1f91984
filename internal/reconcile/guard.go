package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	pkgredis "github.com/angelmondragon/giftledger-backend/pkg/redis"
)

// GuardScope namespaces provider event ids in the idempotency store.
const GuardScope = "stripe_webhook"

const processedMarker = "done"

// Guard remembers provider event ids whose ledger transaction committed, so
// redeliveries skip the database. An id is only recorded after commit, so
// an attempt that never committed leaves no trace.
type Guard struct {
	store pkgredis.IdempotencyStore
	ttl   time.Duration
	scope string
}

func NewGuard(store pkgredis.IdempotencyStore, ttl time.Duration, scope string) (*Guard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	return &Guard{store: store, ttl: ttl, scope: scope}, nil
}

// Processed reports whether eventID was already committed to the ledger.
func (g *Guard) Processed(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.New("event id is required")
	}
	value, err := g.store.Get(ctx, g.store.IdempotencyKey(g.scope, eventID))
	switch {
	case errors.Is(err, redis.Nil):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("get idempotency key: %w", err)
	}
	return value == processedMarker, nil
}

// MarkProcessed records eventID once its transaction has committed.
func (g *Guard) MarkProcessed(ctx context.Context, eventID string) error {
	if eventID == "" {
		return errors.New("event id is required")
	}
	if _, err := g.store.SetNX(ctx, g.store.IdempotencyKey(g.scope, eventID), processedMarker, g.ttl); err != nil {
		return fmt.Errorf("set idempotency key: %w", err)
	}
	return nil
}
