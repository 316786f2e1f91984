// Package relay moves committed outbox rows onto Pub/Sub. Ledger facts go to
// the ledger topic; redemptions cleared for payout go to the fulfillment
// topic. Delivery is at least once; consumers dedupe on the envelope event id.
package relay

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/giftledger-backend/pkg/config"
	"github.com/angelmondragon/giftledger-backend/pkg/db/models"
	"github.com/angelmondragon/giftledger-backend/pkg/logger"
	"github.com/angelmondragon/giftledger-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 500 * time.Millisecond
	defaultMaxAttempts    = 10
	defaultPublishTimeout = 15 * time.Second
	maxIdleBackoff        = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

type txRunner interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type rowStore interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type deadLetters interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type resolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type outcomeRecorder interface {
	IncOutbox(eventType, outcome string)
}

// Broker hands out one publisher per topic and reports health.
type Broker interface {
	Ping(context.Context) error
	Topic(name string) Publisher
}

type Params struct {
	Logger      *logger.Logger
	DB          txRunner
	Rows        rowStore
	DeadLetters deadLetters
	Resolver    resolver
	Broker      Broker
	Metrics     outcomeRecorder
	Config      config.OutboxConfig
}

type Relay struct {
	logg        *logger.Logger
	db          txRunner
	rows        rowStore
	dlq         deadLetters
	resolver    resolver
	broker      Broker
	metrics     outcomeRecorder
	publishers  map[string]Publisher
	batchSize   int
	maxAttempts int
	poll        time.Duration
	now         func() time.Time
}

func New(p Params) (*Relay, error) {
	switch {
	case p.Logger == nil:
		return nil, errors.New("logger is required")
	case p.DB == nil:
		return nil, errors.New("database client is required")
	case p.Rows == nil:
		return nil, errors.New("outbox repository is required")
	case p.DeadLetters == nil:
		return nil, errors.New("dlq repository is required")
	case p.Resolver == nil:
		return nil, errors.New("event registry is required")
	case p.Broker == nil:
		return nil, errors.New("pubsub broker is required")
	}
	r := &Relay{
		logg:        p.Logger,
		db:          p.DB,
		rows:        p.Rows,
		dlq:         p.DeadLetters,
		resolver:    p.Resolver,
		broker:      p.Broker,
		metrics:     p.Metrics,
		publishers:  map[string]Publisher{},
		batchSize:   orDefault(p.Config.BatchSize, defaultBatchSize),
		maxAttempts: orDefault(p.Config.MaxAttempts, defaultMaxAttempts),
		poll:        defaultPollInterval,
		now:         func() time.Time { return time.Now().UTC() },
	}
	if p.Config.PollIntervalMS > 0 {
		r.poll = time.Duration(p.Config.PollIntervalMS) * time.Millisecond
	}
	return r, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Run drains the outbox until ctx ends. A full batch is followed immediately
// by the next one; errors back off exponentially up to maxIdleBackoff.
func (r *Relay) Run(ctx context.Context) error {
	for name, ping := range map[string]func(context.Context) error{"database": r.db.Ping, "pubsub": r.broker.Ping} {
		if err := ping(ctx); err != nil {
			return fmt.Errorf("%s ping failed: %w", name, err)
		}
	}
	defer r.stop()

	wait := r.poll
	for {
		n, err := r.Drain(ctx)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			r.logg.Error(ctx, "outbox batch failed", err)
			wait = min(wait*2, maxIdleBackoff)
		case n >= r.batchSize:
			wait = r.poll
			continue
		default:
			wait = r.poll
		}
		if err := sleep(ctx, wait+rand.N(jitterWindow)); err != nil {
			return err
		}
	}
}

func (r *Relay) stop() {
	for topic, pub := range r.publishers {
		pub.Stop()
		delete(r.publishers, topic)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
