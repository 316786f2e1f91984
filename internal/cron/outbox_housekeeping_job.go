package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/giftledger-backend/pkg/logger"
)

const (
	defaultOutboxRetention = 30 * 24 * time.Hour
	// delivered rows that took this many attempts stay around for inspection.
	defaultKeepRetriedFrom = 5
	defaultMaxAttempts     = 10
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxStore interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error)
	CountBacklog(ctx context.Context, maxAttempts int) (int64, error)
}

type backlogRecorder interface {
	SetOutboxBacklog(count int64)
}

type OutboxHousekeepingJobParams struct {
	Logger          *logger.Logger
	DB              txRunner
	Outbox          outboxStore
	Metrics         backlogRecorder
	Retention       time.Duration
	KeepRetriedFrom int
	MaxAttempts     int
}

// NewOutboxHousekeepingJob prunes delivered outbox rows past retention and
// reports how many rows are still waiting for the relay. Undelivered rows
// are never pruned.
func NewOutboxHousekeepingJob(params OutboxHousekeepingJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.DB == nil:
		return nil, fmt.Errorf("db runner required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox repository required")
	}
	job := &outboxHousekeepingJob{
		logg:        params.Logger,
		db:          params.DB,
		outbox:      params.Outbox,
		metrics:     params.Metrics,
		retention:   params.Retention,
		keepRetried: params.KeepRetriedFrom,
		maxAttempts: params.MaxAttempts,
		now:         time.Now,
	}
	if job.retention <= 0 {
		job.retention = defaultOutboxRetention
	}
	if job.keepRetried <= 0 {
		job.keepRetried = defaultKeepRetriedFrom
	}
	if job.maxAttempts <= 0 {
		job.maxAttempts = defaultMaxAttempts
	}
	return job, nil
}

type outboxHousekeepingJob struct {
	logg        *logger.Logger
	db          txRunner
	outbox      outboxStore
	metrics     backlogRecorder
	retention   time.Duration
	keepRetried int
	maxAttempts int
	now         func() time.Time
}

func (j *outboxHousekeepingJob) Name() string { return "outbox-housekeeping" }

func (j *outboxHousekeepingJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	var pruned int64
	if err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		n, err := j.outbox.DeletePublishedBefore(ctx, tx, cutoff, j.keepRetried)
		pruned = n
		return err
	}); err != nil {
		return fmt.Errorf("prune delivered outbox rows: %w", err)
	}

	backlog, err := j.outbox.CountBacklog(ctx, j.maxAttempts)
	if err != nil {
		return fmt.Errorf("count outbox backlog: %w", err)
	}
	if j.metrics != nil {
		j.metrics.SetOutboxBacklog(backlog)
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"rows_pruned":    pruned,
		"outbox_backlog": backlog,
	}), "outbox housekeeping done")
	return nil
}
