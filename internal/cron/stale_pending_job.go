package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/giftledger-backend/pkg/logger"
)

const defaultStalePendingAfter = 24 * time.Hour

type pendingCounter interface {
	CountPendingBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type stalePendingRecorder interface {
	SetStalePending(count int64)
}

type StalePendingJobParams struct {
	Logger        *logger.Logger
	Contributions pendingCounter
	Metrics       stalePendingRecorder
	After         time.Duration
}

// NewStalePendingJob reports contributions that never settled. Pending rows
// are kept as they are; the report only feeds the gauge and the log.
func NewStalePendingJob(params StalePendingJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Contributions == nil {
		return nil, fmt.Errorf("contribution counter required")
	}
	after := params.After
	if after <= 0 {
		after = defaultStalePendingAfter
	}
	return &stalePendingJob{
		logg:    params.Logger,
		repo:    params.Contributions,
		metrics: params.Metrics,
		after:   after,
		now:     time.Now,
	}, nil
}

type stalePendingJob struct {
	logg    *logger.Logger
	repo    pendingCounter
	metrics stalePendingRecorder
	after   time.Duration
	now     func() time.Time
}

func (j *stalePendingJob) Name() string { return "stale-pending-report" }

func (j *stalePendingJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.after)
	count, err := j.repo.CountPendingBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("count stale pending contributions: %w", err)
	}
	if j.metrics != nil {
		j.metrics.SetStalePending(count)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":        cutoff,
		"stale_pending": count,
	})
	if count > 0 {
		j.logg.Warn(logCtx, "pending contributions older than cutoff")
		return nil
	}
	j.logg.Info(logCtx, "no stale pending contributions")
	return nil
}
