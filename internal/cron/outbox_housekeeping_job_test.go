package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/giftledger-backend/pkg/logger"
)

type memoryOutbox struct {
	cutoff      time.Time
	keepRetried int
	maxAttempts int
	backlog     int64
	deleteErr   error
}

func (m *memoryOutbox) DeletePublishedBefore(_ context.Context, _ *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error) {
	m.cutoff = cutoff
	m.keepRetried = minAttemptCount
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	return 3, nil
}

func (m *memoryOutbox) CountBacklog(_ context.Context, maxAttempts int) (int64, error) {
	m.maxAttempts = maxAttempts
	return m.backlog, nil
}

type passthroughTx struct{}

func (passthroughTx) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error { return fn(nil) }

type backlogGauge struct{ value int64 }

func (g *backlogGauge) SetOutboxBacklog(count int64) { g.value = count }

func newHousekeeping(t *testing.T, store *memoryOutbox, gauge *backlogGauge, retention time.Duration) *outboxHousekeepingJob {
	t.Helper()
	job, err := NewOutboxHousekeepingJob(OutboxHousekeepingJobParams{
		Logger:    logger.New(logger.Options{ServiceName: "test"}),
		DB:        passthroughTx{},
		Outbox:    store,
		Metrics:   gauge,
		Retention: retention,
	})
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	return job.(*outboxHousekeepingJob)
}

func TestOutboxHousekeepingPrunesAndReportsBacklog(t *testing.T) {
	now := time.Date(2026, 6, 1, 3, 0, 0, 0, time.UTC)
	store := &memoryOutbox{backlog: 12}
	gauge := &backlogGauge{}
	job := newHousekeeping(t, store, gauge, 72*time.Hour)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !store.cutoff.Equal(now.Add(-72 * time.Hour)) {
		t.Fatalf("cutoff = %s", store.cutoff)
	}
	if store.keepRetried != defaultKeepRetriedFrom || store.maxAttempts != defaultMaxAttempts {
		t.Fatalf("unexpected thresholds keep=%d max=%d", store.keepRetried, store.maxAttempts)
	}
	if gauge.value != 12 {
		t.Fatalf("backlog gauge = %d", gauge.value)
	}
}

func TestOutboxHousekeepingDefaultsRetention(t *testing.T) {
	now := time.Date(2026, 6, 1, 3, 0, 0, 0, time.UTC)
	store := &memoryOutbox{}
	job := newHousekeeping(t, store, nil, 0)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !store.cutoff.Equal(now.Add(-defaultOutboxRetention)) {
		t.Fatalf("cutoff = %s", store.cutoff)
	}
}

func TestOutboxHousekeepingStopsOnPruneError(t *testing.T) {
	store := &memoryOutbox{deleteErr: errors.New("lock timeout"), backlog: 5}
	gauge := &backlogGauge{value: -1}
	job := newHousekeeping(t, store, gauge, time.Hour)

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if gauge.value != -1 {
		t.Fatal("backlog should not be reported after a failed prune")
	}
}
