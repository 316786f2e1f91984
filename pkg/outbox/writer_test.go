package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/giftledger-backend/pkg/db/dbtest"
	"github.com/angelmondragon/giftledger-backend/pkg/db/models"
	"github.com/angelmondragon/giftledger-backend/pkg/enums"
)

func TestEmitWritesEnvelopeInsideTransaction(t *testing.T) {
	client := dbtest.Open(t, &models.OutboxEvent{})
	repo := NewRepository(client.DB())
	svc := NewWriter(repo, nil)
	aggregateID := uuid.New()

	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventContributionPaid,
			AggregateType: enums.AggregateContribution,
			AggregateID:   aggregateID,
			Data:          map[string]int{"amount_cents": 4000},
		})
	})
	if err != nil {
		t.Fatalf("emit failed: %v", err)
	}

	rows, err := repo.ListForAggregate(context.Background(), aggregateID)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	var envelope PayloadEnvelope
	if err := json.Unmarshal(rows[0].Payload, &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.Version != EnvelopeVersion || envelope.EventID != rows[0].ID.String() {
		t.Fatalf("unexpected envelope %+v", envelope)
	}
}

func TestEmitRollsBackWithLedgerMutation(t *testing.T) {
	client := dbtest.Open(t, &models.OutboxEvent{})
	repo := NewRepository(client.DB())
	svc := NewWriter(repo, nil)
	aggregateID := uuid.New()

	_ = client.WithTx(context.Background(), func(tx *gorm.DB) error {
		if err := svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventContributionRefunded,
			AggregateType: enums.AggregateContribution,
			AggregateID:   aggregateID,
			Data:          map[string]string{},
		}); err != nil {
			return err
		}
		return errors.New("ledger update failed")
	})

	rows, err := repo.ListForAggregate(context.Background(), aggregateID)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected rollback to discard event, got %d rows", len(rows))
	}
}

func TestEmitRejectsMalformedEvents(t *testing.T) {
	client := dbtest.Open(t, &models.OutboxEvent{})
	w := NewWriter(NewRepository(client.DB()), nil)
	ctx := context.Background()

	cases := map[string]DomainEvent{
		"unknown type":       {EventType: "nope", AggregateID: uuid.New()},
		"aggregate mismatch": {EventType: enums.EventRedemptionReady, AggregateType: enums.AggregateContribution, AggregateID: uuid.New()},
		"missing aggregate":  {EventType: enums.EventContributionPaid},
	}
	for name, event := range cases {
		if err := w.Emit(ctx, client.DB(), event); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if err := w.Emit(ctx, nil, DomainEvent{EventType: enums.EventContributionPaid, AggregateID: uuid.New()}); err == nil {
		t.Fatal("expected missing tx error")
	}
}

func TestEmitDerivesAggregateType(t *testing.T) {
	client := dbtest.Open(t, &models.OutboxEvent{})
	repo := NewRepository(client.DB())
	w := NewWriter(repo, nil)
	flagID := uuid.New()

	if err := w.Emit(context.Background(), client.DB(), DomainEvent{
		EventType:   enums.EventRedemptionFlagged,
		AggregateID: flagID,
		Data:        map[string]int{"amount_cents": 90000},
	}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	rows, err := repo.ListForAggregate(context.Background(), flagID)
	if err != nil || len(rows) != 1 {
		t.Fatalf("list: %d %v", len(rows), err)
	}
	if rows[0].AggregateType != enums.AggregateFlaggedTransaction {
		t.Fatalf("aggregate type = %s", rows[0].AggregateType)
	}
}

func TestDLQInsertClipsMessage(t *testing.T) {
	client := dbtest.Open(t, &models.OutboxDLQ{})
	repo := NewDLQRepository(client.DB())
	long := strings.Repeat("é", maxDLQMessageBytes)
	entry := models.OutboxDLQ{
		EventID:       uuid.New(),
		EventType:     enums.EventContributionPaid,
		AggregateType: enums.AggregateContribution,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{}`),
		ErrorReason:   enums.OutboxDLQReasonNonRetryable,
		ErrorMessage:  &long,
		FailedAt:      time.Now().UTC(),
	}
	if err := repo.InsertTx(client.DB(), entry); err != nil {
		t.Fatalf("insert: %v", err)
	}
	var stored models.OutboxDLQ
	if err := client.DB().Where("event_id = ?", entry.EventID).First(&stored).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if stored.ErrorMessage == nil || len(*stored.ErrorMessage) > maxDLQMessageBytes || !utf8.ValidString(*stored.ErrorMessage) {
		t.Fatalf("message not clipped cleanly")
	}

	entry.ErrorReason = "timeout"
	if err := repo.InsertTx(client.DB(), entry); err == nil {
		t.Fatal("expected unknown reason to be rejected")
	}
}

func TestRepositoryPublishLifecycle(t *testing.T) {
	client := dbtest.Open(t, &models.OutboxEvent{})
	repo := NewRepository(client.DB())
	ctx := context.Background()

	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventRedemptionReady,
		AggregateType: enums.AggregateRedemption,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{"version":1,"data":{}}`),
	}
	if err := repo.Insert(client.DB(), event); err != nil {
		t.Fatalf("insert: %v", err)
	}

	var pending []models.OutboxEvent
	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := repo.FetchUnpublishedForPublish(tx, 10, 3)
		pending = rows
		return err
	})
	if err != nil || len(pending) != 1 {
		t.Fatalf("expected one unpublished row, got %d (%v)", len(pending), err)
	}

	err = client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := repo.MarkFailedTx(tx, event.ID, errors.New("pubsub timeout")); err != nil {
			return err
		}
		return repo.MarkPublishedTx(tx, event.ID)
	})
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	backlog, err := repo.CountBacklog(ctx, 3)
	if err != nil || backlog != 0 {
		t.Fatalf("expected empty backlog, got %d (%v)", backlog, err)
	}

	var deleted int64
	err = client.WithTx(ctx, func(tx *gorm.DB) error {
		n, err := repo.DeletePublishedBefore(ctx, tx, time.Now().UTC().Add(time.Hour), 5)
		deleted = n
		return err
	})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 row pruned, got %d", deleted)
	}
}

func TestRepositoryTerminalRowsLeaveTheFetchWindow(t *testing.T) {
	client := dbtest.Open(t, &models.OutboxEvent{})
	repo := NewRepository(client.DB())
	ctx := context.Background()

	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventContributionPaid,
		AggregateType: enums.AggregateContribution,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{"version":1,"data":{}}`),
	}
	if err := repo.Insert(client.DB(), event); err != nil {
		t.Fatalf("insert: %v", err)
	}

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := repo.MarkTerminalTx(tx, event.ID, errors.New("bad payload"), 5); err != nil {
			return err
		}
		rows, err := repo.FetchUnpublishedForPublish(tx, 10, 5)
		if err != nil {
			return err
		}
		if len(rows) != 0 {
			t.Fatalf("terminal row was fetched again")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("terminal: %v", err)
	}

	rows, err := repo.ListForAggregate(ctx, event.AggregateID)
	if err != nil || len(rows) != 1 {
		t.Fatalf("list: %d %v", len(rows), err)
	}
	if rows[0].AttemptCount != 5 || rows[0].LastError == nil {
		t.Fatalf("unexpected terminal row %+v", rows[0])
	}
}
