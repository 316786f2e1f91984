package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"gorm.io/gorm"

	"github.com/angelmondragon/giftledger-backend/pkg/db/models"
	"github.com/angelmondragon/giftledger-backend/pkg/enums"
	"github.com/angelmondragon/giftledger-backend/pkg/outbox/registry"
)

// Outcomes recorded per row.
const (
	OutcomePublished    = "published"
	OutcomeRetry        = "retry"
	OutcomeDeadLettered = "dead_lettered"
)

type inflight struct {
	row      models.OutboxEvent
	resolved *registry.ResolvedEvent
	result   Result
	err      error
}

// Drain publishes one batch inside a transaction that holds the row locks.
// Every message is handed to its publisher before any result is awaited so
// Pub/Sub can batch them. It returns the number of rows fetched.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	fetched := 0
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := r.rows.FetchUnpublishedForPublish(tx, r.batchSize, r.maxAttempts)
		if err != nil {
			return fmt.Errorf("fetch outbox rows: %w", err)
		}
		fetched = len(rows)

		publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
		defer cancel()

		batch := make([]*inflight, 0, len(rows))
		for _, row := range rows {
			batch = append(batch, r.send(publishCtx, row))
		}
		for _, f := range batch {
			if f.result != nil {
				if _, err := f.result.Get(publishCtx); err != nil {
					f.err = err
					r.publisherFor(f.resolved.Descriptor.Topic).Resume(f.row.AggregateID.String())
				}
			}
			if err := r.settle(ctx, tx, f); err != nil {
				return err
			}
		}
		return nil
	})
	return fetched, err
}

func (r *Relay) send(ctx context.Context, row models.OutboxEvent) *inflight {
	f := &inflight{row: row}
	f.resolved, f.err = r.resolver.Resolve(row)
	if f.err != nil {
		return f
	}
	pub := r.publisherFor(f.resolved.Descriptor.Topic)
	if pub == nil {
		f.err = registry.NewNonRetryableError(fmt.Errorf("no publisher for topic %q", f.resolved.Descriptor.Topic))
		return f
	}
	f.result = pub.Publish(ctx, &gcppubsub.Message{
		Data:        row.Payload,
		OrderingKey: row.AggregateID.String(),
		Attributes: map[string]string{
			"event_id":       f.resolved.Envelope.EventID,
			"event_type":     string(row.EventType),
			"aggregate_type": string(row.AggregateType),
			"aggregate_id":   row.AggregateID.String(),
			"occurred_at":    f.resolved.Envelope.OccurredAt.UTC().Format(time.RFC3339Nano),
		},
	})
	return f
}

// settle records what happened to one row: published, retried later, or
// moved to the dead-letter table.
func (r *Relay) settle(ctx context.Context, tx *gorm.DB, f *inflight) error {
	fields := map[string]any{
		"outbox_id":      f.row.ID.String(),
		"event_type":     f.row.EventType,
		"aggregate_type": f.row.AggregateType,
		"aggregate_id":   f.row.AggregateID.String(),
		"attempt_count":  f.row.AttemptCount,
	}
	if f.resolved != nil {
		fields["topic"] = f.resolved.Descriptor.Topic
		fields["event_id"] = f.resolved.Envelope.EventID
	}
	lctx := r.logg.WithFields(ctx, fields)

	if f.err == nil {
		if err := r.rows.MarkPublishedTx(tx, f.row.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", f.row.ID, err)
		}
		r.record(f.row, OutcomePublished)
		r.logg.Debug(lctx, "outbox event published")
		return nil
	}

	var nonRetryable registry.NonRetryableError
	switch {
	case errors.As(f.err, &nonRetryable):
		return r.deadLetter(lctx, tx, f.row, enums.OutboxDLQReasonNonRetryable, f.err)
	case f.row.AttemptCount+1 >= r.maxAttempts:
		return r.deadLetter(lctx, tx, f.row, enums.OutboxDLQReasonMaxAttempts, fmt.Errorf("max publish attempts reached: %w", f.err))
	}

	r.logg.Warn(r.logg.WithField(lctx, "error", f.err.Error()), "outbox publish failed, will retry")
	if err := r.rows.MarkFailedTx(tx, f.row.ID, f.err); err != nil {
		return fmt.Errorf("mark failed %s: %w", f.row.ID, err)
	}
	r.record(f.row, OutcomeRetry)
	return nil
}

func (r *Relay) deadLetter(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) error {
	msg := cause.Error()
	r.logg.Warn(r.logg.WithFields(ctx, map[string]any{"error": msg, "error_reason": reason}), "outbox event dead-lettered")
	if err := r.dlq.InsertTx(tx, models.OutboxDLQ{
		EventID:       row.ID,
		EventType:     row.EventType,
		AggregateType: row.AggregateType,
		AggregateID:   row.AggregateID,
		Payload:       row.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  row.AttemptCount,
		FailedAt:      r.now(),
	}); err != nil {
		return fmt.Errorf("insert dlq %s: %w", row.ID, err)
	}
	if err := r.rows.MarkTerminalTx(tx, row.ID, cause, r.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", row.ID, err)
	}
	r.record(row, OutcomeDeadLettered)
	return nil
}

func (r *Relay) record(row models.OutboxEvent, outcome string) {
	if r.metrics != nil {
		r.metrics.IncOutbox(string(row.EventType), outcome)
	}
}

// publisherFor caches one handle per topic; Pub/Sub batches per publisher.
func (r *Relay) publisherFor(topic string) Publisher {
	if pub, ok := r.publishers[topic]; ok {
		return pub
	}
	pub := r.broker.Topic(topic)
	if pub != nil {
		r.publishers[topic] = pub
	}
	return pub
}
