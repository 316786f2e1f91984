// Package registry decides, for each outbox row, which topic it goes to and
// what typed payload it must decode into before it is allowed on the wire.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/giftledger-backend/pkg/config"
	"github.com/angelmondragon/giftledger-backend/pkg/db/models"
	"github.com/angelmondragon/giftledger-backend/pkg/enums"
	"github.com/angelmondragon/giftledger-backend/pkg/outbox"
	"github.com/angelmondragon/giftledger-backend/pkg/outbox/payloads"
)

type EventDescriptor struct {
	EventType enums.OutboxEventType
	Topic     string
	decode    func(json.RawMessage) (any, error)
}

type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// NonRetryableError marks a row that will never publish no matter how often
// it is retried; the relay dead-letters it at once.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func nonRetryable(format string, args ...any) error {
	return NonRetryableError{Err: fmt.Errorf(format, args...)}
}

type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

func decodeAs[T any](raw json.RawMessage) (any, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// NewEventRegistry routes ledger facts to the ledger topic and redemptions
// cleared for payout to the fulfillment topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.LedgerTopic == "" || cfg.FulfillmentTopic == "" {
		return nil, errors.New("ledger and fulfillment topics are required")
	}
	reg := &EventRegistry{entries: map[enums.OutboxEventType]EventDescriptor{}}
	reg.add(enums.EventContributionPaid, cfg.LedgerTopic, decodeAs[payloads.ContributionPaidEvent])
	reg.add(enums.EventContributionRefunded, cfg.LedgerTopic, decodeAs[payloads.ContributionRefundedEvent])
	reg.add(enums.EventRedemptionFlagged, cfg.LedgerTopic, decodeAs[payloads.RedemptionFlaggedEvent])
	reg.add(enums.EventRedemptionRejected, cfg.LedgerTopic, decodeAs[payloads.RedemptionRejectedEvent])
	reg.add(enums.EventRedemptionReady, cfg.FulfillmentTopic, decodeAs[payloads.RedemptionReadyEvent])
	return reg, nil
}

func (r *EventRegistry) add(eventType enums.OutboxEventType, topic string, decode func(json.RawMessage) (any, error)) {
	r.entries[eventType] = EventDescriptor{EventType: eventType, Topic: topic, decode: decode}
}

// Topics lists each distinct destination once.
func (r *EventRegistry) Topics() []string {
	seen := map[string]bool{}
	var topics []string
	for _, desc := range r.entries {
		if !seen[desc.Topic] {
			seen[desc.Topic] = true
			topics = append(topics, desc.Topic)
		}
	}
	return topics
}

// Resolve checks the row against its event type and decodes the payload.
// Every failure here is a NonRetryableError.
func (r *EventRegistry) Resolve(row models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[row.EventType]
	switch {
	case !ok:
		return nil, nonRetryable("unsupported event type %s", row.EventType)
	case row.AggregateType != row.EventType.Aggregate():
		return nil, nonRetryable("aggregate mismatch: %s belongs to %s, row says %s", row.EventType, row.EventType.Aggregate(), row.AggregateType)
	case row.AggregateID == uuid.Nil:
		return nil, nonRetryable("missing aggregate_id")
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(row.Payload, &envelope); err != nil {
		return nil, nonRetryable("decode envelope: %w", err)
	}
	if envelope.Version > outbox.EnvelopeVersion {
		return nil, nonRetryable("envelope version %d is newer than %d", envelope.Version, outbox.EnvelopeVersion)
	}
	if data := bytes.TrimSpace(envelope.Data); len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nonRetryable("payload missing for %s", row.EventType)
	}
	payload, err := desc.decode(envelope.Data)
	if err != nil {
		return nil, nonRetryable("decode %s payload: %w", row.EventType, err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
