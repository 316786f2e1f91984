package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateContribution       OutboxAggregateType = "contribution"
	AggregateRedemption         OutboxAggregateType = "redemption"
	AggregateFlaggedTransaction OutboxAggregateType = "flagged_transaction"
)

func (a OutboxAggregateType) IsValid() bool {
	switch a {
	case AggregateContribution, AggregateRedemption, AggregateFlaggedTransaction:
		return true
	}
	return false
}

func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	if a := OutboxAggregateType(value); a.IsValid() {
		return a, nil
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventContributionPaid     OutboxEventType = "contribution_paid"
	EventContributionRefunded OutboxEventType = "contribution_refunded"
	EventRedemptionReady      OutboxEventType = "redemption_ready"
	EventRedemptionFlagged    OutboxEventType = "redemption_flagged"
	EventRedemptionRejected   OutboxEventType = "redemption_rejected"
)

// eventAggregates pins each event type to the aggregate whose id keys it.
var eventAggregates = map[OutboxEventType]OutboxAggregateType{
	EventContributionPaid:     AggregateContribution,
	EventContributionRefunded: AggregateContribution,
	EventRedemptionReady:      AggregateRedemption,
	EventRedemptionRejected:   AggregateRedemption,
	EventRedemptionFlagged:    AggregateFlaggedTransaction,
}

func (e OutboxEventType) IsValid() bool {
	_, ok := eventAggregates[e]
	return ok
}

// Aggregate returns the aggregate type the event belongs to, or "" when the
// event type is unknown.
func (e OutboxEventType) Aggregate() OutboxAggregateType {
	return eventAggregates[e]
}

func ParseOutboxEventType(value string) (OutboxEventType, error) {
	if e := OutboxEventType(value); e.IsValid() {
		return e, nil
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

// OutboxDLQErrorReason records why the relay gave up on a row.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

func (r OutboxDLQErrorReason) IsValid() bool {
	return r == OutboxDLQReasonMaxAttempts || r == OutboxDLQReasonNonRetryable
}
