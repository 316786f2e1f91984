package reconcile

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	pkgstripe "github.com/angelmondragon/giftledger-backend/pkg/stripe"
)

// Event kinds, also used as metric labels.
const (
	KindPaymentCompleted      = "payment_completed"
	KindAsyncPaymentFinalized = "async_payment_finalized"
	KindAsyncPaymentFailed    = "async_payment_failed"
	KindChargeRefunded        = "charge_refunded"
	KindUnknown               = "unknown"
)

const paymentStatusUnpaid = "unpaid"

// Event is a provider notification the ledger understands. The set of
// implementations is closed; Apply switches over all of them.
type Event interface {
	Kind() string
	ProviderEventID() string
	isEvent()
}

// Settlement identifies the contribution a checkout session paid for.
type Settlement struct {
	SessionID      string
	PaymentRef     string
	ContributionID *uuid.UUID
}

// PaymentCompleted is checkout.session.completed. PaymentStatus is "unpaid"
// when the payment method settles asynchronously.
type PaymentCompleted struct {
	EventID string
	Settlement
	PaymentStatus string
}

// AsyncPaymentFinalized is checkout.session.async_payment_succeeded.
type AsyncPaymentFinalized struct {
	EventID string
	Settlement
}

// AsyncPaymentFailed is checkout.session.async_payment_failed.
type AsyncPaymentFailed struct {
	EventID string
	Settlement
}

// ChargeRefunded is charge.refunded.
type ChargeRefunded struct {
	EventID        string
	ChargeID       string
	PaymentRef     string
	ContributionID *uuid.UUID
	AmountRefunded int64
	FullyRefunded  bool
}

// UnknownEvent is any other event type; it is acknowledged and ignored.
type UnknownEvent struct {
	EventID string
	Type    string
}

func (PaymentCompleted) Kind() string      { return KindPaymentCompleted }
func (AsyncPaymentFinalized) Kind() string { return KindAsyncPaymentFinalized }
func (AsyncPaymentFailed) Kind() string    { return KindAsyncPaymentFailed }
func (ChargeRefunded) Kind() string        { return KindChargeRefunded }
func (UnknownEvent) Kind() string          { return KindUnknown }

func (e PaymentCompleted) ProviderEventID() string      { return e.EventID }
func (e AsyncPaymentFinalized) ProviderEventID() string { return e.EventID }
func (e AsyncPaymentFailed) ProviderEventID() string    { return e.EventID }
func (e ChargeRefunded) ProviderEventID() string        { return e.EventID }
func (e UnknownEvent) ProviderEventID() string          { return e.EventID }

func (PaymentCompleted) isEvent()      {}
func (AsyncPaymentFinalized) isEvent() {}
func (AsyncPaymentFailed) isEvent()    {}
func (ChargeRefunded) isEvent()        {}
func (UnknownEvent) isEvent()          {}

// AwaitingAsyncSettlement reports whether the session completed before the
// funds arrived.
func (e PaymentCompleted) AwaitingAsyncSettlement() bool {
	return e.PaymentStatus == paymentStatusUnpaid
}

// Parse maps a verified provider event onto the closed Event set.
func Parse(event stripe.Event) (Event, error) {
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		sess, err := decodeSession(event)
		if err != nil {
			return nil, err
		}
		return PaymentCompleted{
			EventID:       event.ID,
			Settlement:    settlementFromSession(sess),
			PaymentStatus: string(sess.PaymentStatus),
		}, nil
	case stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		sess, err := decodeSession(event)
		if err != nil {
			return nil, err
		}
		return AsyncPaymentFinalized{EventID: event.ID, Settlement: settlementFromSession(sess)}, nil
	case stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
		sess, err := decodeSession(event)
		if err != nil {
			return nil, err
		}
		return AsyncPaymentFailed{EventID: event.ID, Settlement: settlementFromSession(sess)}, nil
	case stripe.EventTypeChargeRefunded:
		if event.Data == nil {
			return nil, fmt.Errorf("event %s has no data", event.ID)
		}
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return nil, fmt.Errorf("decode charge: %w", err)
		}
		refund := ChargeRefunded{
			EventID:        event.ID,
			ChargeID:       charge.ID,
			ContributionID: contributionIDFromMetadata(charge.Metadata),
			AmountRefunded: charge.AmountRefunded,
			FullyRefunded:  charge.Refunded,
		}
		if charge.PaymentIntent != nil {
			refund.PaymentRef = charge.PaymentIntent.ID
		}
		return refund, nil
	default:
		return UnknownEvent{EventID: event.ID, Type: string(event.Type)}, nil
	}
}

func decodeSession(event stripe.Event) (*stripe.CheckoutSession, error) {
	if event.Data == nil {
		return nil, fmt.Errorf("event %s has no data", event.ID)
	}
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, fmt.Errorf("decode checkout session: %w", err)
	}
	return &sess, nil
}

func settlementFromSession(sess *stripe.CheckoutSession) Settlement {
	st := Settlement{
		SessionID:      sess.ID,
		ContributionID: contributionIDFromMetadata(sess.Metadata),
	}
	if st.ContributionID == nil {
		st.ContributionID = parseUUID(sess.ClientReferenceID)
	}
	if sess.PaymentIntent != nil {
		st.PaymentRef = sess.PaymentIntent.ID
	}
	return st
}

func contributionIDFromMetadata(metadata map[string]string) *uuid.UUID {
	if metadata == nil {
		return nil
	}
	return parseUUID(metadata[pkgstripe.MetadataContributionID])
}

func parseUUID(raw string) *uuid.UUID {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return nil
	}
	return &id
}
