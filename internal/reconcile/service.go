package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84/webhook"
	"gorm.io/gorm"

	"github.com/angelmondragon/giftledger-backend/internal/balance"
	"github.com/angelmondragon/giftledger-backend/internal/contributions"
	"github.com/angelmondragon/giftledger-backend/pkg/db/models"
	"github.com/angelmondragon/giftledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/giftledger-backend/pkg/errors"
	"github.com/angelmondragon/giftledger-backend/pkg/logger"
	"github.com/angelmondragon/giftledger-backend/pkg/metrics"
	"github.com/angelmondragon/giftledger-backend/pkg/money"
	"github.com/angelmondragon/giftledger-backend/pkg/outbox"
	"github.com/angelmondragon/giftledger-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type itemProjector interface {
	ApplyPaid(ctx context.Context, tx *gorm.DB, itemID uuid.UUID, amount money.Amount) (*models.RegistryItem, error)
	ApplyRefund(ctx context.Context, tx *gorm.DB, itemID uuid.UUID, amount money.Amount) (*models.RegistryItem, error)
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type eventGuard interface {
	Processed(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID string) error
}

type webhookMetrics interface {
	IncWebhookEvent(kind, outcome string)
}

// Ack is returned for every delivery the provider should stop retrying.
type Ack struct {
	EventID string `json:"event_id"`
	Kind    string `json:"kind"`
	Outcome string `json:"outcome"`
}

type ServiceParams struct {
	TransactionRunner txRunner
	Contributions     contributions.Repository
	Projector         itemProjector
	Outbox            outboxEmitter
	Guard             eventGuard
	SigningSecret     string
	Metrics           webhookMetrics
	Logger            *logger.Logger
	Now               func() time.Time
}

// Service turns signed provider deliveries into ledger transitions.
type Service struct {
	tx            txRunner
	contributions contributions.Repository
	projector     itemProjector
	outbox        outboxEmitter
	guard         eventGuard
	secret        string
	metrics       webhookMetrics
	logg          *logger.Logger
	now           func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Contributions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "contribution repository required")
	}
	if params.Projector == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "balance projector required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox emitter required")
	}
	if strings.TrimSpace(params.SigningSecret) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook signing secret required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		tx:            params.TransactionRunner,
		contributions: params.Contributions,
		projector:     params.Projector,
		outbox:        params.Outbox,
		guard:         params.Guard,
		secret:        params.SigningSecret,
		metrics:       params.Metrics,
		logg:          params.Logger,
		now:           now,
	}, nil
}

// Reconcile verifies, parses and applies one delivery. A nil error means the
// delivery is acknowledged, including duplicates, unknown kinds and events
// for contributions this ledger does not know.
func (s *Service) Reconcile(ctx context.Context, payload []byte, signatureHeader string) (Ack, error) {
	if strings.TrimSpace(signatureHeader) == "" {
		s.rejectSignature(ctx, errors.New("signature header missing"))
		return Ack{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid webhook signature")
	}
	raw, err := webhook.ConstructEventWithOptions(payload, signatureHeader, s.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		s.rejectSignature(ctx, err)
		return Ack{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid webhook signature")
	}

	event, err := Parse(raw)
	if err != nil {
		s.observe(KindUnknown, metrics.OutcomeRejected)
		return Ack{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed webhook payload")
	}
	ack := Ack{EventID: event.ProviderEventID(), Kind: event.Kind()}
	logCtx := s.withEvent(ctx, event)

	if s.guard != nil {
		seen, err := s.guard.Processed(ctx, ack.EventID)
		switch {
		case err != nil:
			// Status checks keep redelivery safe without the guard.
			s.warn(logCtx, "webhook guard unavailable", err)
		case seen:
			ack.Outcome = metrics.OutcomeDuplicate
			s.observe(ack.Kind, ack.Outcome)
			s.info(logCtx, "duplicate webhook delivery skipped")
			return ack, nil
		}
	}

	outcome, err := s.Apply(logCtx, event)
	if err != nil {
		s.observe(ack.Kind, metrics.OutcomeFailed)
		if s.logg != nil {
			s.logg.Error(logCtx, "webhook processing failed", err)
		}
		var typed *pkgerrors.Error
		if errors.As(err, &typed) {
			return Ack{}, err
		}
		return Ack{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply webhook event")
	}

	if s.guard != nil {
		if err := s.guard.MarkProcessed(context.WithoutCancel(ctx), ack.EventID); err != nil {
			s.warn(logCtx, "record processed webhook", err)
		}
	}

	ack.Outcome = outcome
	s.observe(ack.Kind, outcome)
	s.info(s.logField(logCtx, "outcome", outcome), "webhook processed")
	return ack, nil
}

// Apply dispatches a parsed event to its ledger transition and returns the
// outcome label.
func (s *Service) Apply(ctx context.Context, event Event) (string, error) {
	switch e := event.(type) {
	case PaymentCompleted:
		if e.AwaitingAsyncSettlement() {
			return metrics.OutcomeNoop, nil
		}
		return s.settle(ctx, e.Settlement)
	case AsyncPaymentFinalized:
		return s.settle(ctx, e.Settlement)
	case AsyncPaymentFailed:
		return s.recordFailure(ctx, e)
	case ChargeRefunded:
		return s.refund(ctx, e)
	case UnknownEvent:
		return metrics.OutcomeIgnored, nil
	default:
		return "", fmt.Errorf("unhandled event %T", event)
	}
}

func (s *Service) settle(ctx context.Context, st Settlement) (string, error) {
	outcome := metrics.OutcomeNoop
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.contributions.WithTx(tx)
		contribution, err := lockForSettlement(ctx, repo, st)
		if err != nil {
			return err
		}
		if contribution == nil {
			outcome = metrics.OutcomeNotFound
			s.warn(ctx, "payment for unknown contribution", nil)
			return nil
		}
		if contribution.Status != enums.ContributionStatusPending {
			return nil
		}

		now := s.now()
		contribution.Status = enums.ContributionStatusPaid
		contribution.PaidAt = &now
		if st.PaymentRef != "" {
			ref := st.PaymentRef
			contribution.PaymentRef = &ref
		}
		if contribution.ExternalRef == nil && st.SessionID != "" {
			ref := st.SessionID
			contribution.ExternalRef = &ref
		}
		if err := repo.UpdateSettlement(ctx, contribution); err != nil {
			return fmt.Errorf("mark contribution paid: %w", err)
		}

		fulfilled, err := s.project(ctx, tx, contribution, s.projector.ApplyPaid)
		if err != nil {
			return err
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventContributionPaid,
			AggregateType: enums.AggregateContribution,
			AggregateID:   contribution.ID,
			OccurredAt:    now,
			Data: payloads.ContributionPaidEvent{
				ContributionID:   contribution.ID,
				RegistryID:       contribution.RegistryID,
				ItemID:           contribution.ItemID,
				AmountCents:      contribution.AmountCents.Int64(),
				ContributorName:  contribution.ContributorName,
				IsPublic:         contribution.IsPublic,
				ItemFulfilled:    fulfilled,
				PaymentReference: st.PaymentRef,
				PaidAt:           now,
			},
		}); err != nil {
			return fmt.Errorf("emit contribution_paid: %w", err)
		}
		outcome = metrics.OutcomeApplied
		return nil
	})
	return outcome, err
}

func (s *Service) refund(ctx context.Context, e ChargeRefunded) (string, error) {
	if !e.FullyRefunded {
		s.info(s.logField(ctx, "amount_refunded", e.AmountRefunded), "partial refund treated as full refund")
	}
	outcome := metrics.OutcomeNoop
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.contributions.WithTx(tx)
		contribution, err := lockForRefund(ctx, repo, e)
		if err != nil {
			return err
		}
		if contribution == nil {
			outcome = metrics.OutcomeNotFound
			s.warn(ctx, "refund for unknown contribution", nil)
			return nil
		}
		previous := contribution.Status
		if !previous.CanTransitionTo(enums.ContributionStatusRefunded) {
			return nil
		}

		now := s.now()
		contribution.Status = enums.ContributionStatusRefunded
		contribution.RefundedAt = &now
		if contribution.PaymentRef == nil && e.PaymentRef != "" {
			ref := e.PaymentRef
			contribution.PaymentRef = &ref
		}
		if err := repo.UpdateSettlement(ctx, contribution); err != nil {
			return fmt.Errorf("mark contribution refunded: %w", err)
		}

		// A pending contribution never reached the item, so only paid rows
		// give progress back.
		if previous == enums.ContributionStatusPaid {
			if _, err := s.project(ctx, tx, contribution, s.projector.ApplyRefund); err != nil {
				return err
			}
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventContributionRefunded,
			AggregateType: enums.AggregateContribution,
			AggregateID:   contribution.ID,
			OccurredAt:    now,
			Data: payloads.ContributionRefundedEvent{
				ContributionID: contribution.ID,
				RegistryID:     contribution.RegistryID,
				ItemID:         contribution.ItemID,
				AmountCents:    contribution.AmountCents.Int64(),
				PreviousStatus: previous,
				RefundedAt:     now,
			},
		}); err != nil {
			return fmt.Errorf("emit contribution_refunded: %w", err)
		}
		outcome = metrics.OutcomeApplied
		return nil
	})
	return outcome, err
}

// recordFailure leaves the contribution pending; the stale pending report
// picks up rows that never settle.
func (s *Service) recordFailure(ctx context.Context, e AsyncPaymentFailed) (string, error) {
	outcome := metrics.OutcomeNoop
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		contribution, err := lockForSettlement(ctx, s.contributions.WithTx(tx), e.Settlement)
		if err != nil {
			return err
		}
		if contribution == nil {
			outcome = metrics.OutcomeNotFound
			return nil
		}
		if s.logg != nil && contribution.Status == enums.ContributionStatusPending {
			s.logg.Warn(s.logg.WithContributionID(ctx, contribution.ID.String()), "async payment failed; contribution stays pending")
		}
		return nil
	})
	return outcome, err
}

type projectFunc func(ctx context.Context, tx *gorm.DB, itemID uuid.UUID, amount money.Amount) (*models.RegistryItem, error)

// project moves item progress for item contributions. General fund
// contributions and items removed from the catalog only affect the balance.
func (s *Service) project(ctx context.Context, tx *gorm.DB, contribution *models.Contribution, apply projectFunc) (bool, error) {
	if contribution.IsGeneralFund() {
		return false, nil
	}
	item, err := apply(ctx, tx, *contribution.ItemID, contribution.AmountCents)
	if err != nil {
		if errors.Is(err, balance.ErrItemNotFound) {
			s.warn(ctx, "contribution item missing; progress not projected", nil)
			return false, nil
		}
		return false, fmt.Errorf("project item progress: %w", err)
	}
	return item.Fulfilled, nil
}

// lockForSettlement finds the contribution by session id, falling back to the
// metadata id when the session was never attached.
func lockForSettlement(ctx context.Context, repo contributions.Repository, st Settlement) (*models.Contribution, error) {
	if st.SessionID != "" {
		contribution, err := repo.LockByExternalRef(ctx, st.SessionID)
		if err != nil || contribution != nil {
			return contribution, wrapLookup(err)
		}
	}
	if st.ContributionID == nil {
		return nil, nil
	}
	contribution, err := repo.LockByID(ctx, *st.ContributionID)
	if err != nil || contribution == nil {
		return nil, wrapLookup(err)
	}
	if contribution.ExternalRef != nil && *contribution.ExternalRef != st.SessionID {
		return nil, nil
	}
	return contribution, nil
}

func lockForRefund(ctx context.Context, repo contributions.Repository, e ChargeRefunded) (*models.Contribution, error) {
	if e.PaymentRef != "" {
		contribution, err := repo.LockByPaymentRef(ctx, e.PaymentRef)
		if err != nil || contribution != nil {
			return contribution, wrapLookup(err)
		}
	}
	if e.ContributionID == nil {
		return nil, nil
	}
	contribution, err := repo.LockByID(ctx, *e.ContributionID)
	if err != nil || contribution == nil {
		return nil, wrapLookup(err)
	}
	if contribution.PaymentRef != nil && *contribution.PaymentRef != e.PaymentRef {
		return nil, nil
	}
	return contribution, nil
}

func wrapLookup(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("lock contribution: %w", err)
}

func (s *Service) rejectSignature(ctx context.Context, err error) {
	s.observe(KindUnknown, metrics.OutcomeRejected)
	if s.logg == nil {
		return
	}
	s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
		"security_event": "webhook_signature_invalid",
		"error":          err.Error(),
	}), "webhook rejected")
}

func (s *Service) observe(kind, outcome string) {
	if s.metrics != nil {
		s.metrics.IncWebhookEvent(kind, outcome)
	}
}

func (s *Service) withEvent(ctx context.Context, event Event) context.Context {
	if s.logg == nil {
		return ctx
	}
	return s.logg.WithFields(ctx, map[string]any{
		"provider_event_id": event.ProviderEventID(),
		"event_kind":        event.Kind(),
	})
}

func (s *Service) logField(ctx context.Context, key string, value any) context.Context {
	if s.logg == nil {
		return ctx
	}
	return s.logg.WithField(ctx, key, value)
}

func (s *Service) info(ctx context.Context, msg string) {
	if s.logg != nil {
		s.logg.Info(ctx, msg)
	}
}

func (s *Service) warn(ctx context.Context, msg string, err error) {
	if s.logg == nil {
		return
	}
	if err != nil {
		ctx = s.logg.WithField(ctx, "error", err.Error())
	}
	s.logg.Warn(ctx, msg)
}
