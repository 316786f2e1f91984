package redemptions

import (
	"context"
	"encoding/json"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/giftledger-backend/internal/registries"
	"github.com/angelmondragon/giftledger-backend/pkg/db/models"
	"github.com/angelmondragon/giftledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/giftledger-backend/pkg/errors"
	"github.com/angelmondragon/giftledger-backend/pkg/logger"
	"github.com/angelmondragon/giftledger-backend/pkg/money"
	"github.com/angelmondragon/giftledger-backend/pkg/outbox"
	"github.com/angelmondragon/giftledger-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/giftledger-backend/pkg/pagination"
)

const (
	actorRoleOwner = "owner"
	actorRoleAdmin = "admin"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type balanceReader interface {
	CurrentBalanceTx(ctx context.Context, tx *gorm.DB, registryID uuid.UUID) (money.Amount, error)
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type redemptionMetrics interface {
	IncRedemption(status string)
}

// RequestInput is the owner's request to redeem part of the balance.
type RequestInput struct {
	RegistryID       uuid.UUID
	UserID           uuid.UUID
	Amount           money.Amount
	Kind             enums.RedemptionKind
	DestinationEmail string
}

// ResolveInput is a reviewer's verdict on a flagged transaction.
type ResolveInput struct {
	FlagID     uuid.UUID
	Decision   enums.FlagDecision
	ReviewerID uuid.UUID
	Note       string
}

// Resolution is the flag and redemption after review.
type Resolution struct {
	Flag       *models.FlaggedTransaction `json:"flagged_transaction"`
	Redemption *models.Redemption         `json:"redemption"`
}

// Config holds the gate's money thresholds.
type Config struct {
	MinRedemption money.Amount
	FlagThreshold money.Amount
}

type GateParams struct {
	TransactionRunner txRunner
	Repository        Repository
	Registries        registries.Repository
	RegistryService   registries.Service
	Balance           balanceReader
	Outbox            outboxEmitter
	Metrics           redemptionMetrics
	Config            Config
	Logger            *logger.Logger
	Now               func() time.Time
}

// Gate admits redemptions against the registry balance and routes large ones
// to manual review.
type Gate struct {
	tx          txRunner
	repo        Repository
	registries  registries.Repository
	registrySvc registries.Service
	balance     balanceReader
	outbox      outboxEmitter
	metrics     redemptionMetrics
	cfg         Config
	logg        *logger.Logger
	now         func() time.Time
}

func NewGate(params GateParams) (*Gate, error) {
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("redemption repository required")
	}
	if params.Registries == nil || params.RegistryService == nil {
		return nil, fmt.Errorf("registry repository and service required")
	}
	if params.Balance == nil {
		return nil, fmt.Errorf("balance reader required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Config.MinRedemption <= 0 {
		return nil, fmt.Errorf("minimum redemption must be positive")
	}
	if params.Config.FlagThreshold < params.Config.MinRedemption {
		return nil, fmt.Errorf("flag threshold must be at least the minimum redemption")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Gate{
		tx:          params.TransactionRunner,
		repo:        params.Repository,
		registries:  params.Registries,
		registrySvc: params.RegistryService,
		balance:     params.Balance,
		outbox:      params.Outbox,
		metrics:     params.Metrics,
		cfg:         params.Config,
		logg:        params.Logger,
		now:         now,
	}, nil
}

// RequiresReview reports whether an amount is routed to manual review.
func (g *Gate) RequiresReview(amount money.Amount) bool {
	return amount >= g.cfg.FlagThreshold
}

// RequestRedemption checks the amount against the live balance under the
// registry lock and records the redemption as pending or flagged.
func (g *Gate) RequestRedemption(ctx context.Context, input RequestInput) (*models.Redemption, error) {
	email, err := g.validate(input)
	if err != nil {
		return nil, err
	}
	if _, err := g.registrySvc.RequireOwner(ctx, input.RegistryID, input.UserID); err != nil {
		return nil, err
	}

	var created *models.Redemption
	err = g.tx.WithTx(ctx, func(tx *gorm.DB) error {
		registry, err := g.registries.WithTx(tx).LockByID(ctx, input.RegistryID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock registry")
		}
		if registry == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "registry not found")
		}

		available, err := g.balance.CurrentBalanceTx(ctx, tx, registry.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "compute balance")
		}
		if input.Amount > available {
			return insufficientBalance(available)
		}

		redemption := &models.Redemption{
			RegistryID:        registry.ID,
			AmountCents:       input.Amount,
			Kind:              input.Kind,
			DestinationEmail:  email,
			RequestedByUserID: input.UserID,
			Status:            enums.RedemptionStatusPending,
		}
		flagged := g.RequiresReview(input.Amount)
		if flagged {
			reason := enums.FlagReasonHighAmount
			redemption.Status = enums.RedemptionStatusFlagged
			redemption.FlagReason = &reason
		}

		repo := g.repo.WithTx(tx)
		if err := repo.Create(ctx, redemption); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create redemption")
		}
		actor := &outbox.ActorRef{UserID: input.UserID, Role: actorRoleOwner}

		if !flagged {
			if err := g.emitReady(ctx, tx, redemption, actor, false); err != nil {
				return err
			}
			created = redemption
			return nil
		}

		flag, err := g.flag(ctx, repo, redemption)
		if err != nil {
			return err
		}
		if err := g.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventRedemptionFlagged,
			AggregateType: enums.AggregateFlaggedTransaction,
			AggregateID:   flag.ID,
			Actor:         actor,
			Data: payloads.RedemptionFlaggedEvent{
				RedemptionID:         redemption.ID,
				FlaggedTransactionID: flag.ID,
				RegistryID:           redemption.RegistryID,
				AmountCents:          redemption.AmountCents.Int64(),
				Reason:               flag.Reason,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit redemption_flagged")
		}
		created = redemption
		return nil
	})
	if err != nil {
		return nil, err
	}

	if g.metrics != nil {
		g.metrics.IncRedemption(created.Status.String())
	}
	if g.logg != nil {
		logCtx := g.logg.WithRegistryID(ctx, created.RegistryID.String())
		logCtx = g.logg.WithFields(logCtx, map[string]any{
			"redemption_id": created.ID.String(),
			"amount_cents":  created.AmountCents.Int64(),
			"status":        created.Status.String(),
		})
		g.logg.Info(logCtx, "redemption requested")
	}
	return created, nil
}

func (g *Gate) flag(ctx context.Context, repo Repository, redemption *models.Redemption) (*models.FlaggedTransaction, error) {
	details, err := json.Marshal(map[string]int64{
		"amount_cents":    redemption.AmountCents.Int64(),
		"threshold_cents": g.cfg.FlagThreshold.Int64(),
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode flag details")
	}
	flag := &models.FlaggedTransaction{
		RedemptionID: redemption.ID,
		RegistryID:   redemption.RegistryID,
		Reason:       enums.FlagReasonHighAmount,
		Details:      details,
		Status:       enums.FlagStatusPending,
	}
	if err := repo.CreateFlag(ctx, flag); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create flagged transaction")
	}
	return flag, nil
}

// ResolveFlag applies a reviewer's decision to a pending flag and its
// redemption together. Rejected redemptions stop counting against the
// balance; approved ones are handed to fulfillment.
func (g *Gate) ResolveFlag(ctx context.Context, input ResolveInput) (*Resolution, error) {
	if input.FlagID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "flagged transaction id is required")
	}
	if !input.Decision.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "decision must be approve or reject")
	}
	if input.ReviewerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reviewer is required")
	}

	var out *Resolution
	err := g.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := g.repo.WithTx(tx)
		flag, err := repo.LockFlag(ctx, input.FlagID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock flagged transaction")
		}
		if flag == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "flagged transaction not found")
		}
		if flag.Status != enums.FlagStatusPending {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "flagged transaction already resolved")
		}
		redemption, err := repo.LockByID(ctx, flag.RedemptionID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock redemption")
		}
		if redemption == nil || redemption.Status != enums.RedemptionStatusFlagged {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "redemption is not awaiting review")
		}

		now := g.now()
		reviewer := input.ReviewerID
		flag.Status = input.Decision.FlagStatus()
		flag.ReviewedByUserID = &reviewer
		flag.ReviewedAt = &now
		if note := strings.TrimSpace(input.Note); note != "" {
			flag.ReviewNote = &note
		}
		if err := repo.UpdateFlagReview(ctx, flag); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update flagged transaction")
		}
		redemption.Status = input.Decision.RedemptionStatus()
		if err := repo.UpdateStatus(ctx, redemption); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update redemption")
		}

		actor := &outbox.ActorRef{UserID: reviewer, Role: actorRoleAdmin}
		if input.Decision == enums.FlagDecisionApprove {
			if err := g.emitReady(ctx, tx, redemption, actor, true); err != nil {
				return err
			}
		} else {
			if err := g.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventRedemptionRejected,
				AggregateType: enums.AggregateRedemption,
				AggregateID:   redemption.ID,
				Actor:         actor,
				Data: payloads.RedemptionRejectedEvent{
					RedemptionID:         redemption.ID,
					FlaggedTransactionID: flag.ID,
					RegistryID:           redemption.RegistryID,
					AmountCents:          redemption.AmountCents.Int64(),
					Note:                 input.Note,
				},
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit redemption_rejected")
			}
		}
		out = &Resolution{Flag: flag, Redemption: redemption}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if g.metrics != nil {
		g.metrics.IncRedemption(out.Redemption.Status.String())
	}
	if g.logg != nil {
		logCtx := g.logg.WithFields(ctx, map[string]any{
			"flagged_transaction_id": out.Flag.ID.String(),
			"redemption_id":          out.Redemption.ID.String(),
			"decision":               string(input.Decision),
		})
		g.logg.Info(logCtx, "flagged transaction resolved")
	}
	return out, nil
}

// ListRedemptions returns the owner's redemptions, newest first.
func (g *Gate) ListRedemptions(ctx context.Context, registryID, userID uuid.UUID, params pagination.Params) (pagination.Page[models.Redemption], error) {
	var empty pagination.Page[models.Redemption]
	if _, err := g.registrySvc.RequireOwner(ctx, registryID, userID); err != nil {
		return empty, err
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return empty, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := g.repo.ListByRegistry(ctx, registryID, cursor, params.Limit)
	if err != nil {
		return empty, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list redemptions")
	}
	return pagination.Trim(rows, params.Limit, func(r models.Redemption) pagination.Cursor {
		return pagination.Cursor{CreatedAt: r.CreatedAt, ID: r.ID}
	}), nil
}

// ListFlags returns flagged transactions in the given review status.
func (g *Gate) ListFlags(ctx context.Context, status enums.FlagStatus, params pagination.Params) (pagination.Page[models.FlaggedTransaction], error) {
	var empty pagination.Page[models.FlaggedTransaction]
	if !status.IsValid() {
		return empty, pkgerrors.New(pkgerrors.CodeValidation, "invalid flag status")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return empty, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := g.repo.ListFlags(ctx, status, cursor, params.Limit)
	if err != nil {
		return empty, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list flagged transactions")
	}
	return pagination.Trim(rows, params.Limit, func(f models.FlaggedTransaction) pagination.Cursor {
		return pagination.Cursor{CreatedAt: f.CreatedAt, ID: f.ID}
	}), nil
}

func (g *Gate) emitReady(ctx context.Context, tx *gorm.DB, redemption *models.Redemption, actor *outbox.ActorRef, reviewed bool) error {
	email := ""
	if redemption.DestinationEmail != nil {
		email = *redemption.DestinationEmail
	}
	if err := g.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventRedemptionReady,
		AggregateType: enums.AggregateRedemption,
		AggregateID:   redemption.ID,
		Actor:         actor,
		Data: payloads.RedemptionReadyEvent{
			RedemptionID:     redemption.ID,
			RegistryID:       redemption.RegistryID,
			AmountCents:      redemption.AmountCents.Int64(),
			Kind:             redemption.Kind,
			DestinationEmail: email,
			ReviewedManually: reviewed,
		},
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit redemption_ready")
	}
	return nil
}

func (g *Gate) validate(input RequestInput) (*string, error) {
	if input.RegistryID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "registry id is required")
	}
	if input.Amount < g.cfg.MinRedemption {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("minimum redemption is %s", g.cfg.MinRedemption)).
			WithDetails(map[string]any{"min_amount_cents": g.cfg.MinRedemption.Int64()})
	}
	if !input.Kind.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported redemption kind")
	}
	email := strings.TrimSpace(input.DestinationEmail)
	if email == "" {
		if input.Kind.RequiresEmail() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "destination email is required for gift cards")
		}
		return nil, nil
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "destination email is invalid")
	}
	return &email, nil
}

func insufficientBalance(available money.Amount) error {
	shown := money.FloorZero(available)
	return pkgerrors.New(pkgerrors.CodePolicy, fmt.Sprintf("insufficient balance, available %s", shown)).
		WithDetails(map[string]any{
			"available_cents": shown.Int64(),
			"available":       shown.String(),
		})
}
