package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/giftledger-backend/internal/contributions"
	"github.com/angelmondragon/giftledger-backend/internal/registries"
	"github.com/angelmondragon/giftledger-backend/pkg/db/models"
	"github.com/angelmondragon/giftledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/giftledger-backend/pkg/errors"
	"github.com/angelmondragon/giftledger-backend/pkg/logger"
	"github.com/angelmondragon/giftledger-backend/pkg/money"
	"github.com/angelmondragon/giftledger-backend/pkg/stripe"
)

const (
	maxNameLength    = 120
	maxMessageLength = 500

	defaultProviderTimeout = 10 * time.Second
)

// Issuer opens hosted payment sessions for guest contributions.
type Issuer interface {
	IssueCheckoutSession(ctx context.Context, input IssueInput) (*IssueResult, error)
}

// IssueInput is a guest's intent to contribute.
type IssueInput struct {
	RegistryID       uuid.UUID
	ItemID           *uuid.UUID
	ContributorName  string
	ContributorEmail string
	Amount           money.Amount
	Message          string
	IsPublic         bool
}

// IssueResult carries the pending contribution and where to send the guest.
type IssueResult struct {
	ContributionID uuid.UUID    `json:"contribution_id"`
	SessionID      string       `json:"session_id"`
	CheckoutURL    string       `json:"checkout_url"`
	Amount         money.Amount `json:"amount_cents"`
}

// Config holds the issuer's limits.
type Config struct {
	MinContribution money.Amount
	ProviderTimeout time.Duration
}

type issuer struct {
	registries    registries.Service
	contributions contributions.Repository
	sessions      stripe.CheckoutSessionCreator
	cfg           Config
	logg          *logger.Logger
}

// NewIssuer builds the checkout session issuer.
func NewIssuer(
	registrySvc registries.Service,
	contributionRepo contributions.Repository,
	sessions stripe.CheckoutSessionCreator,
	cfg Config,
	logg *logger.Logger,
) (Issuer, error) {
	if registrySvc == nil {
		return nil, fmt.Errorf("registry service required")
	}
	if contributionRepo == nil {
		return nil, fmt.Errorf("contribution repository required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("checkout session creator required")
	}
	if cfg.MinContribution <= 0 {
		return nil, fmt.Errorf("minimum contribution must be positive")
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = defaultProviderTimeout
	}
	return &issuer{
		registries:    registrySvc,
		contributions: contributionRepo,
		sessions:      sessions,
		cfg:           cfg,
		logg:          logg,
	}, nil
}

func (s *issuer) IssueCheckoutSession(ctx context.Context, input IssueInput) (*IssueResult, error) {
	if err := s.validate(input); err != nil {
		return nil, err
	}

	registry, err := s.registries.Get(ctx, input.RegistryID)
	if err != nil {
		return nil, err
	}
	description := registry.Title
	if input.ItemID != nil {
		item, err := s.registries.GetItem(ctx, registry.ID, *input.ItemID)
		if err != nil {
			return nil, err
		}
		description = item.Name
	}

	contribution := &models.Contribution{
		RegistryID:       registry.ID,
		ItemID:           input.ItemID,
		ContributorName:  strings.TrimSpace(input.ContributorName),
		ContributorEmail: optionalString(input.ContributorEmail),
		AmountCents:      input.Amount,
		Message:          optionalString(input.Message),
		IsPublic:         input.IsPublic,
		Status:           enums.ContributionStatusPending,
	}
	if err := s.contributions.Create(ctx, contribution); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create pending contribution")
	}

	logCtx := s.logCtx(ctx, contribution)

	// The provider call runs outside any transaction; a failure leaves the
	// pending row behind with no external reference.
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancel()
	session, err := s.sessions.CreateCheckoutSession(callCtx, stripe.CheckoutSessionRequest{
		ContributionID: contribution.ID,
		RegistryID:     registry.ID,
		ItemID:         input.ItemID,
		AmountCents:    input.Amount.Int64(),
		Description:    description,
		CustomerEmail:  input.ContributorEmail,
	})
	if err != nil {
		s.warn(logCtx, "checkout session creation failed", err)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment provider timed out")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment provider unavailable")
	}

	if err := s.contributions.AttachExternalRef(ctx, contribution.ID, session.ID); err != nil {
		if errors.Is(err, contributions.ErrExternalRefTaken) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "checkout session already bound to a contribution")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "attach checkout session")
	}

	if s.logg != nil {
		s.logg.Info(s.logg.WithField(logCtx, "session_id", session.ID), "checkout session issued")
	}

	return &IssueResult{
		ContributionID: contribution.ID,
		SessionID:      session.ID,
		CheckoutURL:    session.URL,
		Amount:         input.Amount,
	}, nil
}

func (s *issuer) validate(input IssueInput) error {
	if input.RegistryID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "registry id is required")
	}
	if input.ItemID != nil && *input.ItemID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "item id is invalid")
	}
	if input.Amount < s.cfg.MinContribution {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("minimum contribution is %s", s.cfg.MinContribution)).
			WithDetails(map[string]any{"min_amount_cents": s.cfg.MinContribution.Int64()})
	}
	name := strings.TrimSpace(input.ContributorName)
	if name == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "contributor name is required")
	}
	if len(name) > maxNameLength {
		return pkgerrors.New(pkgerrors.CodeValidation, "contributor name is too long")
	}
	if len(input.Message) > maxMessageLength {
		return pkgerrors.New(pkgerrors.CodeValidation, "message is too long")
	}
	if email := strings.TrimSpace(input.ContributorEmail); email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "contributor email is invalid")
		}
	}
	return nil
}

func (s *issuer) logCtx(ctx context.Context, contribution *models.Contribution) context.Context {
	if s.logg == nil {
		return ctx
	}
	ctx = s.logg.WithRegistryID(ctx, contribution.RegistryID.String())
	ctx = s.logg.WithContributionID(ctx, contribution.ID.String())
	return s.logg.WithField(ctx, "amount_cents", contribution.AmountCents.Int64())
}

func (s *issuer) warn(ctx context.Context, msg string, err error) {
	if s.logg == nil {
		return
	}
	s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), msg)
}

func optionalString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
