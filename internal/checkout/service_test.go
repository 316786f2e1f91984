package checkout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/giftledger-backend/internal/contributions"
	"github.com/angelmondragon/giftledger-backend/internal/ledgertest"
	"github.com/angelmondragon/giftledger-backend/internal/registries"
	"github.com/angelmondragon/giftledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/giftledger-backend/pkg/errors"
	"github.com/angelmondragon/giftledger-backend/pkg/money"
	"github.com/angelmondragon/giftledger-backend/pkg/stripe"
)

type stubSessions struct {
	calls   []stripe.CheckoutSessionRequest
	err     error
	id      string
	block   bool
	sawDead bool
}

func (s *stubSessions) CreateCheckoutSession(ctx context.Context, req stripe.CheckoutSessionRequest) (*stripe.CheckoutSession, error) {
	s.calls = append(s.calls, req)
	if s.block {
		<-ctx.Done()
		s.sawDead = true
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, s.err
	}
	id := s.id
	if id == "" {
		id = "cs_test_" + req.ContributionID.String()
	}
	return &stripe.CheckoutSession{ID: id, URL: "https://checkout.stripe.test/" + id}, nil
}

type fixture struct {
	ledger   *ledgertest.Ledger
	repo     contributions.Repository
	sessions *stubSessions
	issuer   Issuer
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	l := ledgertest.Open(t)
	registrySvc, err := registries.NewService(registries.NewRepository(l.DB.DB()))
	if err != nil {
		t.Fatalf("registry service: %v", err)
	}
	repo := contributions.NewRepository(l.DB.DB())
	sessions := &stubSessions{}
	if cfg.MinContribution == 0 {
		cfg.MinContribution = money.Cents(50)
	}
	issuer, err := NewIssuer(registrySvc, repo, sessions, cfg, nil)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	return &fixture{ledger: l, repo: repo, sessions: sessions, issuer: issuer}
}

func TestIssueCheckoutSessionPersistsPendingAndAttachesSession(t *testing.T) {
	f := newFixture(t, Config{})
	item := f.ledger.Item(t, "Espresso machine", money.Dollars(600))

	res, err := f.issuer.IssueCheckoutSession(context.Background(), IssueInput{
		RegistryID:       f.ledger.Registry.ID,
		ItemID:           &item.ID,
		ContributorName:  "  Ana  ",
		ContributorEmail: "ana@example.com",
		Amount:           money.Dollars(75),
		Message:          "Congrats!",
		IsPublic:         true,
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if res.CheckoutURL == "" || res.SessionID == "" {
		t.Fatalf("expected session in result, got %+v", res)
	}

	if len(f.sessions.calls) != 1 {
		t.Fatalf("expected one provider call, got %d", len(f.sessions.calls))
	}
	call := f.sessions.calls[0]
	if call.ContributionID != res.ContributionID || call.RegistryID != f.ledger.Registry.ID {
		t.Fatalf("provider metadata mismatch: %+v", call)
	}
	if call.ItemID == nil || *call.ItemID != item.ID {
		t.Fatalf("expected item id in provider request")
	}
	if call.AmountCents != 7500 || call.Description != "Espresso machine" {
		t.Fatalf("unexpected provider request %+v", call)
	}

	stored := f.ledger.ReloadContribution(t, res.ContributionID)
	if stored.Status != enums.ContributionStatusPending {
		t.Fatalf("expected pending, got %s", stored.Status)
	}
	if stored.ExternalRef == nil || *stored.ExternalRef != res.SessionID {
		t.Fatalf("expected external ref %s, got %v", res.SessionID, stored.ExternalRef)
	}
	if stored.ContributorName != "Ana" {
		t.Fatalf("expected trimmed name, got %q", stored.ContributorName)
	}
	if stored.AmountCents != money.Dollars(75) {
		t.Fatalf("unexpected amount %d", stored.AmountCents)
	}

	refreshed := f.ledger.ReloadItem(t, item.ID)
	if refreshed.AccumulatedCents != 0 {
		t.Fatalf("issuing a session must not move item progress")
	}
}

func TestIssueCheckoutSessionGeneralFund(t *testing.T) {
	f := newFixture(t, Config{})

	res, err := f.issuer.IssueCheckoutSession(context.Background(), IssueInput{
		RegistryID:      f.ledger.Registry.ID,
		ContributorName: "Sam",
		Amount:          money.Dollars(20),
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	stored := f.ledger.ReloadContribution(t, res.ContributionID)
	if stored.ItemID != nil {
		t.Fatalf("general fund contribution must not carry an item")
	}
	if f.sessions.calls[0].Description != f.ledger.Registry.Title {
		t.Fatalf("expected registry title as description, got %q", f.sessions.calls[0].Description)
	}
}

func TestIssueCheckoutSessionValidation(t *testing.T) {
	f := newFixture(t, Config{})
	otherRegistryItem := uuid.New()
	zero := uuid.Nil

	cases := []struct {
		name  string
		input IssueInput
		code  pkgerrors.Code
	}{
		{
			name:  "below minimum",
			input: IssueInput{RegistryID: f.ledger.Registry.ID, ContributorName: "A", Amount: money.Cents(49)},
			code:  pkgerrors.CodeValidation,
		},
		{
			name:  "missing name",
			input: IssueInput{RegistryID: f.ledger.Registry.ID, ContributorName: "  ", Amount: money.Cents(50)},
			code:  pkgerrors.CodeValidation,
		},
		{
			name:  "bad email",
			input: IssueInput{RegistryID: f.ledger.Registry.ID, ContributorName: "A", ContributorEmail: "nope", Amount: money.Cents(50)},
			code:  pkgerrors.CodeValidation,
		},
		{
			name:  "nil item id",
			input: IssueInput{RegistryID: f.ledger.Registry.ID, ItemID: &zero, ContributorName: "A", Amount: money.Cents(50)},
			code:  pkgerrors.CodeValidation,
		},
		{
			name:  "unknown registry",
			input: IssueInput{RegistryID: uuid.New(), ContributorName: "A", Amount: money.Cents(50)},
			code:  pkgerrors.CodeNotFound,
		},
		{
			name:  "item outside registry",
			input: IssueInput{RegistryID: f.ledger.Registry.ID, ItemID: &otherRegistryItem, ContributorName: "A", Amount: money.Cents(50)},
			code:  pkgerrors.CodeNotFound,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.issuer.IssueCheckoutSession(context.Background(), tc.input)
			assertCode(t, err, tc.code)
		})
	}
	if len(f.sessions.calls) != 0 {
		t.Fatalf("provider must not be called for rejected input")
	}
	var count int64
	f.ledger.DB.DB().Table("contributions").Count(&count)
	if count != 0 {
		t.Fatalf("rejected input must not persist contributions, found %d", count)
	}
}

func TestIssueCheckoutSessionProviderFailureLeavesPendingRow(t *testing.T) {
	f := newFixture(t, Config{})
	f.sessions.err = errors.New("stripe: 500")

	_, err := f.issuer.IssueCheckoutSession(context.Background(), IssueInput{
		RegistryID:      f.ledger.Registry.ID,
		ContributorName: "Lee",
		Amount:          money.Dollars(10),
	})
	assertCode(t, err, pkgerrors.CodeDependency)

	id := f.sessions.calls[0].ContributionID
	stored := f.ledger.ReloadContribution(t, id)
	if stored.Status != enums.ContributionStatusPending || stored.ExternalRef != nil {
		t.Fatalf("expected orphan pending row without reference, got %+v", stored)
	}
}

func TestIssueCheckoutSessionBoundsProviderCall(t *testing.T) {
	f := newFixture(t, Config{ProviderTimeout: 20 * time.Millisecond})
	f.sessions.block = true

	_, err := f.issuer.IssueCheckoutSession(context.Background(), IssueInput{
		RegistryID:      f.ledger.Registry.ID,
		ContributorName: "Lee",
		Amount:          money.Dollars(10),
	})
	assertCode(t, err, pkgerrors.CodeDependency)
	if !f.sessions.sawDead {
		t.Fatalf("expected provider context to expire")
	}
}

func TestIssueCheckoutSessionRejectsReusedSession(t *testing.T) {
	f := newFixture(t, Config{})
	f.sessions.id = "cs_test_fixed"
	input := IssueInput{RegistryID: f.ledger.Registry.ID, ContributorName: "Kai", Amount: money.Dollars(5)}

	if _, err := f.issuer.IssueCheckoutSession(context.Background(), input); err != nil {
		t.Fatalf("first issue: %v", err)
	}
	_, err := f.issuer.IssueCheckoutSession(context.Background(), input)
	assertCode(t, err, pkgerrors.CodeConflict)
}

func TestNewIssuerRequiresDependencies(t *testing.T) {
	if _, err := NewIssuer(nil, nil, nil, Config{}, nil); err == nil {
		t.Fatal("expected error for missing dependencies")
	}
}

func assertCode(t *testing.T, err error, want pkgerrors.Code) {
	t.Helper()
	var typed *pkgerrors.Error
	if !errors.As(err, &typed) {
		t.Fatalf("expected typed error %s, got %v", want, err)
	}
	if typed.Code() != want {
		t.Fatalf("expected code %s, got %s (%v)", want, typed.Code(), err)
	}
}
