package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/giftledger-backend/internal/redemptions"
	"github.com/angelmondragon/giftledger-backend/pkg/db/models"
	"github.com/angelmondragon/giftledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/giftledger-backend/pkg/errors"
	"github.com/angelmondragon/giftledger-backend/pkg/money"
	"github.com/angelmondragon/giftledger-backend/pkg/pagination"
)

type stubGate struct {
	redemption *models.Redemption
	err        error
	input      redemptions.RequestInput
	calls      int

	flags      pagination.Page[models.FlaggedTransaction]
	flagStatus enums.FlagStatus
	resolution *redemptions.Resolution
	resolveIn  redemptions.ResolveInput
}

func (s *stubGate) RequestRedemption(_ context.Context, in redemptions.RequestInput) (*models.Redemption, error) {
	s.calls++
	s.input = in
	return s.redemption, s.err
}

func (s *stubGate) ListRedemptions(context.Context, uuid.UUID, uuid.UUID, pagination.Params) (pagination.Page[models.Redemption], error) {
	if s.redemption == nil {
		return pagination.Page[models.Redemption]{Items: []models.Redemption{}}, s.err
	}
	return pagination.Page[models.Redemption]{Items: []models.Redemption{*s.redemption}}, s.err
}

func (s *stubGate) ListFlags(_ context.Context, status enums.FlagStatus, _ pagination.Params) (pagination.Page[models.FlaggedTransaction], error) {
	s.flagStatus = status
	return s.flags, s.err
}

func (s *stubGate) ResolveFlag(_ context.Context, in redemptions.ResolveInput) (*redemptions.Resolution, error) {
	s.resolveIn = in
	return s.resolution, s.err
}

func redemptionRequestFor(owner, registryID uuid.UUID, body string) *http.Request {
	return newRequest(http.MethodPost, "/", body, map[string]string{"registryId": registryID.String()}, owner, enums.RoleUser)
}

func TestRequestRedemptionStatusCodes(t *testing.T) {
	owner, registryID := uuid.New(), uuid.New()
	cases := []struct {
		status enums.RedemptionStatus
		amount money.Amount
		want   int
	}{
		{enums.RedemptionStatusPending, money.Dollars(40), http.StatusCreated},
		{enums.RedemptionStatusFlagged, money.Dollars(1500), http.StatusAccepted},
	}
	for _, tc := range cases {
		gate := &stubGate{redemption: &models.Redemption{
			ID:          uuid.New(),
			RegistryID:  registryID,
			AmountCents: tc.amount,
			Kind:        enums.RedemptionKindGiftCard,
			Status:      tc.status,
		}}
		body := fmt.Sprintf(`{"amount_cents":%d,"kind":"gift_card","destination_email":"owner@example.com"}`, tc.amount.Int64())
		rec := httptest.NewRecorder()
		RequestRedemption(gate, nil).ServeHTTP(rec, redemptionRequestFor(owner, registryID, body))
		if rec.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d (%s)", tc.status, tc.want, rec.Code, rec.Body.String())
		}
		var resp redemptionResponse
		decodeEnvelope(t, rec, &resp)
		if resp.Status != string(tc.status) {
			t.Fatalf("unexpected status %s", resp.Status)
		}
		if gate.input.Amount != tc.amount {
			t.Fatalf("amount not forwarded: %s", gate.input.Amount)
		}
		if gate.input.UserID != owner || gate.input.RegistryID != registryID || gate.input.Kind != enums.RedemptionKindGiftCard {
			t.Fatalf("scope not forwarded: %+v", gate.input)
		}
	}
}

func TestRequestRedemptionInsufficientBalance(t *testing.T) {
	owner, registryID := uuid.New(), uuid.New()
	gate := &stubGate{err: pkgerrors.New(pkgerrors.CodePolicy, "insufficient balance, available $900.00").
		WithDetails(map[string]any{"available_cents": 90000, "available": "$900.00"})}

	rec := httptest.NewRecorder()
	RequestRedemption(gate, nil).ServeHTTP(rec, redemptionRequestFor(owner, registryID,
		`{"amount_cents":100000,"kind":"gift_card","destination_email":"owner@example.com"}`))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	if gate.input.Amount != money.Dollars(1000) {
		t.Fatalf("amount not forwarded: %s", gate.input.Amount)
	}
	env := decodeEnvelope(t, rec, nil)
	if env.Error == nil || env.Error.Message != "insufficient balance, available $900.00" {
		t.Fatalf("unexpected error %s", rec.Body.String())
	}
	var details map[string]any
	if err := json.Unmarshal(env.Error.Details, &details); err != nil || details["available"] != "$900.00" {
		t.Fatalf("expected available balance in details, got %s", env.Error.Details)
	}
}

func TestRequestRedemptionRejectsUnknownKind(t *testing.T) {
	gate := &stubGate{}
	rec := httptest.NewRecorder()
	RequestRedemption(gate, nil).ServeHTTP(rec, redemptionRequestFor(uuid.New(), uuid.New(), `{"amount_cents":500,"kind":"cash"}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if gate.calls != 0 {
		t.Fatal("gate should not be called")
	}
}

func TestListRedemptions(t *testing.T) {
	owner, registryID := uuid.New(), uuid.New()
	gate := &stubGate{redemption: &models.Redemption{ID: uuid.New(), RegistryID: registryID, AmountCents: money.Dollars(300), Status: enums.RedemptionStatusPending, CreatedAt: time.Now()}}
	rec := httptest.NewRecorder()
	ListRedemptions(gate, nil).ServeHTTP(rec, newRequest(http.MethodGet, "/", "", map[string]string{"registryId": registryID.String()}, owner, enums.RoleUser))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var page pagination.Page[redemptionResponse]
	decodeEnvelope(t, rec, &page)
	if len(page.Items) != 1 || page.Items[0].Amount != "$300.00" {
		t.Fatalf("unexpected page %+v", page)
	}
}

func TestAdminListFlagsDefaultsToPending(t *testing.T) {
	gate := &stubGate{flags: pagination.Page[models.FlaggedTransaction]{Items: []models.FlaggedTransaction{{
		ID:      uuid.New(),
		Reason:  enums.FlagReasonHighAmount,
		Details: json.RawMessage(`{"amount_cents":150000,"threshold_cents":100000}`),
		Status:  enums.FlagStatusPending,
	}}}}
	admin := uuid.New()
	rec := httptest.NewRecorder()
	AdminListFlags(gate, nil).ServeHTTP(rec, newRequest(http.MethodGet, "/", "", nil, admin, enums.RoleAdmin))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gate.flagStatus != enums.FlagStatusPending {
		t.Fatalf("expected pending filter, got %s", gate.flagStatus)
	}
	var page pagination.Page[flagResponse]
	decodeEnvelope(t, rec, &page)
	if len(page.Items) != 1 || page.Items[0].Reason != "high_amount" {
		t.Fatalf("unexpected page %+v", page)
	}

	rec = httptest.NewRecorder()
	AdminListFlags(gate, nil).ServeHTTP(rec, newRequest(http.MethodGet, "/?status=bogus", "", nil, admin, enums.RoleAdmin))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestAdminResolveFlag(t *testing.T) {
	admin, flagID := uuid.New(), uuid.New()
	gate := &stubGate{resolution: &redemptions.Resolution{
		Flag:       &models.FlaggedTransaction{ID: flagID, Status: enums.FlagStatusApproved},
		Redemption: &models.Redemption{ID: uuid.New(), Status: enums.RedemptionStatusApproved, AmountCents: money.Dollars(1500)},
	}}
	params := map[string]string{"flagId": flagID.String()}

	rec := httptest.NewRecorder()
	AdminResolveFlag(gate, nil).ServeHTTP(rec, newRequest(http.MethodPost, "/", `{"decision":"approve","note":"verified by phone"}`, params, admin, enums.RoleAdmin))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if gate.resolveIn.FlagID != flagID || gate.resolveIn.ReviewerID != admin || gate.resolveIn.Decision != enums.FlagDecisionApprove || gate.resolveIn.Note != "verified by phone" {
		t.Fatalf("unexpected resolve input %+v", gate.resolveIn)
	}
	var resp resolveFlagResponse
	decodeEnvelope(t, rec, &resp)
	if resp.Flag.Status != "approved" || resp.Redemption.Status != "approved" {
		t.Fatalf("unexpected resolution %+v", resp)
	}

	rec = httptest.NewRecorder()
	AdminResolveFlag(gate, nil).ServeHTTP(rec, newRequest(http.MethodPost, "/", `{"decision":"maybe"}`, params, admin, enums.RoleAdmin))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown decision, got %d", rec.Code)
	}

	conflict := &stubGate{err: pkgerrors.New(pkgerrors.CodeStateConflict, "flag already resolved")}
	rec = httptest.NewRecorder()
	AdminResolveFlag(conflict, nil).ServeHTTP(rec, newRequest(http.MethodPost, "/", `{"decision":"reject"}`, params, admin, enums.RoleAdmin))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for resolved flag, got %d", rec.Code)
	}
}
