package reconcile

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/angelmondragon/giftledger-backend/internal/balance"
	"github.com/angelmondragon/giftledger-backend/internal/contributions"
	"github.com/angelmondragon/giftledger-backend/internal/ledgertest"
	"github.com/angelmondragon/giftledger-backend/pkg/db/models"
	"github.com/angelmondragon/giftledger-backend/pkg/outbox"
)

const testSecret = "whsec_test_secret"

type inMemoryStore struct {
	mu   sync.Mutex
	data map[string]string
	fail error
}

func newInMemoryStore() *inMemoryStore {
	return &inMemoryStore{data: map[string]string{}}
}

func (s *inMemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return "", s.fail
	}
	value, ok := s.data[key]
	if !ok {
		return "", redis.Nil
	}
	return value, nil
}

func (s *inMemoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return false, s.fail
	}
	if _, ok := s.data[key]; ok {
		return false, nil
	}
	s.data[key] = fmt.Sprint(value)
	return true, nil
}

func (s *inMemoryStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("gl:idempotency:%s:%s", scope, id)
}

func (s *inMemoryStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}

type countingMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func (m *countingMetrics) IncWebhookEvent(kind, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = map[string]int{}
	}
	m.counts[kind+"/"+outcome]++
}

type failingEmitter struct {
	mu    sync.Mutex
	calls int
	fail  bool
	next  outboxEmitter
}

func (f *failingEmitter) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	f.mu.Lock()
	f.calls++
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return errors.New("outbox insert failed")
	}
	return f.next.Emit(ctx, tx, event)
}

type harness struct {
	ledger  *ledgertest.Ledger
	store   *inMemoryStore
	metrics *countingMetrics
	emitter *failingEmitter
	outbox  *outbox.Repository
	svc     *Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	l := ledgertest.Open(t)
	store := newInMemoryStore()
	guard, err := NewGuard(store, time.Hour, GuardScope)
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	outboxRepo := outbox.NewRepository(l.DB.DB())
	emitter := &failingEmitter{next: outbox.NewWriter(outboxRepo, nil)}
	m := &countingMetrics{}
	svc, err := NewService(ServiceParams{
		TransactionRunner: l.DB,
		Contributions:     contributions.NewRepository(l.DB.DB()),
		Projector:         balance.NewProjector(l.DB.DB()),
		Outbox:            emitter,
		Guard:             guard,
		SigningSecret:     testSecret,
		Metrics:           m,
	})
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	return &harness{ledger: l, store: store, metrics: m, emitter: emitter, outbox: outboxRepo, svc: svc}
}

func (h *harness) deliver(t *testing.T, payload []byte) (Ack, error) {
	t.Helper()
	return h.svc.Reconcile(context.Background(), payload, signatureHeader(payload, testSecret, time.Now().Unix()))
}

func (h *harness) outboxEvents(t *testing.T, aggregateID uuid.UUID) []models.OutboxEvent {
	t.Helper()
	rows, err := h.outbox.ListForAggregate(context.Background(), aggregateID)
	if err != nil {
		t.Fatalf("list outbox: %v", err)
	}
	return rows
}

func signatureHeader(payload []byte, secret string, ts int64) string {
	signedPayload := fmt.Sprintf("%d.%s", ts, payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedPayload))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func buildEvent(t *testing.T, eventID string, eventType stripe.EventType, object map[string]any) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":          eventID,
		"object":      "event",
		"type":        eventType,
		"api_version": stripe.APIVersion,
		"created":     time.Now().Unix(),
		"data":        map[string]any{"object": object},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return body
}

func sessionObject(sessionID, paymentIntent, paymentStatus string, contributionID *uuid.UUID) map[string]any {
	obj := map[string]any{
		"id":             sessionID,
		"object":         "checkout.session",
		"payment_status": paymentStatus,
		"metadata":       map[string]string{},
	}
	if paymentIntent != "" {
		obj["payment_intent"] = paymentIntent
	}
	if contributionID != nil {
		obj["metadata"] = map[string]string{"contribution_id": contributionID.String()}
		obj["client_reference_id"] = contributionID.String()
	}
	return obj
}

func chargeObject(paymentIntent string, amountRefunded int64, contributionID *uuid.UUID) map[string]any {
	obj := map[string]any{
		"id":              "ch_" + uuid.NewString()[:8],
		"object":          "charge",
		"payment_intent":  paymentIntent,
		"refunded":        true,
		"amount_refunded": amountRefunded,
		"metadata":        map[string]string{},
	}
	if contributionID != nil {
		obj["metadata"] = map[string]string{"contribution_id": contributionID.String()}
	}
	return obj
}

func eventID() string {
	return "evt_" + uuid.NewString()
}
