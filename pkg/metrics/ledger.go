package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Webhook outcomes recorded by the reconciler.
const (
	OutcomeApplied   = "applied"
	OutcomeNoop      = "noop"
	OutcomeNotFound  = "not_found"
	OutcomeIgnored   = "ignored"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

// LedgerMetrics exposes reconciliation and audit signals.
type LedgerMetrics struct {
	webhookEvents  *prometheus.CounterVec
	itemDrift      prometheus.Gauge
	driftedItems   prometheus.Gauge
	stalePending   prometheus.Gauge
	redemptions    *prometheus.CounterVec
	outboxOutcomes *prometheus.CounterVec
	outboxBacklog  prometheus.Gauge
}

func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	m := &LedgerMetrics{
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "webhook_events_total",
			Help:      "Payment provider events by kind and outcome.",
		}, []string{"kind", "outcome"}),
		itemDrift: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "item_drift_cents",
			Help:      "Absolute difference between stored item progress and the ledger sum, summed over items.",
		}),
		driftedItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "drifted_items",
			Help:      "Items whose stored progress disagrees with the ledger.",
		}),
		stalePending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "stale_pending_contributions",
			Help:      "Pending contributions older than the configured age.",
		}),
		redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "redemptions_total",
			Help:      "Redemption requests by resulting status.",
		}, []string{"status"}),
		outboxOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "events_total",
			Help:      "Outbox publish attempts by event type and outcome.",
		}, []string{"event_type", "outcome"}),
		outboxBacklog: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "backlog",
			Help:      "Unpublished outbox rows still eligible for delivery.",
		}),
	}
	reg.MustRegister(m.webhookEvents, m.itemDrift, m.driftedItems, m.stalePending, m.redemptions, m.outboxOutcomes, m.outboxBacklog)
	return m
}

func (m *LedgerMetrics) IncWebhookEvent(kind, outcome string) {
	if m == nil || m.webhookEvents == nil {
		return
	}
	m.webhookEvents.WithLabelValues(normalizeLabel(kind), normalizeLabel(outcome)).Inc()
}

// SetDrift records the last audit result.
func (m *LedgerMetrics) SetDrift(totalCents int64, items int) {
	if m == nil || m.itemDrift == nil {
		return
	}
	m.itemDrift.Set(float64(totalCents))
	m.driftedItems.Set(float64(items))
}

func (m *LedgerMetrics) SetStalePending(count int64) {
	if m == nil || m.stalePending == nil {
		return
	}
	m.stalePending.Set(float64(count))
}

func (m *LedgerMetrics) IncRedemption(status string) {
	if m == nil || m.redemptions == nil {
		return
	}
	m.redemptions.WithLabelValues(normalizeLabel(status)).Inc()
}

func (m *LedgerMetrics) IncOutbox(eventType, outcome string) {
	if m == nil || m.outboxOutcomes == nil {
		return
	}
	m.outboxOutcomes.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

func (m *LedgerMetrics) SetOutboxBacklog(count int64) {
	if m == nil || m.outboxBacklog == nil {
		return
	}
	m.outboxBacklog.Set(float64(count))
}
