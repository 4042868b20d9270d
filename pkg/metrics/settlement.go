package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics counts money movement and deferred side effects.
type SettlementMetrics struct {
	postings    *prometheus.CounterVec
	postedCents *prometheus.CounterVec
	deferred    *prometheus.CounterVec
	published   *prometheus.CounterVec
}

// NewSettlementMetrics registers the settlement counters on the provided registerer.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	postings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_postings_total",
		Help: "Wallet ledger entries written, by kind.",
	}, []string{"kind"})
	postedCents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_posted_cents_total",
		Help: "Minor units moved through the wallet ledger, by kind.",
	}, []string{"kind"})
	deferred := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_deferred_failures_total",
		Help: "Best-effort side effects that failed and were left for reconciliation.",
	}, []string{"side_effect"})
	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_events_total",
		Help: "Outbox events handled by the publisher, by result.",
	}, []string{"event_type", "result"})
	reg.MustRegister(postings, postedCents, deferred, published)
	return &SettlementMetrics{
		postings:    postings,
		postedCents: postedCents,
		deferred:    deferred,
		published:   published,
	}
}

// ObservePosting records one wallet ledger entry.
func (m *SettlementMetrics) ObservePosting(kind string, amountCents int64) {
	if m == nil || m.postings == nil {
		return
	}
	label := normalizeLabel(kind)
	m.postings.WithLabelValues(label).Inc()
	if amountCents > 0 {
		m.postedCents.WithLabelValues(label).Add(float64(amountCents))
	}
}

// IncDeferredFailure counts a swallowed post-commit failure.
func (m *SettlementMetrics) IncDeferredFailure(sideEffect string) {
	if m == nil || m.deferred == nil {
		return
	}
	m.deferred.WithLabelValues(normalizeLabel(sideEffect)).Inc()
}

// IncPublished counts an outbox publish outcome.
func (m *SettlementMetrics) IncPublished(eventType, result string) {
	if m == nil || m.published == nil {
		return
	}
	m.published.WithLabelValues(normalizeLabel(eventType), normalizeLabel(result)).Inc()
}
