package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Market collects the business counters exported on /metrics.
type Market struct {
	transitions  *prometheus.CounterVec
	checkout     *prometheus.CounterVec
	callbacks    *prometheus.CounterVec
	ledger       *prometheus.CounterVec
	outbox       *prometheus.CounterVec
	dependencies *prometheus.HistogramVec
}

// NewMarket registers the collectors on reg. A nil registerer yields a no-op recorder.
func NewMarket(reg prometheus.Registerer) *Market {
	if reg == nil {
		return &Market{}
	}
	m := &Market{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "order_transitions_total",
			Help: "Committed order status changes.",
		}, []string{"from", "to"}),
		checkout: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_store_units_total",
			Help: "Per-store checkout units by outcome.",
		}, []string{"outcome"}),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_callbacks_total",
			Help: "Processor callbacks by result.",
		}, []string{"result"}),
		ledger: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_entries_total",
			Help: "Ledger movements applied, by direction.",
		}, []string{"direction"}),
		outbox: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_publish_total",
			Help: "Outbox rows handled by the publisher.",
		}, []string{"event_type", "result"}),
		dependencies: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dependency_call_duration_seconds",
			Help:    "Latency of outbound calls to the processor and courier.",
			Buckets: prometheus.DefBuckets,
		}, []string{"dependency", "operation"}),
	}
	reg.MustRegister(m.transitions, m.checkout, m.callbacks, m.ledger, m.outbox, m.dependencies)
	return m
}

func (m *Market) OrderTransition(from, to string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(from), normalizeLabel(to)).Inc()
}

func (m *Market) CheckoutUnit(outcome string) {
	if m == nil || m.checkout == nil {
		return
	}
	m.checkout.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Market) PaymentCallback(result string) {
	if m == nil || m.callbacks == nil {
		return
	}
	m.callbacks.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *Market) LedgerEntry(direction string) {
	if m == nil || m.ledger == nil {
		return
	}
	m.ledger.WithLabelValues(normalizeLabel(direction)).Inc()
}

func (m *Market) OutboxPublish(eventType, result string) {
	if m == nil || m.outbox == nil {
		return
	}
	m.outbox.WithLabelValues(normalizeLabel(eventType), normalizeLabel(result)).Inc()
}

// ObserveDependency records how long an outbound call took.
func (m *Market) ObserveDependency(dependency, operation string, took time.Duration) {
	if m == nil || m.dependencies == nil {
		return
	}
	m.dependencies.WithLabelValues(normalizeLabel(dependency), normalizeLabel(operation)).Observe(took.Seconds())
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
