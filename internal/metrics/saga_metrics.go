package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Исходы обработки входящего события саги.
const (
	OutcomeApplied = "applied"
	OutcomeSkipped = "skipped"
	OutcomeDropped = "dropped"
	OutcomeRetried = "retried"
)

// SagaMetrics считает команды API и обработку входящих событий.
type SagaMetrics struct {
	ordersCreated       prometheus.Counter
	sagaEvents          *prometheus.CounterVec
	eventDuration       *prometheus.HistogramVec
	refundRequests      *prometheus.CounterVec
	manualInterventions prometheus.Counter
	idempotentReplays   prometheus.Counter
	idempotencyMismatch prometheus.Counter
	timelineEvents      prometheus.Counter
	outboxEvents        prometheus.Counter
}

func NewSagaMetrics() *SagaMetrics {
	return NewSagaMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func NewSagaMetricsWithRegisterer(registerer prometheus.Registerer) *SagaMetrics {
	r := orDefault(registerer)
	counter := func(name, help string) prometheus.Counter {
		return register(r, prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}))
	}

	return &SagaMetrics{
		ordersCreated: counter("orders_created_total", "Orders accepted by CreateOrder."),
		sagaEvents: register(r, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saga_events_total",
			Help:      "Consumed saga events by event type and outcome.",
		}, []string{"event", "outcome"})),
		eventDuration: register(r, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "saga_event_duration_seconds",
			Help:      "Saga event handling time.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"event"})),
		refundRequests: register(r, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refund_requests_total",
			Help:      "Refund requests emitted by refund type.",
		}, []string{"type"})),
		manualInterventions: counter("manual_interventions_total", "Orders moved to MANUAL_INTERVENTION_REQUIRED."),
		idempotentReplays:   counter("idempotent_replays_total", "Create requests answered with an existing order."),
		idempotencyMismatch: counter("idempotency_key_mismatch_total", "Idempotency keys reused with a different request body."),
		timelineEvents:      counter("timeline_events_total", "Timeline events recorded."),
		outboxEvents:        counter("outbox_events_total", "Events enqueued to the outbox."),
	}
}

func (m *SagaMetrics) RecordOrderCreated() {
	if m != nil {
		m.ordersCreated.Inc()
	}
}

// RecordSagaEvent учитывает исход обработки входящего события и её длительность.
func (m *SagaMetrics) RecordSagaEvent(event, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.sagaEvents.WithLabelValues(event, outcome).Inc()
	m.eventDuration.WithLabelValues(event).Observe(took.Seconds())
}

func (m *SagaMetrics) RecordRefundRequested(refundType string) {
	if m != nil {
		m.refundRequests.WithLabelValues(refundType).Inc()
	}
}

func (m *SagaMetrics) RecordManualIntervention() {
	if m != nil {
		m.manualInterventions.Inc()
	}
}

func (m *SagaMetrics) RecordIdempotentReplay() {
	if m != nil {
		m.idempotentReplays.Inc()
	}
}

func (m *SagaMetrics) RecordIdempotencyMismatch() {
	if m != nil {
		m.idempotencyMismatch.Inc()
	}
}

func (m *SagaMetrics) RecordTimelineEvent() {
	if m != nil {
		m.timelineEvents.Inc()
	}
}

func (m *SagaMetrics) RecordOutboxEvent() {
	if m != nil {
		m.outboxEvents.Inc()
	}
}
