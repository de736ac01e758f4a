package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты попытки публикации из outbox.
const (
	PublishSent       = "sent"
	PublishRetryError = "retry_error"
	PublishFailed     = "failed"
	PublishDLQFailed  = "dlq_failed"
)

const outboxSubsystem = "outbox"

// OutboxMetrics описывает доставку и очистку transactional outbox.
type OutboxMetrics struct {
	publishAttempts    *prometheus.CounterVec
	pending            prometheus.Gauge
	oldestPendingAge   prometheus.Gauge
	cleanupRuns        *prometheus.CounterVec
	cleanupDeleted     prometheus.Counter
	cleanupLastDeleted prometheus.Gauge
}

func NewOutboxMetrics() *OutboxMetrics {
	return NewOutboxMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func NewOutboxMetricsWithRegisterer(registerer prometheus.Registerer) *OutboxMetrics {
	r := orDefault(registerer)
	gauge := func(name, help string) prometheus.Gauge {
		return register(r, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: outboxSubsystem, Name: name, Help: help,
		}))
	}
	byResult := func(name, help string) *prometheus.CounterVec {
		return register(r, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: outboxSubsystem, Name: name, Help: help,
		}, []string{"result"}))
	}

	return &OutboxMetrics{
		publishAttempts:  byResult("publish_attempts_total", "Outbox publish attempts by result."),
		pending:          gauge("pending_records", "Pending records in the outbox."),
		oldestPendingAge: gauge("oldest_pending_age_seconds", "Age of the oldest pending outbox record."),
		cleanupRuns:      byResult("cleanup_runs_total", "Outbox cleanup runs by result."),
		cleanupDeleted: register(r, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: outboxSubsystem,
			Name: "cleanup_deleted_total", Help: "Processed outbox records deleted by cleanup.",
		})),
		cleanupLastDeleted: gauge("cleanup_last_deleted", "Records deleted by the last cleanup run."),
	}
}

func (m *OutboxMetrics) RecordPublish(result string) {
	if m != nil {
		m.publishAttempts.WithLabelValues(result).Inc()
	}
}

// SetBacklog выставляет размер backlog и возраст самой старой записи (не меньше нуля).
func (m *OutboxMetrics) SetBacklog(pending int, oldest, now time.Time) {
	if m == nil {
		return
	}
	m.pending.Set(float64(pending))
	age := 0.0
	if pending > 0 && !oldest.IsZero() {
		age = max(now.Sub(oldest).Seconds(), 0)
	}
	m.oldestPendingAge.Set(age)
}

// RecordCleanup фиксирует прогон очистки; last_deleted меняется только при успехе.
func (m *OutboxMetrics) RecordCleanup(deleted int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.cleanupRuns.WithLabelValues("error").Inc()
		return
	}
	m.cleanupRuns.WithLabelValues("ok").Inc()
	m.cleanupLastDeleted.Set(float64(deleted))
}

func (m *OutboxMetrics) AddCleanupDeleted(deleted int) {
	if m != nil && deleted > 0 {
		m.cleanupDeleted.Add(float64(deleted))
	}
}
