package outbox

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lu-lu-xue/OrderManagement/internal/domain"
	"github.com/lu-lu-xue/OrderManagement/internal/metrics"
)

var tracer = otel.Tracer("order-outbox")

// Worker доставляет pending-сообщения outbox в брокер. Сообщения батча публикуются
// по одному, поэтому события одного заказа уходят в порядке записи.
type Worker struct {
	deps
	repo      domain.OutboxRepository
	publisher domain.OutboxPublisher
	settings  Settings
	now       func() time.Time
}

func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, settings Settings, options ...Option) *Worker {
	return &Worker{
		deps:      collectDeps("outbox-worker", options),
		repo:      repo,
		publisher: publisher,
		settings:  settings.withDefaults(),
		now:       time.Now,
	}
}

// Run опрашивает outbox каждые PollInterval до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker disabled: no repository or publisher")
		return
	}
	poll(ctx, w.settings.PollInterval, func(ctx context.Context) { w.ProcessOnce(ctx) })
}

// ProcessOnce доставляет один батч и возвращает число отправленных сообщений.
// При остановке недоставленное сообщение остаётся pending.
func (w *Worker) ProcessOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	defer w.observeBacklog(ctx)

	batch, err := w.repo.PullPending(ctx, w.settings.BatchSize)
	if err != nil {
		w.logger.WithError(err).Warn("pull pending outbox messages")
		return 0
	}

	sent := 0
	for _, msg := range batch {
		err := w.deliver(ctx, msg)
		switch {
		case err == nil:
			sent++
			if err := w.repo.MarkSent(ctx, msg.ID); err != nil {
				w.logger.WithError(err).WithField("outbox_id", msg.ID).Warn("mark outbox message sent")
			}
		case ctx.Err() != nil:
			return sent
		default:
			w.giveUp(ctx, msg, err)
		}
	}
	return sent
}

// deliver публикует сообщение, повторяя до MaxAttempts раз с экспоненциальной паузой.
func (w *Worker) deliver(ctx context.Context, msg domain.OutboxMessage) error {
	ctx, span := tracer.Start(ctx, "outbox.publish", trace.WithAttributes(
		attribute.String("outbox.id", msg.ID),
		attribute.String("messaging.destination", msg.Topic),
		attribute.String("order.id", msg.AggregateID),
	))
	defer span.End()

	var err error
	for attempt := 1; ; attempt++ {
		if err = w.publisher.Publish(ctx, msg); err == nil {
			w.metrics.RecordPublish(metrics.PublishSent)
			return nil
		}
		w.metrics.RecordPublish(metrics.PublishRetryError)
		if attempt >= w.settings.MaxAttempts {
			break
		}
		if waitErr := pause(ctx, w.backoff(attempt)); waitErr != nil {
			return waitErr
		}
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, "outbox publish exhausted")
	return fmt.Errorf("%w: %d attempts: %w", domain.ErrOutboxPublish, w.settings.MaxAttempts, err)
}

// backoff считает паузу перед повтором после attempt-й неудачи.
func (w *Worker) backoff(attempt int) time.Duration {
	base := w.settings.RetryDelay
	switch {
	case base <= 0:
		return 0
	case attempt > 16:
		return maxRetryDelay
	}
	return min(base<<(attempt-1), maxRetryDelay)
}

// giveUp переносит сообщение в DLQ, если он подключён, и помечает его failed.
func (w *Worker) giveUp(ctx context.Context, msg domain.OutboxMessage, cause error) {
	entry := w.logger.WithFields(log.Fields{
		"outbox_id":  msg.ID,
		"event_type": msg.EventType,
		"topic":      msg.Topic,
		"order_id":   msg.AggregateID,
	})
	entry.WithError(cause).Error("outbox message undeliverable")
	w.metrics.RecordPublish(metrics.PublishFailed)

	if err := w.deadLetter(ctx, msg, cause); err != nil {
		entry.WithError(err).Warn("dead letter publish failed")
		w.metrics.RecordPublish(metrics.PublishDLQFailed)
	}
	if err := w.repo.MarkFailed(ctx, msg.ID); err != nil {
		entry.WithError(err).Warn("mark outbox message failed")
	}
}

func (w *Worker) deadLetter(ctx context.Context, msg domain.OutboxMessage, cause error) error {
	if w.dlq == nil {
		return nil
	}
	topic := ""
	if w.dlqTopic != nil && msg.Topic != "" {
		topic = w.dlqTopic(msg.Topic)
	}

	letter, err := newDeadLetter(msg, cause, w.now()).envelope(topic, msg.CreatedAt)
	if err != nil {
		return err
	}
	if err := w.dlq.Publish(ctx, letter); err != nil {
		return fmt.Errorf("publish dead letter to %q: %w", topic, err)
	}
	return nil
}

func (w *Worker) observeBacklog(ctx context.Context) {
	if w.metrics == nil || ctx.Err() != nil {
		return
	}
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("collect outbox backlog stats")
		return
	}
	w.metrics.SetBacklog(stats.PendingCount, stats.OldestPendingAt, w.now())
}
