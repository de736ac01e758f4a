package outbox

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/lu-lu-xue/OrderManagement/internal/domain"
	"github.com/lu-lu-xue/OrderManagement/internal/metrics"
)

const (
	defaultPollInterval    = time.Second
	defaultBatchSize       = 100
	defaultMaxAttempts     = 3
	maxRetryDelay          = 30 * time.Second
	defaultCleanupInterval = 10 * time.Minute
	defaultCleanupBatch    = 500
	defaultRetention       = 72 * time.Hour
)

// Settings — параметры доставки и очистки outbox. Неположительные значения
// заменяются значениями по умолчанию; RetryDelay=0 означает повтор без паузы.
type Settings struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	RetryDelay   time.Duration

	CleanupInterval time.Duration
	CleanupBatch    int
	// Сколько хранить sent/failed сообщения после последнего обновления.
	Retention time.Duration
}

func (s Settings) withDefaults() Settings {
	s.PollInterval = positiveOr(s.PollInterval, defaultPollInterval)
	s.BatchSize = positiveOr(s.BatchSize, defaultBatchSize)
	s.MaxAttempts = positiveOr(s.MaxAttempts, defaultMaxAttempts)
	s.RetryDelay = max(s.RetryDelay, 0)
	s.CleanupInterval = positiveOr(s.CleanupInterval, defaultCleanupInterval)
	s.CleanupBatch = positiveOr(s.CleanupBatch, defaultCleanupBatch)
	s.Retention = positiveOr(s.Retention, defaultRetention)
	return s
}

func positiveOr[T int | time.Duration](v, fallback T) T {
	if v <= 0 {
		return fallback
	}
	return v
}

// Общие зависимости воркеров пакета.
type deps struct {
	logger   *log.Entry
	metrics  *metrics.OutboxMetrics
	dlq      domain.OutboxPublisher
	dlqTopic func(topic string) string
}

// Option настраивает Worker и CleanupWorker.
type Option func(*deps)

func WithLogger(logger *log.Entry) Option {
	return func(d *deps) { d.logger = logger }
}

// WithMetrics подключает метрики outbox; nil отключает их.
func WithMetrics(m *metrics.OutboxMetrics) Option {
	return func(d *deps) { d.metrics = m }
}

// WithDeadLetters включает перенос сообщений, для которых кончились попытки.
// topic вычисляет DLQ-топик по исходному; nil оставляет топик выбору publisher.
func WithDeadLetters(publisher domain.OutboxPublisher, topic func(string) string) Option {
	return func(d *deps) {
		d.dlq = publisher
		d.dlqTopic = topic
	}
}

func collectDeps(component string, options []Option) deps {
	var d deps
	for _, option := range options {
		option(&d)
	}
	if d.logger == nil {
		d.logger = log.WithField("component", component)
	}
	return d
}

// poll вызывает fn сразу и затем через interval после каждого завершения, пока ctx жив.
func poll(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	for {
		fn(ctx)

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// pause ждёт d или отмены ctx.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
