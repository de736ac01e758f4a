package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/lu-lu-xue/OrderManagement/internal/domain"
)

const defaultCheckTimeout = 2 * time.Second

// PingChecker вызывает ping с собственным таймаутом поверх ctx запроса.
type PingChecker struct {
	name    string
	timeout time.Duration
	ping    func(ctx context.Context) error
}

// NewPingChecker проверяет через функцию вида Store.Ping; timeout <= 0 заменяется двумя секундами.
func NewPingChecker(name string, timeout time.Duration, ping func(ctx context.Context) error) *PingChecker {
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	return &PingChecker{name: name, timeout: timeout, ping: ping}
}

// NewSimpleChecker оборачивает проверку без контекста, например флаг готовности в памяти.
func NewSimpleChecker(name string, fn func() error) *PingChecker {
	return NewPingChecker(name, 0, func(context.Context) error { return fn() })
}

func (c *PingChecker) Check(ctx context.Context) Check {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return measure(c.name, func() (string, error) { return "", c.ping(ctx) })
}

// measure заполняет статус и длительность по результату fn. note пишется в
// Message только у успешной проверки.
func measure(name string, fn func() (note string, err error)) Check {
	started := time.Now()
	note, err := fn()

	check := Check{Name: name, Status: StatusHealthy, Message: note, DurationMs: time.Since(started).Milliseconds()}
	if err != nil {
		check.Status, check.Message = StatusUnhealthy, err.Error()
	}
	return check
}

// NewKafkaChecker проверяет, что кластер отвечает хотя бы одним брокером.
func NewKafkaChecker(brokers []string, timeout time.Duration) *PingChecker {
	return NewPingChecker("kafka", timeout, func(ctx context.Context) error {
		cfg := sarama.NewConfig()
		if deadline, ok := ctx.Deadline(); ok {
			cfg.Net.DialTimeout = time.Until(deadline)
		}
		cfg.Metadata.Retry.Max = 0

		client, err := sarama.NewClient(brokers, cfg)
		if err != nil {
			return fmt.Errorf("kafka brokers unreachable: %w", err)
		}
		defer client.Close()

		if len(client.Brokers()) == 0 {
			return errors.New("kafka cluster reports no brokers")
		}
		return nil
	})
}

// OutboxBacklogChecker падает, когда самое старое неотправленное сообщение
// ждёт дольше maxAge. maxAge <= 0 отключает порог.
type OutboxBacklogChecker struct {
	stats   func(ctx context.Context) (domain.OutboxStats, error)
	maxAge  time.Duration
	timeout time.Duration
	now     func() time.Time
}

func NewOutboxBacklogChecker(repo domain.OutboxRepository, maxAge time.Duration) *OutboxBacklogChecker {
	return &OutboxBacklogChecker{
		stats:   repo.Stats,
		maxAge:  maxAge,
		timeout: defaultCheckTimeout,
		now:     time.Now,
	}
}

func (c *OutboxBacklogChecker) Check(ctx context.Context) Check {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	return measure("outbox", func() (string, error) {
		stats, err := c.stats(ctx)
		switch {
		case err != nil:
			return "", fmt.Errorf("outbox stats: %w", err)
		case stats.PendingCount == 0:
			return "", nil
		}
		if age := c.now().Sub(stats.OldestPendingAt); c.maxAge > 0 && !stats.OldestPendingAt.IsZero() && age > c.maxAge {
			return "", fmt.Errorf("%d pending messages, oldest waits %s", stats.PendingCount, age.Truncate(time.Second))
		}
		return fmt.Sprintf("%d pending messages", stats.PendingCount), nil
	})
}
