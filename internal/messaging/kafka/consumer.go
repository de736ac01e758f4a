package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const (
	defaultRetryDelay = 100 * time.Millisecond
	defaultMaxRetries = 3
	maxRetryDelay     = time.Minute
)

// MessageHandler обрабатывает одно входящее сообщение. Ошибка означает «повторить».
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// DeadLetterSender принимает сообщения, для которых исчерпаны повторы.
type DeadLetterSender interface {
	Send(topic, key string, value []byte, headers map[string]string) error
}

// ConsumerConfig описывает подписку consumer group на входящие события саги.
type ConsumerConfig struct {
	Brokers          []string
	GroupID          string
	Topics           []string
	MaxRetries       int
	RetryDelay       time.Duration
	DeadLetterSuffix string
}

// retryPolicy удваивает задержку от base, но не больше maxRetryDelay.
type retryPolicy struct {
	max  int
	base time.Duration
}

func (p retryPolicy) delay(attempt int) time.Duration {
	if p.base <= 0 {
		return 0
	}
	d := p.base
	for i := 0; i < attempt && d < maxRetryDelay; i++ {
		d *= 2
	}
	return min(d, maxRetryDelay)
}

// Consumer читает входящие топики и передаёт сообщения в MessageHandler.
// Offset коммитится только после успешной обработки или публикации в DLQ.
type Consumer struct {
	group  sarama.ConsumerGroup
	topics []string
	handle MessageHandler
	dlq    DeadLetterSender
	routes Topics
	retry  retryPolicy
	logger *log.Entry
	now    func() time.Time
	wg     sync.WaitGroup
}

// NewConsumer подключается к брокерам. dlq может быть nil: тогда сообщение
// без шансов на обработку останавливает сессию и будет перечитано.
func NewConsumer(cfg ConsumerConfig, handler MessageHandler, dlq DeadLetterSender, logger *log.Entry) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka consumer: no brokers")
	}
	if cfg.GroupID == "" {
		return nil, errors.New("kafka consumer: empty group id")
	}

	sc := sarama.NewConfig()
	sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	sc.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, sc)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: join group %s: %w", cfg.GroupID, err)
	}
	return newConsumer(group, cfg, handler, dlq, logger), nil
}

func newConsumer(group sarama.ConsumerGroup, cfg ConsumerConfig, handler MessageHandler, dlq DeadLetterSender, logger *log.Entry) *Consumer {
	if logger == nil {
		logger = log.WithField("component", "kafka-consumer")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	return &Consumer{
		group:  group,
		topics: cfg.Topics,
		handle: handler,
		dlq:    dlq,
		routes: Topics{DeadLetterSuffix: cfg.DeadLetterSuffix},
		retry:  retryPolicy{max: cfg.MaxRetries, base: cfg.RetryDelay},
		logger: logger,
		now:    time.Now,
	}
}

// Start запускает чтение в фоне и сразу возвращает управление.
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		// Consume возвращается на каждом rebalance
		for ctx.Err() == nil {
			if err := c.group.Consume(ctx, c.topics, c); err != nil {
				c.logger.WithError(err).Error("consumer group session ended with error")
			}
		}
	}()
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			c.logger.WithError(err).Error("consumer group error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// Stop закрывает группу и дожидается фоновых горутин.
func (c *Consumer) Stop() error {
	if err := c.group.Close(); err != nil {
		return fmt.Errorf("kafka consumer: close: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error { return nil }

func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim читает партицию по порядку. Если сообщение не удалось ни обработать,
// ни отправить в DLQ, сессия завершается без коммита и сообщение придёт повторно.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			if err := c.process(ctx, message); err != nil {
				c.logger.WithError(err).WithFields(messageFields(message)).Error("message left uncommitted")
				return fmt.Errorf("%s/%d@%d: %w", message.Topic, message.Partition, message.Offset, err)
			}
			session.MarkMessage(message, "")
		}
	}
}

// process вызывает обработчик, пока не кончится бюджет повторов. Попытки, сделанные
// до переотправки сообщения, берутся из заголовка x-retry-count.
func (c *Consumer) process(ctx context.Context, message *sarama.ConsumerMessage) error {
	attempts := retryCountHeader(message)
	for n := 0; ; n++ {
		err := c.handle(ctx, message)
		if err == nil {
			return nil
		}
		attempts++
		if attempts >= c.retry.max {
			return c.deadLetter(message, err, attempts)
		}

		c.logger.WithError(err).WithFields(messageFields(message)).
			WithField("attempt", attempts).Warn("message handling failed, retrying")
		if d := c.retry.delay(n); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
}

func (c *Consumer) deadLetter(message *sarama.ConsumerMessage, cause error, attempts int) error {
	if c.dlq == nil {
		return cause
	}
	attempts = max(attempts, c.retry.max)
	failedAt := c.now().UTC()

	data, err := marshalDeadLetter(DeadLetter{
		OriginalTopic:     message.Topic,
		OriginalPartition: message.Partition,
		OriginalOffset:    message.Offset,
		OriginalKey:       string(message.Key),
		OriginalValue:     string(message.Value),
		ErrorMessage:      cause.Error(),
		RetryCount:        attempts,
		FailedAt:          failedAt,
	})
	if err != nil {
		return err
	}

	topic := c.routes.DeadLetter(message.Topic)
	err = c.dlq.Send(topic, string(message.Key), data, map[string]string{
		HeaderOriginalTopic: message.Topic,
		HeaderErrorMessage:  cause.Error(),
		HeaderFailedAt:      failedAt.Format(time.RFC3339),
		HeaderRetryCount:    strconv.Itoa(attempts),
	})
	if err != nil {
		return fmt.Errorf("dead letter to %s: %w", topic, err)
	}

	c.logger.WithFields(messageFields(message)).WithFields(log.Fields{
		"dlq_topic": topic,
		"attempts":  attempts,
	}).Warn("message moved to dead letter topic")
	return nil
}

func retryCountHeader(message *sarama.ConsumerMessage) int {
	for _, h := range message.Headers {
		if h != nil && string(h.Key) == HeaderRetryCount {
			if n, err := strconv.Atoi(string(h.Value)); err == nil && n > 0 {
				return n
			}
		}
	}
	return 0
}

func messageFields(message *sarama.ConsumerMessage) log.Fields {
	return log.Fields{
		"topic":     message.Topic,
		"partition": message.Partition,
		"offset":    message.Offset,
		"key":       string(message.Key),
	}
}
