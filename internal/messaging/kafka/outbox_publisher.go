package kafka

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/lu-lu-xue/OrderManagement/internal/domain"
)

var errNoProducer = errors.New("kafka outbox publisher: producer is not initialized")

// sender описывает то, что паблишеру нужно от Producer.
type sender interface {
	Send(topic, key string, value []byte, headers map[string]string) error
}

// OutboxTopicPublisher отправляет outbox-сообщение в его собственный топик.
// Сообщение без топика уходит в fallback (DLQ outbox worker'а), иначе возвращается ошибка.
type OutboxTopicPublisher struct {
	producer sender
	fallback string
	// propagator по умолчанию — глобальный из telemetry.Init.
	propagator propagation.TextMapPropagator
}

func NewOutboxPublisher(producer *Producer, fallbackTopic string) *OutboxTopicPublisher {
	p := &OutboxTopicPublisher{fallback: fallbackTopic}
	if producer != nil {
		p.producer = producer
	}
	return p
}

// Publish кладёт payload без изменений. Ключ — id агрегата, чтобы события одного
// заказа шли в одну партицию; trace context уходит в заголовках.
func (p *OutboxTopicPublisher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errNoProducer
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	topic := cmp.Or(msg.Topic, p.fallback)
	if topic == "" {
		return fmt.Errorf("outbox message %s: no topic", msg.ID)
	}
	return p.producer.Send(topic, cmp.Or(msg.AggregateID, msg.ID), msg.Payload, p.headers(ctx, msg))
}

func (p *OutboxTopicPublisher) headers(ctx context.Context, msg domain.OutboxMessage) map[string]string {
	headers := propagation.MapCarrier{
		HeaderEventType: msg.EventType,
		HeaderMessageID: msg.ID,
	}
	if msg.AggregateType != "" {
		headers[HeaderAggregateType] = msg.AggregateType
	}
	if !msg.CreatedAt.IsZero() {
		headers[HeaderCreatedAt] = msg.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	propagator := p.propagator
	if propagator == nil {
		propagator = otel.GetTextMapPropagator()
	}
	propagator.Inject(ctx, headers)
	return headers
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
