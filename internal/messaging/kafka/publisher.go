package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/lu-lu-xue/OrderManagement/internal/domain"
)

const orderAggregate = "order"

// EventPublisher кладёт исходящие события саги в transactional outbox.
// Если ctx несёт транзакцию, запись попадает в неё вместе с изменением заказа;
// в брокер сообщения доставляет outbox worker.
type EventPublisher struct {
	outbox domain.OutboxRepository
	topics Topics
	logger *log.Entry
}

// NewEventPublisher создаёт publisher поверх outbox-репозитория.
func NewEventPublisher(outbox domain.OutboxRepository, topics Topics, logger *log.Entry) *EventPublisher {
	if logger == nil {
		logger = log.WithField("component", "event-publisher")
	}
	return &EventPublisher{
		outbox: outbox,
		topics: topics.WithDefaults(),
		logger: logger,
	}
}

func (p *EventPublisher) RequestReduction(ctx context.Context, evt domain.InventoryReductionRequested) error {
	return p.enqueue(ctx, domain.EventInventoryReductionRequested, evt.OrderID, evt)
}

func (p *EventPublisher) RequestRestock(ctx context.Context, evt domain.InventoryRestockRequested) error {
	return p.enqueue(ctx, domain.EventInventoryRestockRequested, evt.OrderID, evt)
}

func (p *EventPublisher) RequestCharge(ctx context.Context, evt domain.PaymentChargeRequested) error {
	return p.enqueue(ctx, domain.EventPaymentChargeRequested, evt.OrderID, evt)
}

func (p *EventPublisher) RequestRefund(ctx context.Context, evt domain.PaymentRefundRequested) error {
	return p.enqueue(ctx, domain.EventPaymentRefundRequested, evt.OrderID, evt)
}

func (p *EventPublisher) Notify(ctx context.Context, n domain.Notification) error {
	return p.enqueue(ctx, n.Kind.EventType(), n.OrderID, n)
}

func (p *EventPublisher) AlertOperators(ctx context.Context, alert domain.OperatorAlert) error {
	return p.enqueue(ctx, domain.EventOperatorAlert, alert.OrderID, alert)
}

func (p *EventPublisher) enqueue(ctx context.Context, eventType domain.EventType, orderID string, payload any) error {
	topic := p.topics.For(eventType)
	if topic == "" {
		return fmt.Errorf("no topic configured for %s", eventType)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", eventType, err)
	}

	msg, err := p.outbox.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: orderAggregate,
		AggregateID:   orderID,
		EventType:     string(eventType),
		Topic:         topic,
		Payload:       data,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", eventType, err)
	}

	p.logger.WithFields(log.Fields{
		"order_id":  orderID,
		"event":     eventType,
		"topic":     topic,
		"outbox_id": msg.ID,
	}).Debug("event enqueued")
	return nil
}

var (
	_ domain.InventoryPublisher    = (*EventPublisher)(nil)
	_ domain.PaymentPublisher      = (*EventPublisher)(nil)
	_ domain.NotificationPublisher = (*EventPublisher)(nil)
)
