package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/lu-lu-xue/OrderManagement/internal/domain"
)

// EventHandler объединяет продолжения саги, по одному на каждый вид входящего события.
// Возвращённая ошибка означает «повторить»; ошибки, которые повторять бессмысленно,
// обработчик обязан погасить сам.
type EventHandler interface {
	HandlePaymentConfirmed(ctx context.Context, evt domain.PaymentConfirmed) error
	HandlePaymentFailed(ctx context.Context, evt domain.PaymentFailed) error
	HandleInventoryReserved(ctx context.Context, evt domain.InventoryReserved) error
	HandleInventoryReservationFailed(ctx context.Context, evt domain.InventoryReservationFailed) error
	HandleRefundCompleted(ctx context.Context, evt domain.RefundCompleted) error
	HandleRefundFailed(ctx context.Context, evt domain.RefundFailed) error
	HandleOrderShipped(ctx context.Context, evt domain.OrderShipped) error
	HandleOrderDelivered(ctx context.Context, evt domain.OrderDelivered) error
}

// Router разбирает сообщение по топику и передаёт его нужному обработчику.
type Router struct {
	handler EventHandler
	inbound map[string]domain.EventType
	logger  *log.Entry
}

// NewRouter создаёт маршрутизатор входящих событий.
func NewRouter(handler EventHandler, topics Topics, logger *log.Entry) *Router {
	if logger == nil {
		logger = log.WithField("component", "kafka-router")
	}
	return &Router{
		handler: handler,
		inbound: topics.WithDefaults().Inbound(),
		logger:  logger,
	}
}

// Handle реализует MessageHandler. Нераспознанные и битые сообщения отбрасываются:
// повтор их не исправит.
func (r *Router) Handle(ctx context.Context, message *sarama.ConsumerMessage) error {
	eventType, ok := r.inbound[message.Topic]
	if !ok {
		r.logger.WithField("topic", message.Topic).Warn("message from unknown topic dropped")
		return nil
	}

	ctx, span := otel.Tracer("order-saga").Start(ctx, "saga."+string(eventType))
	defer span.End()
	span.SetAttributes(
		attribute.String("messaging.destination", message.Topic),
		attribute.Int64("messaging.kafka.offset", message.Offset),
	)

	err := r.dispatch(ctx, eventType, message.Value)
	if err == nil {
		return nil
	}
	if isMalformed(err) {
		r.logger.WithError(err).WithFields(log.Fields{
			"topic":  message.Topic,
			"event":  eventType,
			"offset": message.Offset,
		}).Error("malformed event dropped")
		span.SetStatus(codes.Error, "malformed event")
		return nil
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func (r *Router) dispatch(ctx context.Context, eventType domain.EventType, value []byte) error {
	switch eventType {
	case domain.EventPaymentConfirmed:
		evt, err := decode[domain.PaymentConfirmed](value, func(e domain.PaymentConfirmed) string { return e.OrderID })
		if err != nil {
			return err
		}
		return r.handler.HandlePaymentConfirmed(ctx, evt)
	case domain.EventPaymentFailed:
		evt, err := decode[domain.PaymentFailed](value, func(e domain.PaymentFailed) string { return e.OrderID })
		if err != nil {
			return err
		}
		return r.handler.HandlePaymentFailed(ctx, evt)
	case domain.EventInventoryReserved:
		evt, err := decode[domain.InventoryReserved](value, func(e domain.InventoryReserved) string { return e.OrderID })
		if err != nil {
			return err
		}
		return r.handler.HandleInventoryReserved(ctx, evt)
	case domain.EventInventoryReservationFailed:
		evt, err := decode[domain.InventoryReservationFailed](value, func(e domain.InventoryReservationFailed) string { return e.OrderID })
		if err != nil {
			return err
		}
		return r.handler.HandleInventoryReservationFailed(ctx, evt)
	case domain.EventRefundCompleted:
		evt, err := decode[domain.RefundCompleted](value, func(e domain.RefundCompleted) string { return e.OrderID })
		if err != nil {
			return err
		}
		if !evt.RefundType.Valid() {
			return fmt.Errorf("%w: %w %q", domain.ErrMalformedEvent, domain.ErrUnknownRefundType, evt.RefundType)
		}
		return r.handler.HandleRefundCompleted(ctx, evt)
	case domain.EventRefundFailed:
		evt, err := decode[domain.RefundFailed](value, func(e domain.RefundFailed) string { return e.OrderID })
		if err != nil {
			return err
		}
		return r.handler.HandleRefundFailed(ctx, evt)
	case domain.EventOrderShipped:
		evt, err := decode[domain.OrderShipped](value, func(e domain.OrderShipped) string { return e.OrderID })
		if err != nil {
			return err
		}
		return r.handler.HandleOrderShipped(ctx, evt)
	case domain.EventOrderDelivered:
		evt, err := decode[domain.OrderDelivered](value, func(e domain.OrderDelivered) string { return e.OrderID })
		if err != nil {
			return err
		}
		return r.handler.HandleOrderDelivered(ctx, evt)
	default:
		return fmt.Errorf("%w: no route for %s", domain.ErrMalformedEvent, eventType)
	}
}

// decode разбирает JSON и проверяет, что событие ссылается на заказ.
func decode[T any](value []byte, orderID func(T) string) (T, error) {
	var evt T
	if err := json.Unmarshal(value, &evt); err != nil {
		return evt, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}
	if orderID(evt) == "" {
		return evt, fmt.Errorf("%w: order_id is missing", domain.ErrMalformedEvent)
	}
	return evt, nil
}

func isMalformed(err error) bool {
	return err != nil && errors.Is(err, domain.ErrMalformedEvent)
}
