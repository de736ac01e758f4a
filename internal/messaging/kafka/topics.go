package kafka

import "github.com/lu-lu-xue/OrderManagement/internal/domain"

const defaultDeadLetterSuffix = ".dlq"

// Topics — имена топиков по видам событий. Пустое поле означает имя по умолчанию
// (совпадает с типом события).
type Topics struct {
	InventoryReduction string `mapstructure:"inventory_reduction"`
	InventoryRestock   string `mapstructure:"inventory_restock"`
	PaymentCharge      string `mapstructure:"payment_charge"`
	PaymentRefund      string `mapstructure:"payment_refund"`
	NotificationPrefix string `mapstructure:"notification_prefix"`
	OperatorAlert      string `mapstructure:"operator_alert"`

	PaymentConfirmed           string `mapstructure:"payment_confirmed"`
	PaymentFailed              string `mapstructure:"payment_failed"`
	InventoryReserved          string `mapstructure:"inventory_reserved"`
	InventoryReservationFailed string `mapstructure:"inventory_reservation_failed"`
	RefundCompleted            string `mapstructure:"refund_completed"`
	RefundFailed               string `mapstructure:"refund_failed"`
	OrderShipped               string `mapstructure:"order_shipped"`
	OrderDelivered             string `mapstructure:"order_delivered"`

	DeadLetterSuffix string `mapstructure:"dead_letter_suffix"`
}

// DefaultTopics возвращает раскладку топиков, с которой работают соседние сервисы.
func DefaultTopics() Topics {
	return Topics{
		InventoryReduction: string(domain.EventInventoryReductionRequested),
		InventoryRestock:   string(domain.EventInventoryRestockRequested),
		PaymentCharge:      string(domain.EventPaymentChargeRequested),
		PaymentRefund:      string(domain.EventPaymentRefundRequested),
		NotificationPrefix: "notification-",
		OperatorAlert:      string(domain.EventOperatorAlert),

		PaymentConfirmed:           string(domain.EventPaymentConfirmed),
		PaymentFailed:              string(domain.EventPaymentFailed),
		InventoryReserved:          string(domain.EventInventoryReserved),
		InventoryReservationFailed: string(domain.EventInventoryReservationFailed),
		RefundCompleted:            "payment-refund-done",
		RefundFailed:               "payment-refund-failed",
		OrderShipped:               string(domain.EventOrderShipped),
		OrderDelivered:             string(domain.EventOrderDelivered),

		DeadLetterSuffix: defaultDeadLetterSuffix,
	}
}

// WithDefaults заполняет пустые поля значениями DefaultTopics.
func (t Topics) WithDefaults() Topics {
	d := DefaultTopics()
	fill := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	fill(&t.InventoryReduction, d.InventoryReduction)
	fill(&t.InventoryRestock, d.InventoryRestock)
	fill(&t.PaymentCharge, d.PaymentCharge)
	fill(&t.PaymentRefund, d.PaymentRefund)
	fill(&t.NotificationPrefix, d.NotificationPrefix)
	fill(&t.OperatorAlert, d.OperatorAlert)
	fill(&t.PaymentConfirmed, d.PaymentConfirmed)
	fill(&t.PaymentFailed, d.PaymentFailed)
	fill(&t.InventoryReserved, d.InventoryReserved)
	fill(&t.InventoryReservationFailed, d.InventoryReservationFailed)
	fill(&t.RefundCompleted, d.RefundCompleted)
	fill(&t.RefundFailed, d.RefundFailed)
	fill(&t.OrderShipped, d.OrderShipped)
	fill(&t.OrderDelivered, d.OrderDelivered)
	fill(&t.DeadLetterSuffix, d.DeadLetterSuffix)
	return t
}

// For возвращает топик для исходящего события. Пустая строка означает неизвестный тип.
func (t Topics) For(eventType domain.EventType) string {
	switch eventType {
	case domain.EventInventoryReductionRequested:
		return t.InventoryReduction
	case domain.EventInventoryRestockRequested:
		return t.InventoryRestock
	case domain.EventPaymentChargeRequested:
		return t.PaymentCharge
	case domain.EventPaymentRefundRequested:
		return t.PaymentRefund
	case domain.EventOperatorAlert:
		return t.OperatorAlert
	case domain.EventNotificationOrderPlaced,
		domain.EventNotificationOrderCancelled,
		domain.EventNotificationOrderReturned,
		domain.EventNotificationOrderConfirmed,
		domain.EventNotificationOrderShipped,
		domain.EventNotificationOrderDelivered:
		return t.NotificationPrefix + string(eventType)[len("notification-"):]
	default:
		return ""
	}
}

// Inbound возвращает соответствие «топик → тип входящего события».
func (t Topics) Inbound() map[string]domain.EventType {
	return map[string]domain.EventType{
		t.PaymentConfirmed:           domain.EventPaymentConfirmed,
		t.PaymentFailed:              domain.EventPaymentFailed,
		t.InventoryReserved:          domain.EventInventoryReserved,
		t.InventoryReservationFailed: domain.EventInventoryReservationFailed,
		t.RefundCompleted:            domain.EventRefundCompleted,
		t.RefundFailed:               domain.EventRefundFailed,
		t.OrderShipped:               domain.EventOrderShipped,
		t.OrderDelivered:             domain.EventOrderDelivered,
	}
}

// InboundTopics — список топиков для подписки consumer group.
func (t Topics) InboundTopics() []string {
	return []string{
		t.PaymentConfirmed,
		t.PaymentFailed,
		t.InventoryReserved,
		t.InventoryReservationFailed,
		t.RefundCompleted,
		t.RefundFailed,
		t.OrderShipped,
		t.OrderDelivered,
	}
}

// DeadLetter возвращает DLQ-топик для исходного топика.
func (t Topics) DeadLetter(topic string) string {
	suffix := t.DeadLetterSuffix
	if suffix == "" {
		suffix = defaultDeadLetterSuffix
	}
	return topic + suffix
}
