package domain

import "time"

// EventType — вид события саги; каждому виду соответствует свой топик.
type EventType string

// Исходящие события.
const (
	EventInventoryReductionRequested EventType = "inventory-reduction-request"
	EventInventoryRestockRequested   EventType = "inventory-restock-request"
	EventPaymentChargeRequested      EventType = "payment-charge-request"
	EventPaymentRefundRequested      EventType = "payment-refund-request"
	EventNotificationOrderPlaced     EventType = "notification-order-placed"
	EventNotificationOrderCancelled  EventType = "notification-order-cancelled"
	EventNotificationOrderReturned   EventType = "notification-order-returned"
	EventNotificationOrderConfirmed  EventType = "notification-order-confirmed"
	EventNotificationOrderShipped    EventType = "notification-order-shipped"
	EventNotificationOrderDelivered  EventType = "notification-order-delivered"
	EventOperatorAlert               EventType = "notification-operator-alert"
)

// Входящие события.
const (
	EventPaymentConfirmed           EventType = "payment-confirmed"
	EventPaymentFailed              EventType = "payment-failed"
	EventInventoryReserved          EventType = "inventory-reserved"
	EventInventoryReservationFailed EventType = "inventory-reservation-failed"
	EventRefundCompleted            EventType = "refund-completed"
	EventRefundFailed               EventType = "refund-failed"
	EventOrderShipped               EventType = "shipment-shipped"
	EventOrderDelivered             EventType = "shipment-delivered"
)

// NotificationKind различает уведомления покупателю.
type NotificationKind string

const (
	NotifyOrderPlaced    NotificationKind = "order-placed"
	NotifyOrderCancelled NotificationKind = "order-cancelled"
	NotifyOrderReturned  NotificationKind = "order-returned"
	NotifyOrderConfirmed NotificationKind = "order-confirmed"
	NotifyOrderShipped   NotificationKind = "order-shipped"
	NotifyOrderDelivered NotificationKind = "order-delivered"
)

// EventType возвращает тип события (и топик) для вида уведомления.
func (k NotificationKind) EventType() EventType {
	return EventType("notification-" + string(k))
}

// InventoryReductionRequested просит склад списать остатки под заказ.
type InventoryReductionRequested struct {
	OrderID     string         `json:"order_id"`
	Items       []ItemQuantity `json:"items"`
	RequestedAt time.Time      `json:"requested_at"`
}

// InventoryRestockRequested — компенсация: вернуть товары на склад.
type InventoryRestockRequested struct {
	OrderID     string         `json:"order_id"`
	Items       []ItemQuantity `json:"items"`
	RefundType  RefundType     `json:"refund_type"`
	RequestedAt time.Time      `json:"requested_at"`
}

// PaymentChargeRequested просит платёжный сервис списать сумму заказа.
type PaymentChargeRequested struct {
	OrderID      string    `json:"order_id"`
	UserID       string    `json:"user_id"`
	AmountMinor  int64     `json:"amount_minor"`
	Currency     string    `json:"currency"`
	PaymentToken string    `json:"payment_token"`
	RequestedAt  time.Time `json:"requested_at"`
}

// PaymentRefundRequested — компенсация оплаты; ReturnedItemIDs связывают ответ с записями аудита.
type PaymentRefundRequested struct {
	OrderID              string     `json:"order_id"`
	UserID               string     `json:"user_id"`
	PaymentTransactionID string     `json:"payment_transaction_id,omitempty"`
	AmountMinor          int64      `json:"amount_minor"`
	Currency             string     `json:"currency"`
	RefundType           RefundType `json:"refund_type"`
	FullRefund           bool       `json:"full_refund"`
	ReasonCode           string     `json:"reason_code"`
	ReturnedItemIDs      []string   `json:"returned_item_ids"`
	RequestedAt          time.Time  `json:"requested_at"`
}

// Notification сообщает покупателю о смене статуса заказа.
type Notification struct {
	Kind        NotificationKind `json:"kind"`
	OrderID     string           `json:"order_id"`
	UserID      string           `json:"user_id"`
	Status      OrderStatus      `json:"status"`
	AmountMinor int64            `json:"amount_minor,omitempty"`
	Currency    string           `json:"currency,omitempty"`
	Reason      string           `json:"reason,omitempty"`
	OccurredAt  time.Time        `json:"occurred_at"`
}

// OperatorAlert сообщает операторам, что заказ требует ручного разбора.
type OperatorAlert struct {
	OrderID         string    `json:"order_id"`
	Reason          string    `json:"reason"`
	ReturnedItemIDs []string  `json:"returned_item_ids,omitempty"`
	RaisedAt        time.Time `json:"raised_at"`
}

type PaymentConfirmed struct {
	OrderID              string    `json:"order_id"`
	PaymentTransactionID string    `json:"payment_transaction_id"`
	ConfirmedAt          time.Time `json:"confirmed_at"`
}

type PaymentFailed struct {
	OrderID  string    `json:"order_id"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}

type InventoryReserved struct {
	OrderID    string    `json:"order_id"`
	ReservedAt time.Time `json:"reserved_at"`
}

type InventoryReservationFailed struct {
	OrderID  string    `json:"order_id"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}

// RefundCompleted подтверждает возврат денег по перечисленным возвращённым позициям.
type RefundCompleted struct {
	OrderID             string     `json:"order_id"`
	RefundTransactionID string     `json:"refund_transaction_id"`
	AmountMinor         int64      `json:"amount_minor"`
	RefundType          RefundType `json:"refund_type"`
	ReturnedItemIDs     []string   `json:"returned_item_ids"`
	RefundedAt          time.Time  `json:"refunded_at"`
}

// RefundFailed сообщает, что возврат денег не удался.
type RefundFailed struct {
	OrderID         string     `json:"order_id"`
	RefundType      RefundType `json:"refund_type"`
	ReturnedItemIDs []string   `json:"returned_item_ids"`
	Reason          string     `json:"reason"`
	FailedAt        time.Time  `json:"failed_at"`
}

type OrderShipped struct {
	OrderID        string    `json:"order_id"`
	TrackingNumber string    `json:"tracking_number,omitempty"`
	Carrier        string    `json:"carrier,omitempty"`
	ShippedAt      time.Time `json:"shipped_at"`
}

type OrderDelivered struct {
	OrderID     string    `json:"order_id"`
	DeliveredAt time.Time `json:"delivered_at"`
}
