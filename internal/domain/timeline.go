package domain

import "time"

// TimelineEvent — строка журнала заказа: в какой статус он перешёл, когда и почему.
// Type хранит статус строкой, чтобы журнал читался без знания перечисления.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}

// NewStatusEvent — запись таймлайна о смене статуса.
func NewStatusEvent(orderID string, status OrderStatus, reason string, at time.Time) TimelineEvent {
	return TimelineEvent{OrderID: orderID, Type: string(status), Reason: reason, Occurred: at.UTC()}
}

// Status возвращает статус, в который перешёл заказ.
func (e TimelineEvent) Status() OrderStatus { return OrderStatus(e.Type) }

// OccursAfter задаёт порядок журнала по времени; равные времена остаются в порядке записи.
func (e TimelineEvent) OccursAfter(other TimelineEvent) bool {
	return e.Occurred.After(other.Occurred)
}
