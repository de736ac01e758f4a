package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lu-lu-xue/OrderManagement/internal/domain"
)

// DeadLetter — запись, которую worker кладёт в DLQ-топик, исчерпав попытки публикации.
// Payload хранит исходное событие без изменений, Topic — топик, куда оно не дошло.
type DeadLetter struct {
	OutboxID       string          `json:"outbox_id"`
	Topic          string          `json:"topic"`
	AggregateType  string          `json:"aggregate_type"`
	AggregateID    string          `json:"aggregate_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	PublishError   string          `json:"publish_error"`
	DLQPublishedAt time.Time       `json:"dlq_published_at"`
}

func newDeadLetter(msg domain.OutboxMessage, cause error, at time.Time) DeadLetter {
	return DeadLetter{
		OutboxID:       msg.ID,
		Topic:          msg.Topic,
		AggregateType:  msg.AggregateType,
		AggregateID:    msg.AggregateID,
		EventType:      msg.EventType,
		Payload:        json.RawMessage(msg.Payload),
		PublishError:   cause.Error(),
		DLQPublishedAt: at.UTC(),
	}
}

// envelope упаковывает запись в сообщение для DLQ-топика topic. Ключ партиционирования
// и id остаются исходными, чтобы письма одного заказа шли по порядку.
func (d DeadLetter) envelope(topic string, createdAt time.Time) (domain.OutboxMessage, error) {
	payload, err := json.Marshal(d)
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("marshal dead letter %s: %w", d.OutboxID, err)
	}
	return domain.OutboxMessage{
		ID:            d.OutboxID,
		AggregateType: d.AggregateType,
		AggregateID:   d.AggregateID,
		EventType:     d.EventType,
		Topic:         topic,
		Payload:       payload,
		CreatedAt:     createdAt,
	}, nil
}
