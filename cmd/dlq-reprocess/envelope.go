package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/IBM/sarama"

	"github.com/lu-lu-xue/OrderManagement/internal/messaging/kafka"
	"github.com/lu-lu-xue/OrderManagement/internal/service/outbox"
)

var errUnknownEnvelope = errors.New("message is neither a consumer nor an outbox dead letter")

type replayMessage struct {
	topic   string
	key     string
	value   []byte
	headers map[string]string
}

// decodeEnvelope понимает оба формата DLQ: kafka.DeadLetter пишет consumer после
// исчерпания повторов, outbox.DeadLetter пишет outbox worker.
func decodeEnvelope(msg *sarama.ConsumerMessage, cfg config) (replayMessage, error) {
	var letter kafka.DeadLetter
	if json.Unmarshal(msg.Value, &letter) == nil && letter.OriginalValue != "" {
		return replayMessage{
			topic: pick(cfg.targetTopic, letter.SourceTopic(msg.Topic, cfg.dlqSuffix)),
			key:   letter.OriginalKey,
			value: []byte(letter.OriginalValue),
			// счётчик сбрасывается, чтобы consumer снова дал сообщению полный бюджет повторов
			headers: map[string]string{kafka.HeaderRetryCount: "0"},
		}, nil
	}

	var record outbox.DeadLetter
	if err := json.Unmarshal(msg.Value, &record); err != nil || record.OutboxID == "" {
		return replayMessage{}, errUnknownEnvelope
	}
	if len(record.Payload) == 0 || string(record.Payload) == "null" {
		return replayMessage{}, fmt.Errorf("outbox dead letter %s: empty payload", record.OutboxID)
	}

	topic := pick(cfg.targetTopic, record.Topic)
	if topic == "" && cfg.dlqSuffix != "" && strings.HasSuffix(msg.Topic, cfg.dlqSuffix) {
		topic = strings.TrimSuffix(msg.Topic, cfg.dlqSuffix)
	}
	if topic == "" {
		return replayMessage{}, fmt.Errorf("outbox dead letter %s: no target topic", record.OutboxID)
	}

	return replayMessage{
		topic: topic,
		key:   pick(record.AggregateID, record.OutboxID),
		value: record.Payload,
		headers: map[string]string{
			kafka.HeaderEventType: record.EventType,
			kafka.HeaderMessageID: record.OutboxID,
		},
	}, nil
}

func pick(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
