package kafka

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Kafka headers для retry и DLQ
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
	HeaderEventType     = "x-event-type"
	HeaderMessageID     = "x-message-id"
	HeaderAggregateType = "x-aggregate-type"
	HeaderCreatedAt     = "x-created-at"
)

// DeadLetter — конверт сообщения, которое не удалось обработать.
type DeadLetter struct {
	OriginalTopic     string    `json:"original_topic"`
	OriginalPartition int32     `json:"original_partition"`
	OriginalOffset    int64     `json:"original_offset"`
	OriginalKey       string    `json:"original_key"`
	OriginalValue     string    `json:"original_value"`
	ErrorMessage      string    `json:"error_message"`
	RetryCount        int       `json:"retry_count"`
	FailedAt          time.Time `json:"failed_at"`
}

// SourceTopic возвращает исходный топик DLQ-конверта. Для старых конвертов без
// original_topic имя выводится из DLQ-топика отбрасыванием суффикса.
func (d DeadLetter) SourceTopic(dlqTopic, suffix string) string {
	if d.OriginalTopic != "" {
		return d.OriginalTopic
	}
	if suffix == "" {
		suffix = defaultDeadLetterSuffix
	}
	return strings.TrimSuffix(dlqTopic, suffix)
}

func marshalDeadLetter(letter DeadLetter) ([]byte, error) {
	data, err := json.Marshal(letter)
	if err != nil {
		return nil, fmt.Errorf("marshal dead letter: %w", err)
	}
	return data, nil
}
