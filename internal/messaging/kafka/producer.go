package kafka

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// Producer — синхронный producer саги. Outbox worker и DLQ ждут подтверждения
// брокера, прежде чем пометить сообщение отправленным.
type Producer struct {
	producer sarama.SyncProducer
	logger   *log.Entry
	now      func() time.Time
}

type producerSettings struct {
	clientID   string
	maxRetries int
	logger     *log.Entry
}

// ProducerOption настраивает NewProducer.
type ProducerOption func(*producerSettings)

// WithClientID задаёт client.id, под которым producer виден в метриках брокера.
func WithClientID(id string) ProducerOption {
	return func(s *producerSettings) {
		if id != "" {
			s.clientID = id
		}
	}
}

// WithProducerRetries ограничивает повторы sarama на уровне одного сообщения.
func WithProducerRetries(n int) ProducerOption {
	return func(s *producerSettings) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

func WithProducerLogger(logger *log.Entry) ProducerOption {
	return func(s *producerSettings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewProducer подключается к брокерам. Идемпотентный producer с acks=all
// не даёт дублей при повторах sarama и сохраняет порядок внутри партиции.
func NewProducer(brokers []string, opts ...ProducerOption) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka producer: no brokers")
	}
	settings := producerSettings{
		clientID:   "order-service",
		maxRetries: 5,
		logger:     log.WithField("component", "kafka-producer"),
	}
	for _, opt := range opts {
		opt(&settings)
	}

	cfg := sarama.NewConfig()
	cfg.ClientID = settings.clientID
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = settings.maxRetries
	cfg.Producer.Return.Successes = true
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1

	sp, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: connect %v: %w", brokers, err)
	}
	p := NewProducerFromSync(sp)
	p.logger = settings.logger
	return p, nil
}

// NewProducerFromSync оборачивает готовый sarama.SyncProducer.
func NewProducerFromSync(producer sarama.SyncProducer) *Producer {
	return &Producer{
		producer: producer,
		logger:   log.WithField("component", "kafka-producer"),
		now:      time.Now,
	}
}

// Send публикует value в topic. Ключ — ID заказа: все события заказа попадают
// в одну партицию и читаются в порядке отправки.
func (p *Producer) Send(topic, key string, value []byte, headers map[string]string) error {
	if topic == "" {
		return errors.New("kafka producer: empty topic")
	}
	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(value),
		Headers:   recordHeaders(headers),
		Timestamp: p.now(),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	fields := log.Fields{"topic": topic, "key": key}
	if err != nil {
		p.logger.WithError(err).WithFields(fields).Error("kafka send failed")
		return fmt.Errorf("kafka send to %s: %w", topic, err)
	}

	fields["partition"], fields["offset"] = partition, offset
	p.logger.WithFields(fields).Debug("kafka message sent")
	return nil
}

// recordHeaders переводит map в заголовки в стабильном порядке.
func recordHeaders(headers map[string]string) []sarama.RecordHeader {
	if len(headers) == 0 {
		return nil
	}
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]sarama.RecordHeader, 0, len(keys))
	for _, k := range keys {
		out = append(out, sarama.RecordHeader{Key: []byte(k), Value: []byte(headers[k])})
	}
	return out
}

func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("kafka producer: close: %w", err)
	}
	return nil
}
