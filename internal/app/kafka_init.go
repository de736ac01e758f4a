package app

import (
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/lu-lu-xue/OrderManagement/internal/messaging/kafka"
	"github.com/lu-lu-xue/OrderManagement/internal/service/saga"
)

// initKafkaProducer создаёт producer. Пустой список брокеров даёт nil, nil.
func initKafkaProducer(brokers string, logger *log.Entry) (*kafka.Producer, error) {
	list := brokerList(brokers)
	if len(list) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(list, kafka.WithProducerLogger(logger.WithField("component", "kafka-producer")))
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer")
		return nil, err
	}

	logger.WithField("brokers", list).Info("kafka producer initialized")
	return producer, nil
}

// initKafkaConsumer подписывает обработчики саги на входящие топики. Исчерпавшие повторы
// сообщения уходят в <topic><dead_letter_suffix> через dlqProducer.
func initKafkaConsumer(cfg KafkaConfig, handler *saga.Handler, dlqProducer *kafka.Producer, logger *log.Entry) (*kafka.Consumer, error) {
	list := brokerList(cfg.Brokers)
	if len(list) == 0 {
		return nil, errors.New("kafka brokers are not configured")
	}

	topics := cfg.Topics.WithDefaults()
	router := kafka.NewRouter(handler, topics, logger.WithField("component", "kafka-router"))

	// nil *Producer в интерфейсе не равен nil, поэтому DLQ передаётся только явно
	var dlq kafka.DeadLetterSender
	if dlqProducer != nil {
		dlq = dlqProducer
	}

	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:          list,
		GroupID:          cfg.GroupID,
		Topics:           topics.InboundTopics(),
		MaxRetries:       cfg.MaxRetries,
		RetryDelay:       cfg.RetryDelay,
		DeadLetterSuffix: topics.DeadLetterSuffix,
	}, router.Handle, dlq, logger.WithField("component", "kafka-consumer"))
	if err != nil {
		return nil, err
	}
	logger.WithFields(log.Fields{
		"group_id": cfg.GroupID,
		"topics":   topics.InboundTopics(),
	}).Info("kafka consumer initialized")
	return consumer, nil
}

// closeKafka закрывает Kafka producer если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}

// stopConsumer останавливает consumer group, если он был запущен.
func stopConsumer(consumer *kafka.Consumer, logger *log.Entry) {
	if consumer == nil {
		return
	}
	if err := consumer.Stop(); err != nil {
		logger.WithError(err).Warn("failed to stop kafka consumer")
	}
}
