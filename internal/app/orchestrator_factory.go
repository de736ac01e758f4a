package app

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/lu-lu-xue/OrderManagement/internal/domain"
	"github.com/lu-lu-xue/OrderManagement/internal/messaging/kafka"
	"github.com/lu-lu-xue/OrderManagement/internal/metrics"
	"github.com/lu-lu-xue/OrderManagement/internal/service/saga"
)

// createSaga собирает команды и обработчики саги поверх выбранного хранилища.
// Исходящие события пишутся в outbox в той же транзакции, что и заказ.
func createSaga(
	cfg Config,
	storage runtimeDependencies,
	deps *Dependencies,
	sagaMetrics *metrics.SagaMetrics,
	logger *log.Entry,
) (*saga.Orchestrator, *saga.Handler) {
	publisher := kafka.NewEventPublisher(storage.outboxRepo, cfg.Kafka.Topics, logger.WithField("component", "event-publisher"))

	sagaDeps := saga.Dependencies{
		Orders:        storage.repo,
		Timelines:     storage.timelineRepo,
		Transactor:    storage.transactor,
		Catalog:       deps.Catalog,
		Payments:      deps.Payments,
		Inventory:     publisher,
		Billing:       publisher,
		Notifications: publisher,
		Metrics:       sagaMetrics,
		Logger:        logger.WithField("component", "saga"),
	}

	orchestrator := saga.NewOrchestrator(sagaDeps, saga.Config{
		ChargeMode:      saga.ChargeMode(cfg.Saga.ChargeMode),
		DefaultCurrency: cfg.Saga.DefaultCurrency,
	})

	handlerDeps := sagaDeps
	handlerDeps.Logger = logger.WithField("component", "saga-handler")
	return orchestrator, saga.NewHandler(handlerDeps)
}

// discardPublisher подтверждает outbox-сообщения без отправки. Используется, когда Kafka
// выключена, чтобы локальный outbox не рос бесконечно.
type discardPublisher struct {
	logger *log.Entry
}

func (p discardPublisher) Publish(_ context.Context, msg domain.OutboxMessage) error {
	p.logger.WithFields(log.Fields{
		"topic":    msg.Topic,
		"event":    msg.EventType,
		"order_id": msg.AggregateID,
	}).Debug("kafka disabled, outbox message discarded")
	return nil
}
