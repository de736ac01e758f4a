package domain

import (
	"context"
	"time"
)

// ProductCatalog описывает синхронные вызовы к сервису товаров и остатков.
type ProductCatalog interface {
	// IsProductAvailable сообщает, хватает ли остатка. При недоступности сервиса возвращает false.
	IsProductAvailable(ctx context.Context, productID string, qty int32) bool
	// GetProductDetails возвращает снимок товара или ErrProductNotFound / ErrCatalogUnavailable.
	GetProductDetails(ctx context.Context, productID string) (ProductDetails, error)
}

// PaymentGateway описывает синхронное списание средств.
type PaymentGateway interface {
	Charge(ctx context.Context, req ChargeRequest) ChargeResult
}

// InventoryPublisher публикует запросы к складу.
type InventoryPublisher interface {
	RequestReduction(ctx context.Context, evt InventoryReductionRequested) error
	RequestRestock(ctx context.Context, evt InventoryRestockRequested) error
}

// PaymentPublisher публикует запросы к платёжному сервису.
type PaymentPublisher interface {
	RequestCharge(ctx context.Context, evt PaymentChargeRequested) error
	RequestRefund(ctx context.Context, evt PaymentRefundRequested) error
}

// NotificationPublisher публикует уведомления покупателю и операторам.
type NotificationPublisher interface {
	Notify(ctx context.Context, n Notification) error
	AlertOperators(ctx context.Context, alert OperatorAlert) error
}

// Transactor выполняет fn в одной транзакции хранилища. Репозитории, получившие ctx из fn,
// пишут в ту же транзакцию.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, msg OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// OutboxPurger удаляет обработанные (sent/failed) сообщения outbox, обновлённые не позже before.
// За один вызов удаляется не больше limit записей.
type OutboxPurger interface {
	PurgeProcessed(ctx context.Context, before time.Time, limit int) (int, error)
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	// Topic вычисляется при постановке в outbox из конфигурации топиков.
	Topic     string
	Payload   []byte
	CreatedAt time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
