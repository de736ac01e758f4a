package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/lu-lu-xue/OrderManagement/internal/domain"
	"github.com/lu-lu-xue/OrderManagement/internal/metrics"
)

const (
	conflictAttempts  = 3
	conflictBaseDelay = 10 * time.Millisecond
)

// ChargeMode определяет, кто списывает деньги при создании заказа.
type ChargeMode string

const (
	// Заказ создаётся в PENDING, списание запрашивается событием.
	ChargeModeAsync ChargeMode = "async"
	// Списание выполняется до сохранения заказа через PaymentGateway.
	ChargeModeSync ChargeMode = "sync"
)

// Config задаёт параметры команд саги.
type Config struct {
	ChargeMode      ChargeMode
	DefaultCurrency string
}

// Dependencies перечисляет порты, с которыми работает сага.
type Dependencies struct {
	Orders        domain.OrderRepository
	Timelines     domain.TimelineRepository
	Transactor    domain.Transactor
	Catalog       domain.ProductCatalog
	Payments      domain.PaymentGateway
	Inventory     domain.InventoryPublisher
	Billing       domain.PaymentPublisher
	Notifications domain.NotificationPublisher
	// Metrics может быть nil (тесты).
	Metrics *metrics.SagaMetrics
	Logger  *log.Entry
}

// step публикует событие в рамках транзакции, в которой сохранён заказ.
type step func(ctx context.Context, order domain.Order) error

// change — применённое к заказу изменение: причина для таймлайна и события для публикации.
type change struct {
	reason string
	emit   []step
	// fault возвращается после фиксации транзакции: заказ сохранён, но событие обработано с ошибкой.
	fault error
}

type updateResult struct {
	order   domain.Order
	applied bool
}

// core объединяет команды и обработчики: загрузку, применение и сохранение заказа.
type core struct {
	Dependencies
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func newCore(deps Dependencies, component string) core {
	if deps.Logger == nil {
		deps.Logger = log.New().WithField("component", component)
	}
	return core{
		Dependencies: deps,
		now:          func() time.Time { return time.Now().UTC() },
		sleep:        sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// update загружает заказ, применяет apply и сохраняет результат вместе с записью таймлайна
// и исходящими событиями в одной транзакции. apply, вернувший nil, означает «изменений нет».
// При конфликте версий заказ перечитывается и apply выполняется заново.
func (c *core) update(ctx context.Context, orderID string, apply func(order *domain.Order) (*change, error)) (updateResult, error) {
	var (
		result updateResult
		fault  error
	)
	err := c.retryOnConflict(ctx, orderID, func() error {
		result, fault = updateResult{}, nil
		return c.Transactor.WithinTransaction(ctx, func(ctx context.Context) error {
			order, err := c.Orders.Get(ctx, orderID)
			if err != nil {
				return err
			}
			ch, err := apply(&order)
			if err != nil {
				return err
			}
			if ch == nil {
				result = updateResult{order: order}
				return nil
			}

			order.UpdatedAt = c.now()
			if err := c.Orders.Save(ctx, order); err != nil {
				return err
			}
			order.Version++
			if err := c.appendTimeline(ctx, order, ch.reason); err != nil {
				return err
			}
			for _, emit := range ch.emit {
				if err := emit(ctx, order); err != nil {
					return err
				}
				c.Metrics.RecordOutboxEvent()
			}
			result = updateResult{order: order, applied: true}
			fault = ch.fault
			return nil
		})
	})
	if err != nil {
		return updateResult{}, err
	}
	return result, fault
}

// retryOnConflict повторяет fn при конфликте версий с экспоненциальной задержкой.
func (c *core) retryOnConflict(ctx context.Context, orderID string, fn func() error) error {
	var err error
	for attempt := 0; attempt < conflictAttempts; attempt++ {
		err = fn()
		if err == nil || !domain.IsVersionConflict(err) {
			return err
		}
		if attempt == conflictAttempts-1 {
			break
		}
		c.Logger.WithFields(log.Fields{
			"order_id": orderID,
			"attempt":  attempt + 1,
		}).Warn("version conflict detected, retrying")
		if sleepErr := c.sleep(ctx, conflictBaseDelay*time.Duration(1<<uint(attempt))); sleepErr != nil {
			return sleepErr
		}
	}
	return err
}

func (c *core) appendTimeline(ctx context.Context, order domain.Order, reason string) error {
	if c.Timelines == nil {
		return nil
	}
	if err := c.Timelines.Append(ctx, domain.NewStatusEvent(order.ID, order.Status, reason, c.now())); err != nil {
		return fmt.Errorf("append timeline: %w", err)
	}
	c.Metrics.RecordTimelineEvent()
	return nil
}

func (c *core) requestCharge(token string) step {
	return func(ctx context.Context, order domain.Order) error {
		return c.Billing.RequestCharge(ctx, domain.PaymentChargeRequested{
			OrderID:      order.ID,
			UserID:       order.UserID,
			AmountMinor:  order.TotalMinor,
			Currency:     order.Currency,
			PaymentToken: token,
			RequestedAt:  c.now(),
		})
	}
}

func (c *core) requestReduction() step {
	return func(ctx context.Context, order domain.Order) error {
		return c.Inventory.RequestReduction(ctx, domain.InventoryReductionRequested{
			OrderID:     order.ID,
			Items:       orderQuantities(order.Items),
			RequestedAt: c.now(),
		})
	}
}

func (c *core) requestRestock(refundType domain.RefundType, items []domain.ItemQuantity) step {
	return func(ctx context.Context, order domain.Order) error {
		return c.Inventory.RequestRestock(ctx, domain.InventoryRestockRequested{
			OrderID:     order.ID,
			Items:       items,
			RefundType:  refundType,
			RequestedAt: c.now(),
		})
	}
}

func (c *core) requestRefund(refundType domain.RefundType, amountMinor int64, full bool, reasonCode string, ids []string) step {
	return func(ctx context.Context, order domain.Order) error {
		if err := c.Billing.RequestRefund(ctx, domain.PaymentRefundRequested{
			OrderID:              order.ID,
			UserID:               order.UserID,
			PaymentTransactionID: order.PaymentTransactionID,
			AmountMinor:          amountMinor,
			Currency:             order.Currency,
			RefundType:           refundType,
			FullRefund:           full,
			ReasonCode:           reasonCode,
			ReturnedItemIDs:      ids,
			RequestedAt:          c.now(),
		}); err != nil {
			return err
		}
		c.Metrics.RecordRefundRequested(string(refundType))
		return nil
	}
}

func (c *core) notify(kind domain.NotificationKind, reason string) step {
	return func(ctx context.Context, order domain.Order) error {
		return c.Notifications.Notify(ctx, domain.Notification{
			Kind:        kind,
			OrderID:     order.ID,
			UserID:      order.UserID,
			Status:      order.Status,
			AmountMinor: order.TotalMinor,
			Currency:    order.Currency,
			Reason:      reason,
			OccurredAt:  c.now(),
		})
	}
}

func (c *core) alertOperators(reason string, ids []string) step {
	return func(ctx context.Context, order domain.Order) error {
		if err := c.Notifications.AlertOperators(ctx, domain.OperatorAlert{
			OrderID:         order.ID,
			Reason:          reason,
			ReturnedItemIDs: ids,
			RaisedAt:        c.now(),
		}); err != nil {
			return err
		}
		c.Metrics.RecordManualIntervention()
		return nil
	}
}

func orderQuantities(items []domain.OrderItem) []domain.ItemQuantity {
	result := make([]domain.ItemQuantity, 0, len(items))
	for _, item := range items {
		result = append(result, domain.ItemQuantity{ProductID: item.ProductID, Quantity: item.Qty})
	}
	return result
}

func returnedIDs(items []domain.ReturnedItem) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return ids
}

// Orchestrator выполняет синхронные команды над заказами.
type Orchestrator struct {
	core
	cfg Config
}

// NewOrchestrator создаёт оркестратор команд.
func NewOrchestrator(deps Dependencies, cfg Config) *Orchestrator {
	if cfg.ChargeMode == "" {
		cfg.ChargeMode = ChargeModeAsync
	}
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "USD"
	}
	return &Orchestrator{core: newCore(deps, "saga"), cfg: cfg}
}

// GetOrder возвращает заказ по идентификатору.
func (o *Orchestrator) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	return o.Orders.Get(ctx, orderID)
}

// ListOrders возвращает страницу заказов, новые первыми.
func (o *Orchestrator) ListOrders(ctx context.Context, filter domain.ListFilter) (domain.OrderPage, error) {
	return o.Orders.List(ctx, filter.Normalize())
}

// Timeline возвращает историю статусов заказа.
func (o *Orchestrator) Timeline(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	if _, err := o.Orders.Get(ctx, orderID); err != nil {
		return nil, err
	}
	if o.Timelines == nil {
		return nil, nil
	}
	return o.Timelines.List(ctx, orderID)
}

func invalidField(field string, err error) error {
	return &domain.ValidationError{Field: field, Err: err}
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrOrderNotFound)
}
