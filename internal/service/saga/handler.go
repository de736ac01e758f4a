package saga

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lu-lu-xue/OrderManagement/internal/domain"
)

// Handler продолжает сагу по входящим событиям. Каждый обработчик идемпотентен:
// повторная доставка уже применённого события ничего не меняет.
type Handler struct {
	core
}

// NewHandler создаёт обработчик входящих событий.
func NewHandler(deps Dependencies) *Handler {
	return &Handler{core: newCore(deps, "saga-handler")}
}

func (h *Handler) stamp(t time.Time) *time.Time {
	if t.IsZero() {
		t = h.now()
	}
	t = t.UTC()
	return &t
}

// HandlePaymentConfirmed: PENDING → PAYMENT_CONFIRMED, запрос на списание остатков.
func (h *Handler) HandlePaymentConfirmed(ctx context.Context, evt domain.PaymentConfirmed) error {
	return h.process(ctx, domain.EventPaymentConfirmed, evt.OrderID, func(ctx context.Context) (updateResult, error) {
		return h.update(ctx, evt.OrderID, func(order *domain.Order) (*change, error) {
			decision, err := domain.Transition(order.ID, order.Status, domain.OrderStatusPaymentConfirmed, domain.OrderStatusPending)
			if err != nil || decision == domain.TransitionSkip {
				return nil, err
			}
			order.Status = domain.OrderStatusPaymentConfirmed
			order.PaymentTransactionID = evt.PaymentTransactionID
			order.PaymentConfirmedAt = h.stamp(evt.ConfirmedAt)
			return &change{reason: "payment confirmed", emit: []step{h.requestReduction()}}, nil
		})
	})
}

// HandlePaymentFailed переводит заказ в PAYMENT_FAILED из любого статуса, кроме самого PAYMENT_FAILED.
func (h *Handler) HandlePaymentFailed(ctx context.Context, evt domain.PaymentFailed) error {
	return h.process(ctx, domain.EventPaymentFailed, evt.OrderID, func(ctx context.Context) (updateResult, error) {
		return h.update(ctx, evt.OrderID, func(order *domain.Order) (*change, error) {
			if domain.Advance(order.Status, domain.OrderStatusPaymentFailed) == domain.TransitionSkip {
				return nil, nil
			}
			order.Status = domain.OrderStatusPaymentFailed
			return &change{reason: evt.Reason}, nil
		})
	})
}

// HandleInventoryReserved: PAYMENT_CONFIRMED → CONFIRMED, уведомление покупателю.
func (h *Handler) HandleInventoryReserved(ctx context.Context, evt domain.InventoryReserved) error {
	return h.process(ctx, domain.EventInventoryReserved, evt.OrderID, func(ctx context.Context) (updateResult, error) {
		return h.update(ctx, evt.OrderID, func(order *domain.Order) (*change, error) {
			decision, err := domain.Transition(order.ID, order.Status, domain.OrderStatusConfirmed, domain.OrderStatusPaymentConfirmed)
			if err != nil || decision == domain.TransitionSkip {
				return nil, err
			}
			order.Status = domain.OrderStatusConfirmed
			order.OrderConfirmedAt = h.stamp(evt.ReservedAt)
			return &change{reason: "inventory reserved", emit: []step{h.notify(domain.NotifyOrderConfirmed, "")}}, nil
		})
	})
}

// HandleInventoryReservationFailed — компенсация: заказ в INVENTORY_FAILED, по каждой позиции
// создаётся запись возврата и запрашивается возврат полной суммы.
func (h *Handler) HandleInventoryReservationFailed(ctx context.Context, evt domain.InventoryReservationFailed) error {
	return h.process(ctx, domain.EventInventoryReservationFailed, evt.OrderID, func(ctx context.Context) (updateResult, error) {
		return h.update(ctx, evt.OrderID, func(order *domain.Order) (*change, error) {
			if domain.Advance(order.Status, domain.OrderStatusInventoryFailed) == domain.TransitionSkip {
				return nil, nil
			}

			reason := evt.Reason
			if reason == "" {
				reason = "inventory reservation failed"
			}
			now := h.now()
			created := make([]domain.ReturnedItem, 0, len(order.Items))
			for _, item := range order.Items {
				created = append(created, domain.ReturnedItem{
					ID:                uuid.NewString(),
					OrderID:           order.ID,
					OrderItemID:       item.ID,
					ProductID:         item.ProductID,
					Qty:               item.Qty,
					RefundType:        domain.RefundTypeInventoryFailed,
					Reason:            reason,
					RefundStatus:      domain.RefundStatusPending,
					RefundAmountMinor: item.SubtotalMinor,
					CreatedAt:         now,
				})
			}
			order.ReturnedItems = append(order.ReturnedItems, created...)
			order.Status = domain.OrderStatusInventoryFailed

			return &change{
				reason: reason,
				emit: []step{
					h.requestRefund(domain.RefundTypeInventoryFailed, order.TotalMinor, true, "INVENTORY_FAILED", returnedIDs(created)),
				},
			}, nil
		})
	})
}

// HandleRefundCompleted завершает возврат денег в зависимости от его типа.
func (h *Handler) HandleRefundCompleted(ctx context.Context, evt domain.RefundCompleted) error {
	return h.process(ctx, domain.EventRefundCompleted, evt.OrderID, func(ctx context.Context) (updateResult, error) {
		return h.update(ctx, evt.OrderID, func(order *domain.Order) (*change, error) {
			var ch *change
			err := evt.RefundType.Dispatch(domain.RefundHandlers{
				Cancellation: func() (err error) {
					ch, err = h.completeCancellation(order, evt)
					return err
				},
				Return: func() (err error) {
					ch, err = h.completeReturn(order, evt)
					return err
				},
				InventoryFailed: func() (err error) {
					ch, err = h.completeInventoryFailure(order, evt)
					return err
				},
			})
			return ch, err
		})
	})
}

func (h *Handler) completeCancellation(order *domain.Order, evt domain.RefundCompleted) (*change, error) {
	decision, err := domain.Transition(order.ID, order.Status, domain.OrderStatusCancelled, domain.OrderStatusPendingCancellation)
	if err != nil || decision == domain.TransitionSkip {
		return nil, err
	}
	if ch := h.checkAudit(order, evt); ch != nil {
		return ch, nil
	}
	h.markCompleted(order, evt)
	order.Status = domain.OrderStatusCancelled
	return &change{reason: "cancellation refund completed"}, nil
}

func (h *Handler) completeReturn(order *domain.Order, evt domain.RefundCompleted) (*change, error) {
	target := domain.OrderStatusPartiallyReturned
	if order.IsFullyReturned() {
		target = domain.OrderStatusReturned
	}
	decision, err := domain.Transition(order.ID, order.Status, target,
		domain.OrderStatusPendingReturned, domain.OrderStatusPendingPartiallyReturned)
	if err != nil || decision == domain.TransitionSkip {
		return nil, err
	}
	if ch := h.checkAudit(order, evt); ch != nil {
		return ch, nil
	}
	h.markCompleted(order, evt)
	order.Status = target
	return &change{reason: "return refund completed"}, nil
}

func (h *Handler) completeInventoryFailure(order *domain.Order, evt domain.RefundCompleted) (*change, error) {
	if order.Status != domain.OrderStatusInventoryFailed {
		if order.Status == domain.OrderStatusManualIntervention {
			return nil, nil
		}
		return nil, &domain.InvalidStateTransitionError{OrderID: order.ID, From: order.Status, To: domain.OrderStatusInventoryFailed}
	}
	if ch := h.checkAudit(order, evt); ch != nil {
		return ch, nil
	}
	if h.markCompleted(order, evt) == 0 {
		return nil, nil
	}
	return &change{reason: "inventory failure refund completed"}, nil
}

// checkAudit сверяет идентификаторы из события с записями заказа. При расхождении заказ
// уходит на ручной разбор, а событие отбрасывается с ErrAuditIntegrity.
func (h *Handler) checkAudit(order *domain.Order, evt domain.RefundCompleted) *change {
	requested := uniqueCount(evt.ReturnedItemIDs)
	found := len(order.ReturnedItemsByIDs(evt.ReturnedItemIDs))
	if requested > 0 && found == requested {
		return nil
	}

	reason := fmt.Sprintf("refund %s references %d returned items, %d found", evt.RefundTransactionID, requested, found)
	order.Status = domain.OrderStatusManualIntervention
	return &change{
		reason: reason,
		emit:   []step{h.alertOperators(reason, evt.ReturnedItemIDs)},
		fault:  fmt.Errorf("%w: order %s: %s", domain.ErrAuditIntegrity, order.ID, reason),
	}
}

// markCompleted отмечает позиции возвращёнными; уже завершённые пропускаются.
// Возвращает число изменённых записей.
func (h *Handler) markCompleted(order *domain.Order, evt domain.RefundCompleted) int {
	refundedAt := h.stamp(evt.RefundedAt)
	changed := 0
	for _, idx := range order.ReturnedItemsByIDs(evt.ReturnedItemIDs) {
		item := &order.ReturnedItems[idx]
		if item.RefundStatus == domain.RefundStatusCompleted {
			continue
		}
		item.RefundStatus = domain.RefundStatusCompleted
		if item.RefundTransactionID == "" {
			item.RefundTransactionID = evt.RefundTransactionID
		}
		item.RefundedAt = refundedAt
		changed++
	}
	return changed
}

// HandleRefundFailed отмечает позиции FAILED и переводит заказ на ручной разбор.
func (h *Handler) HandleRefundFailed(ctx context.Context, evt domain.RefundFailed) error {
	return h.process(ctx, domain.EventRefundFailed, evt.OrderID, func(ctx context.Context) (updateResult, error) {
		return h.update(ctx, evt.OrderID, func(order *domain.Order) (*change, error) {
			found := order.ReturnedItemsByIDs(evt.ReturnedItemIDs)
			requested := uniqueCount(evt.ReturnedItemIDs)

			// Повтор по заказу, уже ушедшему на ручной разбор: менять нечего, второй алерт не нужен.
			if order.Status == domain.OrderStatusManualIntervention && !hasPending(order, found) {
				if requested == 0 {
					return nil, fmt.Errorf("%w: order %s: refund failed without returned item ids", domain.ErrAuditIntegrity, order.ID)
				}
				return nil, nil
			}

			failure := evt.Reason
			if failure == "" {
				failure = "unknown reason"
			}
			for _, idx := range found {
				item := &order.ReturnedItems[idx]
				if item.RefundStatus != domain.RefundStatusPending {
					continue
				}
				item.RefundStatus = domain.RefundStatusFailed
				item.Reason = appendReason(item.Reason, "refund failed: "+failure)
			}
			order.Status = domain.OrderStatusManualIntervention

			ch := &change{reason: "refund failed: " + failure}
			switch {
			case requested == 0:
				alert := "refund failed without returned item ids: " + failure
				ch.emit = []step{h.alertOperators(alert, nil)}
				ch.fault = fmt.Errorf("%w: order %s: %s", domain.ErrAuditIntegrity, order.ID, alert)
			case len(found) != requested:
				alert := fmt.Sprintf("refund failed: %s; %d of %d returned items found", failure, len(found), requested)
				ch.emit = []step{h.alertOperators(alert, evt.ReturnedItemIDs)}
			default:
				ch.emit = []step{h.alertOperators("refund failed: "+failure, evt.ReturnedItemIDs)}
			}
			return ch, nil
		})
	})
}

// HandleOrderShipped переводит заказ в SHIPPED, если он ещё не отгружен и не ушёл дальше.
func (h *Handler) HandleOrderShipped(ctx context.Context, evt domain.OrderShipped) error {
	return h.process(ctx, domain.EventOrderShipped, evt.OrderID, func(ctx context.Context) (updateResult, error) {
		return h.update(ctx, evt.OrderID, func(order *domain.Order) (*change, error) {
			if domain.Advance(order.Status, domain.OrderStatusShipped) == domain.TransitionSkip {
				return nil, nil
			}
			order.Status = domain.OrderStatusShipped
			reason := "shipped"
			if evt.TrackingNumber != "" {
				reason = strings.TrimSpace(fmt.Sprintf("shipped %s %s", evt.Carrier, evt.TrackingNumber))
			}
			return &change{reason: reason, emit: []step{h.notify(domain.NotifyOrderShipped, reason)}}, nil
		})
	})
}

// HandleOrderDelivered переводит заказ в DELIVERED; доставка может прийти раньше отгрузки.
func (h *Handler) HandleOrderDelivered(ctx context.Context, evt domain.OrderDelivered) error {
	return h.process(ctx, domain.EventOrderDelivered, evt.OrderID, func(ctx context.Context) (updateResult, error) {
		return h.update(ctx, evt.OrderID, func(order *domain.Order) (*change, error) {
			if domain.Advance(order.Status, domain.OrderStatusDelivered) == domain.TransitionSkip {
				return nil, nil
			}
			order.Status = domain.OrderStatusDelivered
			return &change{reason: "delivered", emit: []step{h.notify(domain.NotifyOrderDelivered, "")}}, nil
		})
	})
}

func hasPending(order *domain.Order, indexes []int) bool {
	for _, idx := range indexes {
		if order.ReturnedItems[idx].RefundStatus == domain.RefundStatusPending {
			return true
		}
	}
	return false
}

func uniqueCount(ids []string) int {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	return len(seen)
}

func appendReason(reason, suffix string) string {
	if reason == "" {
		return suffix
	}
	return reason + "; " + suffix
}
