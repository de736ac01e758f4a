package saga

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/lu-lu-xue/OrderManagement/internal/domain"
)

var tracer = otel.Tracer("order-saga")

// Сколько позиций заказа проверяется в каталоге параллельно.
const catalogFanOut = 8

// CreateOrderRequest — входные данные команды создания заказа.
type CreateOrderRequest struct {
	IdempotencyKey    string
	UserID            string
	ShippingAddressID string
	PaymentToken      string
	// Currency необязательна, по умолчанию Config.DefaultCurrency.
	Currency string
	Items    []domain.ItemQuantity
}

// Validate проверяет форму запроса.
func (r CreateOrderRequest) Validate() error {
	switch {
	case r.IdempotencyKey == "":
		return invalidField("idempotency_key", domain.ErrIdempotencyKeyRequired)
	case r.PaymentToken == "":
		return invalidField("payment_token", domain.ErrPaymentTokenRequired)
	case r.UserID == "":
		return invalidField("user_id", domain.ErrUserRequired)
	case r.ShippingAddressID == "":
		return invalidField("shipping_address_id", domain.ErrShippingAddressMissing)
	case len(r.Items) == 0:
		return invalidField("items", domain.ErrItemsRequired)
	}
	for i, item := range r.Items {
		if errs := item.Validate(); len(errs) > 0 {
			return invalidField(fmt.Sprintf("items[%d]", i), errors.Join(errs...))
		}
	}
	if _, err := domain.MergeItemQuantities(r.Items); err != nil {
		return invalidField("items", err)
	}
	return nil
}

// ReturnOrderRequest — входные данные команды возврата. Пустой Items означает
// возврат всего, что ещё не возвращено.
type ReturnOrderRequest struct {
	OrderID    string
	ReasonCode string
	Notes      string
	Items      []domain.ItemQuantity
}

// CreateOrder оформляет заказ. Повторный запрос с тем же idempotency-key возвращает
// ранее созданный заказ без изменений; replayed в этом случае true.
func (o *Orchestrator) CreateOrder(ctx context.Context, req CreateOrderRequest) (order domain.Order, replayed bool, err error) {
	ctx, span := tracer.Start(ctx, "saga.CreateOrder")
	defer span.End()

	if err := req.Validate(); err != nil {
		return domain.Order{}, false, err
	}
	fingerprint := domain.RequestFingerprint(req.UserID, req.ShippingAddressID, req.Items)

	existing, err := o.Orders.FindByIdempotencyKey(ctx, req.IdempotencyKey)
	switch {
	case err == nil:
		return o.replay(existing, fingerprint), true, nil
	case !isNotFound(err):
		return domain.Order{}, false, err
	}

	order, err = o.buildOrder(ctx, req, fingerprint)
	if err != nil {
		return domain.Order{}, false, err
	}
	span.SetAttributes(attribute.String("order.id", order.ID))

	if o.cfg.ChargeMode == ChargeModeSync {
		if err := o.chargeNow(ctx, &order, req.PaymentToken); err != nil {
			return domain.Order{}, false, err
		}
	}

	emit := []step{}
	if order.Status == domain.OrderStatusPending {
		emit = append(emit, o.requestCharge(req.PaymentToken))
	}
	emit = append(emit, o.requestReduction(), o.notify(domain.NotifyOrderPlaced, ""))

	err = o.Transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := o.Orders.Create(ctx, order); err != nil {
			return err
		}
		if err := o.appendTimeline(ctx, order, "order placed"); err != nil {
			return err
		}
		for _, fn := range emit {
			if err := fn(ctx, order); err != nil {
				return err
			}
			o.Metrics.RecordOutboxEvent()
		}
		return nil
	})
	if errors.Is(err, domain.ErrOrderAlreadyExists) {
		// Параллельный запрос с тем же ключом успел раньше.
		existing, findErr := o.Orders.FindByIdempotencyKey(ctx, req.IdempotencyKey)
		if findErr != nil {
			return domain.Order{}, false, findErr
		}
		return o.replay(existing, fingerprint), true, nil
	}
	if err != nil {
		return domain.Order{}, false, err
	}

	o.Metrics.RecordOrderCreated()
	o.Logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"user_id":     order.UserID,
		"total_minor": order.TotalMinor,
		"status":      order.Status,
	}).Info("order created")
	return order, false, nil
}

func (o *Orchestrator) replay(existing domain.Order, fingerprint string) domain.Order {
	if existing.RequestHash != "" && existing.RequestHash != fingerprint {
		o.Logger.WithFields(log.Fields{
			"order_id":        existing.ID,
			"idempotency_key": existing.IdempotencyKey,
		}).Warn("idempotency key reused with a different request, returning the original order")
		o.Metrics.RecordIdempotencyMismatch()
	}
	o.Metrics.RecordIdempotentReplay()
	return existing
}

// buildOrder проверяет остатки и снимает цены из каталога. Любой отказ прерывает
// создание до записи в хранилище.
func (o *Orchestrator) buildOrder(ctx context.Context, req CreateOrderRequest, fingerprint string) (domain.Order, error) {
	now := o.now()
	currency := req.Currency
	if currency == "" {
		currency = o.cfg.DefaultCurrency
	}
	order := domain.Order{
		ID:                uuid.NewString(),
		IdempotencyKey:    req.IdempotencyKey,
		RequestHash:       fingerprint,
		UserID:            req.UserID,
		ShippingAddressID: req.ShippingAddressID,
		Status:            domain.OrderStatusPending,
		Currency:          currency,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	lines, err := domain.MergeItemQuantities(req.Items)
	if err != nil {
		return domain.Order{}, invalidField("items", err)
	}
	priced := make([]domain.ProductDetails, len(lines))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(catalogFanOut)
	for i, line := range lines {
		g.Go(func() error {
			if !o.Catalog.IsProductAvailable(gctx, line.ProductID, line.Quantity) {
				return fmt.Errorf("%w: product %s qty %d", domain.ErrInventoryNotAvailable, line.ProductID, line.Quantity)
			}
			details, err := o.Catalog.GetProductDetails(gctx, line.ProductID)
			if err != nil {
				return fmt.Errorf("product %s: %w", line.ProductID, err)
			}
			priced[i] = details
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.Order{}, err
	}

	for i, line := range lines {
		subtotal := priced[i].UnitPriceMinor * int64(line.Quantity)
		order.Items = append(order.Items, domain.OrderItem{
			ID:             uuid.NewString(),
			OrderID:        order.ID,
			ProductID:      line.ProductID,
			ProductName:    priced[i].ProductName,
			UnitPriceMinor: priced[i].UnitPriceMinor,
			Qty:            line.Quantity,
			SubtotalMinor:  subtotal,
			CreatedAt:      now,
		})
		order.TotalMinor += subtotal
	}

	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, &domain.ValidationError{Err: errors.Join(errs...)}
	}
	return order, nil
}

func (o *Orchestrator) chargeNow(ctx context.Context, order *domain.Order, token string) error {
	result := o.Payments.Charge(ctx, domain.ChargeRequest{
		OrderID:      order.ID,
		UserID:       order.UserID,
		AmountMinor:  order.TotalMinor,
		Currency:     order.Currency,
		PaymentToken: token,
	})
	if err := result.Err(); err != nil {
		o.Logger.WithError(err).WithField("order_id", order.ID).Warn("payment charge failed")
		return err
	}
	at := o.now()
	order.Status = domain.OrderStatusPaymentConfirmed
	order.PaymentTransactionID = result.TransactionID
	order.PaymentConfirmedAt = &at
	return nil
}

// CancelOrder принимает отмену заказа до отгрузки. Заказ переходит в PENDING_CANCELLATION
// и станет CANCELLED после подтверждения возврата денег.
func (o *Orchestrator) CancelOrder(ctx context.Context, orderID, reasonCode string) (domain.Order, error) {
	ctx, span := tracer.Start(ctx, "saga.CancelOrder")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	if reasonCode == "" {
		return domain.Order{}, invalidField("reason_code", domain.ErrReasonRequired)
	}

	res, err := o.update(ctx, orderID, func(order *domain.Order) (*change, error) {
		if !domain.CanCancel(order.Status) {
			return nil, &domain.InvalidStateTransitionError{OrderID: order.ID, From: order.Status, To: domain.OrderStatusPendingCancellation}
		}

		now := o.now()
		created := make([]domain.ReturnedItem, 0, len(order.Items))
		for _, item := range order.Items {
			created = append(created, domain.ReturnedItem{
				ID:                uuid.NewString(),
				OrderID:           order.ID,
				OrderItemID:       item.ID,
				ProductID:         item.ProductID,
				Qty:               item.Qty,
				RefundType:        domain.RefundTypeCancellation,
				Reason:            reasonCode,
				RefundStatus:      domain.RefundStatusPending,
				RefundAmountMinor: item.SubtotalMinor,
				CreatedAt:         now,
			})
		}
		order.ReturnedItems = append(order.ReturnedItems, created...)
		order.Status = domain.OrderStatusPendingCancellation

		return &change{
			reason: reasonCode,
			emit: []step{
				o.requestRestock(domain.RefundTypeCancellation, orderQuantities(order.Items)),
				o.requestRefund(domain.RefundTypeCancellation, order.TotalMinor, true, reasonCode, returnedIDs(created)),
				o.notify(domain.NotifyOrderCancelled, reasonCode),
			},
		}, nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	o.Logger.WithFields(log.Fields{
		"order_id": orderID,
		"reason":   reasonCode,
	}).Info("order cancellation accepted")
	return res.order, nil
}

// ReturnOrder принимает возврат доставленного заказа, полный или по позициям.
func (o *Orchestrator) ReturnOrder(ctx context.Context, req ReturnOrderRequest) (domain.Order, error) {
	ctx, span := tracer.Start(ctx, "saga.ReturnOrder")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", req.OrderID))

	if req.ReasonCode == "" {
		return domain.Order{}, invalidField("reason_code", domain.ErrReasonRequired)
	}
	for i, item := range req.Items {
		if errs := item.Validate(); len(errs) > 0 {
			return domain.Order{}, invalidField(fmt.Sprintf("items[%d]", i), errors.Join(errs...))
		}
	}
	merged, err := domain.MergeItemQuantities(req.Items)
	if err != nil {
		return domain.Order{}, invalidField("items", err)
	}
	reason := req.ReasonCode
	if req.Notes != "" {
		reason += ": " + req.Notes
	}

	res, err := o.update(ctx, req.OrderID, func(order *domain.Order) (*change, error) {
		if !domain.CanReturn(order.Status) {
			return nil, &domain.InvalidStateTransitionError{OrderID: order.ID, From: order.Status, To: domain.OrderStatusPendingReturned}
		}

		lines := merged
		if len(lines) == 0 {
			for _, item := range order.Items {
				if item.RemainingQty() > 0 {
					lines = append(lines, domain.ItemQuantity{ProductID: item.ProductID, Quantity: item.RemainingQty()})
				}
			}
		}
		if len(lines) == 0 {
			return nil, fmt.Errorf("%w: nothing left to return", domain.ErrInvalidReturnRequest)
		}

		now := o.now()
		var (
			amount  int64
			created []domain.ReturnedItem
		)
		for _, line := range lines {
			idx, ok := order.ItemByProduct(line.ProductID)
			if !ok {
				return nil, fmt.Errorf("%w: product %s is not in the order", domain.ErrInvalidReturnRequest, line.ProductID)
			}
			item := &order.Items[idx]
			if line.Quantity > item.RemainingQty() {
				return nil, fmt.Errorf("%w: product %s: requested %d, remaining %d",
					domain.ErrInvalidReturnRequest, line.ProductID, line.Quantity, item.RemainingQty())
			}

			lineAmount := item.UnitPriceMinor * int64(line.Quantity)
			item.ReturnedQty += line.Quantity
			amount += lineAmount
			created = append(created, domain.ReturnedItem{
				ID:                uuid.NewString(),
				OrderID:           order.ID,
				OrderItemID:       item.ID,
				ProductID:         item.ProductID,
				Qty:               line.Quantity,
				RefundType:        domain.RefundTypeReturn,
				Reason:            reason,
				RefundStatus:      domain.RefundStatusPending,
				RefundAmountMinor: lineAmount,
				CreatedAt:         now,
			})
		}

		full := order.IsFullyReturned()
		if full {
			amount = order.TotalMinor
			order.Status = domain.OrderStatusPendingReturned
		} else {
			order.Status = domain.OrderStatusPendingPartiallyReturned
		}
		order.FullReturn = full
		order.ReturnedItems = append(order.ReturnedItems, created...)

		return &change{
			reason: reason,
			emit: []step{
				o.requestRestock(domain.RefundTypeReturn, lines),
				o.requestRefund(domain.RefundTypeReturn, amount, full, req.ReasonCode, returnedIDs(created)),
				o.notify(domain.NotifyOrderReturned, reason),
			},
		}, nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	o.Logger.WithFields(log.Fields{
		"order_id": req.OrderID,
		"status":   res.order.Status,
	}).Info("order return accepted")
	return res.order, nil
}
