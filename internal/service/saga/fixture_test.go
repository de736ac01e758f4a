package saga

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/lu-lu-xue/OrderManagement/internal/domain"
	"github.com/lu-lu-xue/OrderManagement/internal/metrics"
	"github.com/lu-lu-xue/OrderManagement/internal/service/inventory"
	"github.com/lu-lu-xue/OrderManagement/internal/service/payment"
	"github.com/lu-lu-xue/OrderManagement/internal/storage/memory"
)

// recorder запоминает все исходящие события саги.
type recorder struct {
	mu sync.Mutex

	reductions    []domain.InventoryReductionRequested
	restocks      []domain.InventoryRestockRequested
	charges       []domain.PaymentChargeRequested
	refunds       []domain.PaymentRefundRequested
	notifications []domain.Notification
	alerts        []domain.OperatorAlert

	err error
}

func (r *recorder) RequestReduction(_ context.Context, evt domain.InventoryReductionRequested) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.reductions = append(r.reductions, evt)
	return nil
}

func (r *recorder) RequestRestock(_ context.Context, evt domain.InventoryRestockRequested) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.restocks = append(r.restocks, evt)
	return nil
}

func (r *recorder) RequestCharge(_ context.Context, evt domain.PaymentChargeRequested) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.charges = append(r.charges, evt)
	return nil
}

func (r *recorder) RequestRefund(_ context.Context, evt domain.PaymentRefundRequested) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.refunds = append(r.refunds, evt)
	return nil
}

func (r *recorder) Notify(_ context.Context, n domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.notifications = append(r.notifications, n)
	return nil
}

func (r *recorder) AlertOperators(_ context.Context, alert domain.OperatorAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.alerts = append(r.alerts, alert)
	return nil
}

func (r *recorder) notificationKinds() []domain.NotificationKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]domain.NotificationKind, 0, len(r.notifications))
	for _, n := range r.notifications {
		kinds = append(kinds, n.Kind)
	}
	return kinds
}

// conflictingRepo отдаёт конфликт версий на первых conflicts вызовах Save.
type conflictingRepo struct {
	domain.OrderRepository
	mu        sync.Mutex
	conflicts int
	saveErr   error
}

func (r *conflictingRepo) Save(ctx context.Context, order domain.Order) error {
	r.mu.Lock()
	if r.saveErr != nil {
		err := r.saveErr
		r.mu.Unlock()
		return err
	}
	if r.conflicts > 0 {
		r.conflicts--
		r.mu.Unlock()
		return domain.ErrOrderVersionConflict
	}
	r.mu.Unlock()
	return r.OrderRepository.Save(ctx, order)
}

type fixture struct {
	orders    *conflictingRepo
	timelines domain.TimelineRepository
	catalog   *inventory.Catalog
	gateway   *payment.MockGateway
	events    *recorder
	metrics   *metrics.SagaMetrics
	registry  *prometheus.Registry

	orchestrator *Orchestrator
	handler      *Handler
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	registry := prometheus.NewRegistry()
	f := &fixture{
		orders:    &conflictingRepo{OrderRepository: memory.NewOrderRepository()},
		timelines: memory.NewTimelineRepository(),
		catalog: inventory.NewCatalog(
			inventory.Product{ProductDetails: domain.ProductDetails{ProductID: "A", ProductName: "Product A", UnitPriceMinor: 1000}, Stock: 10},
			inventory.Product{ProductDetails: domain.ProductDetails{ProductID: "B", ProductName: "Product B", UnitPriceMinor: 500}, Stock: 10},
		),
		gateway:  payment.NewMockGateway(),
		events:   &recorder{},
		metrics:  metrics.NewSagaMetricsWithRegisterer(registry),
		registry: registry,
	}

	logger := log.New()
	logger.SetLevel(log.PanicLevel)

	deps := Dependencies{
		Orders:        f.orders,
		Timelines:     f.timelines,
		Transactor:    memory.NewTransactor(),
		Catalog:       f.catalog,
		Payments:      f.gateway,
		Inventory:     f.events,
		Billing:       f.events,
		Notifications: f.events,
		Metrics:       f.metrics,
		Logger:        log.NewEntry(logger),
	}
	f.orchestrator = NewOrchestrator(deps, cfg)
	f.handler = NewHandler(deps)

	noSleep := func(context.Context, time.Duration) error { return nil }
	f.orchestrator.sleep = noSleep
	f.handler.sleep = noSleep
	return f
}

func createRequest(key string) CreateOrderRequest {
	return CreateOrderRequest{
		IdempotencyKey:    key,
		UserID:            "user-1",
		ShippingAddressID: "addr-1",
		PaymentToken:      "tok-1",
		Items: []domain.ItemQuantity{
			{ProductID: "A", Quantity: 2},
			{ProductID: "B", Quantity: 1},
		},
	}
}

// placeOrder создаёт заказ A×2@1000 + B×1@500 на 2500.
func (f *fixture) placeOrder(t *testing.T, key string) domain.Order {
	t.Helper()
	order, replayed, err := f.orchestrator.CreateOrder(context.Background(), createRequest(key))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if replayed {
		t.Fatal("unexpected replay")
	}
	return order
}

// deliveredOrder прогоняет заказ по основной ветке до DELIVERED.
func (f *fixture) deliveredOrder(t *testing.T, key string) domain.Order {
	t.Helper()
	ctx := context.Background()
	order := f.placeOrder(t, key)

	steps := []func() error{
		func() error {
			return f.handler.HandlePaymentConfirmed(ctx, domain.PaymentConfirmed{OrderID: order.ID, PaymentTransactionID: "txn-1"})
		},
		func() error {
			return f.handler.HandleInventoryReserved(ctx, domain.InventoryReserved{OrderID: order.ID})
		},
		func() error {
			return f.handler.HandleOrderShipped(ctx, domain.OrderShipped{OrderID: order.ID, Carrier: "UPS", TrackingNumber: "1Z"})
		},
		func() error { return f.handler.HandleOrderDelivered(ctx, domain.OrderDelivered{OrderID: order.ID}) },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	return f.mustGet(t, order.ID, domain.OrderStatusDelivered)
}

func (f *fixture) mustGet(t *testing.T, orderID string, want domain.OrderStatus) domain.Order {
	t.Helper()
	order, err := f.orders.Get(context.Background(), orderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if want != "" && order.Status != want {
		t.Fatalf("expected status %s, got %s", want, order.Status)
	}
	return order
}
