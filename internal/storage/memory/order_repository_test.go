package memory_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lu-lu-xue/OrderManagement/internal/domain"
	"github.com/lu-lu-xue/OrderManagement/internal/storage/memory"
)

func newOrder(id string, createdAt time.Time) domain.Order {
	return domain.Order{
		ID:                id,
		IdempotencyKey:    "key-" + id,
		UserID:            "user-1",
		ShippingAddressID: "addr-1",
		Status:            domain.OrderStatusPending,
		Currency:          "USD",
		TotalMinor:        500,
		Items: []domain.OrderItem{
			{ID: "item-" + id, OrderID: id, ProductID: "sku-1", UnitPriceMinor: 100, Qty: 5, SubtotalMinor: 500, CreatedAt: createdAt},
		},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestOrderRepository_CreateGet(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	order := newOrder("order-1", time.Now().UTC())

	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	stored, err := repo.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.ID != order.ID || len(stored.Items) != 1 {
		t.Fatalf("unexpected stored order: %+v", stored)
	}

	byKey, err := repo.FindByIdempotencyKey(ctx, order.IdempotencyKey)
	if err != nil || byKey.ID != order.ID {
		t.Fatalf("lookup by idempotency key failed: %v %+v", err, byKey)
	}

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOrderRepository_CreateDuplicateKey(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	order := newOrder("order-1", time.Now().UTC())
	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	dup := newOrder("order-2", time.Now().UTC())
	dup.IdempotencyKey = order.IdempotencyKey
	if err := repo.Create(ctx, dup); !errors.Is(err, domain.ErrOrderAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}
	if _, err := repo.Get(ctx, dup.ID); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatal("duplicate order must not be stored")
	}
}

func TestOrderRepository_List(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		order := newOrder(fmt.Sprintf("order-%d", i), base.Add(time.Duration(i)*time.Minute))
		if i == 4 {
			order.UserID = "user-2"
		}
		if err := repo.Create(ctx, order); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}

	page, err := repo.List(ctx, domain.ListFilter{UserID: "user-1", Page: 0, Size: 3})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if page.Total != 4 || len(page.Orders) != 3 {
		t.Fatalf("expected 3 of 4 orders, got %d of %d", len(page.Orders), page.Total)
	}
	if page.Orders[0].ID != "order-3" {
		t.Fatalf("expected newest first, got %s", page.Orders[0].ID)
	}

	second, err := repo.List(ctx, domain.ListFilter{UserID: "user-1", Page: 1, Size: 3})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(second.Orders) != 1 || second.Orders[0].ID != "order-0" {
		t.Fatalf("unexpected second page: %+v", second.Orders)
	}

	all, err := repo.List(ctx, domain.ListFilter{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if all.Total != 5 || all.Size != domain.DefaultPageSize {
		t.Fatalf("unexpected defaults: total=%d size=%d", all.Total, all.Size)
	}
}

func TestOrderRepository_Save(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	order := newOrder("order-1", time.Now().UTC())
	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	stored, err := repo.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}

	stored.Status = domain.OrderStatusPaymentConfirmed
	stored.Items[0].ReturnedQty = 1
	if err := repo.Save(ctx, stored); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	updated, err := repo.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if updated.Status != domain.OrderStatusPaymentConfirmed || updated.Items[0].ReturnedQty != 1 {
		t.Fatalf("unexpected updated order: %+v", updated)
	}
	if updated.Version != stored.Version+1 {
		t.Fatalf("expected version increment, got %d", updated.Version)
	}
}

func TestOrderRepository_SaveVersionConflict(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	order := newOrder("order-1", time.Now().UTC())
	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	order.Version = 42
	if err := repo.Save(ctx, order); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected version conflict error, got %v", err)
	}
}

func TestOrderRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	order := newOrder("order-1", time.Now().UTC())
	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	first, _ := repo.Get(ctx, order.ID)
	first.Items[0].ReturnedQty = 5

	second, _ := repo.Get(ctx, order.ID)
	if second.Items[0].ReturnedQty != 0 {
		t.Fatal("mutation of a loaded order leaked into the repository")
	}
}
