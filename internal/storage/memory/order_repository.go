package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/lu-lu-xue/OrderManagement/internal/domain"
)

// orderStore держит заказы в памяти процесса. Наружу отдаются только копии.
type orderStore struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
	keys   map[string]string // Idempotency-Key -> id заказа
}

// NewOrderRepository возвращает хранилище заказов для локального запуска и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderStore{
		orders: make(map[string]domain.Order),
		keys:   make(map[string]string),
	}
}

// Create отклоняет заказ с занятым id или Idempotency-Key.
func (s *orderStore) Create(_ context.Context, order domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, taken := s.orders[order.ID]
	if key := order.IdempotencyKey; key != "" && !taken {
		_, taken = s.keys[key]
	}
	if taken {
		return domain.ErrOrderAlreadyExists
	}

	if order.IdempotencyKey != "" {
		s.keys[order.IdempotencyKey] = order.ID
	}
	s.orders[order.ID] = cloneOrder(order)
	return nil
}

func (s *orderStore) Get(_ context.Context, id string) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookup(id)
}

func (s *orderStore) FindByIdempotencyKey(_ context.Context, key string) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.keys[key]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return s.lookup(id)
}

func (s *orderStore) lookup(id string) (domain.Order, error) {
	order, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// List отдаёт страницу заказов: новые первыми, при равном времени по убыванию id.
func (s *orderStore) List(_ context.Context, filter domain.ListFilter) (domain.OrderPage, error) {
	filter = filter.Normalize()

	s.mu.RLock()
	matched := make([]domain.Order, 0, len(s.orders))
	for _, order := range s.orders {
		if filter.UserID == "" || order.UserID == filter.UserID {
			matched = append(matched, order)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(matched, func(a, b domain.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})

	from := min(filter.Page*filter.Size, len(matched))
	to := min(from+filter.Size, len(matched))
	page := domain.OrderPage{
		Total:  len(matched),
		Page:   filter.Page,
		Size:   filter.Size,
		Orders: make([]domain.Order, 0, to-from),
	}
	for _, order := range matched[from:to] {
		page.Orders = append(page.Orders, cloneOrder(order))
	}
	return page, nil
}

// Save применяет optimistic locking: версия должна совпасть с сохранённой
// и увеличивается на единицу.
func (s *orderStore) Save(_ context.Context, order domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.orders[order.ID]
	switch {
	case !ok:
		return domain.ErrOrderNotFound
	case current.Version != order.Version:
		return domain.ErrOrderVersionConflict
	}
	order.Version++
	s.orders[order.ID] = cloneOrder(order)
	return nil
}

func cloneOrder(o domain.Order) domain.Order {
	o.Items = slices.Clone(o.Items)
	o.ReturnedItems = slices.Clone(o.ReturnedItems)
	for i := range o.ReturnedItems {
		o.ReturnedItems[i].RefundedAt = cloneTime(o.ReturnedItems[i].RefundedAt)
	}
	o.PaymentConfirmedAt = cloneTime(o.PaymentConfirmedAt)
	o.OrderConfirmedAt = cloneTime(o.OrderConfirmedAt)
	return o
}

var _ domain.OrderRepository = (*orderStore)(nil)
