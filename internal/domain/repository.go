package domain

import "context"

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ListFilter задаёт постраничную выборку заказов (новые первыми).
type ListFilter struct {
	// Необязательный фильтр по покупателю.
	UserID string
	Page   int
	Size   int
}

// Normalize подставляет значения по умолчанию и ограничивает размер страницы.
func (f ListFilter) Normalize() ListFilter {
	if f.Page < 0 {
		f.Page = 0
	}
	if f.Size <= 0 {
		f.Size = DefaultPageSize
	}
	if f.Size > MaxPageSize {
		f.Size = MaxPageSize
	}
	return f
}

// OrderPage — страница заказов и общее число записей под фильтром.
type OrderPage struct {
	Orders []Order
	Total  int
	Page   int
	Size   int
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ вместе с позициями. ErrOrderAlreadyExists при повторе ID или idempotency-key.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id string) (Order, error)
	// FindByIdempotencyKey возвращает заказ по idempotency-key или ErrOrderNotFound.
	FindByIdempotencyKey(ctx context.Context, key string) (Order, error)
	List(ctx context.Context, filter ListFilter) (OrderPage, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	Save(ctx context.Context, order Order) error
}
