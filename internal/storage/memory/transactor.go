package memory

import (
	"context"
	"sync"
	"time"

	"github.com/lu-lu-xue/OrderManagement/internal/domain"
)

type txKey struct{}

// Transactor сериализует транзакции in-memory хранилища. Отката нет: репозитории пишут сразу,
// поэтому режим подходит только для локального запуска и тестов.
type Transactor struct {
	mu sync.Mutex
}

func NewTransactor() *Transactor {
	return &Transactor{}
}

// WithinTransaction выполняет fn под общим замком; вложенные вызовы переиспользуют внешний.
func (t *Transactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(struct{}); ok {
		return fn(ctx)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return fn(context.WithValue(ctx, txKey{}, struct{}{}))
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

var _ domain.Transactor = (*Transactor)(nil)
