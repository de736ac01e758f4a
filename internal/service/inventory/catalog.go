package inventory

import (
	"context"
	"sync"

	"github.com/lu-lu-xue/OrderManagement/internal/domain"
)

// Product — запись in-memory каталога: снимок товара и доступный остаток.
type Product struct {
	domain.ProductDetails
	Stock int32
}

// Catalog хранит товары в памяти для локального запуска и тестов.
type Catalog struct {
	mu       sync.RWMutex
	products map[string]Product

	// Unavailable имитирует недоступность сервиса товаров.
	Unavailable bool
}

// NewCatalog создаёт каталог с начальным набором товаров.
func NewCatalog(products ...Product) *Catalog {
	c := &Catalog{products: make(map[string]Product, len(products))}
	for _, p := range products {
		c.products[p.ProductID] = p
	}
	return c
}

// Put добавляет или заменяет товар.
func (c *Catalog) Put(p Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ProductID] = p
}

// SetStock меняет остаток товара; неизвестный товар игнорируется.
func (c *Catalog) SetStock(productID string, stock int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.products[productID]; ok {
		p.Stock = stock
		c.products[productID] = p
	}
}

func (c *Catalog) IsProductAvailable(_ context.Context, productID string, qty int32) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Unavailable {
		return false
	}
	p, ok := c.products[productID]
	return ok && qty > 0 && p.Stock >= qty
}

func (c *Catalog) GetProductDetails(_ context.Context, productID string) (domain.ProductDetails, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Unavailable {
		return domain.ProductDetails{}, domain.ErrCatalogUnavailable
	}
	p, ok := c.products[productID]
	if !ok {
		return domain.ProductDetails{}, domain.ErrProductNotFound
	}
	return p.ProductDetails, nil
}

var _ domain.ProductCatalog = (*Catalog)(nil)
