package app

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/lu-lu-xue/OrderManagement/internal/domain"
	"github.com/lu-lu-xue/OrderManagement/internal/service/inventory"
	"github.com/lu-lu-xue/OrderManagement/internal/service/payment"
)

// Dependencies хранит синхронных соседей саги: каталог товаров и платёжный шлюз.
type Dependencies struct {
	Catalog  domain.ProductCatalog
	Payments domain.PaymentGateway
	closeFn  func() error
}

// Close освобождает подключения (Redis).
func (d *Dependencies) Close() error {
	if d == nil || d.closeFn == nil {
		return nil
	}
	return d.closeFn()
}

// NewDependencies создаёт клиентов соседних сервисов. Без URL используется in-memory
// реализация: каталог с демонстрационными товарами и шлюз, одобряющий все платежи.
func NewDependencies(cfg CollaboratorsConfig, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}
	deps := &Dependencies{}

	if cfg.InventoryURL == "" {
		logger.Warn("collaborators.inventory_url is empty, using in-memory product catalog")
		deps.Catalog = inventory.NewCatalog(demoProducts()...)
	} else {
		client, err := inventory.NewClient(inventory.ClientConfig{
			BaseURL:      cfg.InventoryURL,
			Timeout:      cfg.Timeout,
			MaxFailures:  cfg.BreakerMaxFailures,
			ResetTimeout: cfg.BreakerResetTimeout,
		}, logger.WithField("collaborator", "product-service"))
		if err != nil {
			return nil, fmt.Errorf("product service client: %w", err)
		}
		deps.Catalog = client
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		deps.Catalog = inventory.NewCachedCatalog(deps.Catalog, rdb, cfg.ProductCacheTTL, logger.WithField("cache", "redis"))
		deps.closeFn = rdb.Close
		logger.WithField("redis_addr", cfg.RedisAddr).Info("product details cache enabled")
	}

	if cfg.PaymentURL == "" {
		logger.Warn("collaborators.payment_url is empty, using mock payment gateway")
		deps.Payments = payment.NewMockGateway()
	} else {
		client, err := payment.NewClient(payment.ClientConfig{
			BaseURL:      cfg.PaymentURL,
			Timeout:      cfg.Timeout,
			MaxFailures:  cfg.BreakerMaxFailures,
			ResetTimeout: cfg.BreakerResetTimeout,
		}, logger.WithField("collaborator", "payment-service"))
		if err != nil {
			_ = deps.Close()
			return nil, fmt.Errorf("payment service client: %w", err)
		}
		deps.Payments = client
	}

	return deps, nil
}

func demoProducts() []inventory.Product {
	return []inventory.Product{
		{ProductDetails: domain.ProductDetails{ProductID: "SKU-1", ProductName: "Wireless Mouse", UnitPriceMinor: 2599, Currency: "USD"}, Stock: 1000},
		{ProductDetails: domain.ProductDetails{ProductID: "SKU-2", ProductName: "Mechanical Keyboard", UnitPriceMinor: 8900, Currency: "USD"}, Stock: 500},
		{ProductDetails: domain.ProductDetails{ProductID: "SKU-3", ProductName: "USB-C Cable", UnitPriceMinor: 999, Currency: "USD"}, Stock: 5000},
	}
}
