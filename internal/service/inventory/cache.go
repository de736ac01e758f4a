package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/lu-lu-xue/OrderManagement/internal/domain"
)

const (
	defaultCacheTTL       = 5 * time.Minute
	defaultCacheKeyPrefix = "oms:product:"
)

// RedisClient — минимальный набор команд Redis, нужный кэшу каталога.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// CachedCatalog кэширует карточки товаров в Redis. Остатки не кэшируются:
// проверка доступности всегда идёт в сервис товаров.
type CachedCatalog struct {
	next      domain.ProductCatalog
	client    RedisClient
	ttl       time.Duration
	keyPrefix string
	logger    *log.Entry
}

// NewCachedCatalog оборачивает каталог кэшем. ttl <= 0 означает значение по умолчанию.
func NewCachedCatalog(next domain.ProductCatalog, client RedisClient, ttl time.Duration, logger *log.Entry) *CachedCatalog {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if logger == nil {
		logger = log.New().WithField("component", "product-cache")
	}
	return &CachedCatalog{
		next:      next,
		client:    client,
		ttl:       ttl,
		keyPrefix: defaultCacheKeyPrefix,
		logger:    logger,
	}
}

type cachedDetails struct {
	ProductID      string `json:"product_id"`
	ProductName    string `json:"product_name"`
	UnitPriceMinor int64  `json:"unit_price_minor"`
	Currency       string `json:"currency,omitempty"`
}

func (c *CachedCatalog) IsProductAvailable(ctx context.Context, productID string, qty int32) bool {
	return c.next.IsProductAvailable(ctx, productID, qty)
}

// GetProductDetails читает карточку из Redis, при промахе идёт в каталог и кладёт результат в кэш.
// Сбой Redis не ломает оформление заказа: запрос просто уходит в каталог.
func (c *CachedCatalog) GetProductDetails(ctx context.Context, productID string) (domain.ProductDetails, error) {
	key := c.key(productID)

	raw, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		var cached cachedDetails
		if jsonErr := json.Unmarshal([]byte(raw), &cached); jsonErr == nil {
			return domain.ProductDetails(cached), nil
		}
		c.logger.WithField("key", key).Warn("corrupted product cache entry, refetching")
	case errors.Is(err, redis.Nil):
	default:
		c.logger.WithError(err).WithField("key", key).Warn("product cache read failed")
	}

	details, err := c.next.GetProductDetails(ctx, productID)
	if err != nil {
		return domain.ProductDetails{}, err
	}

	payload, err := json.Marshal(cachedDetails(details))
	if err != nil {
		return details, nil
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("product cache write failed")
	}
	return details, nil
}

func (c *CachedCatalog) key(productID string) string {
	return c.keyPrefix + productID
}

var (
	_ domain.ProductCatalog = (*CachedCatalog)(nil)
	_ RedisClient           = (*redis.Client)(nil)
)
