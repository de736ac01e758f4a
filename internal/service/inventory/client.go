package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/lu-lu-xue/OrderManagement/internal/domain"
	"github.com/lu-lu-xue/OrderManagement/internal/service/circuit"
	"github.com/lu-lu-xue/OrderManagement/internal/version"
)

const (
	defaultTimeout      = 3 * time.Second
	defaultMaxFailures  = 5
	defaultResetTimeout = 30 * time.Second
)

// ClientConfig задаёт адрес сервиса товаров и параметры устойчивости.
type ClientConfig struct {
	BaseURL      string
	Timeout      time.Duration
	MaxFailures  int
	ResetTimeout time.Duration
}

// Client ходит по HTTP в сервис товаров и остатков.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *circuit.Breaker
	logger     *log.Entry
}

// NewClient создаёт клиента; нулевые значения конфигурации заменяются значениями по умолчанию.
func NewClient(cfg ClientConfig, logger *log.Entry) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("product service base url is required")
	}
	if logger == nil {
		logger = log.New().WithField("component", "product-client")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = defaultMaxFailures
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = defaultResetTimeout
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    circuit.NewBreaker(cfg.MaxFailures, cfg.ResetTimeout, logger.WithField("breaker", "product-service")),
		logger:     logger,
	}, nil
}

// productDetailsDTO — ответ сервиса товаров; цена приходит в основных единицах.
type productDetailsDTO struct {
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Currency    string          `json:"currency"`
}

// Ответ 404 не считается сбоем сервиса.
var errNotFound = errors.New("not found")

// IsProductAvailable проверяет остаток. Любой сбой, включая разомкнутый breaker, даёт false:
// лучше отказать в заказе, чем продать отсутствующий товар.
func (c *Client) IsProductAvailable(ctx context.Context, productID string, qty int32) bool {
	query := url.Values{}
	query.Set("productId", productID)
	query.Set("quantity", strconv.Itoa(int(qty)))

	var available bool
	err := c.breaker.Execute("availability", func() error {
		return c.getJSON(ctx, "/api/v1/products/availability?"+query.Encode(), &available)
	}, isServiceFailure)
	if err != nil {
		entry := c.logger.WithError(err).WithField("product_id", productID)
		switch {
		case errors.Is(err, circuit.ErrOpen):
			entry.Warn("product service circuit open, availability check rejected")
		case errors.Is(err, errNotFound):
			entry.Warn("product does not exist in product service")
		default:
			entry.Error("availability check failed")
		}
		return false
	}
	return available
}

// GetProductDetails возвращает снимок товара: ErrProductNotFound на 404, ErrCatalogUnavailable на любой другой сбой.
func (c *Client) GetProductDetails(ctx context.Context, productID string) (domain.ProductDetails, error) {
	var dto productDetailsDTO
	err := c.breaker.Execute("details", func() error {
		return c.getJSON(ctx, "/api/v1/products/"+url.PathEscape(productID), &dto)
	}, isServiceFailure)
	switch {
	case err == nil:
	case errors.Is(err, errNotFound):
		return domain.ProductDetails{}, fmt.Errorf("%w: %s", domain.ErrProductNotFound, productID)
	default:
		c.logger.WithError(err).WithField("product_id", productID).Error("get product details failed")
		return domain.ProductDetails{}, fmt.Errorf("%w: %v", domain.ErrCatalogUnavailable, err)
	}

	if dto.ProductID == "" {
		dto.ProductID = productID
	}
	return domain.ProductDetails{
		ProductID:      dto.ProductID,
		ProductName:    dto.ProductName,
		UnitPriceMinor: domain.ToMinorUnits(dto.UnitPrice),
		Currency:       dto.Currency,
	}, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent("order-inventory"))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("api call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("api error %d: %s", resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func isServiceFailure(err error) bool {
	return !errors.Is(err, errNotFound)
}

var _ domain.ProductCatalog = (*Client)(nil)
