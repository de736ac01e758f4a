package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/lu-lu-xue/OrderManagement/internal/domain"
	"github.com/lu-lu-xue/OrderManagement/internal/service/circuit"
	"github.com/lu-lu-xue/OrderManagement/internal/version"
)

const (
	defaultTimeout      = 5 * time.Second
	defaultMaxFailures  = 5
	defaultResetTimeout = 30 * time.Second

	statusSuccess = "SUCCESS"
	statusFailed  = "FAILED"

	errorTypeBusiness = "BUSINESS_LOGIC"
)

// ClientConfig задаёт адрес платёжного сервиса и параметры устойчивости.
type ClientConfig struct {
	BaseURL      string
	Timeout      time.Duration
	MaxFailures  int
	ResetTimeout time.Duration
}

// Client ходит в платёжный сервис по HTTP для синхронного списания.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *circuit.Breaker
	logger     *log.Entry
}

// NewClient создаёт клиента платёжного сервиса.
func NewClient(cfg ClientConfig, logger *log.Entry) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("payment service base url is required")
	}
	if logger == nil {
		logger = log.New().WithField("component", "payment-client")
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
		breaker:    circuit.NewBreaker(cfg.MaxFailures, cfg.ResetTimeout, logger.WithField("breaker", "payment-service")),
		logger:     logger,
	}, nil
}

type chargeRequestDTO struct {
	OrderID      string          `json:"orderId"`
	UserID       string          `json:"userId"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	PaymentToken string          `json:"paymentToken"`
}

type errorDTO struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

type chargeResponseDTO struct {
	PaymentTransactionID string    `json:"paymentTransactionId"`
	Status               string    `json:"status"`
	Error                *errorDTO `json:"error,omitempty"`
}

// errUnavailable помечает исходы, после которых решение о платеже неизвестно.
var errUnavailable = errors.New("payment service unavailable")

// Charge списывает сумму заказа. Отказ провайдера является обычным результатом и не размыкает breaker;
// сетевые сбои, 5xx и разомкнутый breaker дают ChargeUnavailable.
func (c *Client) Charge(ctx context.Context, req domain.ChargeRequest) domain.ChargeResult {
	body, err := json.Marshal(chargeRequestDTO{
		OrderID:      req.OrderID,
		UserID:       req.UserID,
		Amount:       domain.FromMinorUnits(req.AmountMinor),
		Currency:     req.Currency,
		PaymentToken: req.PaymentToken,
	})
	if err != nil {
		return domain.ChargeUnavailableResult(fmt.Sprintf("marshal request: %v", err))
	}

	var result domain.ChargeResult
	err = c.breaker.Execute("charge", func() error {
		var callErr error
		result, callErr = c.charge(ctx, body)
		return callErr
	}, func(err error) bool { return errors.Is(err, errUnavailable) })
	if err != nil {
		c.logger.WithError(err).WithField("order_id", req.OrderID).
			Error("payment call failed or circuit breaker is open")
		return domain.ChargeUnavailableResult(err.Error())
	}

	if result.Outcome == domain.ChargeDeclined {
		c.logger.WithFields(log.Fields{
			"order_id":     req.OrderID,
			"decline_code": result.DeclineCode,
		}).Info("payment declined")
	}
	return result
}

func (c *Client) charge(ctx context.Context, body []byte) (domain.ChargeResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/payment", bytes.NewReader(body))
	if err != nil {
		return domain.ChargeResult{}, fmt.Errorf("%w: create request: %v", errUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", version.UserAgent("order-payment"))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.ChargeResult{}, fmt.Errorf("%w: %v", errUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return domain.ChargeResult{}, fmt.Errorf("%w: api error %d: %s", errUnavailable, resp.StatusCode, string(raw))
	}

	var dto chargeResponseDTO
	if err := json.NewDecoder(resp.Body).Decode(&dto); err != nil {
		return domain.ChargeResult{}, fmt.Errorf("%w: decode response (status %d): %v", errUnavailable, resp.StatusCode, err)
	}

	return toChargeResult(dto)
}

func toChargeResult(dto chargeResponseDTO) (domain.ChargeResult, error) {
	switch strings.ToUpper(dto.Status) {
	case statusSuccess:
		if dto.PaymentTransactionID == "" {
			return domain.ChargeResult{}, fmt.Errorf("%w: success without transaction id", errUnavailable)
		}
		return domain.ChargeSuccess(dto.PaymentTransactionID), nil
	case statusFailed:
		if dto.Error == nil {
			return domain.ChargeDecline(domain.DeclineCardDeclined, "payment failed"), nil
		}
		if isDecline(*dto.Error) {
			return domain.ChargeDecline(dto.Error.Code, dto.Error.Message), nil
		}
		return domain.ChargeResult{}, fmt.Errorf("%w: %s: %s", errUnavailable, dto.Error.Code, dto.Error.Message)
	default:
		return domain.ChargeResult{}, fmt.Errorf("%w: unexpected status %q", errUnavailable, dto.Status)
	}
}

func isDecline(e errorDTO) bool {
	switch e.Code {
	case domain.DeclineCardDeclined, domain.DeclineInsufficientFunds, domain.DeclineInvalidPayload:
		return true
	}
	return e.Type == errorTypeBusiness
}

var _ domain.PaymentGateway = (*Client)(nil)
