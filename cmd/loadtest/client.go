package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/lu-lu-xue/OrderManagement/internal/version"
)

const (
	idempotencyHeader  = "Idempotency-Key"
	paymentTokenHeader = "X-Payment-Token"
	replayedHeader     = "Idempotent-Replayed"

	ordersPath = "/api/v1/orders"
)

type orderLine struct {
	ProductID string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
}

type createOrderBody struct {
	UserID            string      `json:"user_id"`
	ShippingAddressID string      `json:"shipping_address_id"`
	Items             []orderLine `json:"items"`
}

// orderAPI ходит в HTTP API заказов и пишет каждый вызов в recorder.
type orderAPI struct {
	base    string
	client  *http.Client
	timeout time.Duration
	stats   *recorder
}

func newHTTPClient(cfg config) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = cfg.concurrency * 2
	transport.MaxIdleConnsPerHost = cfg.concurrency
	return &http.Client{Transport: transport, Timeout: cfg.timeout}
}

// create возвращает id заказа и признак того, что ответ был повтором по ключу.
func (a *orderAPI) create(call, key string, body createOrderBody) (string, bool, error) {
	header, raw, err := a.post(call, ordersPath, key, body, http.StatusCreated, http.StatusOK)
	if err != nil {
		return "", false, err
	}
	var order struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &order); err != nil {
		return "", false, fmt.Errorf("%s: decode order: %w", call, err)
	}
	if order.ID == "" {
		return "", false, fmt.Errorf("%s: empty order id", call)
	}
	return order.ID, header.Get(replayedHeader) == "true", nil
}

func (a *orderAPI) cancel(orderID string) error {
	_, _, err := a.post("CancelOrder", ordersPath+"/"+orderID+"/cancel", "",
		map[string]string{"reason_code": "LOAD_TEST"}, http.StatusAccepted)
	return err
}

func (a *orderAPI) post(call, path, key string, payload any, accept ...int) (http.Header, []byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.base+path, bytes.NewReader(raw))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent("order-loadtest"))
	if key != "" {
		req.Header.Set(idempotencyHeader, key)
		req.Header.Set(paymentTokenHeader, "tok-load")
	}

	started := time.Now()
	resp, err := a.client.Do(req)
	if err != nil {
		a.stats.observe(call, time.Since(started), "transport_error", false)
		return nil, nil, fmt.Errorf("%s: %w", call, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	took := time.Since(started)
	if err != nil {
		a.stats.observe(call, took, "read_error", false)
		return nil, nil, fmt.Errorf("%s: read body: %w", call, err)
	}

	ok := slices.Contains(accept, resp.StatusCode)
	a.stats.observe(call, took, strconv.Itoa(resp.StatusCode), ok)
	if !ok {
		return nil, nil, fmt.Errorf("%s: status %d: %s", call, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp.Header, body, nil
}
