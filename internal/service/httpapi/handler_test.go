package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/lu-lu-xue/OrderManagement/internal/domain"
	"github.com/lu-lu-xue/OrderManagement/internal/service/saga"
)

type stubOrders struct {
	order    domain.Order
	page     domain.OrderPage
	timeline []domain.TimelineEvent
	replayed bool
	err      error

	createReq saga.CreateOrderRequest
	returnReq saga.ReturnOrderRequest
	filter    domain.ListFilter
	cancelID  string
	reason    string
}

func (s *stubOrders) CreateOrder(_ context.Context, req saga.CreateOrderRequest) (domain.Order, bool, error) {
	s.createReq = req
	return s.order, s.replayed, s.err
}

func (s *stubOrders) GetOrder(_ context.Context, orderID string) (domain.Order, error) {
	if s.err != nil {
		return domain.Order{}, s.err
	}
	if orderID != s.order.ID {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return s.order, nil
}

func (s *stubOrders) ListOrders(_ context.Context, filter domain.ListFilter) (domain.OrderPage, error) {
	s.filter = filter
	return s.page, s.err
}

func (s *stubOrders) Timeline(_ context.Context, _ string) ([]domain.TimelineEvent, error) {
	return s.timeline, s.err
}

func (s *stubOrders) CancelOrder(_ context.Context, orderID, reasonCode string) (domain.Order, error) {
	s.cancelID, s.reason = orderID, reasonCode
	return s.order, s.err
}

func (s *stubOrders) ReturnOrder(_ context.Context, req saga.ReturnOrderRequest) (domain.Order, error) {
	s.returnReq = req
	return s.order, s.err
}

func sampleOrder() domain.Order {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return domain.Order{
		ID:         "order-1",
		UserID:     "user-1",
		Status:     domain.OrderStatusPending,
		Currency:   "USD",
		TotalMinor: 2500,
		Items: []domain.OrderItem{
			{ID: "item-a", ProductID: "A", ProductName: "Product A", UnitPriceMinor: 1000, Qty: 2, SubtotalMinor: 2000},
			{ID: "item-b", ProductID: "B", ProductName: "Product B", UnitPriceMinor: 500, Qty: 1, SubtotalMinor: 500},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func newTestServer(t *testing.T, orders *stubOrders) *httptest.Server {
	t.Helper()
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	srv := httptest.NewServer(NewRouter(NewHandler(orders, log.NewEntry(logger))))
	t.Cleanup(srv.Close)
	return srv
}

func doRequest(t *testing.T, method, url, body string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestCreateOrder_PassesHeadersAndReturnsCreated(t *testing.T) {
	orders := &stubOrders{order: sampleOrder()}
	srv := newTestServer(t, orders)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/orders",
		`{"user_id":"user-1","shipping_address_id":"addr-1","items":[{"product_id":"A","quantity":2}]}`,
		map[string]string{headerIdempotencyKey: "idem-1", headerPaymentToken: "tok"})

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	got := decodeBody[orderResponse](t, resp)
	if got.ID != "order-1" || got.Total != "25.00" || got.TotalMinor != 2500 || len(got.Items) != 2 {
		t.Fatalf("unexpected body: %+v", got)
	}
	if got.Items[0].UnitPrice != "10.00" {
		t.Fatalf("expected unit price 10.00, got %s", got.Items[0].UnitPrice)
	}

	req := orders.createReq
	if req.IdempotencyKey != "idem-1" || req.PaymentToken != "tok" || req.UserID != "user-1" || req.ShippingAddressID != "addr-1" {
		t.Fatalf("unexpected command: %+v", req)
	}
	if len(req.Items) != 1 || req.Items[0] != (domain.ItemQuantity{ProductID: "A", Quantity: 2}) {
		t.Fatalf("unexpected items: %+v", req.Items)
	}
}

func TestCreateOrder_ReplayReturnsOK(t *testing.T) {
	srv := newTestServer(t, &stubOrders{order: sampleOrder(), replayed: true})

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/orders", `{"user_id":"user-1"}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get(headerReplayed) != "true" {
		t.Fatalf("expected replay header")
	}
}

func TestCreateOrder_InvalidJSON(t *testing.T) {
	srv := newTestServer(t, &stubOrders{})

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/orders", `{"user_id":`, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if body := decodeBody[errorResponse](t, resp); body.Code != "validation_failed" {
		t.Fatalf("unexpected error body: %+v", body)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   int
		code     string
		hideBody bool
	}{
		{name: "validation", err: &domain.ValidationError{Field: "items", Err: domain.ErrItemsRequired}, status: http.StatusBadRequest, code: "validation_failed"},
		{name: "not found", err: domain.ErrOrderNotFound, status: http.StatusNotFound, code: "order_not_found"},
		{name: "invalid state", err: &domain.InvalidStateTransitionError{OrderID: "o", From: domain.OrderStatusShipped, To: domain.OrderStatusPendingCancellation}, status: http.StatusConflict, code: "invalid_state"},
		{name: "invalid return", err: fmt.Errorf("%w: product C", domain.ErrInvalidReturnRequest), status: http.StatusConflict, code: "invalid_return_request"},
		{name: "inventory", err: domain.ErrInventoryNotAvailable, status: http.StatusConflict, code: "inventory_not_available"},
		{name: "version conflict", err: domain.ErrOrderVersionConflict, status: http.StatusConflict, code: "version_conflict"},
		{name: "product not found", err: domain.ErrProductNotFound, status: http.StatusUnprocessableEntity, code: "product_not_found"},
		{name: "declined", err: &domain.PaymentDeclinedError{Code: domain.DeclineCardDeclined, Message: "no"}, status: http.StatusPaymentRequired, code: domain.DeclineCardDeclined},
		{name: "payment unavailable", err: domain.ErrPaymentServiceUnavailable, status: http.StatusServiceUnavailable, code: "service_unavailable"},
		{name: "catalog unavailable", err: domain.ErrCatalogUnavailable, status: http.StatusServiceUnavailable, code: "service_unavailable"},
		{name: "storage", err: fmt.Errorf("%w: boom", domain.ErrStorage), status: http.StatusInternalServerError, code: "internal_error", hideBody: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &stubOrders{err: tt.err})

			resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/orders/order-1/cancel", `{"reason_code":"CHANGED_MIND"}`, nil)
			if resp.StatusCode != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, resp.StatusCode)
			}
			body := decodeBody[errorResponse](t, resp)
			if body.Code != tt.code {
				t.Fatalf("expected code %s, got %s", tt.code, body.Code)
			}
			if tt.hideBody && strings.Contains(body.Message, "boom") {
				t.Fatalf("internal error details leaked: %s", body.Message)
			}
		})
	}
}

func TestGetOrder(t *testing.T) {
	srv := newTestServer(t, &stubOrders{order: sampleOrder()})

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/orders/order-1", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := decodeBody[orderResponse](t, resp); got.Status != "PENDING" {
		t.Fatalf("unexpected status %s", got.Status)
	}

	missing := doRequest(t, http.MethodGet, srv.URL+"/api/v1/orders/other", "", nil)
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", missing.StatusCode)
	}
}

func TestListOrders(t *testing.T) {
	orders := &stubOrders{page: domain.OrderPage{Orders: []domain.Order{sampleOrder()}, Page: 1, Size: 5, Total: 6}}
	srv := newTestServer(t, orders)

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/orders?page=1&size=5&user_id=user-1", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	got := decodeBody[orderPageResponse](t, resp)
	if got.Total != 6 || got.Page != 1 || got.Size != 5 || len(got.Orders) != 1 {
		t.Fatalf("unexpected page: %+v", got)
	}
	if orders.filter != (domain.ListFilter{UserID: "user-1", Page: 1, Size: 5}) {
		t.Fatalf("unexpected filter: %+v", orders.filter)
	}
}

func TestListOrders_BadPaging(t *testing.T) {
	srv := newTestServer(t, &stubOrders{})

	for _, query := range []string{"page=-1", "size=abc"} {
		resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/orders?"+query, "", nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", query, resp.StatusCode)
		}
	}
}

func TestTimeline(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	srv := newTestServer(t, &stubOrders{timeline: []domain.TimelineEvent{
		{OrderID: "order-1", Type: "PENDING", Reason: "order created", Occurred: at},
		{OrderID: "order-1", Type: "PAYMENT_CONFIRMED", Reason: "payment confirmed", Occurred: at.Add(time.Second)},
	}})

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/orders/order-1/timeline", "", nil)
	got := decodeBody[[]timelineEventResponse](t, resp)
	if len(got) != 2 || got[1].Type != "PAYMENT_CONFIRMED" || !got[0].OccurredAt.Equal(at) {
		t.Fatalf("unexpected timeline: %+v", got)
	}
}

func TestCancelAndReturn(t *testing.T) {
	orders := &stubOrders{order: sampleOrder()}
	srv := newTestServer(t, orders)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/v1/orders/order-1/cancel", `{"reason_code":"CHANGED_MIND"}`, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("cancel: expected 202, got %d", resp.StatusCode)
	}
	if orders.cancelID != "order-1" || orders.reason != "CHANGED_MIND" {
		t.Fatalf("unexpected cancel args: %s %s", orders.cancelID, orders.reason)
	}

	resp = doRequest(t, http.MethodPost, srv.URL+"/api/v1/orders/order-1/return",
		`{"reason_code":"DAMAGED","notes":"box crushed","items":[{"product_id":"A","quantity":2}]}`, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("return: expected 202, got %d", resp.StatusCode)
	}
	req := orders.returnReq
	if req.OrderID != "order-1" || req.ReasonCode != "DAMAGED" || req.Notes != "box crushed" || len(req.Items) != 1 {
		t.Fatalf("unexpected return request: %+v", req)
	}
}

func TestStatusForUnknownError(t *testing.T) {
	status, code := statusFor(errors.New("surprise"))
	if status != http.StatusInternalServerError || code != "internal_error" {
		t.Fatalf("unexpected mapping: %d %s", status, code)
	}
}

func TestLogRequests_RecordsSpanAndTraceID(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() {
		otel.SetTracerProvider(previous)
		_ = provider.Shutdown(context.Background())
	})

	logger, hook := logtest.NewNullLogger()
	srv := httptest.NewServer(NewRouter(NewHandler(&stubOrders{order: sampleOrder()}, log.NewEntry(logger))))
	t.Cleanup(srv.Close)

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/v1/orders/order-1", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	entry := hook.LastEntry()
	if entry == nil || entry.Message != "http request" {
		t.Fatalf("expected request log entry, got %+v", entry)
	}
	traceID, ok := entry.Data["trace_id"].(string)
	if !ok || traceID == "" {
		t.Fatalf("expected trace_id in log fields: %+v", entry.Data)
	}

	spans := recorder.Ended()
	if len(spans) != 1 || spans[0].Name() != "http GET" {
		t.Fatalf("unexpected spans: %+v", spans)
	}
	if spans[0].SpanContext().TraceID().String() != traceID {
		t.Fatal("logged trace_id must match the request span")
	}
}
