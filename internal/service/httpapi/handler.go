package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lu-lu-xue/OrderManagement/internal/domain"
	"github.com/lu-lu-xue/OrderManagement/internal/service/saga"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerPaymentToken   = "X-Payment-Token"
	headerReplayed       = "Idempotent-Replayed"

	maxBodyBytes = 1 << 20
)

var tracer = otel.Tracer("order-http")

// OrderService описывает команды и запросы над заказами, которые обслуживает HTTP API.
type OrderService interface {
	CreateOrder(ctx context.Context, req saga.CreateOrderRequest) (domain.Order, bool, error)
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	ListOrders(ctx context.Context, filter domain.ListFilter) (domain.OrderPage, error)
	Timeline(ctx context.Context, orderID string) ([]domain.TimelineEvent, error)
	CancelOrder(ctx context.Context, orderID, reasonCode string) (domain.Order, error)
	ReturnOrder(ctx context.Context, req saga.ReturnOrderRequest) (domain.Order, error)
}

// Handler обслуживает REST API заказов.
type Handler struct {
	orders OrderService
	logger *log.Entry
}

// NewHandler создаёт обработчик; logger может быть nil.
func NewHandler(orders OrderService, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.New().WithField("component", "http-api")
	}
	return &Handler{orders: orders, logger: logger}
}

// NewRouter собирает chi-роутер с middleware и маршрутами API.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.logRequests)
	r.Use(middleware.Recoverer)

	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes регистрирует маршруты /api/v1/orders.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/orders", func(r chi.Router) {
		r.Post("/", h.CreateOrder)
		r.Get("/", h.ListOrders)
		r.Get("/{id}", h.GetOrder)
		r.Get("/{id}/timeline", h.GetTimeline)
		r.Post("/{id}/cancel", h.CancelOrder)
		r.Post("/{id}/return", h.ReturnOrder)
	})
}

// CreateOrder оформляет заказ. Повтор с тем же Idempotency-Key отдаёт исходный заказ со статусом 200.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var body createOrderRequest
	if !h.decode(w, r, &body) {
		return
	}

	order, replayed, err := h.orders.CreateOrder(r.Context(), saga.CreateOrderRequest{
		IdempotencyKey:    r.Header.Get(headerIdempotencyKey),
		PaymentToken:      r.Header.Get(headerPaymentToken),
		UserID:            body.UserID,
		ShippingAddressID: body.ShippingAddressID,
		Currency:          body.Currency,
		Items:             body.Items,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if replayed {
		w.Header().Set(headerReplayed, "true")
		status = http.StatusOK
	}
	writeJSON(w, status, toOrderResponse(order))
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

// ListOrders отдаёт страницу заказов: page с нуля, size по умолчанию 20.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page, err := intParam(query.Get("page"), "page")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	size, err := intParam(query.Get("size"), "size")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.orders.ListOrders(r.Context(), domain.ListFilter{
		UserID: query.Get("user_id"),
		Page:   page,
		Size:   size,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := orderPageResponse{
		Orders: make([]orderResponse, 0, len(result.Orders)),
		Page:   result.Page,
		Size:   result.Size,
		Total:  result.Total,
	}
	for _, order := range result.Orders {
		resp.Orders = append(resp.Orders, toOrderResponse(order))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetTimeline(w http.ResponseWriter, r *http.Request) {
	events, err := h.orders.Timeline(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := make([]timelineEventResponse, 0, len(events))
	for _, evt := range events {
		resp = append(resp, timelineEventResponse{Type: evt.Type, Reason: evt.Reason, OccurredAt: evt.Occurred})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var body cancelOrderRequest
	if !h.decode(w, r, &body) {
		return
	}
	order, err := h.orders.CancelOrder(r.Context(), chi.URLParam(r, "id"), body.ReasonCode)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toOrderResponse(order))
}

// ReturnOrder принимает возврат; без items возвращается всё, что ещё не возвращено.
func (h *Handler) ReturnOrder(w http.ResponseWriter, r *http.Request) {
	var body returnOrderRequest
	if !h.decode(w, r, &body) {
		return
	}
	order, err := h.orders.ReturnOrder(r.Context(), saga.ReturnOrderRequest{
		OrderID:    chi.URLParam(r, "id"),
		ReasonCode: body.ReasonCode,
		Notes:      body.Notes,
		Items:      body.Items,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toOrderResponse(order))
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, r, &domain.ValidationError{Field: "body", Err: fmt.Errorf("invalid json: %w", err)})
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	entry := h.logger.WithError(err).WithFields(log.Fields{
		"method":     r.Method,
		"path":       r.URL.Path,
		"status":     status,
		"request_id": middleware.GetReqID(r.Context()),
	})

	message := err.Error()
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
		if status == http.StatusInternalServerError {
			message = "internal error"
		}
	} else {
		entry.Debug("request rejected")
	}

	var declined *domain.PaymentDeclinedError
	if errors.As(err, &declined) && declined.Code != "" {
		code = declined.Code
	}
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "http "+r.Method, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r.WithContext(ctx))

		if rctx := chi.RouteContext(ctx); rctx != nil && rctx.RoutePattern() != "" {
			span.SetName(r.Method + " " + rctx.RoutePattern())
		}
		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.Path),
			attribute.Int("http.status_code", ww.Status()),
		)
		if ww.Status() >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(ww.Status()))
		}

		fields := log.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"bytes":       ww.BytesWritten(),
			"duration_ms": time.Since(started).Milliseconds(),
			"request_id":  middleware.GetReqID(ctx),
		}
		if sc := span.SpanContext(); sc.HasTraceID() {
			fields["trace_id"] = sc.TraceID().String()
		}
		h.logger.WithFields(fields).Info("http request")
	})
}

func intParam(raw, field string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, &domain.ValidationError{Field: field, Err: fmt.Errorf("must be a non-negative integer, got %q", raw)}
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var _ OrderService = (*saga.Orchestrator)(nil)
