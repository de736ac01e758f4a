package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lu-lu-xue/OrderManagement/internal/domain"
)

type recordingHandler struct {
	calls []string
	err   error

	refundCompleted domain.RefundCompleted
}

func (h *recordingHandler) record(name string) error {
	h.calls = append(h.calls, name)
	return h.err
}

func (h *recordingHandler) HandlePaymentConfirmed(context.Context, domain.PaymentConfirmed) error {
	return h.record("payment-confirmed")
}

func (h *recordingHandler) HandlePaymentFailed(context.Context, domain.PaymentFailed) error {
	return h.record("payment-failed")
}

func (h *recordingHandler) HandleInventoryReserved(context.Context, domain.InventoryReserved) error {
	return h.record("inventory-reserved")
}

func (h *recordingHandler) HandleInventoryReservationFailed(context.Context, domain.InventoryReservationFailed) error {
	return h.record("inventory-reservation-failed")
}

func (h *recordingHandler) HandleRefundCompleted(_ context.Context, evt domain.RefundCompleted) error {
	h.refundCompleted = evt
	return h.record("refund-completed")
}

func (h *recordingHandler) HandleRefundFailed(context.Context, domain.RefundFailed) error {
	return h.record("refund-failed")
}

func (h *recordingHandler) HandleOrderShipped(context.Context, domain.OrderShipped) error {
	return h.record("shipment-shipped")
}

func (h *recordingHandler) HandleOrderDelivered(context.Context, domain.OrderDelivered) error {
	return h.record("shipment-delivered")
}

func TestRouter_RoutesByTopic(t *testing.T) {
	handler := &recordingHandler{}
	router := NewRouter(handler, DefaultTopics(), nil)
	ctx := context.Background()

	for _, topic := range DefaultTopics().InboundTopics() {
		require.NoError(t, router.Handle(ctx, &sarama.ConsumerMessage{Topic: topic, Value: []byte(`{"order_id":"order-1","refund_type":"RETURN"}`)}))
	}

	assert.Equal(t, []string{
		"payment-confirmed", "payment-failed", "inventory-reserved", "inventory-reservation-failed",
		"refund-completed", "refund-failed", "shipment-shipped", "shipment-delivered",
	}, handler.calls)
}

func TestRouter_DecodesPayload(t *testing.T) {
	handler := &recordingHandler{}
	router := NewRouter(handler, DefaultTopics(), nil)

	msg := &sarama.ConsumerMessage{
		Topic: "payment-refund-done",
		Value: []byte(`{"order_id":"order-1","refund_transaction_id":"rf-1","amount_minor":2000,"refund_type":"RETURN","returned_item_ids":["ret-1","ret-2"]}`),
	}
	require.NoError(t, router.Handle(context.Background(), msg))

	assert.Equal(t, "rf-1", handler.refundCompleted.RefundTransactionID)
	assert.Equal(t, domain.RefundTypeReturn, handler.refundCompleted.RefundType)
	assert.Equal(t, []string{"ret-1", "ret-2"}, handler.refundCompleted.ReturnedItemIDs)
}

func TestRouter_DropsMalformedAndUnknown(t *testing.T) {
	handler := &recordingHandler{}
	router := NewRouter(handler, DefaultTopics(), nil)
	ctx := context.Background()

	assert.NoError(t, router.Handle(ctx, &sarama.ConsumerMessage{Topic: "payment-confirmed", Value: []byte("{")}))
	assert.NoError(t, router.Handle(ctx, &sarama.ConsumerMessage{Topic: "payment-confirmed", Value: []byte(`{"payment_transaction_id":"t"}`)}))
	assert.NoError(t, router.Handle(ctx, &sarama.ConsumerMessage{Topic: "unrelated", Value: []byte(`{"order_id":"o"}`)}))
	assert.Empty(t, handler.calls)
}

func TestRouter_DropsUnknownRefundType(t *testing.T) {
	handler := &recordingHandler{}
	router := NewRouter(handler, DefaultTopics(), nil)
	ctx := context.Background()

	for _, value := range []string{
		`{"order_id":"order-1","refund_type":"GIFT","returned_item_ids":["ret-1"]}`,
		`{"order_id":"order-1","returned_item_ids":["ret-1"]}`,
	} {
		assert.NoError(t, router.Handle(ctx, &sarama.ConsumerMessage{Topic: "payment-refund-done", Value: []byte(value)}))
	}
	assert.Empty(t, handler.calls)

	err := router.dispatch(ctx, domain.EventRefundCompleted, []byte(`{"order_id":"order-1","refund_type":"GIFT"}`))
	assert.ErrorIs(t, err, domain.ErrUnknownRefundType)
	assert.ErrorIs(t, err, domain.ErrMalformedEvent)
}

func TestRouter_PropagatesRetryableError(t *testing.T) {
	handler := &recordingHandler{err: domain.ErrStorage}
	router := NewRouter(handler, DefaultTopics(), nil)

	err := router.Handle(context.Background(), &sarama.ConsumerMessage{Topic: "shipment-delivered", Value: []byte(`{"order_id":"o"}`)})
	assert.True(t, errors.Is(err, domain.ErrStorage))
}
