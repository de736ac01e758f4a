package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lu-lu-xue/OrderManagement/internal/domain"
	"github.com/lu-lu-xue/OrderManagement/internal/storage/memory"
)

func TestEventPublisher_EnqueuesWithTopicAndKey(t *testing.T) {
	outbox := memory.NewOutboxRepository()
	publisher := NewEventPublisher(outbox, Topics{PaymentRefund: "billing.refund"}, nil)
	ctx := context.Background()

	require.NoError(t, publisher.RequestRefund(ctx, domain.PaymentRefundRequested{
		OrderID:         "order-1",
		AmountMinor:     2000,
		Currency:        "USD",
		RefundType:      domain.RefundTypeReturn,
		ReturnedItemIDs: []string{"ret-1"},
		RequestedAt:     time.Now().UTC(),
	}))
	require.NoError(t, publisher.Notify(ctx, domain.Notification{Kind: domain.NotifyOrderReturned, OrderID: "order-1"}))
	require.NoError(t, publisher.AlertOperators(ctx, domain.OperatorAlert{OrderID: "order-1", Reason: "refund failed"}))

	pending := outbox.AllPending()
	require.Len(t, pending, 3)

	assert.Equal(t, "billing.refund", pending[0].Topic)
	assert.Equal(t, "order-1", pending[0].AggregateID)
	assert.Equal(t, "order", pending[0].AggregateType)
	assert.Equal(t, string(domain.EventPaymentRefundRequested), pending[0].EventType)

	var refund domain.PaymentRefundRequested
	require.NoError(t, json.Unmarshal(pending[0].Payload, &refund))
	assert.Equal(t, int64(2000), refund.AmountMinor)
	assert.Equal(t, []string{"ret-1"}, refund.ReturnedItemIDs)

	assert.Equal(t, "notification-order-returned", pending[1].Topic)
	assert.Equal(t, "notification-operator-alert", pending[2].Topic)
}

func TestEventPublisher_AllRequests(t *testing.T) {
	outbox := memory.NewOutboxRepository()
	publisher := NewEventPublisher(outbox, DefaultTopics(), nil)
	ctx := context.Background()

	require.NoError(t, publisher.RequestCharge(ctx, domain.PaymentChargeRequested{OrderID: "o"}))
	require.NoError(t, publisher.RequestReduction(ctx, domain.InventoryReductionRequested{OrderID: "o"}))
	require.NoError(t, publisher.RequestRestock(ctx, domain.InventoryRestockRequested{OrderID: "o"}))

	var topics []string
	for _, msg := range outbox.AllPending() {
		topics = append(topics, msg.Topic)
	}
	assert.Equal(t, []string{"payment-charge-request", "inventory-reduction-request", "inventory-restock-request"}, topics)
}

type failingOutbox struct {
	domain.OutboxRepository
}

func (failingOutbox) Enqueue(context.Context, domain.OutboxMessage) (domain.OutboxMessage, error) {
	return domain.OutboxMessage{}, domain.ErrStorage
}

func TestEventPublisher_PropagatesStorageError(t *testing.T) {
	publisher := NewEventPublisher(failingOutbox{}, DefaultTopics(), nil)

	err := publisher.RequestCharge(context.Background(), domain.PaymentChargeRequested{OrderID: "o"})
	assert.True(t, errors.Is(err, domain.ErrStorage))
}
