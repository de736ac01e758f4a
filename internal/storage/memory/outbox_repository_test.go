package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lu-lu-xue/OrderManagement/internal/domain"
)

func enqueueAll(t *testing.T, repo *OutboxRepository, events ...domain.EventType) []domain.OutboxMessage {
	t.Helper()

	out := make([]domain.OutboxMessage, 0, len(events))
	for _, event := range events {
		msg, err := repo.Enqueue(context.Background(), domain.OutboxMessage{
			AggregateType: "order",
			AggregateID:   "order-1",
			EventType:     string(event),
			Payload:       []byte(`{"order_id":"order-1"}`),
		})
		require.NoError(t, err)
		out = append(out, msg)
	}
	return out
}

func ids(msgs []domain.OutboxMessage) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestOutboxRepository_PullPendingKeepsEnqueueOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewOutboxRepository()
	msgs := enqueueAll(t, repo,
		domain.EventPaymentChargeRequested,
		domain.EventNotificationOrderPlaced,
		domain.EventInventoryReductionRequested,
	)
	for _, m := range msgs {
		assert.NotEmpty(t, m.ID)
		assert.False(t, m.CreatedAt.IsZero())
	}

	all, err := repo.PullPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, ids(msgs), ids(all))

	limited, err := repo.PullPending(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, ids(msgs[:2]), ids(limited))

	require.NoError(t, repo.MarkSent(ctx, msgs[0].ID))
	rest, err := repo.PullPending(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, ids(msgs[1:]), ids(rest))
}

func TestOutboxRepository_Stats(t *testing.T) {
	ctx := context.Background()
	repo := NewOutboxRepository()

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.OutboxStats{}, stats)

	msgs := enqueueAll(t, repo, domain.EventPaymentChargeRequested, domain.EventNotificationOrderPlaced)
	require.NoError(t, repo.MarkFailed(ctx, msgs[0].ID))

	stats, err = repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PendingCount)
	assert.Equal(t, msgs[1].CreatedAt, stats.OldestPendingAt)
}

func TestOutboxRepository_MarkUnknown(t *testing.T) {
	repo := NewOutboxRepository()

	assert.ErrorIs(t, repo.MarkSent(context.Background(), "missing"), domain.ErrOutboxPublish)
	assert.ErrorIs(t, repo.MarkFailed(context.Background(), "missing"), domain.ErrOutboxPublish)
}

func TestOutboxRepository_PurgeProcessed(t *testing.T) {
	ctx := context.Background()
	repo := NewOutboxRepository()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return clock }

	msgs := enqueueAll(t, repo,
		domain.EventPaymentChargeRequested,
		domain.EventNotificationOrderPlaced,
		domain.EventInventoryReductionRequested,
		domain.EventPaymentRefundRequested,
	)
	require.NoError(t, repo.MarkSent(ctx, msgs[0].ID))
	require.NoError(t, repo.MarkFailed(ctx, msgs[1].ID))
	clock = clock.Add(time.Hour)
	require.NoError(t, repo.MarkSent(ctx, msgs[2].ID))

	deleted, err := repo.PurgeProcessed(ctx, clock.Add(-time.Minute), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted, "limit applies")

	deleted, err = repo.PurgeProcessed(ctx, clock.Add(-time.Minute), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted, "newer processed record is kept")

	assert.ErrorIs(t, repo.MarkSent(ctx, msgs[0].ID), domain.ErrOutboxPublish, "purged record is gone")
	assert.NoError(t, repo.MarkSent(ctx, msgs[2].ID))
	assert.Equal(t, ids(msgs[3:]), ids(repo.AllPending()))
}
