package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/lu-lu-xue/OrderManagement/internal/domain"
)

func fixedOutbox(store *Store, at time.Time) *OutboxRepository {
	repo := NewOutboxRepository(store)
	repo.now = func() time.Time { return at }
	return repo
}

func TestOutboxRepository_EnqueueFillsIDAndTime(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := fixedOutbox(store, at)

	mock.ExpectExec("INSERT INTO outbox_messages").
		WithArgs(sqlmock.AnyArg(), "order", "order-1", "payment-charge-request", "payment-charge-request", []byte(`{}`), at, at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	msg, err := repo.Enqueue(context.Background(), domain.OutboxMessage{
		AggregateType: "order", AggregateID: "order-1",
		EventType: "payment-charge-request", Topic: "payment-charge-request", Payload: []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if msg.ID == "" || !msg.CreatedAt.Equal(at) {
		t.Fatalf("id and created_at must be filled: %+v", msg)
	}
}

func TestOutboxRepository_PullPendingDefaultLimit(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewOutboxRepository(store)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT id, aggregate_type").
		WithArgs(100).
		WillReturnRows(sqlmock.NewRows([]string{"id", "aggregate_type", "aggregate_id", "event_type", "topic", "payload", "created_at"}).
			AddRow("m-1", "order", "order-1", "payment-charge-request", "payment-charge-request", []byte(`{"a":1}`), created).
			AddRow("m-2", "order", "order-2", "notification-order-placed", "notification-order-placed", []byte(`{}`), created))

	batch, err := repo.PullPending(context.Background(), 0)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if len(batch) != 2 || batch[0].ID != "m-1" || string(batch[0].Payload) != `{"a":1}` {
		t.Fatalf("unexpected batch: %+v", batch)
	}
}

func TestOutboxRepository_PullPendingScanError(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewOutboxRepository(store)

	mock.ExpectQuery("SELECT id, aggregate_type").
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("m-1"))

	if _, err := repo.PullPending(context.Background(), 5); !errors.Is(err, domain.ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
}

func TestOutboxRepository_Settle(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := fixedOutbox(store, at)

	mock.ExpectExec("UPDATE outbox_messages").
		WithArgs("m-1", "sent", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE outbox_messages").
		WithArgs("missing", "failed", at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.MarkSent(context.Background(), "m-1"); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if err := repo.MarkFailed(context.Background(), "missing"); !errors.Is(err, domain.ErrOutboxPublish) {
		t.Fatalf("expected ErrOutboxPublish for unknown id, got %v", err)
	}
}

func TestOutboxRepository_StatsEmpty(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewOutboxRepository(store)

	mock.ExpectQuery(`SELECT COUNT\(\*\), MIN\(created_at\)`).
		WillReturnRows(sqlmock.NewRows([]string{"count", "min"}).AddRow(0, nil))

	stats, err := repo.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.PendingCount != 0 || !stats.OldestPendingAt.IsZero() {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestOutboxRepository_PurgeProcessed(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewOutboxRepository(store)
	before := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec("DELETE FROM outbox_messages").
		WithArgs(before, 50).
		WillReturnResult(sqlmock.NewResult(0, 7))

	deleted, err := repo.PurgeProcessed(context.Background(), before, 50)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if deleted != 7 {
		t.Fatalf("expected 7 deleted rows, got %d", deleted)
	}
}

func TestOutboxRepository_PurgeProcessedDefaultLimitAndError(t *testing.T) {
	store, mock := newMockStore(t)
	repo := NewOutboxRepository(store)

	mock.ExpectExec("DELETE FROM outbox_messages").
		WithArgs(sqlmock.AnyArg(), 500).
		WillReturnError(errors.New("connection reset"))

	if _, err := repo.PurgeProcessed(context.Background(), time.Now(), 0); !errors.Is(err, domain.ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
}
