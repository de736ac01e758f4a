package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/lu-lu-xue/OrderManagement/internal/domain"
)

const (
	outboxPullLimit  = 100
	outboxPurgeLimit = 500
)

const (
	insertOutboxSQL = `
		INSERT INTO outbox_messages (
			id, aggregate_type, aggregate_id, event_type, topic, payload,
			status, attempt_count, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,'pending',0,$7,$8)`

	pendingOutboxSQL = `
		SELECT id, aggregate_type, aggregate_id, event_type, topic, payload, created_at
		FROM outbox_messages
		WHERE status = 'pending'
		ORDER BY created_at, id
		LIMIT $1`

	settleOutboxSQL = `
		UPDATE outbox_messages
		SET status = $2, attempt_count = attempt_count + 1, updated_at = $3
		WHERE id = $1`

	purgeOutboxSQL = `
		DELETE FROM outbox_messages
		WHERE id IN (
			SELECT id FROM outbox_messages
			WHERE status <> 'pending' AND updated_at <= $1
			ORDER BY updated_at
			LIMIT $2
		)`
)

// OutboxRepository хранит исходящие события саги в outbox_messages.
type OutboxRepository struct {
	store *Store
	now   func() time.Time
}

func NewOutboxRepository(store *Store) *OutboxRepository {
	return &OutboxRepository{store: store, now: time.Now}
}

// Enqueue пишет в транзакцию из ctx, если она открыта: сообщение фиксируется
// вместе с изменением заказа или не фиксируется вовсе.
func (r *OutboxRepository) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := r.now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}

	_, err := r.store.exec(ctx, "enqueue outbox message", insertOutboxSQL,
		msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Topic, msg.Payload, msg.CreatedAt, now)
	if err != nil {
		return domain.OutboxMessage{}, err
	}
	return msg, nil
}

func (r *OutboxRepository) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = outboxPullLimit
	}

	batch := make([]domain.OutboxMessage, 0, limit)
	err := r.store.each(ctx, "pull pending outbox messages", pendingOutboxSQL, []any{limit}, func(rows *sql.Rows) error {
		var msg domain.OutboxMessage
		if err := rows.Scan(&msg.ID, &msg.AggregateType, &msg.AggregateID,
			&msg.EventType, &msg.Topic, &msg.Payload, &msg.CreatedAt); err != nil {
			return err
		}
		batch = append(batch, msg)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

func (r *OutboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)
	err := r.store.conn(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(created_at) FROM outbox_messages WHERE status = 'pending'`,
	).Scan(&stats.PendingCount, &oldest)
	if err != nil {
		return domain.OutboxStats{}, storageErr("outbox stats", err)
	}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

func (r *OutboxRepository) MarkSent(ctx context.Context, id string) error {
	return r.settle(ctx, id, "sent")
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, id string) error {
	return r.settle(ctx, id, "failed")
}

// settle переводит сообщение в конечный статус. На неизвестный id отвечает ErrOutboxPublish.
func (r *OutboxRepository) settle(ctx context.Context, id, status string) error {
	n, err := r.store.exec(ctx, "mark outbox message "+status, settleOutboxSQL, id, status, r.now().UTC())
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrOutboxPublish
	}
	return nil
}

// PurgeProcessed удаляет не больше limit отправленных или проваленных сообщений,
// обновлённых не позже before. Pending не трогает.
func (r *OutboxRepository) PurgeProcessed(ctx context.Context, before time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = outboxPurgeLimit
	}
	n, err := r.store.exec(ctx, "purge processed outbox messages", purgeOutboxSQL, before.UTC(), limit)
	return int(n), err
}

var (
	_ domain.OutboxRepository = (*OutboxRepository)(nil)
	_ domain.OutboxPurger     = (*OutboxRepository)(nil)
)
