package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lu-lu-xue/OrderManagement/internal/domain"
)

type outboxState uint8

const (
	outboxPending outboxState = iota
	outboxSent
	outboxFailed
)

type outboxEntry struct {
	msg       domain.OutboxMessage
	state     outboxState
	attempts  int
	updatedAt time.Time
}

// OutboxRepository — transactional outbox в памяти процесса. Записи лежат
// в порядке постановки, поэтому pending отдаются FIFO без сортировки.
type OutboxRepository struct {
	mu      sync.RWMutex
	entries []*outboxEntry
	byID    map[string]*outboxEntry
	now     func() time.Time
}

func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{
		byID: make(map[string]*outboxEntry),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue ставит сообщение в очередь, при необходимости присваивая id и CreatedAt.
func (r *OutboxRepository) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	entry := &outboxEntry{msg: msg, updatedAt: now}
	r.entries = append(r.entries, entry)
	r.byID[msg.ID] = entry
	return msg, nil
}

// PullPending отдаёт до limit pending-сообщений, старые первыми.
func (r *OutboxRepository) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.pending(limit), nil
}

func (r *OutboxRepository) Stats(_ context.Context) (domain.OutboxStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats domain.OutboxStats
	for _, e := range r.entries {
		if e.state != outboxPending {
			continue
		}
		if stats.PendingCount == 0 {
			stats.OldestPendingAt = e.msg.CreatedAt
		}
		stats.PendingCount++
	}
	return stats, nil
}

func (r *OutboxRepository) MarkSent(_ context.Context, id string) error {
	return r.settle(id, outboxSent)
}

func (r *OutboxRepository) MarkFailed(_ context.Context, id string) error {
	return r.settle(id, outboxFailed)
}

func (r *OutboxRepository) settle(id string, state outboxState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.byID[id]
	if !ok {
		return domain.ErrOutboxPublish
	}
	entry.state = state
	entry.attempts++
	entry.updatedAt = r.now()
	return nil
}

// PurgeProcessed удаляет до limit обработанных записей, обновлённых не позже before,
// начиная с самых ранних. limit<=0 снимает ограничение.
func (r *OutboxRepository) PurgeProcessed(_ context.Context, before time.Time, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deleted := 0
	r.entries = slices.DeleteFunc(r.entries, func(e *outboxEntry) bool {
		if limit > 0 && deleted == limit {
			return false
		}
		if e.state == outboxPending || e.updatedAt.After(before) {
			return false
		}
		delete(r.byID, e.msg.ID)
		deleted++
		return true
	})
	return deleted, nil
}

// AllPending возвращает все pending-сообщения в порядке постановки.
func (r *OutboxRepository) AllPending() []domain.OutboxMessage {
	return r.pending(-1)
}

func (r *OutboxRepository) pending(limit int) []domain.OutboxMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.OutboxMessage, 0)
	for _, e := range r.entries {
		if limit >= 0 && len(out) == limit {
			break
		}
		if e.state == outboxPending {
			out = append(out, e.msg)
		}
	}
	return out
}

var (
	_ domain.OutboxRepository = (*OutboxRepository)(nil)
	_ domain.OutboxPurger     = (*OutboxRepository)(nil)
)
