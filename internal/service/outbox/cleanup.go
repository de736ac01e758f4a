package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/lu-lu-xue/OrderManagement/internal/domain"
)

// CleanupWorker удаляет обработанные сообщения outbox старше Retention,
// чтобы таблица не росла. Pending-записи не трогает.
type CleanupWorker struct {
	deps
	repo     domain.OutboxPurger
	settings Settings
	now      func() time.Time
}

func NewCleanupWorker(repo domain.OutboxPurger, settings Settings, options ...Option) *CleanupWorker {
	return &CleanupWorker{
		deps:     collectDeps("outbox-cleanup", options),
		repo:     repo,
		settings: settings.withDefaults(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run чистит outbox каждые CleanupInterval до отмены ctx.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("outbox cleanup disabled: repository cannot purge")
		return
	}
	poll(ctx, w.settings.CleanupInterval, w.sweep)
}

func (w *CleanupWorker) sweep(ctx context.Context) {
	deleted, err := w.Purge(ctx, w.now().Add(-w.settings.Retention))
	if errors.Is(err, context.Canceled) {
		return
	}
	w.metrics.RecordCleanup(deleted, err)
	switch {
	case err != nil:
		w.logger.WithError(err).WithField("deleted", deleted).Warn("outbox cleanup failed")
	case deleted > 0:
		w.logger.WithField("deleted", deleted).Info("outbox cleanup completed")
	}
}

// Purge удаляет порциями по CleanupBatch все обработанные записи, обновлённые не позже
// before, и возвращает их число. Нулевой before означает «сейчас».
func (w *CleanupWorker) Purge(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = w.now()
	}

	total := 0
	for ctx.Err() == nil {
		n, err := w.repo.PurgeProcessed(ctx, before, w.settings.CleanupBatch)
		total += n
		w.metrics.AddCleanupDeleted(n)
		if err != nil {
			return total, err
		}
		if n < w.settings.CleanupBatch {
			return total, nil
		}
	}
	return total, ctx.Err()
}
