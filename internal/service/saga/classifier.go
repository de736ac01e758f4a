package saga

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/lu-lu-xue/OrderManagement/internal/domain"
	"github.com/lu-lu-xue/OrderManagement/internal/metrics"
)

// Disposition говорит, что делать с событием после обработки.
type Disposition int

const (
	// Событие обработано.
	DispositionAck Disposition = iota
	// Бизнес-ошибка: повтор ничего не изменит, событие отбрасывается.
	DispositionDrop
	// Временный сбой: событие нужно доставить повторно.
	DispositionRetry
)

func (d Disposition) String() string {
	switch d {
	case DispositionAck:
		return "ack"
	case DispositionDrop:
		return "drop"
	default:
		return "retry"
	}
}

// Classify относит результат обработчика к одной из веток. Неизвестные ошибки
// считаются временными.
func Classify(err error) Disposition {
	switch {
	case err == nil:
		return DispositionAck
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrInvalidStateTransition),
		errors.Is(err, domain.ErrAuditIntegrity),
		errors.Is(err, domain.ErrUnknownRefundType),
		errors.Is(err, domain.ErrMalformedEvent):
		return DispositionDrop
	default:
		// ErrStorage, ErrOrderVersionConflict и всё непредвиденное.
		return DispositionRetry
	}
}

// process оборачивает обработчик события: логирует исход, учитывает метрики и
// возвращает ошибку только для DispositionRetry.
func (h *Handler) process(ctx context.Context, event domain.EventType, orderID string, fn func(ctx context.Context) (updateResult, error)) error {
	start := time.Now()
	res, err := fn(ctx)
	disposition := Classify(err)

	entry := h.Logger.WithFields(log.Fields{
		"order_id": orderID,
		"event":    event,
	})

	var outcome string
	switch disposition {
	case DispositionAck:
		outcome = metrics.OutcomeSkipped
		if res.applied {
			outcome = metrics.OutcomeApplied
			entry.WithField("status", res.order.Status).Info("saga event applied")
		} else {
			entry.WithField("status", res.order.Status).Debug("saga event already applied, skipping")
		}
	case DispositionDrop:
		outcome = metrics.OutcomeDropped
		if errors.Is(err, domain.ErrAuditIntegrity) {
			entry.WithError(err).Error("refund audit integrity violation, order requires manual intervention")
		} else {
			entry.WithError(err).Warn("saga event dropped")
		}
		err = nil
	default:
		outcome = metrics.OutcomeRetried
		entry.WithError(err).Error("saga event failed, will be redelivered")
	}

	h.Metrics.RecordSagaEvent(string(event), outcome, time.Since(start))
	return err
}
