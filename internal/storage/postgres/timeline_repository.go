package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/lu-lu-xue/OrderManagement/internal/domain"
)

// TimelineRepository хранит журнал событий заказа в timeline_events.
type TimelineRepository struct {
	store *Store
}

func NewTimelineRepository(store *Store) *TimelineRepository {
	return &TimelineRepository{store: store}
}

func (r *TimelineRepository) Append(ctx context.Context, event domain.TimelineEvent) error {
	if event.Occurred.IsZero() {
		event.Occurred = time.Now().UTC()
	}
	_, err := r.store.exec(ctx, "append timeline event",
		`INSERT INTO timeline_events (order_id, type, reason, occurred) VALUES ($1,$2,$3,$4)`,
		event.OrderID, event.Type, event.Reason, event.Occurred)
	return err
}

// List отдаёт события по времени; при равном времени в порядке записи.
func (r *TimelineRepository) List(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	events := make([]domain.TimelineEvent, 0, 8)
	err := r.store.each(ctx, "list timeline events", `
		SELECT order_id, type, reason, occurred
		FROM timeline_events
		WHERE order_id = $1
		ORDER BY occurred, id`,
		[]any{orderID}, func(rows *sql.Rows) error {
			var e domain.TimelineEvent
			if err := rows.Scan(&e.OrderID, &e.Type, &e.Reason, &e.Occurred); err != nil {
				return err
			}
			events = append(events, e)
			return nil
		})
	if err != nil {
		return nil, err
	}
	return events, nil
}

var _ domain.TimelineRepository = (*TimelineRepository)(nil)
