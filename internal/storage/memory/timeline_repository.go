package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/lu-lu-xue/OrderManagement/internal/domain"
)

type timelineStore struct {
	mu      sync.RWMutex
	byOrder map[string][]domain.TimelineEvent
}

func NewTimelineRepository() domain.TimelineRepository {
	return &timelineStore{byOrder: make(map[string][]domain.TimelineEvent)}
}

// Append вставляет событие по времени; события с одинаковым временем
// остаются в порядке записи.
func (s *timelineStore) Append(_ context.Context, event domain.TimelineEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.byOrder[event.OrderID]
	at, _ := slices.BinarySearchFunc(events, event, func(e, target domain.TimelineEvent) int {
		if e.OccursAfter(target) {
			return 1
		}
		return -1
	})
	s.byOrder[event.OrderID] = slices.Insert(events, at, event)
	return nil
}

func (s *timelineStore) List(_ context.Context, orderID string) ([]domain.TimelineEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]domain.TimelineEvent{}, s.byOrder[orderID]...), nil
}

var _ domain.TimelineRepository = (*timelineStore)(nil)
