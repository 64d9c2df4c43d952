package memory

import (
	"slices"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/foodoms/internal/domain"
)

// TimelineRepository хранит историю заказов в памяти.
type TimelineRepository struct {
	mu     sync.RWMutex
	events map[string][]domain.TimelineEvent
}

// NewTimelineRepository создаёт in-memory реализацию TimelineRepository.
func NewTimelineRepository() *TimelineRepository {
	return &TimelineRepository{events: make(map[string][]domain.TimelineEvent)}
}

// Append вставляет событие по времени. События с одинаковым временем идут в порядке записи.
func (r *TimelineRepository) Append(event domain.TimelineEvent) error {
	event, err := event.Normalize(time.Now().UTC())
	if err != nil {
		return err
	}
	r.insert(event)
	return nil
}

// insert принимает только нормализованные события.
func (r *TimelineRepository) insert(events ...domain.TimelineEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, event := range events {
		history := r.events[event.OrderID]
		at, _ := slices.BinarySearchFunc(history, event.Occurred, func(e domain.TimelineEvent, t time.Time) int {
			if e.Occurred.After(t) {
				return 1
			}
			return -1
		})
		r.events[event.OrderID] = slices.Insert(history, at, event)
	}
}

// List возвращает события заказа в хронологическом порядке.
func (r *TimelineRepository) List(orderID string) ([]domain.TimelineEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Clone(r.events[orderID]), nil
}

var _ domain.TimelineRepository = (*TimelineRepository)(nil)
