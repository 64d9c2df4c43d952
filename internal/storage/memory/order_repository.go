package memory

import (
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/foodoms/internal/domain"
)

// OrderRepository — заказы в памяти с индексом по токену.
type OrderRepository struct {
	mu      sync.RWMutex
	items   map[string]domain.Order
	byToken map[string]string
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		items:   make(map[string]domain.Order),
		byToken: make(map[string]string),
	}
}

// Create сохраняет новый заказ, если ID и токен ещё не заняты.
func (r *OrderRepository) Create(order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[order.ID]; exists {
		return domain.ErrOrderAlreadyExists
	}
	if _, taken := r.byToken[order.Token]; taken {
		return domain.ErrOrderTokenConflict
	}
	// Сохраняем копию, чтобы избежать непредсказуемых мутаций извне.
	r.items[order.ID] = order.Clone()
	r.byToken[order.Token] = order.ID
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *OrderRepository) Get(id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order.Clone(), nil
}

// GetByToken ищет заказ по токену отслеживания.
func (r *OrderRepository) GetByToken(token string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byToken[token]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return r.items[id].Clone(), nil
}

// ListByCustomer возвращает заказы клиента, ограничивая выборку limit (если >0).
func (r *OrderRepository) ListByCustomer(customerID string, limit int) ([]domain.Order, error) {
	return r.list(func(o domain.Order) bool { return o.CustomerID == customerID }, limit), nil
}

// ListByOutlet возвращает заказы заведения.
func (r *OrderRepository) ListByOutlet(outletID string, limit int) ([]domain.Order, error) {
	return r.list(func(o domain.Order) bool { return o.OutletID == outletID }, limit), nil
}

func (r *OrderRepository) list(match func(domain.Order) bool, limit int) []domain.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0)
	for _, order := range r.items {
		if !match(order) {
			continue
		}
		result = append(result, order.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result
}

// Save перезаписывает изменяемые поля заказа, проверяя версию (optimistic locking).
func (r *OrderRepository) Save(order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrOrderVersionConflict
	}
	// Позиции и итоги заказа неизменяемы, обновляются только статусы.
	current.Status = order.Status
	current.PaymentStatus = order.PaymentStatus
	current.UpdatedAt = order.UpdatedAt
	current.Version++
	r.items[order.ID] = current
	return nil
}

// remove откатывает Create, если остальная часть оформления не удалась.
func (r *OrderRepository) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if order, ok := r.items[id]; ok {
		delete(r.byToken, order.Token)
		delete(r.items, id)
	}
}

var _ domain.OrderRepository = (*OrderRepository)(nil)
