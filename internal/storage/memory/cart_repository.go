package memory

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/foodoms/internal/domain"
)

// cartRepositoryInMemory хранит корзины в памяти.
// Изменения одной корзины сериализуются персональным мьютексом клиента,
// разные клиенты друг друга не блокируют.
type cartRepositoryInMemory struct {
	mu    sync.RWMutex
	carts map[string]domain.Cart
	locks map[string]*customerLock
}

// customerLock живёт в карте, пока его держат или ждут.
type customerLock struct {
	mu   sync.Mutex
	refs int
}

// NewCartRepository возвращает in-memory репозиторий корзин.
func NewCartRepository() domain.CartRepository {
	return &cartRepositoryInMemory{
		carts: make(map[string]domain.Cart),
		locks: make(map[string]*customerLock),
	}
}

// Get возвращает копию корзины клиента.
func (r *cartRepositoryInMemory) Get(customerID string) (domain.Cart, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cart, ok := r.carts[customerID]
	if !ok {
		return domain.Cart{}, domain.ErrCartNotFound
	}
	return cart.Clone(), nil
}

// Mutate применяет fn к рабочей копии корзины под блокировкой клиента.
func (r *cartRepositoryInMemory) Mutate(customerID string, create bool, fn func(cart *domain.Cart) error) (domain.Cart, error) {
	if strings.TrimSpace(customerID) == "" {
		return domain.Cart{}, domain.ErrCustomerRequired
	}

	lock := r.acquire(customerID)
	defer r.release(customerID, lock)

	r.mu.RLock()
	current, ok := r.carts[customerID]
	r.mu.RUnlock()

	if !ok {
		if !create {
			return domain.Cart{}, domain.ErrCartNotFound
		}
		current = domain.NewCart(uuid.NewString(), customerID, time.Now().UTC())
	}

	working := current.Clone()
	if err := fn(&working); err != nil {
		return domain.Cart{}, err
	}

	r.mu.Lock()
	r.carts[customerID] = working.Clone()
	r.mu.Unlock()

	return working, nil
}

func (r *cartRepositoryInMemory) acquire(customerID string) *customerLock {
	r.mu.Lock()
	lock, ok := r.locks[customerID]
	if !ok {
		lock = &customerLock{}
		r.locks[customerID] = lock
	}
	lock.refs++
	r.mu.Unlock()

	lock.mu.Lock()
	return lock
}

func (r *cartRepositoryInMemory) release(customerID string, lock *customerLock) {
	lock.mu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(r.locks, customerID)
	}
}

var _ domain.CartRepository = (*cartRepositoryInMemory)(nil)
