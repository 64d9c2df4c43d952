package domain

// CartRepository описывает требования к хранилищу корзин.
// Все изменения корзины одного клиента выполняются последовательно.
type CartRepository interface {
	// Get возвращает копию корзины клиента или ErrCartNotFound.
	Get(customerID string) (Cart, error)
	// Mutate применяет fn к корзине под эксклюзивной блокировкой клиента и сохраняет результат.
	// При create=true отсутствующая корзина создаётся, иначе возвращается ErrCartNotFound.
	// Если fn вернула ошибку, корзина остаётся прежней.
	Mutate(customerID string, create bool, fn func(cart *Cart) error) (Cart, error)
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ErrOrderAlreadyExists или ErrOrderTokenConflict.
	Create(order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(id string) (Order, error)
	// GetByToken возвращает заказ по публичному токену отслеживания.
	GetByToken(token string) (Order, error)
	// ListByCustomer возвращает заказы клиента, новые первыми. limit <= 0 означает без ограничения.
	ListByCustomer(customerID string, limit int) ([]Order, error)
	// ListByOutlet возвращает заказы заведения, новые первыми.
	ListByOutlet(outletID string, limit int) ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	Save(order Order) error
}

// CheckoutResult — всё, что должно быть записано одной транзакцией при оформлении заказа.
type CheckoutResult struct {
	Order    Order
	Events   []OutboxMessage
	Timeline []TimelineEvent
}

// CheckoutStore атомарно превращает корзину в заказ.
type CheckoutStore interface {
	// Checkout блокирует корзину клиента, вызывает build с её копией
	// (пустой, если корзины нет), сохраняет заказ с событиями и очищает корзину.
	// Ошибка build или записи оставляет корзину нетронутой.
	Checkout(customerID string, build func(cart Cart) (CheckoutResult, error)) (Order, error)
}
