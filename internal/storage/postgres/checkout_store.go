package postgres

import (
	"database/sql"
	"errors"
	"time"

	"github.com/vladislavdragonenkov/foodoms/internal/domain"
)

type checkoutStore struct {
	db *sql.DB
}

// NewCheckoutStore создаёт PostgreSQL-реализацию CheckoutStore.
// Заказ, его позиции, события outbox/таймлайна и очистка корзины фиксируются одной транзакцией.
func NewCheckoutStore(store *Store) domain.CheckoutStore {
	return &checkoutStore{db: store.DB()}
}

func (s *checkoutStore) Checkout(customerID string, build func(cart domain.Cart) (domain.CheckoutResult, error)) (domain.Order, error) {
	ctx, cancel := opContext()
	defer cancel()

	var order domain.Order
	err := inTx(ctx, s.db, func(tx *sql.Tx) error {
		cart, err := lockCart(ctx, tx, customerID)
		if errors.Is(err, domain.ErrCartNotFound) {
			return domain.ErrCartEmpty
		}
		if err != nil {
			return err
		}

		result, err := build(cart.Clone())
		if err != nil {
			return err
		}
		if err := insertOrder(ctx, tx, result.Order); err != nil {
			return err
		}
		for _, event := range result.Timeline {
			if err := insertTimelineEvent(ctx, tx, event); err != nil {
				return err
			}
		}
		for _, msg := range result.Events {
			if _, err := insertOutboxMessage(ctx, tx, msg); err != nil {
				return err
			}
		}

		cart.Clear(time.Now().UTC())
		if err := writeCart(ctx, tx, cart); err != nil {
			return err
		}
		order = result.Order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

var _ domain.CheckoutStore = (*checkoutStore)(nil)
