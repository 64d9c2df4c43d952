package memory

import (
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/foodoms/internal/domain"
)

// outboxLog — очередь outbox, из которой оформление забирает свои сообщения при откате.
type outboxLog interface {
	Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error)
	discard(ids []string)
}

type checkoutStoreInMemory struct {
	carts    domain.CartRepository
	orders   *OrderRepository
	outbox   outboxLog
	timeline *TimelineRepository
	now      func() time.Time
}

// NewCheckoutStore собирает оформление заказа поверх in-memory репозиториев.
// Вся операция выполняется под блокировкой корзины клиента.
func NewCheckoutStore(
	carts domain.CartRepository,
	orders *OrderRepository,
	outbox *OutboxRepository,
	timeline *TimelineRepository,
) domain.CheckoutStore {
	return &checkoutStoreInMemory{
		carts:    carts,
		orders:   orders,
		outbox:   outbox,
		timeline: timeline,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Checkout сохраняет заказ, события outbox и историю, затем очищает корзину.
// При любой ошибке не остаётся ни заказа, ни его событий, корзина не меняется.
func (s *checkoutStoreInMemory) Checkout(customerID string, build func(cart domain.Cart) (domain.CheckoutResult, error)) (domain.Order, error) {
	var placed domain.Order

	_, err := s.carts.Mutate(customerID, false, func(cart *domain.Cart) error {
		result, err := build(cart.Clone())
		if err != nil {
			return err
		}

		now := s.now()
		history := make([]domain.TimelineEvent, 0, len(result.Timeline))
		for _, event := range result.Timeline {
			event, err := event.Normalize(now)
			if err != nil {
				return fmt.Errorf("append timeline: %w", err)
			}
			history = append(history, event)
		}

		if err := s.orders.Create(result.Order); err != nil {
			return err
		}
		if err := s.enqueue(result.Events); err != nil {
			s.orders.remove(result.Order.ID)
			return err
		}
		s.timeline.insert(history...)

		cart.Clear(now)
		placed = result.Order
		return nil
	})
	if errors.Is(err, domain.ErrCartNotFound) {
		return domain.Order{}, domain.ErrCartEmpty
	}
	if err != nil {
		return domain.Order{}, err
	}

	return placed, nil
}

// enqueue ставит в outbox либо все сообщения, либо ни одного.
func (s *checkoutStoreInMemory) enqueue(msgs []domain.OutboxMessage) error {
	queued := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		stored, err := s.outbox.Enqueue(msg)
		if err != nil {
			s.outbox.discard(queued)
			return fmt.Errorf("enqueue outbox: %w", err)
		}
		queued = append(queued, stored.ID)
	}
	return nil
}

var _ domain.CheckoutStore = (*checkoutStoreInMemory)(nil)
