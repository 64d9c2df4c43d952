// Package cart реализует операции с корзиной клиента.
package cart

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/foodoms/internal/domain"
	"github.com/vladislavdragonenkov/foodoms/internal/metrics"
	"github.com/vladislavdragonenkov/foodoms/internal/tracing"
)

// Option настраивает Manager.
type Option func(*Manager)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics задаёт метрики. Без них учёт не ведётся.
func WithMetrics(mt *metrics.OrderingMetrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithTracer задаёт tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(m *Manager) {
		if tracer != nil {
			m.tracer = tracer
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager изменяет корзины клиентов и следит за привязкой к одному заведению.
type Manager struct {
	carts   domain.CartRepository
	catalog domain.Catalog
	logger  *log.Entry
	metrics *metrics.OrderingMetrics
	tracer  trace.Tracer
	now     func() time.Time
}

// NewManager создаёт менеджер корзин.
func NewManager(carts domain.CartRepository, catalog domain.Catalog, opts ...Option) *Manager {
	m := &Manager{
		carts:   carts,
		catalog: catalog,
		logger:  log.WithField("component", "cart-manager"),
		tracer:  tracing.Tracer(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddItem кладёт блюдо в корзину клиента, создавая корзину при первом обращении.
// Блюдо другого заведения очищает корзину и переключает её на новое заведение.
func (m *Manager) AddItem(ctx context.Context, customerID, foodItemID string, qty int32, ingredients []string) (cart domain.Cart, err error) {
	_, span := m.tracer.Start(ctx, "cart.AddItem", trace.WithAttributes(
		attribute.String("customer.id", customerID),
		attribute.String("food_item.id", foodItemID),
		attribute.Int("qty", int(qty)),
	))
	defer func() {
		m.metrics.RecordCartOperation("add_item", err)
		tracing.End(span, err)
	}()

	if customerID, err = customerKey(customerID); err != nil {
		return domain.Cart{}, err
	}
	if qty <= 0 {
		return domain.Cart{}, domain.ErrInvalidQuantity
	}

	food, err := m.catalog.FoodItem(foodItemID)
	if err != nil {
		return domain.Cart{}, err
	}
	if !food.Available {
		return domain.Cart{}, domain.ErrFoodItemUnavailable
	}

	var switched bool
	var previousOutlet string
	cart, err = m.carts.Mutate(customerID, true, func(c *domain.Cart) error {
		previousOutlet = c.OutletID
		var addErr error
		switched, addErr = c.AddItem(food, qty, ingredients, uuid.NewString(), m.now())
		return addErr
	})
	if err != nil {
		m.logger.WithError(err).WithFields(log.Fields{
			"customer_id":  customerID,
			"food_item_id": foodItemID,
		}).Warn("add to cart failed")
		return domain.Cart{}, err
	}

	if switched {
		m.metrics.RecordOutletSwitch()
		span.AddEvent("outlet switched")
		m.logger.WithFields(log.Fields{
			"customer_id": customerID,
			"from_outlet": previousOutlet,
			"to_outlet":   cart.OutletID,
		}).Info("cart cleared for another outlet")
	}
	span.SetAttributes(attribute.Int64("cart.total_minor", cart.TotalMinor))
	return cart, nil
}

// RemoveItem удаляет строку корзины. Отсутствующая строка не считается ошибкой.
func (m *Manager) RemoveItem(ctx context.Context, customerID, itemID string) (cart domain.Cart, err error) {
	_, span := m.tracer.Start(ctx, "cart.RemoveItem", trace.WithAttributes(
		attribute.String("customer.id", customerID),
		attribute.String("cart_item.id", itemID),
	))
	defer func() {
		m.metrics.RecordCartOperation("remove_item", err)
		tracing.End(span, err)
	}()

	if customerID, err = customerKey(customerID); err != nil {
		return domain.Cart{}, err
	}

	var removed bool
	cart, err = m.carts.Mutate(customerID, false, func(c *domain.Cart) error {
		removed = c.RemoveItem(itemID, m.now())
		return nil
	})
	if err != nil {
		return domain.Cart{}, err
	}
	if !removed {
		m.logger.WithFields(log.Fields{
			"customer_id": customerID,
			"item_id":     itemID,
		}).Debug("cart item not present, nothing removed")
	}
	return cart, nil
}

// GetCart возвращает текущую корзину клиента.
func (m *Manager) GetCart(ctx context.Context, customerID string) (cart domain.Cart, err error) {
	_, span := m.tracer.Start(ctx, "cart.GetCart", trace.WithAttributes(attribute.String("customer.id", customerID)))
	defer func() {
		m.metrics.RecordCartOperation("get", err)
		tracing.End(span, err)
	}()

	if customerID, err = customerKey(customerID); err != nil {
		return domain.Cart{}, err
	}
	return m.carts.Get(customerID)
}

// ClearCart удаляет все строки корзины, оставляя привязку к заведению. Повторный вызов ничего не меняет.
func (m *Manager) ClearCart(ctx context.Context, customerID string) (cart domain.Cart, err error) {
	_, span := m.tracer.Start(ctx, "cart.ClearCart", trace.WithAttributes(attribute.String("customer.id", customerID)))
	defer func() {
		m.metrics.RecordCartOperation("clear", err)
		tracing.End(span, err)
	}()

	if customerID, err = customerKey(customerID); err != nil {
		return domain.Cart{}, err
	}
	return m.carts.Mutate(customerID, false, func(c *domain.Cart) error {
		if c.IsEmpty() && c.TotalMinor == 0 {
			return nil
		}
		c.Clear(m.now())
		return nil
	})
}

// customerKey приводит идентификатор клиента к ключу корзины.
func customerKey(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", domain.ErrCustomerRequired
	}
	return id, nil
}
