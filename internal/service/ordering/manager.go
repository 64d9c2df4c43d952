// Package ordering превращает корзины в заказы и ведёт их жизненный цикл.
package ordering

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/foodoms/internal/domain"
	"github.com/vladislavdragonenkov/foodoms/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/foodoms/internal/metrics"
	"github.com/vladislavdragonenkov/foodoms/internal/tracing"
)

const (
	tokenPrefix      = "TKN-"
	maxTokenAttempts = 3
	maxSaveAttempts  = 3
	saveRetryDelay   = 10 * time.Millisecond
)

// Dispatcher принимает оформленный заказ для уведомления вне пути запроса.
type Dispatcher interface {
	Dispatch(order domain.Order) bool
}

// Details — заказ вместе с его таймлайном.
type Details struct {
	Order    domain.Order
	Timeline []domain.TimelineEvent
}

// Deps — обязательные и опциональные зависимости менеджера.
type Deps struct {
	Checkout domain.CheckoutStore
	Orders   domain.OrderRepository
	Catalog  domain.Catalog
	// Timeline и Outbox получают события смены статусов; nil отключает запись.
	Timeline domain.TimelineRepository
	Outbox   domain.OutboxRepository
	// Notifications получает заказ после фиксации; nil отключает уведомления.
	Notifications Dispatcher
}

// Option настраивает Manager.
type Option func(*Manager)

// WithPolicy задаёт правила смены статусов. По умолчанию разрешён любой переход.
func WithPolicy(policy domain.TransitionPolicy) Option {
	return func(m *Manager) {
		if policy != nil {
			m.policy = policy
		}
	}
}

// WithDefaultPaymentMethod задаёт способ оплаты для заказов без явного выбора.
func WithDefaultPaymentMethod(method domain.PaymentMethod) Option {
	return func(m *Manager) {
		if method.Valid() {
			m.defaultMethod = method
		}
	}
}

// WithListLimit ограничивает длину списков заказов. При 0 списки не ограничены.
func WithListLimit(limit int) Option {
	return func(m *Manager) {
		if limit >= 0 {
			m.listLimit = limit
		}
	}
}

// WithTokenGenerator подменяет генератор токенов отслеживания.
func WithTokenGenerator(gen func() string) Option {
	return func(m *Manager) {
		if gen != nil {
			m.newToken = gen
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

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics задаёт метрики.
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

// Manager оформляет заказы из корзин и меняет их статусы.
type Manager struct {
	checkout      domain.CheckoutStore
	orders        domain.OrderRepository
	catalog       domain.Catalog
	timeline      domain.TimelineRepository
	outbox        domain.OutboxRepository
	notifications Dispatcher

	policy        domain.TransitionPolicy
	defaultMethod domain.PaymentMethod
	listLimit     int
	newToken      func() string
	now           func() time.Time

	logger  *log.Entry
	metrics *metrics.OrderingMetrics
	tracer  trace.Tracer
}

// NewManager создаёт менеджер заказов.
func NewManager(deps Deps, opts ...Option) *Manager {
	m := &Manager{
		checkout:      deps.Checkout,
		orders:        deps.Orders,
		catalog:       deps.Catalog,
		timeline:      deps.Timeline,
		outbox:        deps.Outbox,
		notifications: deps.Notifications,
		policy:        domain.PermissivePolicy{},
		defaultMethod: domain.DefaultPaymentMethod,
		newToken:      NewToken,
		now:           func() time.Time { return time.Now().UTC() },
		logger:        log.WithField("component", "order-manager"),
		tracer:        tracing.Tracer(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewToken генерирует токен вида TKN-1A2B3C4D.
func NewToken() string {
	id := uuid.New()
	return tokenPrefix + strings.ToUpper(id.String()[:8])
}

// PlaceOrder атомарно превращает корзину клиента в заказ и очищает её.
// Уведомление отправляется после фиксации и на результат не влияет.
func (m *Manager) PlaceOrder(ctx context.Context, customerID string, method domain.PaymentMethod) (order domain.Order, err error) {
	_, span := m.tracer.Start(ctx, "ordering.PlaceOrder", trace.WithAttributes(
		attribute.String("customer.id", customerID),
		attribute.String("payment.method", string(method)),
	))
	defer func() { tracing.End(span, err) }()

	started := time.Now()
	defer func() {
		if err != nil {
			m.metrics.RecordPlaceFailure(failureReason(err))
		}
	}()

	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return domain.Order{}, domain.ErrCustomerRequired
	}
	if method == "" {
		method = m.defaultMethod
	}
	if !method.Valid() {
		return domain.Order{}, domain.ErrInvalidPaymentMethod
	}

	for attempt := 1; attempt <= maxTokenAttempts; attempt++ {
		token := m.newToken()
		order, err = m.checkout.Checkout(customerID, m.buildOrder(uuid.NewString(), token, method))
		if !errors.Is(err, domain.ErrOrderTokenConflict) {
			break
		}
		m.metrics.RecordTokenCollision()
		span.AddEvent("token collision", trace.WithAttributes(attribute.Int("attempt", attempt)))
		m.logger.WithFields(log.Fields{
			"customer_id": customerID,
			"token":       token,
			"attempt":     attempt,
		}).Warn("order token collision, regenerating")
	}
	if err != nil {
		if !domain.IsNotFound(err) && !domain.IsInvalidState(err) {
			m.logger.WithError(err).WithField("customer_id", customerID).Error("place order failed")
		}
		return domain.Order{}, err
	}

	m.metrics.RecordOrderPlaced(time.Since(started))
	m.metrics.RecordTimelineEvent()
	m.metrics.RecordOutboxEvent()
	span.SetAttributes(
		attribute.String("order.id", order.ID),
		attribute.String("order.token", order.Token),
		attribute.Int64("order.total_minor", order.TotalMinor),
	)
	m.logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"customer_id": order.CustomerID,
		"outlet_id":   order.OutletID,
		"token":       order.Token,
		"total_minor": order.TotalMinor,
	}).Info("order placed")

	if m.notifications != nil {
		m.notifications.Dispatch(order)
	}
	return order, nil
}

func (m *Manager) buildOrder(orderID, token string, method domain.PaymentMethod) func(domain.Cart) (domain.CheckoutResult, error) {
	return func(cart domain.Cart) (domain.CheckoutResult, error) {
		if cart.IsEmpty() {
			return domain.CheckoutResult{}, domain.ErrCartEmpty
		}
		if cart.OutletID == "" {
			return domain.CheckoutResult{}, domain.ErrCartOutletMissing
		}
		outlet, err := m.catalog.Outlet(cart.OutletID)
		if err != nil {
			return domain.CheckoutResult{}, err
		}

		order, err := domain.NewOrderFromCart(cart, domain.OrderDraft{
			ID:            orderID,
			Token:         token,
			OutletName:    outlet.Name,
			PaymentMethod: method,
			ItemID:        uuid.NewString,
			Now:           m.now(),
		})
		if err != nil {
			return domain.CheckoutResult{}, err
		}

		payload, err := json.Marshal(kafka.NewOrderPlacedEvent(order))
		if err != nil {
			return domain.CheckoutResult{}, fmt.Errorf("marshal order placed event: %w", err)
		}

		return domain.CheckoutResult{
			Order: order,
			Events: []domain.OutboxMessage{{
				AggregateType: domain.AggregateOrder,
				AggregateID:   order.ID,
				EventType:     domain.EventOrderPlaced,
				Payload:       payload,
			}},
			Timeline: []domain.TimelineEvent{{
				OrderID:  order.ID,
				Type:     domain.TimelineOrderPlaced,
				Reason:   string(order.Status),
				Occurred: order.CreatedAt,
			}},
		}, nil
	}
}

// GetOrder возвращает заказ и его таймлайн.
func (m *Manager) GetOrder(ctx context.Context, orderID string) (details Details, err error) {
	_, span := m.tracer.Start(ctx, "ordering.GetOrder", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer func() { tracing.End(span, err) }()

	order, err := m.orders.Get(orderID)
	if err != nil {
		return Details{}, err
	}
	return Details{Order: order, Timeline: m.listTimeline(order.ID)}, nil
}

// TrackOrder ищет заказ по публичному токену без проверки владельца.
func (m *Manager) TrackOrder(ctx context.Context, token string) (order domain.Order, err error) {
	_, span := m.tracer.Start(ctx, "ordering.TrackOrder", trace.WithAttributes(attribute.String("order.token", token)))
	defer func() { tracing.End(span, err) }()

	return m.orders.GetByToken(strings.ToUpper(strings.TrimSpace(token)))
}

// ListCustomerOrders возвращает заказы клиента, новые первыми.
func (m *Manager) ListCustomerOrders(ctx context.Context, customerID string) (orders []domain.Order, err error) {
	_, span := m.tracer.Start(ctx, "ordering.ListCustomerOrders", trace.WithAttributes(attribute.String("customer.id", customerID)))
	defer func() { tracing.End(span, err) }()

	if strings.TrimSpace(customerID) == "" {
		return nil, domain.ErrCustomerRequired
	}
	return m.orders.ListByCustomer(customerID, m.listLimit)
}

// ListOutletOrders возвращает заказы заведения, новые первыми.
func (m *Manager) ListOutletOrders(ctx context.Context, outletID string) (orders []domain.Order, err error) {
	_, span := m.tracer.Start(ctx, "ordering.ListOutletOrders", trace.WithAttributes(attribute.String("outlet.id", outletID)))
	defer func() { tracing.End(span, err) }()

	if _, err := m.catalog.Outlet(outletID); err != nil {
		return nil, err
	}
	return m.orders.ListByOutlet(outletID, m.listLimit)
}

// UpdateStatus меняет статус заказа по правилам настроенной политики.
func (m *Manager) UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus) (order domain.Order, err error) {
	_, span := m.tracer.Start(ctx, "ordering.UpdateStatus", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("order.status", string(status)),
	))
	defer func() { tracing.End(span, err) }()

	if !status.Valid() {
		return domain.Order{}, domain.ErrInvalidOrderStatus
	}

	var from domain.OrderStatus
	order, err = m.saveWithRetry(orderID, func(o *domain.Order) error {
		if err := m.policy.Allow(o.Status, status); err != nil {
			return err
		}
		from = o.Status
		o.Status = status
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	m.metrics.RecordStatusChange(string(status))
	m.recordChange(order, domain.EventOrderStatusChanged, domain.TimelineStatusChanged, string(from), string(status))
	m.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"from":     from,
		"to":       status,
	}).Info("order status updated")
	return order, nil
}

// UpdatePaymentStatus записывает новый статус оплаты. Обработка платежей вне сервиса.
func (m *Manager) UpdatePaymentStatus(ctx context.Context, orderID string, status domain.PaymentStatus) (order domain.Order, err error) {
	_, span := m.tracer.Start(ctx, "ordering.UpdatePaymentStatus", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("payment.status", string(status)),
	))
	defer func() { tracing.End(span, err) }()

	if !status.Valid() {
		return domain.Order{}, domain.ErrInvalidPaymentStatus
	}

	var from domain.PaymentStatus
	order, err = m.saveWithRetry(orderID, func(o *domain.Order) error {
		from = o.PaymentStatus
		o.PaymentStatus = status
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	m.recordChange(order, domain.EventPaymentChanged, domain.TimelinePaymentStatusChanged, string(from), string(status))
	m.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"from":     from,
		"to":       status,
	}).Info("payment status updated")
	return order, nil
}

// saveWithRetry применяет apply к свежей копии заказа и сохраняет её,
// перечитывая заказ при конфликте версий.
func (m *Manager) saveWithRetry(orderID string, apply func(*domain.Order) error) (domain.Order, error) {
	delay := saveRetryDelay
	for attempt := 1; ; attempt++ {
		order, err := m.orders.Get(orderID)
		if err != nil {
			return domain.Order{}, err
		}
		if err := apply(&order); err != nil {
			return domain.Order{}, err
		}
		order.UpdatedAt = m.now()

		err = m.orders.Save(order)
		if err == nil {
			order.Version++
			return order, nil
		}
		if !domain.IsVersionConflict(err) || attempt >= maxSaveAttempts {
			return domain.Order{}, err
		}

		m.logger.WithFields(log.Fields{
			"order_id": orderID,
			"attempt":  attempt,
			"version":  order.Version,
		}).Warn("version conflict detected, retrying")
		time.Sleep(delay)
		delay *= 2
	}
}

// recordChange пишет событие outbox и запись таймлайна после сохранения заказа.
// Ошибки только логируются: статус уже сохранён.
func (m *Manager) recordChange(order domain.Order, eventType, timelineType, from, to string) {
	if m.timeline != nil {
		event := domain.TimelineEvent{OrderID: order.ID, Type: timelineType, Reason: to, Occurred: order.UpdatedAt}
		if err := m.timeline.Append(event); err != nil {
			m.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to append timeline event")
		} else {
			m.metrics.RecordTimelineEvent()
		}
	}

	if m.outbox == nil {
		return
	}
	payload, err := json.Marshal(kafka.NewStatusChangedEvent(order, from, to))
	if err != nil {
		m.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to marshal status event")
		return
	}
	msg := domain.OutboxMessage{
		AggregateType: domain.AggregateOrder,
		AggregateID:   order.ID,
		EventType:     eventType,
		Payload:       payload,
	}
	if _, err := m.outbox.Enqueue(msg); err != nil {
		m.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to enqueue outbox event")
		return
	}
	m.metrics.RecordOutboxEvent()
}

func (m *Manager) listTimeline(orderID string) []domain.TimelineEvent {
	if m.timeline == nil {
		return nil
	}
	events, err := m.timeline.List(orderID)
	if err != nil {
		m.logger.WithError(err).WithField("order_id", orderID).Warn("failed to list timeline events")
		return nil
	}
	return events
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrCartEmpty):
		return "cart_empty"
	case errors.Is(err, domain.ErrCartOutletMissing):
		return "outlet_missing"
	case errors.Is(err, domain.ErrOrderTokenConflict):
		return "token_conflict"
	case domain.IsNotFound(err):
		return "not_found"
	case domain.IsInvalidState(err):
		return "invalid_state"
	default:
		return "internal"
	}
}
