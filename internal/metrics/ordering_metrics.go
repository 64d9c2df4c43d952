package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Метки результата операций.
const (
	ResultOK    = "ok"
	ResultError = "error"

	NotifySent    = "sent"
	NotifyFailed  = "failed"
	NotifyDropped = "dropped"
)

// OrderingMetrics содержит метрики корзины, оформления заказов и уведомлений.
// Все методы безопасны для nil-получателя.
type OrderingMetrics struct {
	// Операции с корзиной
	cartOperations *prometheus.CounterVec
	outletSwitches prometheus.Counter

	// Оформление заказов
	ordersPlaced     prometheus.Counter
	placeFailures    *prometheus.CounterVec
	checkoutDuration prometheus.Histogram
	tokenCollisions  prometheus.Counter

	// Жизненный цикл
	statusChanges  *prometheus.CounterVec
	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter

	// Уведомления
	notifications    *prometheus.CounterVec
	notifyQueueDepth prometheus.Gauge
}

// NewOrderingMetrics регистрирует метрики в глобальном реестре.
func NewOrderingMetrics() *OrderingMetrics {
	return NewOrderingMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOrderingMetricsWithRegisterer регистрирует метрики в переданном реестре.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewOrderingMetricsWithRegisterer(registerer prometheus.Registerer) *OrderingMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OrderingMetrics{
		cartOperations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "foodoms_cart_operations_total",
			Help: "Cart operations by kind and result",
		}, []string{"operation", "result"}),
		outletSwitches: registerCounter(registerer, prometheus.CounterOpts{
			Name: "foodoms_cart_outlet_switches_total",
			Help: "Carts cleared because an item from another outlet was added",
		}),
		ordersPlaced: registerCounter(registerer, prometheus.CounterOpts{
			Name: "foodoms_orders_placed_total",
			Help: "Orders placed from carts",
		}),
		placeFailures: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "foodoms_order_place_failures_total",
			Help: "Failed order placements by reason",
		}, []string{"reason"}),
		checkoutDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "foodoms_checkout_duration_seconds",
			Help:    "Duration of cart to order conversion",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}),
		tokenCollisions: registerCounter(registerer, prometheus.CounterOpts{
			Name: "foodoms_order_token_collisions_total",
			Help: "Generated order tokens rejected as duplicates",
		}),
		statusChanges: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "foodoms_order_status_changes_total",
			Help: "Order status changes by target status",
		}, []string{"status"}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "foodoms_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "foodoms_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		}),
		notifications: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "foodoms_notifications_total",
			Help: "Order confirmation notifications by result",
		}, []string{"result"}),
		notifyQueueDepth: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "foodoms_notification_queue_depth",
			Help: "Notifications waiting for a worker",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	return register(registerer, opts.Name, prometheus.NewCounter(opts))
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	return register(registerer, opts.Name, prometheus.NewCounterVec(opts, labels))
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	return register(registerer, opts.Name, prometheus.NewGauge(opts))
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	return register(registerer, opts.Name, prometheus.NewHistogram(opts))
}

// register регистрирует коллектор или возвращает уже зарегистрированный с тем же именем.
func register[C prometheus.Collector](registerer prometheus.Registerer, name string, collector C) C {
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(C)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", name))
			}
			return existing
		}
		panic(fmt.Sprintf("register collector %q: %v", name, err))
	}
	return collector
}

// RecordCartOperation учитывает операцию с корзиной.
func (m *OrderingMetrics) RecordCartOperation(operation string, err error) {
	if m == nil {
		return
	}
	m.cartOperations.WithLabelValues(operation, resultLabel(err)).Inc()
}

// RecordOutletSwitch учитывает смену заведения в корзине.
func (m *OrderingMetrics) RecordOutletSwitch() {
	if m == nil {
		return
	}
	m.outletSwitches.Inc()
}

// RecordOrderPlaced учитывает успешно оформленный заказ и длительность оформления.
func (m *OrderingMetrics) RecordOrderPlaced(duration time.Duration) {
	if m == nil {
		return
	}
	m.ordersPlaced.Inc()
	m.checkoutDuration.Observe(duration.Seconds())
}

// RecordPlaceFailure учитывает неудачное оформление.
func (m *OrderingMetrics) RecordPlaceFailure(reason string) {
	if m == nil {
		return
	}
	m.placeFailures.WithLabelValues(reason).Inc()
}

// RecordTokenCollision учитывает повторно сгенерированный токен.
func (m *OrderingMetrics) RecordTokenCollision() {
	if m == nil {
		return
	}
	m.tokenCollisions.Inc()
}

// RecordStatusChange учитывает смену статуса заказа.
func (m *OrderingMetrics) RecordStatusChange(status string) {
	if m == nil {
		return
	}
	m.statusChanges.WithLabelValues(status).Inc()
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *OrderingMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *OrderingMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}

// RecordNotification учитывает результат доставки уведомления.
func (m *OrderingMetrics) RecordNotification(result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result).Inc()
}

// SetNotifyQueueDepth выставляет текущую длину очереди уведомлений.
func (m *OrderingMetrics) SetNotifyQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.notifyQueueDepth.Set(float64(depth))
}

func resultLabel(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}
