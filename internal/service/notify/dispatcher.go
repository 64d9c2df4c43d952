// Package notify доставляет подтверждения заказов вне пути запроса.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/foodoms/internal/domain"
	"github.com/vladislavdragonenkov/foodoms/internal/metrics"
)

const (
	defaultWorkers       = 2
	defaultQueueSize     = 256
	defaultNotifyTimeout = 5 * time.Second
)

// ErrDispatcherStopped возвращается при попытке остановить уже остановленный диспетчер.
var ErrDispatcherStopped = errors.New("notification dispatcher stopped")

// DispatcherOption настраивает Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithWorkers задаёт число воркеров доставки.
func WithWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithQueueSize задаёт ёмкость очереди.
func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// WithTimeout ограничивает одну попытку доставки.
func WithTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMetrics задаёт метрики.
func WithMetrics(mt *metrics.OrderingMetrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = mt }
}

// Dispatcher принимает заказы на уведомление и доставляет их в фоне.
// Dispatch никогда не блокируется: при переполненной очереди уведомление отбрасывается.
// Ошибки доставки только логируются и учитываются в метриках.
type Dispatcher struct {
	notifier  domain.Notifier
	logger    *log.Entry
	metrics   *metrics.OrderingMetrics
	workers   int
	queueSize int
	timeout   time.Duration

	queue   chan domain.Order
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.RWMutex
	stopped bool
}

// NewDispatcher создаёт диспетчер. Воркеры запускаются методом Start.
func NewDispatcher(notifier domain.Notifier, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		notifier:  notifier,
		logger:    log.WithField("component", "notification-dispatcher"),
		workers:   defaultWorkers,
		queueSize: defaultQueueSize,
		timeout:   defaultNotifyTimeout,
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.queue = make(chan domain.Order, d.queueSize)
	return d
}

// Start запускает воркеры.
func (d *Dispatcher) Start() {
	d.wg.Add(d.workers)
	for i := 0; i < d.workers; i++ {
		go d.run()
	}
	d.logger.WithField("workers", d.workers).Info("notification dispatcher started")
}

// Dispatch ставит заказ в очередь на уведомление и сразу возвращает управление.
// Возвращает false, если уведомление отброшено.
func (d *Dispatcher) Dispatch(order domain.Order) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		d.drop(order, "dispatcher stopped")
		return false
	}

	select {
	case d.queue <- order.Clone():
		d.metrics.SetNotifyQueueDepth(len(d.queue))
		return true
	default:
		d.drop(order, "queue full")
		return false
	}
}

// Shutdown прекращает приём, дожидается доставки очереди или отмены ctx.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return ErrDispatcherStopped
	}
	d.stopped = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("notification dispatcher stopped")
		return nil
	case <-ctx.Done():
		close(d.stopCh)
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case <-d.stopCh:
			return
		case order, ok := <-d.queue:
			if !ok {
				return
			}
			d.metrics.SetNotifyQueueDepth(len(d.queue))
			d.deliver(order)
		}
	}
}

func (d *Dispatcher) deliver(order domain.Order) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			d.metrics.RecordNotification(metrics.NotifyFailed)
			d.logger.WithField("order_id", order.ID).WithField("panic", r).Error("notifier panicked")
		}
	}()

	if err := d.notifier.Notify(ctx, order); err != nil {
		d.metrics.RecordNotification(metrics.NotifyFailed)
		d.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"token":    order.Token,
		}).Warn("order confirmation not delivered")
		return
	}
	d.metrics.RecordNotification(metrics.NotifySent)
}

func (d *Dispatcher) drop(order domain.Order, reason string) {
	d.metrics.RecordNotification(metrics.NotifyDropped)
	d.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"reason":   reason,
	}).Warn("order confirmation dropped")
}
