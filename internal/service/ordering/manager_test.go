package ordering

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/foodoms/internal/domain"
	"github.com/vladislavdragonenkov/foodoms/internal/metrics"
	"github.com/vladislavdragonenkov/foodoms/internal/service/cart"
	"github.com/vladislavdragonenkov/foodoms/internal/storage/memory"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	orders []domain.Order
}

func (d *recordingDispatcher) Dispatch(order domain.Order) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.orders = append(d.orders, order)
	return true
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.orders)
}

// conflictingOrders возвращает конфликт версий на первых conflicts вызовах Save.
type conflictingOrders struct {
	domain.OrderRepository
	conflicts atomic.Int32
	saves     atomic.Int32
}

func (r *conflictingOrders) Save(order domain.Order) error {
	r.saves.Add(1)
	if r.conflicts.Load() > 0 {
		r.conflicts.Add(-1)
		return domain.ErrOrderVersionConflict
	}
	return r.OrderRepository.Save(order)
}

type ManagerSuite struct {
	suite.Suite

	ctx        context.Context
	carts      *cart.Manager
	cartRepo   domain.CartRepository
	orderRepo  *memory.OrderRepository
	orders     *conflictingOrders
	outbox     *memory.OutboxRepository
	timeline   *memory.TimelineRepository
	dispatcher *recordingDispatcher
	metrics    *metrics.OrderingMetrics
	catalog    *memory.Catalog
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) SetupTest() {
	s.ctx = context.Background()
	s.catalog = memory.NewCatalog(
		[]domain.Outlet{{ID: "O1", Name: "Spice Route"}, {ID: "O2", Name: "Pizza Corner"}},
		[]domain.FoodItem{
			{ID: "F1", OutletID: "O1", Name: "Masala Dosa", PriceMinor: 100, Available: true},
			{ID: "F3", OutletID: "O1", Name: "Filter Coffee", PriceMinor: 40, Available: true},
			{ID: "F2", OutletID: "O2", Name: "Margherita", PriceMinor: 250, Available: true},
		},
	)
	s.cartRepo = memory.NewCartRepository()
	s.orderRepo = memory.NewOrderRepository()
	s.orders = &conflictingOrders{OrderRepository: s.orderRepo}
	s.outbox = memory.NewOutboxRepository()
	s.timeline = memory.NewTimelineRepository()
	s.dispatcher = &recordingDispatcher{}
	s.metrics = metrics.NewOrderingMetricsWithRegisterer(prometheus.NewRegistry())
	s.carts = cart.NewManager(s.cartRepo, s.catalog)
}

func (s *ManagerSuite) manager(opts ...Option) *Manager {
	checkout := memory.NewCheckoutStore(s.cartRepo, s.orderRepo, s.outbox, s.timeline)
	opts = append([]Option{WithMetrics(s.metrics)}, opts...)
	return NewManager(Deps{
		Checkout:      checkout,
		Orders:        s.orders,
		Catalog:       s.catalog,
		Timeline:      s.timeline,
		Outbox:        s.outbox,
		Notifications: s.dispatcher,
	}, opts...)
}

func (s *ManagerSuite) TestScenarioOutletSwitchThenPlace() {
	m := s.manager()

	c, err := s.carts.AddItem(s.ctx, "cust-1", "F1", 1, nil)
	s.Require().NoError(err)
	s.Equal(int64(100), c.TotalMinor)

	c, err = s.carts.AddItem(s.ctx, "cust-1", "F1", 2, nil)
	s.Require().NoError(err)
	s.Equal(int64(300), c.TotalMinor)
	s.Require().Len(c.Items, 1)
	s.Equal(int32(3), c.Items[0].Qty)

	c, err = s.carts.AddItem(s.ctx, "cust-1", "F2", 1, nil)
	s.Require().NoError(err)
	s.Equal("O2", c.OutletID)
	s.Require().Len(c.Items, 1)

	order, err := m.PlaceOrder(s.ctx, "cust-1", "")
	s.Require().NoError(err)
	s.Equal("O2", order.OutletID)
	s.Equal("Pizza Corner", order.OutletName)
	s.Require().Len(order.Items, 1)
	s.Equal(int64(250), order.TotalMinor)
	s.Equal(domain.OrderStatusPlaced, order.Status)
	s.Equal(domain.PaymentStatusPending, order.PaymentStatus)
	s.Equal(domain.PaymentMethodUPI, order.PaymentMethod)
	s.Regexp(regexp.MustCompile(`^TKN-[0-9A-F]{8}$`), order.Token)

	after, err := s.carts.GetCart(s.ctx, "cust-1")
	s.Require().NoError(err)
	s.Empty(after.Items)
	s.Zero(after.TotalMinor)

	stored, err := m.GetOrder(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(int64(250), stored.Order.TotalMinor)
	s.Require().Len(stored.Timeline, 1)
	s.Equal(domain.TimelineOrderPlaced, stored.Timeline[0].Type)

	s.Equal(1, s.dispatcher.count())
	pending, err := s.outbox.PullPending(10)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(domain.EventOrderPlaced, pending[0].EventType)
}

func (s *ManagerSuite) TestPlaceOrderSnapshotsIngredients() {
	m := s.manager()
	ingredients := []string{"potato", "chutney"}

	_, err := s.carts.AddItem(s.ctx, "cust-1", "F1", 2, ingredients)
	s.Require().NoError(err)
	_, err = s.carts.AddItem(s.ctx, "cust-1", "F3", 1, nil)
	s.Require().NoError(err)
	ingredients[0] = "mutated"

	order, err := m.PlaceOrder(s.ctx, "cust-1", domain.PaymentMethodCash)
	s.Require().NoError(err)
	s.Require().Len(order.Items, 2)
	s.Equal([]string{"potato", "chutney"}, order.Items[0].SelectedIngredients)
	s.Equal([]string{}, order.Items[1].SelectedIngredients)
	s.Equal(int64(240), order.TotalMinor)
	s.Equal(domain.PaymentMethodCash, order.PaymentMethod)

	order.Items[0].SelectedIngredients[0] = "changed"
	fresh, err := m.GetOrder(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Equal("potato", fresh.Order.Items[0].SelectedIngredients[0])

	// Новое наполнение корзины не меняет оформленный заказ.
	_, err = s.carts.AddItem(s.ctx, "cust-1", "F1", 5, []string{"extra"})
	s.Require().NoError(err)
	fresh, err = m.GetOrder(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(int32(2), fresh.Order.Items[0].Qty)
	s.Equal(int64(240), fresh.Order.TotalMinor)
}

func (s *ManagerSuite) TestPlaceOrderRejectsEmptyOrMissingCart() {
	m := s.manager()

	_, err := m.PlaceOrder(s.ctx, "nobody", "")
	s.ErrorIs(err, domain.ErrCartEmpty)
	s.True(domain.IsInvalidState(err))

	_, err = s.carts.AddItem(s.ctx, "cust-1", "F1", 1, nil)
	s.Require().NoError(err)
	_, err = s.carts.ClearCart(s.ctx, "cust-1")
	s.Require().NoError(err)

	_, err = m.PlaceOrder(s.ctx, "cust-1", "")
	s.ErrorIs(err, domain.ErrCartEmpty)

	_, err = m.PlaceOrder(s.ctx, "", "")
	s.ErrorIs(err, domain.ErrCustomerRequired)

	_, err = s.carts.AddItem(s.ctx, "cust-1", "F1", 1, nil)
	s.Require().NoError(err)
	_, err = m.PlaceOrder(s.ctx, "cust-1", domain.PaymentMethod("BITCOIN"))
	s.ErrorIs(err, domain.ErrInvalidPaymentMethod)

	for _, customer := range []string{"nobody", "cust-1"} {
		orders, err := m.ListCustomerOrders(s.ctx, customer)
		s.Require().NoError(err)
		s.Empty(orders)
	}
	pending, err := s.outbox.PullPending(10)
	s.Require().NoError(err)
	s.Empty(pending)
	s.Zero(s.dispatcher.count())
}

func (s *ManagerSuite) TestPlaceOrderRegeneratesCollidingToken() {
	tokens := []string{"TKN-DUP00001", "TKN-DUP00001", "TKN-FRESH001"}
	var next atomic.Int32
	m := s.manager(WithTokenGenerator(func() string {
		return tokens[int(next.Add(1))-1]
	}))

	_, err := s.carts.AddItem(s.ctx, "cust-1", "F1", 1, nil)
	s.Require().NoError(err)
	first, err := m.PlaceOrder(s.ctx, "cust-1", "")
	s.Require().NoError(err)
	s.Equal("TKN-DUP00001", first.Token)

	_, err = s.carts.AddItem(s.ctx, "cust-2", "F2", 1, nil)
	s.Require().NoError(err)
	second, err := m.PlaceOrder(s.ctx, "cust-2", "")
	s.Require().NoError(err)
	s.Equal("TKN-FRESH001", second.Token)

	pending, err := s.outbox.PullPending(10)
	s.Require().NoError(err)
	s.Len(pending, 2, "rejected attempt must not leave outbox records")
}

func (s *ManagerSuite) TestPlaceOrderGivesUpAfterRepeatedCollisions() {
	m := s.manager(WithTokenGenerator(func() string { return "TKN-SAME0001" }))

	_, err := s.carts.AddItem(s.ctx, "cust-1", "F1", 1, nil)
	s.Require().NoError(err)
	_, err = m.PlaceOrder(s.ctx, "cust-1", "")
	s.Require().NoError(err)

	_, err = s.carts.AddItem(s.ctx, "cust-2", "F1", 2, nil)
	s.Require().NoError(err)
	_, err = m.PlaceOrder(s.ctx, "cust-2", "")
	s.ErrorIs(err, domain.ErrOrderTokenConflict)

	c, err := s.carts.GetCart(s.ctx, "cust-2")
	s.Require().NoError(err)
	s.Len(c.Items, 1, "failed placement must keep the cart")
}

func (s *ManagerSuite) TestConcurrentPlaceOrderSingleWinner() {
	m := s.manager()
	_, err := s.carts.AddItem(s.ctx, "cust-1", "F1", 3, nil)
	s.Require().NoError(err)

	const callers = 8
	var wg sync.WaitGroup
	var succeeded, empty atomic.Int32
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.PlaceOrder(s.ctx, "cust-1", "")
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, domain.ErrCartEmpty):
				empty.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), succeeded.Load())
	s.Equal(int32(callers-1), empty.Load())
	orders, err := m.ListCustomerOrders(s.ctx, "cust-1")
	s.Require().NoError(err)
	s.Len(orders, 1)
}

func (s *ManagerSuite) TestUpdateStatusPermissiveForAnyPair() {
	m := s.manager()
	_, err := s.carts.AddItem(s.ctx, "cust-1", "F1", 1, nil)
	s.Require().NoError(err)
	order, err := m.PlaceOrder(s.ctx, "cust-1", "")
	s.Require().NoError(err)

	all := []domain.OrderStatus{
		domain.OrderStatusPending, domain.OrderStatusPlaced, domain.OrderStatusPreparing,
		domain.OrderStatusReady, domain.OrderStatusDelivered, domain.OrderStatusCancelled,
	}
	for _, from := range all {
		for _, to := range all {
			_, err := m.UpdateStatus(s.ctx, order.ID, from)
			s.Require().NoError(err)
			updated, err := m.UpdateStatus(s.ctx, order.ID, to)
			s.Require().NoError(err, "%s -> %s", from, to)
			s.Equal(to, updated.Status)

			got, err := m.GetOrder(s.ctx, order.ID)
			s.Require().NoError(err)
			s.Equal(to, got.Order.Status)
			s.Equal(updated.Version, got.Order.Version)
		}
	}

	_, err = m.UpdateStatus(s.ctx, order.ID, domain.OrderStatus("LOST"))
	s.ErrorIs(err, domain.ErrInvalidOrderStatus)
	_, err = m.UpdateStatus(s.ctx, "missing", domain.OrderStatusReady)
	s.ErrorIs(err, domain.ErrOrderNotFound)
}

func (s *ManagerSuite) TestUpdateStatusForwardOnlyPolicy() {
	m := s.manager(WithPolicy(domain.ForwardOnlyPolicy{}))
	_, err := s.carts.AddItem(s.ctx, "cust-1", "F1", 1, nil)
	s.Require().NoError(err)
	order, err := m.PlaceOrder(s.ctx, "cust-1", "")
	s.Require().NoError(err)

	_, err = m.UpdateStatus(s.ctx, order.ID, domain.OrderStatusReady)
	s.Require().NoError(err)
	_, err = m.UpdateStatus(s.ctx, order.ID, domain.OrderStatusPreparing)
	s.ErrorIs(err, domain.ErrStatusTransitionDenied)
	_, err = m.UpdateStatus(s.ctx, order.ID, domain.OrderStatusCancelled)
	s.Require().NoError(err)
	_, err = m.UpdateStatus(s.ctx, order.ID, domain.OrderStatusDelivered)
	s.ErrorIs(err, domain.ErrStatusTransitionDenied)

	got, err := m.GetOrder(s.ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusCancelled, got.Order.Status)
}

func (s *ManagerSuite) TestUpdateStatusRecordsTimelineAndOutbox() {
	m := s.manager()
	_, err := s.carts.AddItem(s.ctx, "cust-1", "F1", 1, nil)
	s.Require().NoError(err)
	order, err := m.PlaceOrder(s.ctx, "cust-1", "")
	s.Require().NoError(err)

	_, err = m.UpdateStatus(s.ctx, order.ID, domain.OrderStatusPreparing)
	s.Require().NoError(err)
	paid, err := m.UpdatePaymentStatus(s.ctx, order.ID, domain.PaymentStatusPaid)
	s.Require().NoError(err)
	s.Equal(domain.PaymentStatusPaid, paid.PaymentStatus)
	s.Equal(domain.OrderStatusPreparing, paid.Status)

	_, err = m.UpdatePaymentStatus(s.ctx, order.ID, domain.PaymentStatus("MAYBE"))
	s.ErrorIs(err, domain.ErrInvalidPaymentStatus)

	details, err := m.GetOrder(s.ctx, order.ID)
	s.Require().NoError(err)
	types := make([]string, 0, len(details.Timeline))
	for _, ev := range details.Timeline {
		types = append(types, ev.Type)
	}
	s.Equal([]string{domain.TimelineOrderPlaced, domain.TimelineStatusChanged, domain.TimelinePaymentStatusChanged}, types)

	pending, err := s.outbox.PullPending(10)
	s.Require().NoError(err)
	s.Require().Len(pending, 3)
	s.Equal(domain.EventOrderStatusChanged, pending[1].EventType)
	s.Contains(string(pending[1].Payload), `"to":"PREPARING"`)
	s.Contains(string(pending[1].Payload), `"from":"PLACED"`)
	s.Equal(domain.EventPaymentChanged, pending[2].EventType)
}

func (s *ManagerSuite) TestUpdateStatusRetriesVersionConflict() {
	m := s.manager()
	_, err := s.carts.AddItem(s.ctx, "cust-1", "F1", 1, nil)
	s.Require().NoError(err)
	order, err := m.PlaceOrder(s.ctx, "cust-1", "")
	s.Require().NoError(err)

	s.orders.conflicts.Store(2)
	updated, err := m.UpdateStatus(s.ctx, order.ID, domain.OrderStatusReady)
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusReady, updated.Status)
	s.Equal(int32(3), s.orders.saves.Load())

	s.orders.conflicts.Store(maxSaveAttempts)
	_, err = m.UpdateStatus(s.ctx, order.ID, domain.OrderStatusDelivered)
	s.True(domain.IsVersionConflict(err))
}

func (s *ManagerSuite) TestListsNewestFirst() {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	var tick atomic.Int64
	m := s.manager(WithClock(func() time.Time {
		return now.Add(time.Duration(tick.Add(1)) * time.Minute)
	}))

	var placed []string
	for _, food := range []string{"F1", "F2", "F3"} {
		_, err := s.carts.AddItem(s.ctx, "cust-1", food, 1, nil)
		s.Require().NoError(err)
		order, err := m.PlaceOrder(s.ctx, "cust-1", "")
		s.Require().NoError(err)
		placed = append(placed, order.ID)
	}

	orders, err := m.ListCustomerOrders(s.ctx, "cust-1")
	s.Require().NoError(err)
	s.Require().Len(orders, 3)
	s.Equal([]string{placed[2], placed[1], placed[0]}, []string{orders[0].ID, orders[1].ID, orders[2].ID})

	again, err := m.ListCustomerOrders(s.ctx, "cust-1")
	s.Require().NoError(err)
	s.Equal(orders, again)

	byOutlet, err := m.ListOutletOrders(s.ctx, "O1")
	s.Require().NoError(err)
	s.Require().Len(byOutlet, 2)
	s.Equal(placed[2], byOutlet[0].ID)

	_, err = m.ListOutletOrders(s.ctx, "O404")
	s.ErrorIs(err, domain.ErrOutletNotFound)
	_, err = m.ListCustomerOrders(s.ctx, " ")
	s.ErrorIs(err, domain.ErrCustomerRequired)

	limited, err := s.manager(WithListLimit(1)).ListCustomerOrders(s.ctx, "cust-1")
	s.Require().NoError(err)
	s.Len(limited, 1)
}

func (s *ManagerSuite) TestTrackOrderByToken() {
	m := s.manager()
	_, err := s.carts.AddItem(s.ctx, "cust-1", "F1", 1, nil)
	s.Require().NoError(err)
	order, err := m.PlaceOrder(s.ctx, "cust-1", "")
	s.Require().NoError(err)

	tracked, err := m.TrackOrder(s.ctx, " "+order.Token+" ")
	s.Require().NoError(err)
	s.Equal(order.ID, tracked.ID)

	_, err = m.TrackOrder(s.ctx, "TKN-NOPE0000")
	s.ErrorIs(err, domain.ErrOrderNotFound)
	_, err = m.GetOrder(s.ctx, "nope")
	s.ErrorIs(err, domain.ErrOrderNotFound)
}

func (s *ManagerSuite) TestDefaultPaymentMethodOption() {
	m := s.manager(WithDefaultPaymentMethod(domain.PaymentMethodCard))
	_, err := s.carts.AddItem(s.ctx, "cust-1", "F1", 1, nil)
	s.Require().NoError(err)

	order, err := m.PlaceOrder(s.ctx, "cust-1", "")
	s.Require().NoError(err)
	s.Equal(domain.PaymentMethodCard, order.PaymentMethod)
}

func TestNewToken_Format(t *testing.T) {
	pattern := regexp.MustCompile(`^TKN-[0-9A-F]{8}$`)
	for range 1000 {
		require.Regexp(t, pattern, NewToken())
	}
}

// Генератор нарочно часто повторяется: уникальность держится на индексе хранилища и перегенерации.
func (s *ManagerSuite) TestPlacedOrderTokensAreUnique() {
	const orders = 10000
	var n atomic.Int64
	m := s.manager(WithTokenGenerator(func() string {
		return fmt.Sprintf("TKN-%08X", n.Add(1)/2)
	}))

	seen := make(map[string]struct{}, orders)
	for i := range orders {
		_, err := s.carts.AddItem(s.ctx, "cust-1", "F1", 1, nil)
		s.Require().NoError(err)

		order, err := m.PlaceOrder(s.ctx, "cust-1", "")
		s.Require().NoError(err, "order %d", i)
		_, dup := seen[order.Token]
		s.Require().False(dup, "duplicate token %s", order.Token)
		seen[order.Token] = struct{}{}
	}
	s.Len(seen, orders)
	s.Greater(n.Load(), int64(orders), "collisions must have forced regeneration")
}

func TestFailureReason(t *testing.T) {
	cases := map[error]string{
		domain.ErrCartEmpty:          "cart_empty",
		domain.ErrCartOutletMissing:  "outlet_missing",
		domain.ErrOrderTokenConflict: "token_conflict",
		domain.ErrOutletNotFound:     "not_found",
		domain.ErrInvalidQuantity:    "invalid_state",
		errors.New("db down"):        "internal",
	}
	for err, want := range cases {
		require.Equal(t, want, failureReason(err), err.Error())
	}
}
