package httpapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/foodoms/internal/domain"
	"github.com/vladislavdragonenkov/foodoms/internal/service/cart"
	"github.com/vladislavdragonenkov/foodoms/internal/service/httpapi"
	"github.com/vladislavdragonenkov/foodoms/internal/service/idempotency"
	"github.com/vladislavdragonenkov/foodoms/internal/service/ordering"
	"github.com/vladislavdragonenkov/foodoms/internal/storage/memory"
)

var testSecret = []byte("test-secret")

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type cartResponse struct {
	OutletID   string `json:"outlet_id"`
	TotalMinor int64  `json:"total_minor"`
	Items      []struct {
		ID                  string   `json:"id"`
		Qty                 int32    `json:"quantity"`
		SelectedIngredients []string `json:"selected_ingredients"`
	} `json:"items"`
}

type orderResponse struct {
	ID            string `json:"id"`
	Token         string `json:"token"`
	Status        string `json:"status"`
	PaymentMethod string `json:"payment_method"`
	PaymentStatus string `json:"payment_status"`
	TotalMinor    int64  `json:"total_minor"`
	Timeline      []struct {
		Type string `json:"type"`
	} `json:"timeline"`
}

type APISuite struct {
	suite.Suite

	handler http.Handler
}

func TestAPISuite(t *testing.T) {
	gin.SetMode(gin.TestMode)
	suite.Run(t, new(APISuite))
}

func (s *APISuite) SetupTest() {
	catalog := memory.NewCatalog(
		[]domain.Outlet{{ID: "O1", Name: "Spice Route"}, {ID: "O2", Name: "Pizza Corner"}},
		[]domain.FoodItem{
			{ID: "F1", OutletID: "O1", Name: "Masala Dosa", PriceMinor: 100, Available: true},
			{ID: "F2", OutletID: "O2", Name: "Margherita", PriceMinor: 250, Available: true},
		},
	)
	carts := memory.NewCartRepository()
	orders := memory.NewOrderRepository()
	outbox := memory.NewOutboxRepository()
	timeline := memory.NewTimelineRepository()

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	orderManager := ordering.NewManager(ordering.Deps{
		Checkout: memory.NewCheckoutStore(carts, orders, outbox, timeline),
		Orders:   orders,
		Catalog:  catalog,
		Timeline: timeline,
		Outbox:   outbox,
	}, ordering.WithPolicy(domain.ForwardOnlyPolicy{}))

	api := httpapi.NewAPI(
		cart.NewManager(carts, catalog),
		orderManager,
		idempotency.NewGuard(memory.NewIdempotencyRepository()),
		testSecret,
		logger.WithField("component", "test"),
	)
	s.handler = api.Handler()
}

func (s *APISuite) token(subject, role string) string {
	token, err := httpapi.IssueToken(testSecret, subject, role, time.Hour)
	s.Require().NoError(err)
	return token
}

func (s *APISuite) do(method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *APISuite) decode(rec *httptest.ResponseRecorder, out any) {
	s.T().Helper()
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
}

func (s *APISuite) requireError(rec *httptest.ResponseRecorder, status int, code string) {
	s.T().Helper()
	s.Require().Equal(status, rec.Code, rec.Body.String())
	var body errorResponse
	s.decode(rec, &body)
	s.Equal(code, body.Error.Code)
}

func (s *APISuite) addItem(token, foodID string, qty int32, ingredients ...string) *httptest.ResponseRecorder {
	return s.do(http.MethodPost, "/api/cart/add", token, map[string]any{
		"food_item_id":         foodID,
		"quantity":             qty,
		"selected_ingredients": ingredients,
	})
}

func (s *APISuite) TestCartToOrderFlow() {
	customer := s.token("cust-1", httpapi.RoleCustomer)

	rec := s.addItem(customer, "F1", 2, "chutney")
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var cartBody cartResponse
	s.decode(rec, &cartBody)
	s.Equal("O1", cartBody.OutletID)
	s.Equal(int64(200), cartBody.TotalMinor)
	s.Equal([]string{"chutney"}, cartBody.Items[0].SelectedIngredients)

	rec = s.do(http.MethodPost, "/api/order/place", customer, map[string]string{"payment_method": "card"})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var placed orderResponse
	s.decode(rec, &placed)
	s.Equal("PLACED", placed.Status)
	s.Equal("CARD", placed.PaymentMethod)
	s.Equal("PENDING", placed.PaymentStatus)
	s.Equal(int64(200), placed.TotalMinor)
	s.Regexp(`^TKN-[0-9A-F]{8}$`, placed.Token)

	rec = s.do(http.MethodGet, "/api/cart", customer, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.decode(rec, &cartBody)
	s.Empty(cartBody.Items)

	rec = s.do(http.MethodGet, "/api/order/track/"+placed.Token, "", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var tracked orderResponse
	s.decode(rec, &tracked)
	s.Equal(placed.ID, tracked.ID)

	rec = s.do(http.MethodGet, "/api/order/"+placed.ID, customer, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var details orderResponse
	s.decode(rec, &details)
	s.Require().Len(details.Timeline, 1)
	s.Equal(domain.TimelineOrderPlaced, details.Timeline[0].Type)

	rec = s.do(http.MethodGet, "/api/customer/orders", customer, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var list []orderResponse
	s.decode(rec, &list)
	s.Len(list, 1)
}

func (s *APISuite) TestOwnerUpdatesStatus() {
	customer := s.token("cust-1", httpapi.RoleCustomer)
	owner := s.token("owner-1", httpapi.RoleOwner)

	s.Require().Equal(http.StatusOK, s.addItem(customer, "F1", 1).Code)
	rec := s.do(http.MethodPost, "/api/order/place", customer, nil)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var placed orderResponse
	s.decode(rec, &placed)
	s.Equal("UPI", placed.PaymentMethod)

	rec = s.do(http.MethodGet, "/api/owner/orders?outlet_id=O1", owner, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var list []orderResponse
	s.decode(rec, &list)
	s.Require().Len(list, 1)

	rec = s.do(http.MethodPut, "/api/owner/orders/"+placed.ID+"/status", owner, map[string]string{"status": "preparing"})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var updated orderResponse
	s.decode(rec, &updated)
	s.Equal("PREPARING", updated.Status)

	rec = s.do(http.MethodPut, "/api/owner/orders/"+placed.ID+"/status", owner, map[string]string{"status": "PLACED"})
	s.requireError(rec, http.StatusBadRequest, "STATUS_TRANSITION_DENIED")

	rec = s.do(http.MethodPut, "/api/owner/orders/"+placed.ID+"/payment-status", owner, map[string]string{"status": "PAID"})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	s.decode(rec, &updated)
	s.Equal("PAID", updated.PaymentStatus)

	rec = s.do(http.MethodPut, "/api/owner/orders/"+placed.ID+"/status", owner, map[string]string{"status": "SHIPPED"})
	s.requireError(rec, http.StatusBadRequest, "INVALID_ORDER_STATUS")

	rec = s.do(http.MethodGet, "/api/owner/orders", owner, nil)
	s.requireError(rec, http.StatusBadRequest, "INVALID_REQUEST")
}

func (s *APISuite) TestErrorMapping() {
	customer := s.token("cust-1", httpapi.RoleCustomer)

	s.requireError(s.do(http.MethodGet, "/api/cart", customer, nil), http.StatusNotFound, "CART_NOT_FOUND")
	s.requireError(s.addItem(customer, "missing", 1), http.StatusNotFound, "FOOD_ITEM_NOT_FOUND")
	s.requireError(s.addItem(customer, "F1", 0), http.StatusBadRequest, "INVALID_QUANTITY")
	s.requireError(s.do(http.MethodPost, "/api/order/place", customer, nil), http.StatusBadRequest, "CART_EMPTY")
	s.requireError(s.do(http.MethodPost, "/api/order/place", customer, map[string]string{"payment_method": "barter"}),
		http.StatusBadRequest, "INVALID_PAYMENT_METHOD")
	s.requireError(s.do(http.MethodGet, "/api/order/track/TKN-NOPE", "", nil), http.StatusNotFound, "ORDER_NOT_FOUND")
	s.requireError(s.do(http.MethodGet, "/api/unknown", "", nil), http.StatusNotFound, "ROUTE_NOT_FOUND")

	s.Require().Equal(http.StatusOK, s.addItem(customer, "F1", 1).Code)
	s.Require().Equal(http.StatusOK, s.do(http.MethodDelete, "/api/cart", customer, nil).Code)
	s.requireError(s.do(http.MethodPost, "/api/order/place", customer, nil), http.StatusBadRequest, "CART_EMPTY")
}

func (s *APISuite) TestRemoveItem() {
	customer := s.token("cust-1", httpapi.RoleCustomer)

	rec := s.addItem(customer, "F1", 1)
	s.Require().Equal(http.StatusOK, rec.Code)
	var cartBody cartResponse
	s.decode(rec, &cartBody)

	rec = s.do(http.MethodDelete, "/api/cart/item/"+cartBody.Items[0].ID, customer, nil)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	s.decode(rec, &cartBody)
	s.Empty(cartBody.Items)
	s.Equal(int64(0), cartBody.TotalMinor)
}

func (s *APISuite) TestOtherCustomersOrderIsHidden() {
	alice := s.token("alice", httpapi.RoleCustomer)
	bob := s.token("bob", httpapi.RoleCustomer)
	admin := s.token("root", httpapi.RoleAdmin)

	s.Require().Equal(http.StatusOK, s.addItem(alice, "F2", 1).Code)
	rec := s.do(http.MethodPost, "/api/order/place", alice, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var placed orderResponse
	s.decode(rec, &placed)

	s.requireError(s.do(http.MethodGet, "/api/order/"+placed.ID, bob, nil), http.StatusNotFound, "ORDER_NOT_FOUND")
	s.Equal(http.StatusOK, s.do(http.MethodGet, "/api/order/"+placed.ID, admin, nil).Code)
}

func (s *APISuite) TestIdempotentPlacement() {
	customer := s.token("cust-1", httpapi.RoleCustomer)
	s.Require().Equal(http.StatusOK, s.addItem(customer, "F1", 3).Code)

	first := s.do(http.MethodPost, "/api/order/place", customer, nil, "Idempotency-Key", "k-1")
	s.Require().Equal(http.StatusOK, first.Code, first.Body.String())
	second := s.do(http.MethodPost, "/api/order/place", customer, nil, "Idempotency-Key", "k-1")
	s.Require().Equal(http.StatusOK, second.Code, second.Body.String())

	var a, b orderResponse
	s.decode(first, &a)
	s.decode(second, &b)
	s.Equal(a.ID, b.ID)
	s.Equal(a.Token, b.Token)

	rec := s.do(http.MethodPost, "/api/order/place", customer, map[string]string{"payment_method": "CASH"}, "Idempotency-Key", "k-1")
	s.requireError(rec, http.StatusConflict, "IDEMPOTENCY_KEY_REUSED")

	// Без ключа повтор оформляет заказ заново и видит пустую корзину.
	s.requireError(s.do(http.MethodPost, "/api/order/place", customer, nil), http.StatusBadRequest, "CART_EMPTY")
}
