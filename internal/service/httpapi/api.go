// Package httpapi публикует корзину и заказы через REST на gin.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vladislavdragonenkov/foodoms/internal/domain"
	"github.com/vladislavdragonenkov/foodoms/internal/service/idempotency"
	"github.com/vladislavdragonenkov/foodoms/internal/service/ordering"
	"github.com/vladislavdragonenkov/foodoms/internal/service/view"
)

const idempotencyKeyHeader = "Idempotency-Key"

// CartService — операции корзины, нужные REST API.
type CartService interface {
	AddItem(ctx context.Context, customerID, foodItemID string, qty int32, ingredients []string) (domain.Cart, error)
	RemoveItem(ctx context.Context, customerID, itemID string) (domain.Cart, error)
	GetCart(ctx context.Context, customerID string) (domain.Cart, error)
	ClearCart(ctx context.Context, customerID string) (domain.Cart, error)
}

// OrderService — операции заказов, нужные REST API.
type OrderService interface {
	PlaceOrder(ctx context.Context, customerID string, method domain.PaymentMethod) (domain.Order, error)
	GetOrder(ctx context.Context, orderID string) (ordering.Details, error)
	TrackOrder(ctx context.Context, token string) (domain.Order, error)
	ListCustomerOrders(ctx context.Context, customerID string) ([]domain.Order, error)
	ListOutletOrders(ctx context.Context, outletID string) ([]domain.Order, error)
	UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus) (domain.Order, error)
	UpdatePaymentStatus(ctx context.Context, orderID string, status domain.PaymentStatus) (domain.Order, error)
}

// API — REST-обработчики сервиса.
type API struct {
	carts  CartService
	orders OrderService
	guard  *idempotency.Guard
	secret []byte
	logger *log.Entry
	engine *gin.Engine
}

// NewAPI собирает маршруты. secret подписывает и проверяет JWT доступа.
func NewAPI(carts CartService, orders OrderService, guard *idempotency.Guard, secret []byte, logger *log.Entry) *API {
	if logger == nil {
		logger = log.WithField("component", "http")
	}
	a := &API{carts: carts, orders: orders, guard: guard, secret: secret, logger: logger}

	engine := gin.New()
	engine.Use(a.recovery(), a.accessLog())
	engine.NoRoute(func(c *gin.Context) {
		abort(c, http.StatusNotFound, "ROUTE_NOT_FOUND", "route not found")
	})

	api := engine.Group("/api")
	api.GET("/order/track/:token", a.trackOrder)

	customer := api.Group("", a.authenticate(RoleCustomer))
	customer.POST("/cart/add", a.addItem)
	customer.GET("/cart", a.getCart)
	customer.DELETE("/cart", a.clearCart)
	customer.DELETE("/cart/item/:id", a.removeItem)
	customer.POST("/order/place", a.placeOrder)
	customer.GET("/customer/orders", a.customerOrders)

	api.GET("/order/:id", a.authenticate(), a.getOrder)

	owner := api.Group("/owner", a.authenticate(RoleOwner, RoleAdmin))
	owner.GET("/orders", a.outletOrders)
	owner.PUT("/orders/:id/status", a.updateStatus)
	owner.PUT("/orders/:id/payment-status", a.updatePaymentStatus)

	a.engine = engine
	return a
}

// Handler возвращает обработчик с трассировкой входящих запросов.
func (a *API) Handler() http.Handler {
	return otelhttp.NewHandler(a.engine, "foodoms.http",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

type addItemRequest struct {
	FoodItemID          string   `json:"food_item_id" binding:"required"`
	Quantity            int32    `json:"quantity"`
	SelectedIngredients []string `json:"selected_ingredients"`
}

type placeOrderRequest struct {
	PaymentMethod string `json:"payment_method"`
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

type orderDetails struct {
	view.Order
	Timeline []view.TimelineEvent `json:"timeline"`
}

func (a *API) addItem(c *gin.Context) {
	var req addItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	cart, err := a.carts.AddItem(c.Request.Context(), subject(c), req.FoodItemID, req.Quantity, req.SelectedIngredients)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view.FromCart(cart))
}

func (a *API) getCart(c *gin.Context) {
	cart, err := a.carts.GetCart(c.Request.Context(), subject(c))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view.FromCart(cart))
}

func (a *API) clearCart(c *gin.Context) {
	cart, err := a.carts.ClearCart(c.Request.Context(), subject(c))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view.FromCart(cart))
}

func (a *API) removeItem(c *gin.Context) {
	cart, err := a.carts.RemoveItem(c.Request.Context(), subject(c), c.Param("id"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view.FromCart(cart))
}

func (a *API) placeOrder(c *gin.Context) {
	var req placeOrderRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			abort(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
	}
	method, err := domain.ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		a.fail(c, err)
		return
	}

	customerID := subject(c)
	key := c.GetHeader(idempotencyKeyHeader)
	payload := struct {
		CustomerID string `json:"customer_id"`
		Method     string `json:"method"`
	}{customerID, string(method)}

	order, err := idempotency.Execute(c.Request.Context(), a.guard, key, "POST /api/order/place", payload,
		func(ctx context.Context) (view.Order, error) {
			order, err := a.orders.PlaceOrder(ctx, customerID, method)
			if err != nil {
				return view.Order{}, err
			}
			return view.FromOrder(order), nil
		})
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (a *API) getOrder(c *gin.Context) {
	details, err := a.orders.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.fail(c, err)
		return
	}
	// Клиент видит только свои заказы.
	if c.GetString(ctxRole) == RoleCustomer && details.Order.CustomerID != subject(c) {
		a.fail(c, domain.ErrOrderNotFound)
		return
	}
	c.JSON(http.StatusOK, orderDetails{
		Order:    view.FromOrder(details.Order),
		Timeline: view.FromTimeline(details.Timeline),
	})
}

func (a *API) trackOrder(c *gin.Context) {
	order, err := a.orders.TrackOrder(c.Request.Context(), c.Param("token"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view.FromOrder(order))
}

func (a *API) customerOrders(c *gin.Context) {
	orders, err := a.orders.ListCustomerOrders(c.Request.Context(), subject(c))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view.FromOrders(orders))
}

func (a *API) outletOrders(c *gin.Context) {
	outletID := c.Query("outlet_id")
	if outletID == "" {
		abort(c, http.StatusBadRequest, "INVALID_REQUEST", "outlet_id query parameter is required")
		return
	}
	orders, err := a.orders.ListOutletOrders(c.Request.Context(), outletID)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view.FromOrders(orders))
}

func (a *API) updateStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	status, err := domain.ParseOrderStatus(req.Status)
	if err != nil {
		a.fail(c, err)
		return
	}
	order, err := a.orders.UpdateStatus(c.Request.Context(), c.Param("id"), status)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view.FromOrder(order))
}

func (a *API) updatePaymentStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	status, err := domain.ParsePaymentStatus(req.Status)
	if err != nil {
		a.fail(c, err)
		return
	}
	order, err := a.orders.UpdatePaymentStatus(c.Request.Context(), c.Param("id"), status)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view.FromOrder(order))
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// fail отвечает кодом по категории ошибки. Неожиданные ошибки скрываются за 500.
func (a *API) fail(c *gin.Context, err error) {
	reason := view.ErrorReason(err)
	switch {
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		abort(c, http.StatusConflict, reason, err.Error())
	case errors.Is(err, idempotency.ErrRequestInProgress):
		abort(c, http.StatusConflict, "REQUEST_IN_PROGRESS", err.Error())
	case domain.IsNotFound(err):
		abort(c, http.StatusNotFound, reason, err.Error())
	case domain.IsInvalidState(err):
		abort(c, http.StatusBadRequest, reason, err.Error())
	case domain.IsVersionConflict(err):
		abort(c, http.StatusConflict, reason, err.Error())
	default:
		a.logger.WithError(err).WithFields(log.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
		}).Error("request failed")
		abort(c, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

func (a *API) recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				a.logger.WithFields(log.Fields{"path": c.Request.URL.Path, "panic": r}).Error("http handler panicked")
				abort(c, http.StatusInternalServerError, "INTERNAL", "internal error")
			}
		}()
		c.Next()
	}
}

func (a *API) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		a.logger.WithFields(log.Fields{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(started).Milliseconds(),
		}).Debug("http request")
	}
}
