// Package grpcsvc публикует корзину и заказы через gRPC с JSON-кодеком.
package grpcsvc

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/vladislavdragonenkov/foodoms/internal/domain"
	"github.com/vladislavdragonenkov/foodoms/internal/service/idempotency"
	"github.com/vladislavdragonenkov/foodoms/internal/service/ordering"
	"github.com/vladislavdragonenkov/foodoms/internal/service/view"
)

// ServiceName — полное имя gRPC-сервиса.
const ServiceName = "foodoms.v1.Ordering"

const idempotencyKeyHeader = "idempotency-key"

// CartService — операции корзины, нужные транспорту.
type CartService interface {
	AddItem(ctx context.Context, customerID, foodItemID string, qty int32, ingredients []string) (domain.Cart, error)
	RemoveItem(ctx context.Context, customerID, itemID string) (domain.Cart, error)
	GetCart(ctx context.Context, customerID string) (domain.Cart, error)
	ClearCart(ctx context.Context, customerID string) (domain.Cart, error)
}

// OrderService — операции заказов, нужные транспорту.
type OrderService interface {
	PlaceOrder(ctx context.Context, customerID string, method domain.PaymentMethod) (domain.Order, error)
	GetOrder(ctx context.Context, orderID string) (ordering.Details, error)
	TrackOrder(ctx context.Context, token string) (domain.Order, error)
	ListCustomerOrders(ctx context.Context, customerID string) ([]domain.Order, error)
	ListOutletOrders(ctx context.Context, outletID string) ([]domain.Order, error)
	UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus) (domain.Order, error)
	UpdatePaymentStatus(ctx context.Context, orderID string, status domain.PaymentStatus) (domain.Order, error)
}

// Server реализует gRPC API поверх менеджеров корзины и заказов.
type Server struct {
	carts  CartService
	orders OrderService
	guard  *idempotency.Guard
	logger *log.Entry
}

// NewServer создаёт сервер. guard может быть nil: тогда ключ идемпотентности игнорируется.
func NewServer(carts CartService, orders OrderService, guard *idempotency.Guard, logger *log.Entry) *Server {
	if logger == nil {
		logger = log.WithField("component", "grpc")
	}
	return &Server{carts: carts, orders: orders, guard: guard, logger: logger}
}

// Register регистрирует сервис на gRPC-сервере.
func (s *Server) Register(registrar grpc.ServiceRegistrar) {
	registrar.RegisterService(&serviceDesc, s)
}

// AddItem добавляет блюдо в корзину.
func (s *Server) AddItem(ctx context.Context, req *AddItemRequest) (*CartResponse, error) {
	cart, err := s.carts.AddItem(ctx, req.CustomerID, req.FoodItemID, req.Qty, req.SelectedIngredients)
	if err != nil {
		return nil, s.toStatus(err, "AddItem")
	}
	return &CartResponse{Cart: view.FromCart(cart)}, nil
}

// RemoveItem удаляет строку корзины.
func (s *Server) RemoveItem(ctx context.Context, req *RemoveItemRequest) (*CartResponse, error) {
	cart, err := s.carts.RemoveItem(ctx, req.CustomerID, req.ItemID)
	if err != nil {
		return nil, s.toStatus(err, "RemoveItem")
	}
	return &CartResponse{Cart: view.FromCart(cart)}, nil
}

// GetCart возвращает корзину клиента.
func (s *Server) GetCart(ctx context.Context, req *CartRequest) (*CartResponse, error) {
	cart, err := s.carts.GetCart(ctx, req.CustomerID)
	if err != nil {
		return nil, s.toStatus(err, "GetCart")
	}
	return &CartResponse{Cart: view.FromCart(cart)}, nil
}

// ClearCart очищает корзину клиента.
func (s *Server) ClearCart(ctx context.Context, req *CartRequest) (*CartResponse, error) {
	cart, err := s.carts.ClearCart(ctx, req.CustomerID)
	if err != nil {
		return nil, s.toStatus(err, "ClearCart")
	}
	return &CartResponse{Cart: view.FromCart(cart)}, nil
}

// PlaceOrder оформляет заказ. Метаданные idempotency-key делают вызов повторяемым.
func (s *Server) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*OrderResponse, error) {
	method, err := domain.ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		return nil, s.toStatus(err, "PlaceOrder")
	}

	resp, err := idempotency.Execute(ctx, s.guard, idempotencyKey(ctx), "/"+ServiceName+"/PlaceOrder", req,
		func(ctx context.Context) (OrderResponse, error) {
			order, err := s.orders.PlaceOrder(ctx, req.CustomerID, method)
			if err != nil {
				return OrderResponse{}, err
			}
			return OrderResponse{Order: view.FromOrder(order)}, nil
		})
	if err != nil {
		return nil, s.toStatus(err, "PlaceOrder")
	}
	return &resp, nil
}

// GetOrder возвращает заказ с историей.
func (s *Server) GetOrder(ctx context.Context, req *OrderRequest) (*GetOrderResponse, error) {
	details, err := s.orders.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, s.toStatus(err, "GetOrder")
	}
	return &GetOrderResponse{
		Order:    view.FromOrder(details.Order),
		Timeline: view.FromTimeline(details.Timeline),
	}, nil
}

// TrackOrder ищет заказ по токену.
func (s *Server) TrackOrder(ctx context.Context, req *TrackOrderRequest) (*OrderResponse, error) {
	order, err := s.orders.TrackOrder(ctx, req.Token)
	if err != nil {
		return nil, s.toStatus(err, "TrackOrder")
	}
	return &OrderResponse{Order: view.FromOrder(order)}, nil
}

// ListCustomerOrders возвращает заказы клиента.
func (s *Server) ListCustomerOrders(ctx context.Context, req *ListCustomerOrdersRequest) (*ListOrdersResponse, error) {
	orders, err := s.orders.ListCustomerOrders(ctx, req.CustomerID)
	if err != nil {
		return nil, s.toStatus(err, "ListCustomerOrders")
	}
	return &ListOrdersResponse{Orders: view.FromOrders(orders)}, nil
}

// ListOutletOrders возвращает заказы заведения.
func (s *Server) ListOutletOrders(ctx context.Context, req *ListOutletOrdersRequest) (*ListOrdersResponse, error) {
	orders, err := s.orders.ListOutletOrders(ctx, req.OutletID)
	if err != nil {
		return nil, s.toStatus(err, "ListOutletOrders")
	}
	return &ListOrdersResponse{Orders: view.FromOrders(orders)}, nil
}

// UpdateStatus меняет статус заказа.
func (s *Server) UpdateStatus(ctx context.Context, req *UpdateStatusRequest) (*OrderResponse, error) {
	status, err := domain.ParseOrderStatus(req.Status)
	if err != nil {
		return nil, s.toStatus(err, "UpdateStatus")
	}
	order, err := s.orders.UpdateStatus(ctx, req.OrderID, status)
	if err != nil {
		return nil, s.toStatus(err, "UpdateStatus")
	}
	return &OrderResponse{Order: view.FromOrder(order)}, nil
}

// UpdatePaymentStatus меняет статус оплаты.
func (s *Server) UpdatePaymentStatus(ctx context.Context, req *UpdateStatusRequest) (*OrderResponse, error) {
	status, err := domain.ParsePaymentStatus(req.Status)
	if err != nil {
		return nil, s.toStatus(err, "UpdatePaymentStatus")
	}
	order, err := s.orders.UpdatePaymentStatus(ctx, req.OrderID, status)
	if err != nil {
		return nil, s.toStatus(err, "UpdatePaymentStatus")
	}
	return &OrderResponse{Order: view.FromOrder(order)}, nil
}

func idempotencyKey(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if values := md.Get(idempotencyKeyHeader); len(values) > 0 {
		return strings.TrimSpace(values[0])
	}
	return ""
}
