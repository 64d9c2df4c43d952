package grpcsvc

import "github.com/vladislavdragonenkov/foodoms/internal/service/view"

// AddItemRequest добавляет блюдо в корзину клиента.
type AddItemRequest struct {
	CustomerID          string   `json:"customer_id"`
	FoodItemID          string   `json:"food_item_id"`
	Qty                 int32    `json:"quantity"`
	SelectedIngredients []string `json:"selected_ingredients,omitempty"`
}

// RemoveItemRequest удаляет строку корзины.
type RemoveItemRequest struct {
	CustomerID string `json:"customer_id"`
	ItemID     string `json:"item_id"`
}

// CartRequest адресует корзину клиента.
type CartRequest struct {
	CustomerID string `json:"customer_id"`
}

// CartResponse возвращает текущую корзину.
type CartResponse struct {
	Cart view.Cart `json:"cart"`
}

// PlaceOrderRequest оформляет заказ из корзины.
type PlaceOrderRequest struct {
	CustomerID    string `json:"customer_id"`
	PaymentMethod string `json:"payment_method,omitempty"`
}

// OrderRequest адресует заказ по идентификатору.
type OrderRequest struct {
	OrderID string `json:"order_id"`
}

// TrackOrderRequest ищет заказ по токену.
type TrackOrderRequest struct {
	Token string `json:"token"`
}

// OrderResponse возвращает заказ.
type OrderResponse struct {
	Order view.Order `json:"order"`
}

// GetOrderResponse возвращает заказ и его историю.
type GetOrderResponse struct {
	Order    view.Order           `json:"order"`
	Timeline []view.TimelineEvent `json:"timeline"`
}

// ListCustomerOrdersRequest запрашивает заказы клиента.
type ListCustomerOrdersRequest struct {
	CustomerID string `json:"customer_id"`
}

// ListOutletOrdersRequest запрашивает заказы заведения.
type ListOutletOrdersRequest struct {
	OutletID string `json:"outlet_id"`
}

// ListOrdersResponse возвращает заказы, новые первыми.
type ListOrdersResponse struct {
	Orders []view.Order `json:"orders"`
}

// UpdateStatusRequest меняет статус заказа или оплаты.
type UpdateStatusRequest struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}
