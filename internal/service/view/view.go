// Package view описывает внешнее представление корзины и заказа для транспортов.
package view

import (
	"time"

	"github.com/vladislavdragonenkov/foodoms/internal/domain"
)

// CartItem — строка корзины.
type CartItem struct {
	ID                  string   `json:"id"`
	FoodItemID          string   `json:"food_item_id"`
	FoodName            string   `json:"food_name"`
	Qty                 int32    `json:"quantity"`
	SelectedIngredients []string `json:"selected_ingredients"`
	TotalMinor          int64    `json:"total_minor"`
}

// Cart — содержимое корзины клиента.
type Cart struct {
	ID         string     `json:"id"`
	CustomerID string     `json:"customer_id"`
	OutletID   string     `json:"outlet_id,omitempty"`
	TotalMinor int64      `json:"total_minor"`
	Items      []CartItem `json:"items"`
}

// OrderItem — позиция оформленного заказа.
type OrderItem struct {
	FoodName            string   `json:"food_name"`
	Qty                 int32    `json:"quantity"`
	SelectedIngredients []string `json:"selected_ingredients"`
	TotalMinor          int64    `json:"total_minor"`
}

// Order — оформленный заказ.
type Order struct {
	ID            string      `json:"id"`
	Token         string      `json:"token"`
	CustomerID    string      `json:"customer_id"`
	OutletID      string      `json:"outlet_id"`
	OutletName    string      `json:"outlet_name"`
	Status        string      `json:"status"`
	TotalMinor    int64       `json:"total_minor"`
	PaymentMethod string      `json:"payment_method"`
	PaymentStatus string      `json:"payment_status"`
	Version       int64       `json:"version"`
	CreatedAt     time.Time   `json:"created_at"`
	Items         []OrderItem `json:"items"`
}

// TimelineEvent — запись истории заказа.
type TimelineEvent struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred_at"`
}

// FromCart строит представление корзины.
func FromCart(cart domain.Cart) Cart {
	items := make([]CartItem, 0, len(cart.Items))
	for _, line := range cart.Items {
		items = append(items, CartItem{
			ID:                  line.ID,
			FoodItemID:          line.FoodItemID,
			FoodName:            line.FoodName,
			Qty:                 line.Qty,
			SelectedIngredients: ingredients(line.SelectedIngredients),
			TotalMinor:          line.TotalMinor,
		})
	}
	return Cart{
		ID:         cart.ID,
		CustomerID: cart.CustomerID,
		OutletID:   cart.OutletID,
		TotalMinor: cart.TotalMinor,
		Items:      items,
	}
}

// FromOrder строит представление заказа.
func FromOrder(order domain.Order) Order {
	items := make([]OrderItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, OrderItem{
			FoodName:            item.FoodName,
			Qty:                 item.Qty,
			SelectedIngredients: ingredients(item.SelectedIngredients),
			TotalMinor:          item.TotalMinor,
		})
	}
	return Order{
		ID:            order.ID,
		Token:         order.Token,
		CustomerID:    order.CustomerID,
		OutletID:      order.OutletID,
		OutletName:    order.OutletName,
		Status:        string(order.Status),
		TotalMinor:    order.TotalMinor,
		PaymentMethod: string(order.PaymentMethod),
		PaymentStatus: string(order.PaymentStatus),
		Version:       order.Version,
		CreatedAt:     order.CreatedAt,
		Items:         items,
	}
}

// FromOrders строит список представлений, сохраняя порядок.
func FromOrders(orders []domain.Order) []Order {
	result := make([]Order, 0, len(orders))
	for _, order := range orders {
		result = append(result, FromOrder(order))
	}
	return result
}

// FromTimeline строит представление истории заказа.
func FromTimeline(events []domain.TimelineEvent) []TimelineEvent {
	result := make([]TimelineEvent, 0, len(events))
	for _, ev := range events {
		result = append(result, TimelineEvent{Type: ev.Type, Reason: ev.Reason, Occurred: ev.Occurred})
	}
	return result
}

func ingredients(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
