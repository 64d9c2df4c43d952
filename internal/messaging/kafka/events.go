package kafka

import (
	"time"

	"github.com/vladislavdragonenkov/foodoms/internal/domain"
)

// Topics для Kafka.
const (
	TopicOrderEvents   = "foodoms.order.events"
	TopicNotifications = "foodoms.order.notifications"
	TopicDeadLetter    = "foodoms.order.events.dlq"
)

// Заголовки сообщений.
const (
	HeaderEventType   = "x-event-type"
	HeaderAggregateID = "x-aggregate-id"
	HeaderMessageID   = "x-message-id"
)

// OrderLine — позиция заказа в теле события.
type OrderLine struct {
	FoodItemID          string   `json:"food_item_id"`
	FoodName            string   `json:"food_name"`
	Qty                 int32    `json:"qty"`
	SelectedIngredients []string `json:"selected_ingredients"`
	TotalMinor          int64    `json:"total_minor"`
}

// OrderPlacedEvent публикуется после оформления заказа.
type OrderPlacedEvent struct {
	OrderID       string      `json:"order_id"`
	Token         string      `json:"token"`
	CustomerID    string      `json:"customer_id"`
	OutletID      string      `json:"outlet_id"`
	OutletName    string      `json:"outlet_name"`
	Items         []OrderLine `json:"items"`
	TotalMinor    int64       `json:"total_minor"`
	PaymentMethod string      `json:"payment_method"`
	PlacedAt      time.Time   `json:"placed_at"`
}

// StatusChangedEvent публикуется при смене статуса заказа или статуса оплаты.
type StatusChangedEvent struct {
	OrderID    string    `json:"order_id"`
	Token      string    `json:"token"`
	CustomerID string    `json:"customer_id"`
	OutletID   string    `json:"outlet_id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	ChangedAt  time.Time `json:"changed_at"`
}

// NotificationEvent — подтверждение заказа для внешнего сервиса доставки сообщений.
type NotificationEvent struct {
	OrderID    string    `json:"order_id"`
	CustomerID string    `json:"customer_id"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewOrderPlacedEvent строит событие из оформленного заказа.
func NewOrderPlacedEvent(order domain.Order) OrderPlacedEvent {
	lines := make([]OrderLine, 0, len(order.Items))
	for _, item := range order.Items {
		ingredients := item.SelectedIngredients
		if ingredients == nil {
			ingredients = []string{}
		}
		lines = append(lines, OrderLine{
			FoodItemID:          item.FoodItemID,
			FoodName:            item.FoodName,
			Qty:                 item.Qty,
			SelectedIngredients: ingredients,
			TotalMinor:          item.TotalMinor,
		})
	}
	return OrderPlacedEvent{
		OrderID:       order.ID,
		Token:         order.Token,
		CustomerID:    order.CustomerID,
		OutletID:      order.OutletID,
		OutletName:    order.OutletName,
		Items:         lines,
		TotalMinor:    order.TotalMinor,
		PaymentMethod: string(order.PaymentMethod),
		PlacedAt:      order.CreatedAt,
	}
}

// NewStatusChangedEvent строит событие смены статуса.
func NewStatusChangedEvent(order domain.Order, from, to string) StatusChangedEvent {
	return StatusChangedEvent{
		OrderID:    order.ID,
		Token:      order.Token,
		CustomerID: order.CustomerID,
		OutletID:   order.OutletID,
		From:       from,
		To:         to,
		ChangedAt:  order.UpdatedAt,
	}
}
