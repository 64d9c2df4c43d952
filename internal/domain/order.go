package domain

import (
	"errors"
	"strings"
	"time"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан внешней системой, но ещё не принят.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusPlaced — начальный статус заказа, оформленного из корзины.
	OrderStatusPlaced OrderStatus = "PLACED"
	// OrderStatusPreparing — заведение готовит заказ.
	OrderStatusPreparing OrderStatus = "PREPARING"
	// OrderStatusReady — заказ готов к выдаче.
	OrderStatusReady OrderStatus = "READY"
	// OrderStatusDelivered — заказ передан клиенту.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusCancelled — заказ отменён.
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// Ошибки нарушения инвариантов заказа.
var (
	ErrOrderItemsRequired = errors.New("order must contain at least one item")
	ErrOrderOutletMissing = errors.New("order outlet is required")
	ErrOrderTokenRequired = errors.New("order token is required")
	ErrAmountMismatch     = errors.New("order amount does not match items sum")
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPlaced, OrderStatusPreparing,
		OrderStatusReady, OrderStatusDelivered, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal сообщает, что из статуса нет дальнейшего движения в прямом порядке.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// ParseOrderStatus разбирает строку без учёта регистра.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	s := OrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", ErrInvalidOrderStatus
	}
	return s, nil
}

// OrderItem — неизменяемый снимок строки корзины на момент оформления.
type OrderItem struct {
	ID                  string
	FoodItemID          string
	FoodName            string
	Qty                 int32
	SelectedIngredients []string
	TotalMinor          int64
	CreatedAt           time.Time
}

// Order — оформленный заказ. После создания меняются только статусы.
type Order struct {
	ID            string
	CustomerID    string
	OutletID      string
	OutletName    string
	Token         string
	Items         []OrderItem
	TotalMinor    int64
	Status        OrderStatus
	PaymentMethod PaymentMethod
	PaymentStatus PaymentStatus
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// OrderDraft содержит параметры, не выводимые из корзины.
type OrderDraft struct {
	ID            string
	Token         string
	OutletName    string
	PaymentMethod PaymentMethod
	// ItemID генерирует идентификаторы позиций заказа.
	ItemID func() string
	Now    time.Time
}

// NewOrderFromCart снимает копию корзины в новый заказ.
// Списки ингредиентов копируются, поэтому последующие изменения корзины на заказ не влияют.
func NewOrderFromCart(cart Cart, draft OrderDraft) (Order, error) {
	if cart.IsEmpty() {
		return Order{}, ErrCartEmpty
	}
	if cart.OutletID == "" {
		return Order{}, ErrCartOutletMissing
	}

	method := draft.PaymentMethod
	if method == "" {
		method = DefaultPaymentMethod
	}

	items := make([]OrderItem, 0, len(cart.Items))
	for _, line := range cart.Items {
		items = append(items, OrderItem{
			ID:                  draft.ItemID(),
			FoodItemID:          line.FoodItemID,
			FoodName:            line.FoodName,
			Qty:                 line.Qty,
			SelectedIngredients: copyStrings(line.SelectedIngredients),
			TotalMinor:          line.TotalMinor,
			CreatedAt:           draft.Now,
		})
	}

	return Order{
		ID:            draft.ID,
		CustomerID:    cart.CustomerID,
		OutletID:      cart.OutletID,
		OutletName:    draft.OutletName,
		Token:         draft.Token,
		Items:         items,
		TotalMinor:    cart.TotalMinor,
		Status:        OrderStatusPlaced,
		PaymentMethod: method,
		PaymentStatus: PaymentStatusPending,
		CreatedAt:     draft.Now,
		UpdatedAt:     draft.Now,
	}, nil
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if o.OutletID == "" {
		errs = append(errs, ErrOrderOutletMissing)
	}
	if o.Token == "" {
		errs = append(errs, ErrOrderTokenRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrOrderItemsRequired)
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrInvalidOrderStatus)
	}

	var calc int64
	for _, item := range o.Items {
		if item.Qty <= 0 {
			errs = append(errs, ErrInvalidQuantity)
		}
		calc += item.TotalMinor
	}
	if calc != o.TotalMinor {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}

// Clone возвращает независимую копию заказа.
func (o Order) Clone() Order {
	out := o
	if o.Items != nil {
		out.Items = make([]OrderItem, len(o.Items))
		for i, item := range o.Items {
			item.SelectedIngredients = copyStrings(item.SelectedIngredients)
			out.Items[i] = item
		}
	}
	return out
}
