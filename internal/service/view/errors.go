package view

import (
	"errors"

	"github.com/vladislavdragonenkov/foodoms/internal/domain"
)

var reasons = []struct {
	err    error
	reason string
}{
	{domain.ErrCartNotFound, "CART_NOT_FOUND"},
	{domain.ErrOrderNotFound, "ORDER_NOT_FOUND"},
	{domain.ErrFoodItemNotFound, "FOOD_ITEM_NOT_FOUND"},
	{domain.ErrOutletNotFound, "OUTLET_NOT_FOUND"},
	{domain.ErrCartEmpty, "CART_EMPTY"},
	{domain.ErrCartOutletMissing, "CART_OUTLET_MISSING"},
	{domain.ErrFoodItemUnavailable, "FOOD_ITEM_UNAVAILABLE"},
	{domain.ErrStatusTransitionDenied, "STATUS_TRANSITION_DENIED"},
	{domain.ErrCustomerRequired, "CUSTOMER_REQUIRED"},
	{domain.ErrInvalidQuantity, "INVALID_QUANTITY"},
	{domain.ErrInvalidOrderStatus, "INVALID_ORDER_STATUS"},
	{domain.ErrInvalidPaymentStatus, "INVALID_PAYMENT_STATUS"},
	{domain.ErrInvalidPaymentMethod, "INVALID_PAYMENT_METHOD"},
	{domain.ErrOrderVersionConflict, "VERSION_CONFLICT"},
	{domain.ErrIdempotencyHashMismatch, "IDEMPOTENCY_KEY_REUSED"},
}

// Ошибки разбора входных данных, в отличие от нарушений правил в текущем состоянии.
var validation = []error{
	domain.ErrCustomerRequired,
	domain.ErrInvalidQuantity,
	domain.ErrInvalidOrderStatus,
	domain.ErrInvalidPaymentStatus,
	domain.ErrInvalidPaymentMethod,
}

// ErrorReason возвращает машинно-читаемый код известной ошибки или пустую строку.
func ErrorReason(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return ""
}

// IsValidation сообщает, что ошибка вызвана некорректным входом.
func IsValidation(err error) bool {
	for _, target := range validation {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
