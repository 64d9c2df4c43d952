package domain

import "strings"

// PaymentStatus описывает состояние оплаты заказа. Сервис только хранит значение.
type PaymentStatus string

const (
	// PaymentStatusPending — оплата ещё не подтверждена.
	PaymentStatusPending PaymentStatus = "PENDING"
	// PaymentStatusPaid — деньги получены.
	PaymentStatusPaid PaymentStatus = "PAID"
	// PaymentStatusFailed — оплата не прошла.
	PaymentStatusFailed PaymentStatus = "FAILED"
	// PaymentStatusRefunded — деньги возвращены клиенту.
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)

// PaymentMethod — способ оплаты, выбранный клиентом.
type PaymentMethod string

const (
	PaymentMethodUPI  PaymentMethod = "UPI"
	PaymentMethodCard PaymentMethod = "CARD"
	PaymentMethodCash PaymentMethod = "CASH"
)

// DefaultPaymentMethod используется, если клиент не указал способ оплаты.
const DefaultPaymentMethod = PaymentMethodUPI

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	default:
		return false
	}
}

// Valid проверяет, что способ оплаты поддерживается.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodUPI, PaymentMethodCard, PaymentMethodCash:
		return true
	default:
		return false
	}
}

// ParsePaymentStatus разбирает строку без учёта регистра.
func ParsePaymentStatus(raw string) (PaymentStatus, error) {
	s := PaymentStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", ErrInvalidPaymentStatus
	}
	return s, nil
}

// ParsePaymentMethod разбирает строку без учёта регистра. Пустая строка даёт пустой способ.
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	m := PaymentMethod(strings.ToUpper(raw))
	if !m.Valid() {
		return "", ErrInvalidPaymentMethod
	}
	return m, nil
}
