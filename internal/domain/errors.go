package domain

import "errors"

// Категории ошибок. Конкретные ошибки ниже сопоставляются с ними через errors.Is.
var (
	// ErrNotFound — запрошенная сущность отсутствует.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState — операция нарушает бизнес-правило или недопустима в текущем состоянии.
	ErrInvalidState = errors.New("invalid state")
)

// kindError — ошибка с собственным текстом, относящаяся к одной из категорий.
type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Is(target error) bool { return target == e.kind }

func notFound(msg string) error     { return &kindError{kind: ErrNotFound, msg: msg} }
func invalidState(msg string) error { return &kindError{kind: ErrInvalidState, msg: msg} }

var (
	// ErrCartNotFound возвращается, если у клиента ещё нет корзины.
	ErrCartNotFound = notFound("cart not found")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = notFound("order not found")
	// ErrFoodItemNotFound — блюдо отсутствует в каталоге.
	ErrFoodItemNotFound = notFound("food item not found")
	// ErrOutletNotFound — заведение отсутствует в каталоге.
	ErrOutletNotFound = notFound("outlet not found")

	// ErrCartEmpty — попытка оформить заказ из пустой корзины.
	ErrCartEmpty = invalidState("cart is empty")
	// ErrCartOutletMissing — в непустой корзине не указано заведение.
	ErrCartOutletMissing = invalidState("cart outlet information is missing, please re-add items to cart")
	// ErrInvalidQuantity — количество должно быть больше нуля.
	ErrInvalidQuantity = invalidState("quantity must be greater than zero")
	// ErrFoodItemUnavailable — блюдо временно недоступно для заказа.
	ErrFoodItemUnavailable = invalidState("food item is not available")
	// ErrInvalidOrderStatus — неизвестное значение статуса заказа.
	ErrInvalidOrderStatus = invalidState("invalid order status")
	// ErrInvalidPaymentStatus — неизвестное значение статуса оплаты.
	ErrInvalidPaymentStatus = invalidState("invalid payment status")
	// ErrInvalidPaymentMethod — неизвестный способ оплаты.
	ErrInvalidPaymentMethod = invalidState("invalid payment method")
	// ErrStatusTransitionDenied — политика переходов запретила смену статуса.
	ErrStatusTransitionDenied = invalidState("order status transition is not allowed")
	// ErrCustomerRequired — не передан идентификатор клиента.
	ErrCustomerRequired = invalidState("customer_id is required")
	// ErrTimelineEventInvalid — событие таймлайна без заказа или типа.
	ErrTimelineEventInvalid = invalidState("timeline event requires order id and type")

	// ErrOutboxMessageNotFound — сообщение outbox с таким идентификатором не сохранено.
	ErrOutboxMessageNotFound = notFound("outbox message not found")
)

var (
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrOrderTokenConflict — сгенерированный токен уже занят другим заказом.
	ErrOrderTokenConflict = errors.New("order token conflict")
	// ErrOrderAlreadyExists — заказ с таким идентификатором уже сохранён.
	ErrOrderAlreadyExists = errors.New("order already exists")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// ErrIdempotencyKeyRequired — пустой ключ идемпотентности.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — не передан хеш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyNotFound — ключ идемпотентности не найден.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
	// ErrIdempotencyKeyAlreadyExists — ключ уже зарегистрирован другим запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — ключ переиспользован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
)

// IsNotFound проверяет, относится ли ошибка к категории «не найдено».
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalidState проверяет, относится ли ошибка к категории нарушенных бизнес-правил.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsIdempotencyConflict проверяет конфликт по ключу идемпотентности.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
