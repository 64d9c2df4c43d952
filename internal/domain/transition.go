package domain

import "fmt"

// TransitionPolicy решает, допустима ли смена статуса заказа.
type TransitionPolicy interface {
	Allow(from, to OrderStatus) error
}

// PermissivePolicy разрешает любой переход между известными статусами.
type PermissivePolicy struct{}

// Allow реализует TransitionPolicy.
func (PermissivePolicy) Allow(_, to OrderStatus) error {
	if !to.Valid() {
		return ErrInvalidOrderStatus
	}
	return nil
}

var forwardOrder = map[OrderStatus]int{
	OrderStatusPending:   0,
	OrderStatusPlaced:    1,
	OrderStatusPreparing: 2,
	OrderStatusReady:     3,
	OrderStatusDelivered: 4,
}

// ForwardOnlyPolicy разрешает движение только вперёд по жизненному циклу
// и отмену из любого незавершённого статуса.
type ForwardOnlyPolicy struct{}

// Allow реализует TransitionPolicy.
func (ForwardOnlyPolicy) Allow(from, to OrderStatus) error {
	if !to.Valid() {
		return ErrInvalidOrderStatus
	}
	if from.Terminal() {
		return fmt.Errorf("%w: %s is final", ErrStatusTransitionDenied, from)
	}
	if to == OrderStatusCancelled {
		return nil
	}
	if forwardOrder[to] <= forwardOrder[from] {
		return fmt.Errorf("%w: %s -> %s", ErrStatusTransitionDenied, from, to)
	}
	return nil
}

// PolicyByName возвращает политику по имени из конфигурации.
func PolicyByName(name string) (TransitionPolicy, error) {
	switch name {
	case "", "permissive":
		return PermissivePolicy{}, nil
	case "forward-only":
		return ForwardOnlyPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown status policy %q", name)
	}
}
