package domain

import (
	"strings"
	"time"
)

// Типы событий таймлайна заказа.
const (
	TimelineOrderPlaced          = "OrderPlaced"
	TimelineStatusChanged        = "OrderStatusChanged"
	TimelinePaymentStatusChanged = "PaymentStatusChanged"
)

// TimelineEvent — запись в истории заказа. Reason хранит новое значение статуса.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}

// Normalize проверяет обязательные поля и проставляет время, если оно не задано.
func (e TimelineEvent) Normalize(now time.Time) (TimelineEvent, error) {
	e.OrderID = strings.TrimSpace(e.OrderID)
	if e.OrderID == "" || e.Type == "" {
		return TimelineEvent{}, ErrTimelineEventInvalid
	}
	if e.Occurred.IsZero() {
		e.Occurred = now
	}
	e.Occurred = e.Occurred.UTC()
	return e, nil
}
