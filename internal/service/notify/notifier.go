package notify

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/foodoms/internal/domain"
	"github.com/vladislavdragonenkov/foodoms/internal/messaging/kafka"
)

// LogNotifier пишет подтверждение заказа в лог.
type LogNotifier struct {
	logger *log.Entry
}

// NewLogNotifier создаёт notifier, печатающий чек в лог.
func NewLogNotifier(logger *log.Entry) *LogNotifier {
	if logger == nil {
		logger = log.WithField("component", "log-notifier")
	}
	return &LogNotifier{logger: logger}
}

// Notify реализует domain.Notifier.
func (n *LogNotifier) Notify(_ context.Context, order domain.Order) error {
	receipt, err := RenderReceipt(order)
	if err != nil {
		return err
	}
	n.logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"customer_id": order.CustomerID,
		"token":       order.Token,
		"subject":     receipt.Subject,
	}).Info("order confirmation\n" + receipt.Text)
	return nil
}

// KafkaNotifier отдаёт чек внешнему сервису доставки через Kafka.
type KafkaNotifier struct {
	producer *kafka.Producer
	topic    string
}

// NewKafkaNotifier создаёт notifier поверх Kafka producer.
func NewKafkaNotifier(producer *kafka.Producer, topic string) *KafkaNotifier {
	if topic == "" {
		topic = kafka.TopicNotifications
	}
	return &KafkaNotifier{producer: producer, topic: topic}
}

// Notify реализует domain.Notifier.
func (n *KafkaNotifier) Notify(ctx context.Context, order domain.Order) error {
	if n == nil || n.producer == nil {
		return fmt.Errorf("kafka notifier is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	receipt, err := RenderReceipt(order)
	if err != nil {
		return err
	}

	event := kafka.NotificationEvent{
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Subject:    receipt.Subject,
		Body:       receipt.HTML,
		CreatedAt:  time.Now().UTC(),
	}
	return n.producer.PublishEvent(n.topic, order.CustomerID, event,
		kafka.Header{Key: kafka.HeaderEventType, Value: domain.EventOrderPlaced},
		kafka.Header{Key: kafka.HeaderAggregateID, Value: order.ID},
	)
}

var (
	_ domain.Notifier = (*LogNotifier)(nil)
	_ domain.Notifier = (*KafkaNotifier)(nil)
)
