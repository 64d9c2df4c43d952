package kafka

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/vladislavdragonenkov/foodoms/internal/domain"
)

var errPublisherNotReady = errors.New("kafka outbox publisher is not initialized")

// OutboxTopicPublisher выгружает сообщения outbox в один topic.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
}

// NewOutboxPublisher создаёт паблишер для topic; пустой topic означает TopicOrderEvents.
func NewOutboxPublisher(producer *Producer, topic string) domain.OutboxPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{producer: producer, topic: topic}
}

// outboxEnvelope — формат сообщения в topic событий заказов и в DLQ.
type outboxEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

func envelopeOf(msg domain.OutboxMessage, at time.Time) outboxEnvelope {
	payload := json.RawMessage(msg.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return outboxEnvelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       payload,
		PublishedAt:   at.UTC(),
	}
}

// partitionKey держит события одного заказа в одной партиции.
func partitionKey(msg domain.OutboxMessage) string {
	if msg.AggregateID != "" {
		return msg.AggregateID
	}
	return msg.ID
}

// Publish отправляет конверт с заголовками типа события, заказа и id сообщения.
// По x-message-id потребитель отбрасывает повторы при повторной доставке.
func (p *OutboxTopicPublisher) Publish(msg domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errPublisherNotReady
	}

	return p.producer.PublishEvent(p.topic, partitionKey(msg), envelopeOf(msg, p.producer.now()),
		Header{Key: HeaderEventType, Value: msg.EventType},
		Header{Key: HeaderAggregateID, Value: msg.AggregateID},
		Header{Key: HeaderMessageID, Value: msg.ID},
	)
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
