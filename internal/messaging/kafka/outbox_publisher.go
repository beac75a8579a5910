package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/foodalley/orders/internal/domain"
)

// eventEnvelope — формат, в котором события заказов уходят подписчикам:
// payload остаётся непрозрачным, метаданные агрегата вынесены наружу,
// чтобы консьюмер мог маршрутизировать событие не разбирая тело.
type eventEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// OutboxTopicPublisher отправляет сообщения transactional outbox в
// заданный topic.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
}

// NewOutboxPublisher создаёт паблишер outbox поверх Kafka-продюсера.
// Пустой topic означает основной topic событий заказов.
func NewOutboxPublisher(producer *Producer, topic string) domain.OutboxPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{producer: producer, topic: topic}
}

// Publish заворачивает сообщение в конверт и шлёт его в Kafka. Ключ
// партиционирования — id заказа: все события одного заказа попадают в
// одну партицию и читаются в порядке смены статусов.
func (p *OutboxTopicPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	return p.producer.PublishEvent(p.topic, key, eventEnvelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       json.RawMessage(event.Payload),
		PublishedAt:   time.Now().UTC(),
	})
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
