package kafka

import "time"

// EventType определяет тип доменного события заказа.
type EventType string

const (
	// EventTypeOrderCreated публикуется после успешного оформления заказа.
	EventTypeOrderCreated EventType = "order.created"
	// EventTypeOrderStatusChanged публикуется при каждой смене статуса.
	EventTypeOrderStatusChanged EventType = "order.status_changed"
	// EventTypeOrderCanceled публикуется при отмене заказа.
	EventTypeOrderCanceled EventType = "order.canceled"
)

// Topics для Kafka.
const (
	TopicOrderEvents     = "foodalley.order.events"
	TopicDeadLetterQueue = "foodalley.order.dlq"
)

// Kafka headers для retry логики.
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// OrderEvent представляет событие жизненного цикла заказа.
type OrderEvent struct {
	EventType   EventType `json:"event_type"`
	OrderID     string    `json:"order_id"`
	StoreID     string    `json:"store_id"`
	UserID      string    `json:"user_id"`
	OrderNumber string    `json:"order_number"`
	Status      string    `json:"status"`
	TotalPrice  int64     `json:"total_price,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewOrderEvent создаёт событие заказа с текущим временем.
func NewOrderEvent(eventType EventType, orderID, storeID, userID, orderNumber, status string) *OrderEvent {
	return &OrderEvent{
		EventType:   eventType,
		OrderID:     orderID,
		StoreID:     storeID,
		UserID:      userID,
		OrderNumber: orderNumber,
		Status:      status,
		Timestamp:   time.Now().UTC(),
	}
}
