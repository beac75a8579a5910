package domain

import "time"

// OrderRepository описывает требования к хранилищу заказов.
//
// Submit — единственная операция, которой разрешено трогать счётчик
// номеров: чтение счётчика, вычисление следующего Seq и запись заказа
// происходят в одной атомарной единице с прозрачным повтором при
// конфликте. Вне Submit счётчик не читается и не пишется.
type OrderRepository interface {
	// Submit атомарно выдаёт заказу номер за день day и сохраняет его.
	// Возвращает заказ с заполненными Number и Seq. При исчерпании
	// бюджета повторов возвращает ErrOrderConflict.
	Submit(day string, order Order) (Order, error)
	// Get возвращает заказ магазина или ErrOrderNotFound.
	Get(storeID, orderID string) (Order, error)
	// ListByStore возвращает заказы магазина, свежие первыми.
	ListByStore(storeID string, limit int) ([]Order, error)
	// ListByUser возвращает заказы покупателя по всем магазинам.
	ListByUser(userID string, limit int) ([]Order, error)
	// UpdateStatus применяет смену статуса с учётом optimistic locking.
	UpdateStatus(storeID, orderID string, status OrderStatus, version int64) (Order, error)
	// Counter возвращает текущий счётчик магазина; для диагностики,
	// нумерация на него не опирается.
	Counter(storeID string) (OrderCounter, error)
}

// StoreRepository описывает каталог магазинов.
type StoreRepository interface {
	// Create регистрирует магазин; ErrStoreAlreadyExists при повторном ID.
	Create(store Store) error
	// Get возвращает карточку или ErrStoreNotFound.
	Get(id string) (Store, error)
	// List возвращает магазины каталога, свежие первыми.
	List(limit int) ([]Store, error)
	// Save перезаписывает карточку магазина.
	Save(store Store) error
}

// HistoryRepository хранит события смены статусов заказа.
type HistoryRepository interface {
	Append(event StatusEvent) error
	List(orderID string) ([]StatusEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(key string) (IdempotencyRecord, error)
	MarkDone(key string, responseBody []byte, httpStatus int) error
	MarkFailed(key string, responseBody []byte, httpStatus int) error
	DeleteExpired(before time.Time, limit int) (int, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}
