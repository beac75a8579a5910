package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/foodalley/orders/internal/domain"
)

// storeShard держит счётчик номеров и заказы одного магазина за одним
// мьютексом: оформление сериализуется в пределах магазина, разные
// магазины друг с другом не конкурируют.
type storeShard struct {
	mu      sync.Mutex
	counter domain.OrderCounter
	orders  map[string]domain.Order
}

// orderRepositoryInMemory — in-memory реализация OrderRepository для
// локальной разработки и тестов.
type orderRepositoryInMemory struct {
	mu     sync.RWMutex
	shards map[string]*storeShard
}

// NewOrderRepository возвращает in-memory репозиторий заказов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{shards: make(map[string]*storeShard)}
}

func (r *orderRepositoryInMemory) shard(storeID string) *storeShard {
	r.mu.RLock()
	shard, ok := r.shards[storeID]
	r.mu.RUnlock()
	if ok {
		return shard
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if shard, ok = r.shards[storeID]; ok {
		return shard
	}
	shard = &storeShard{
		counter: domain.OrderCounter{StoreID: storeID},
		orders:  make(map[string]domain.Order),
	}
	r.shards[storeID] = shard
	return shard
}

// Submit выдаёт следующий номер за день day и сохраняет заказ в одной
// критической секции шарда: ни продвинутый счётчик без заказа, ни заказ
// без продвинутого счётчика снаружи не наблюдаемы.
func (r *orderRepositoryInMemory) Submit(day string, order domain.Order) (domain.Order, error) {
	shard := r.shard(order.StoreID)

	// Работаем с собственной копией: выданные идентификаторы и метки
	// времени не должны протекать в слайс вызывающего.
	order = cloneOrder(order)
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = order.CreatedAt
	}
	for i := range order.Items {
		if order.Items[i].ID == "" {
			order.Items[i].ID = uuid.NewString()
		}
		if order.Items[i].CreatedAt.IsZero() {
			order.Items[i].CreatedAt = order.CreatedAt
		}
	}

	shard.mu.Lock()
	defer shard.mu.Unlock()

	next := shard.counter.Next(day)
	order.Seq = next.Seq
	order.Number = domain.FormatOrderNumber(day, next.Seq)

	// Счётчик и заказ меняются вместе; перезапись счётчика целиком
	// гарантирует сброс последовательности при смене дня.
	shard.counter = next
	shard.orders[order.ID] = cloneOrder(order)

	return cloneOrder(order), nil
}

// Get возвращает заказ магазина или ErrOrderNotFound.
func (r *orderRepositoryInMemory) Get(storeID, orderID string) (domain.Order, error) {
	shard := r.shard(storeID)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	order, ok := shard.orders[orderID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// ListByStore возвращает заказы магазина, свежие первыми.
func (r *orderRepositoryInMemory) ListByStore(storeID string, limit int) ([]domain.Order, error) {
	shard := r.shard(storeID)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	result := make([]domain.Order, 0, len(shard.orders))
	for _, order := range shard.orders {
		result = append(result, cloneOrder(order))
	}
	sortOrders(result)
	return truncateOrders(result, limit), nil
}

// ListByUser собирает заказы покупателя по всем шардам.
func (r *orderRepositoryInMemory) ListByUser(userID string, limit int) ([]domain.Order, error) {
	r.mu.RLock()
	shards := make([]*storeShard, 0, len(r.shards))
	for _, shard := range r.shards {
		shards = append(shards, shard)
	}
	r.mu.RUnlock()

	result := make([]domain.Order, 0)
	for _, shard := range shards {
		shard.mu.Lock()
		for _, order := range shard.orders {
			if order.UserID == userID {
				result = append(result, cloneOrder(order))
			}
		}
		shard.mu.Unlock()
	}
	sortOrders(result)
	return truncateOrders(result, limit), nil
}

// UpdateStatus применяет смену статуса с проверкой версии.
func (r *orderRepositoryInMemory) UpdateStatus(storeID, orderID string, status domain.OrderStatus, version int64) (domain.Order, error) {
	shard := r.shard(storeID)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	order, ok := shard.orders[orderID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if order.Version != version {
		return domain.Order{}, domain.ErrOrderConflict
	}

	order.Status = status
	order.Version++
	order.UpdatedAt = time.Now().UTC()
	shard.orders[orderID] = order

	return cloneOrder(order), nil
}

// Counter возвращает текущий счётчик магазина.
func (r *orderRepositoryInMemory) Counter(storeID string) (domain.OrderCounter, error) {
	shard := r.shard(storeID)

	shard.mu.Lock()
	defer shard.mu.Unlock()
	return shard.counter, nil
}

func sortOrders(orders []domain.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.After(orders[j].CreatedAt)
		}
		return orders[i].Number > orders[j].Number
	})
}

func truncateOrders(orders []domain.Order, limit int) []domain.Order {
	if limit > 0 && len(orders) > limit {
		return orders[:limit]
	}
	return orders
}

// cloneOrder копирует заказ вместе с позициями, чтобы избежать
// непредсказуемых мутаций извне.
func cloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.Items = make([]domain.OrderItem, len(src.Items))
	for i, item := range src.Items {
		clone := item
		clone.Options = append([]domain.OptionSelection(nil), item.Options...)
		dst.Items[i] = clone
	}
	return dst
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
