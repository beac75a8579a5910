package memory

import (
	"sort"
	"sync"

	"github.com/foodalley/orders/internal/domain"
)

// storeRepositoryInMemory — in-memory каталог магазинов.
type storeRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Store
}

// NewStoreRepository возвращает in-memory реализацию StoreRepository.
func NewStoreRepository() domain.StoreRepository {
	return &storeRepositoryInMemory{items: make(map[string]domain.Store)}
}

// Create регистрирует магазин, если ID ещё не занят.
func (r *storeRepositoryInMemory) Create(store domain.Store) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[store.ID]; exists {
		return domain.ErrStoreAlreadyExists
	}
	r.items[store.ID] = store
	return nil
}

// Get возвращает карточку или ErrStoreNotFound.
func (r *storeRepositoryInMemory) Get(id string) (domain.Store, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	store, ok := r.items[id]
	if !ok {
		return domain.Store{}, domain.ErrStoreNotFound
	}
	return store, nil
}

// List возвращает магазины каталога, свежие первыми.
func (r *storeRepositoryInMemory) List(limit int) ([]domain.Store, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Store, 0, len(r.items))
	for _, store := range r.items {
		result = append(result, store)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Save перезаписывает карточку магазина.
func (r *storeRepositoryInMemory) Save(store domain.Store) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[store.ID]; !ok {
		return domain.ErrStoreNotFound
	}
	r.items[store.ID] = store
	return nil
}

var _ domain.StoreRepository = (*storeRepositoryInMemory)(nil)
