package postgres

import (
	"fmt"
	"sync"
	"testing"

	"github.com/foodalley/orders/internal/domain"
)

func testOrder(storeID string) domain.Order {
	return domain.Order{
		StoreID: storeID,
		UserID:  "user-1",
		Status:  domain.OrderStatusOrdered,
		Items: []domain.OrderItem{
			{
				Name:  "참치김밥",
				Price: 3500,
				Qty:   2,
				Options: []domain.OptionSelection{
					{Group: "추가", Name: "치즈 추가", Price: 500},
				},
			},
		},
		TotalPrice: 8000,
	}
}

func TestOrderRepository_SubmitAssignsNumbers(t *testing.T) {
	store := testStore(t)
	repo := NewOrderRepository(store)

	first, err := repo.Submit("20250101", testOrder("store-1"))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if first.Number != "20250101-000001" {
		t.Fatalf("expected 20250101-000001, got %s", first.Number)
	}
	if first.Seq != 1 {
		t.Fatalf("expected seq 1, got %d", first.Seq)
	}

	second, err := repo.Submit("20250101", testOrder("store-1"))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if second.Number != "20250101-000002" {
		t.Fatalf("expected 20250101-000002, got %s", second.Number)
	}

	stored, err := repo.Get("store-1", second.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.Number != second.Number {
		t.Fatalf("stored number %s does not match %s", stored.Number, second.Number)
	}
	if len(stored.Items) != 1 || len(stored.Items[0].Options) != 1 {
		t.Fatalf("items were not persisted: %+v", stored.Items)
	}
}

func TestOrderRepository_DayRolloverResetsSeq(t *testing.T) {
	store := testStore(t)
	repo := NewOrderRepository(store)

	for i := 0; i < 3; i++ {
		if _, err := repo.Submit("20250101", testOrder("store-1")); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}

	next, err := repo.Submit("20250102", testOrder("store-1"))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if next.Number != "20250102-000001" {
		t.Fatalf("expected reset to 20250102-000001, got %s", next.Number)
	}

	counter, err := repo.Counter("store-1")
	if err != nil {
		t.Fatalf("counter failed: %v", err)
	}
	if counter.Day != "20250102" || counter.Seq != 1 {
		t.Fatalf("counter must be overwritten on rollover: %+v", counter)
	}
}

func TestOrderRepository_StoresAreIndependent(t *testing.T) {
	store := testStore(t)
	repo := NewOrderRepository(store)

	if _, err := repo.Submit("20250101", testOrder("store-1")); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	other, err := repo.Submit("20250101", testOrder("store-2"))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if other.Seq != 1 {
		t.Fatalf("second store must start from seq 1, got %d", other.Seq)
	}
}

func TestOrderRepository_ConcurrentSubmitsAreGapless(t *testing.T) {
	store := testStore(t)
	repo := NewOrderRepository(store)

	const workers = 20
	var wg sync.WaitGroup
	results := make(chan domain.Order, workers)
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			order, err := repo.Submit("20250101", testOrder("store-1"))
			if err != nil {
				errs <- err
				return
			}
			results <- order
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent submit failed: %v", err)
	}

	seen := make(map[int64]bool, workers)
	for order := range results {
		if seen[order.Seq] {
			t.Fatalf("duplicate seq %d", order.Seq)
		}
		seen[order.Seq] = true
	}
	for seq := int64(1); seq <= workers; seq++ {
		if !seen[seq] {
			t.Fatalf("missing seq %d, sequence has a gap", seq)
		}
	}
}

func TestOrderRepository_UpdateStatus(t *testing.T) {
	store := testStore(t)
	repo := NewOrderRepository(store)

	order, err := repo.Submit("20250101", testOrder("store-1"))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	updated, err := repo.UpdateStatus("store-1", order.ID, domain.OrderStatusReceived, order.Version)
	if err != nil {
		t.Fatalf("update status failed: %v", err)
	}
	if updated.Status != domain.OrderStatusReceived {
		t.Fatalf("expected received, got %s", updated.Status)
	}
	if updated.Version != order.Version+1 {
		t.Fatalf("expected version bump, got %d", updated.Version)
	}

	if _, err := repo.UpdateStatus("store-1", order.ID, domain.OrderStatusPreparing, order.Version); !domain.IsConflict(err) {
		t.Fatalf("stale version must return conflict, got %v", err)
	}
}

func TestOrderRepository_Lists(t *testing.T) {
	store := testStore(t)
	repo := NewOrderRepository(store)

	for i := 0; i < 3; i++ {
		order := testOrder("store-1")
		order.UserID = fmt.Sprintf("user-%d", i%2)
		if _, err := repo.Submit("20250101", order); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}

	byStore, err := repo.ListByStore("store-1", 10)
	if err != nil {
		t.Fatalf("list by store failed: %v", err)
	}
	if len(byStore) != 3 {
		t.Fatalf("expected 3 orders, got %d", len(byStore))
	}

	byUser, err := repo.ListByUser("user-0", 10)
	if err != nil {
		t.Fatalf("list by user failed: %v", err)
	}
	if len(byUser) != 2 {
		t.Fatalf("expected 2 orders for user-0, got %d", len(byUser))
	}
}

func TestOrderRepository_GetMissing(t *testing.T) {
	store := testStore(t)
	repo := NewOrderRepository(store)

	if _, err := repo.Get("store-1", "missing"); err != domain.ErrOrderNotFound {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}
