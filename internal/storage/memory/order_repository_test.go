package memory_test

import (
	"sync"
	"testing"
	"time"

	"github.com/foodalley/orders/internal/domain"
	"github.com/foodalley/orders/internal/storage/memory"
)

func newOrder(storeID, userID string) domain.Order {
	now := time.Now().UTC()
	return domain.Order{
		StoreID: storeID,
		UserID:  userID,
		Status:  domain.OrderStatusOrdered,
		Items: []domain.OrderItem{
			{ID: "item-1", Name: "bibimbap", Price: 9000, Qty: 1, CreatedAt: now},
		},
		TotalPrice: 9000,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestOrderRepository_SubmitFirstOrderOfDay(t *testing.T) {
	repo := memory.NewOrderRepository()

	order, err := repo.Submit("20250101", newOrder("store-x", "user-1"))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	if order.Number != "20250101-000001" {
		t.Fatalf("expected number 20250101-000001, got %s", order.Number)
	}
	if order.Seq != 1 {
		t.Fatalf("expected seq 1, got %d", order.Seq)
	}
	if order.ID == "" {
		t.Fatal("expected generated order id")
	}
}

func TestOrderRepository_SubmitFillsIdentifiersAndTimestamps(t *testing.T) {
	repo := memory.NewOrderRepository()

	bare := domain.Order{
		StoreID: "store-x",
		UserID:  "user-1",
		Status:  domain.OrderStatusOrdered,
		Items: []domain.OrderItem{
			{Name: "bibimbap", Price: 9000, Qty: 1},
			{Name: "kimchi", Price: 2000, Qty: 1},
		},
		TotalPrice: 11000,
	}

	order, err := repo.Submit("20250101", bare)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if order.CreatedAt.IsZero() || order.UpdatedAt.IsZero() {
		t.Fatalf("expected repository to stamp timestamps, got %+v", order)
	}
	seen := make(map[string]bool)
	for _, item := range order.Items {
		if item.ID == "" {
			t.Fatal("expected generated item id")
		}
		if seen[item.ID] {
			t.Fatalf("duplicate item id %s", item.ID)
		}
		seen[item.ID] = true
		if item.CreatedAt.IsZero() {
			t.Fatal("expected item timestamp")
		}
	}

	// Слайс вызывающего не мутируется.
	if bare.Items[0].ID != "" || !bare.Items[0].CreatedAt.IsZero() {
		t.Fatalf("caller items must stay untouched: %+v", bare.Items[0])
	}
}

func TestOrderRepository_SubmitContinuesSequence(t *testing.T) {
	repo := memory.NewOrderRepository()

	for i := 1; i <= 5; i++ {
		if _, err := repo.Submit("20250101", newOrder("store-x", "user-1")); err != nil {
			t.Fatalf("submit %d failed: %v", i, err)
		}
	}

	order, err := repo.Submit("20250101", newOrder("store-x", "user-2"))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if order.Number != "20250101-000006" {
		t.Fatalf("expected number 20250101-000006, got %s", order.Number)
	}
}

func TestOrderRepository_SubmitDayRollover(t *testing.T) {
	repo := memory.NewOrderRepository()

	for i := 0; i < 5; i++ {
		if _, err := repo.Submit("20250101", newOrder("store-x", "user-1")); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}

	order, err := repo.Submit("20250102", newOrder("store-x", "user-1"))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if order.Seq != 1 {
		t.Fatalf("expected seq reset to 1 after rollover, got %d", order.Seq)
	}
	if order.Number != "20250102-000001" {
		t.Fatalf("expected number 20250102-000001, got %s", order.Number)
	}

	counter, err := repo.Counter("store-x")
	if err != nil {
		t.Fatalf("counter failed: %v", err)
	}
	if counter.Day != "20250102" || counter.Seq != 1 {
		t.Fatalf("expected counter {20250102 1}, got {%s %d}", counter.Day, counter.Seq)
	}
}

func TestOrderRepository_SubmitConcurrentGapless(t *testing.T) {
	repo := memory.NewOrderRepository()
	const n = 50

	var wg sync.WaitGroup
	results := make(chan domain.Order, n)
	errs := make(chan error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			order, err := repo.Submit("20250101", newOrder("store-x", "user-1"))
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

	seen := make(map[int64]bool, n)
	for order := range results {
		if !domain.ValidOrderNumber(order.Number) {
			t.Fatalf("malformed number %s", order.Number)
		}
		if seen[order.Seq] {
			t.Fatalf("duplicate seq %d", order.Seq)
		}
		seen[order.Seq] = true
	}

	// Множество номеров обязано быть ровно {1..n} без пропусков.
	for seq := int64(1); seq <= n; seq++ {
		if !seen[seq] {
			t.Fatalf("missing seq %d", seq)
		}
	}
}

func TestOrderRepository_StoresAreIndependent(t *testing.T) {
	repo := memory.NewOrderRepository()

	if _, err := repo.Submit("20250101", newOrder("store-a", "user-1")); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	order, err := repo.Submit("20250101", newOrder("store-b", "user-1"))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	if order.Seq != 1 {
		t.Fatalf("expected independent counter for store-b, got seq %d", order.Seq)
	}
}

func TestOrderRepository_GetAndLists(t *testing.T) {
	repo := memory.NewOrderRepository()

	created, err := repo.Submit("20250101", newOrder("store-x", "user-1"))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	stored, err := repo.Get("store-x", created.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.Number != created.Number {
		t.Fatalf("expected number %s, got %s", created.Number, stored.Number)
	}

	if _, err := repo.Get("store-x", "missing"); err != domain.ErrOrderNotFound {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}

	byStore, err := repo.ListByStore("store-x", 10)
	if err != nil {
		t.Fatalf("list by store failed: %v", err)
	}
	if len(byStore) != 1 {
		t.Fatalf("expected 1 order, got %d", len(byStore))
	}

	byUser, err := repo.ListByUser("user-1", 10)
	if err != nil {
		t.Fatalf("list by user failed: %v", err)
	}
	if len(byUser) != 1 {
		t.Fatalf("expected 1 order, got %d", len(byUser))
	}
}

func TestOrderRepository_UpdateStatus(t *testing.T) {
	repo := memory.NewOrderRepository()

	created, err := repo.Submit("20250101", newOrder("store-x", "user-1"))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	updated, err := repo.UpdateStatus("store-x", created.ID, domain.OrderStatusReceived, created.Version)
	if err != nil {
		t.Fatalf("update status failed: %v", err)
	}
	if updated.Status != domain.OrderStatusReceived {
		t.Fatalf("expected status received, got %s", updated.Status)
	}
	if updated.Version != created.Version+1 {
		t.Fatalf("expected version increment, got %d", updated.Version)
	}
}

func TestOrderRepository_UpdateStatusVersionConflict(t *testing.T) {
	repo := memory.NewOrderRepository()

	created, err := repo.Submit("20250101", newOrder("store-x", "user-1"))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	if _, err := repo.UpdateStatus("store-x", created.ID, domain.OrderStatusReceived, created.Version+7); !domain.IsConflict(err) {
		t.Fatalf("expected conflict error, got %v", err)
	}
}
