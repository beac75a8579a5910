package app

import (
	"context"
	"testing"

	"github.com/foodalley/orders/internal/domain"
)

func TestNewDependencies_Memory(t *testing.T) {
	deps, err := NewDependencies(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("new dependencies failed: %v", err)
	}
	defer deps.Close()

	if deps.Orders == nil || deps.Stores == nil || deps.History == nil ||
		deps.Idempotency == nil || deps.Outbox == nil {
		t.Fatal("all repositories must be initialized")
	}
	if deps.PGStore != nil {
		t.Fatal("memory dependencies must not hold a postgres store")
	}

	// Smoke-проверка, что хранилище живое.
	if err := deps.Stores.Create(domain.Store{ID: "store-1", Name: "김밥천국", Open: true}); err != nil {
		t.Fatalf("create store failed: %v", err)
	}
	if _, err := deps.Stores.Get("store-1"); err != nil {
		t.Fatalf("get store failed: %v", err)
	}
}

func TestDependencies_CloseNil(t *testing.T) {
	var deps *Dependencies
	deps.Close()

	deps = &Dependencies{}
	deps.Close()
}
