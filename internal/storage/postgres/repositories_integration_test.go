package postgres

import (
	"testing"
	"time"

	"github.com/foodalley/orders/internal/domain"
)

func TestStoreRepository_CRUD(t *testing.T) {
	store := testStore(t)
	repo := NewStoreRepository(store)

	card := domain.Store{ID: "store-1", Name: "김밥천국", Phone: "02-1234-5678", Address: "서울", Open: true}
	if err := repo.Create(card); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.Create(card); err != domain.ErrStoreAlreadyExists {
		t.Fatalf("expected ErrStoreAlreadyExists, got %v", err)
	}

	got, err := repo.Get("store-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Name != card.Name {
		t.Fatalf("unexpected store name %s", got.Name)
	}

	got.Open = false
	if err := repo.Save(got); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	got, err = repo.Get("store-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Open {
		t.Fatal("expected store to be closed after save")
	}

	stores, err := repo.List(10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(stores) != 1 {
		t.Fatalf("expected 1 store, got %d", len(stores))
	}

	if _, err := repo.Get("missing"); err != domain.ErrStoreNotFound {
		t.Fatalf("expected ErrStoreNotFound, got %v", err)
	}
	if err := repo.Save(domain.Store{ID: "missing", Name: "x"}); err != domain.ErrStoreNotFound {
		t.Fatalf("expected ErrStoreNotFound on save, got %v", err)
	}
}

func TestHistoryRepository_AppendList(t *testing.T) {
	store := testStore(t)
	repo := NewHistoryRepository(store)

	base := time.Now().UTC().Truncate(time.Millisecond)
	events := []domain.StatusEvent{
		{OrderID: "order-1", Status: domain.OrderStatusOrdered, Occurred: base},
		{OrderID: "order-1", Status: domain.OrderStatusReceived, Occurred: base.Add(time.Second)},
		{OrderID: "order-2", Status: domain.OrderStatusOrdered, Occurred: base},
	}
	for _, event := range events {
		if err := repo.Append(event); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	history, err := repo.List("order-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 events, got %d", len(history))
	}
	if history[0].Status != domain.OrderStatusOrdered || history[1].Status != domain.OrderStatusReceived {
		t.Fatalf("events must be ordered by time: %+v", history)
	}
}

func TestIdempotencyRepository_Lifecycle(t *testing.T) {
	store := testStore(t)
	repo := NewIdempotencyRepository(store)

	record, err := repo.CreateProcessing("key-1", "hash-1", time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if record.Status != domain.IdempotencyStatusProcessing {
		t.Fatalf("expected processing status, got %s", record.Status)
	}

	if _, err := repo.CreateProcessing("key-1", "hash-1", time.Time{}); err != domain.ErrIdempotencyKeyAlreadyExists {
		t.Fatalf("expected ErrIdempotencyKeyAlreadyExists, got %v", err)
	}
	if _, err := repo.CreateProcessing("key-1", "hash-2", time.Time{}); err != domain.ErrIdempotencyHashMismatch {
		t.Fatalf("expected ErrIdempotencyHashMismatch, got %v", err)
	}

	if err := repo.MarkDone("key-1", []byte(`{"ok":true}`), 201); err != nil {
		t.Fatalf("mark done failed: %v", err)
	}
	stored, err := repo.Get("key-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.Status != domain.IdempotencyStatusDone || stored.HTTPStatus != 201 {
		t.Fatalf("unexpected record %+v", stored)
	}

	if _, err := repo.CreateProcessing("old", "hash", time.Now().UTC().Add(-time.Hour)); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	removed, err := repo.DeleteExpired(time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("delete expired failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed key, got %d", removed)
	}
}

func TestOutboxRepository_Lifecycle(t *testing.T) {
	store := testStore(t)
	repo := NewOutboxRepository(store)

	msg, err := repo.Enqueue(domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   "order-1",
		EventType:     "order.created",
		Payload:       []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if msg.ID == "" {
		t.Fatal("expected generated message id")
	}

	pending, err := repo.PullPending(10)
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending message, got %d", len(pending))
	}

	stats, err := repo.Stats()
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.PendingCount != 1 || stats.OldestPendingAt.IsZero() {
		t.Fatalf("unexpected stats %+v", stats)
	}

	if err := repo.MarkSent(msg.ID); err != nil {
		t.Fatalf("mark sent failed: %v", err)
	}
	pending, err = repo.PullPending(10)
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected empty backlog, got %d", len(pending))
	}

	if err := repo.MarkSent("missing"); err != domain.ErrOutboxPublish {
		t.Fatalf("expected ErrOutboxPublish, got %v", err)
	}
}
