package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/foodalley/orders/internal/domain"
)

type fakeOutbox struct {
	mu        sync.Mutex
	queue     []domain.OutboxMessage
	pullErr   error
	sentIDs   []string
	failedIDs []string
}

func (f *fakeOutbox) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, msg)
	return msg, nil
}

func (f *fakeOutbox) PullPending(limit int) ([]domain.OutboxMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pullErr != nil {
		return nil, f.pullErr
	}
	if limit > len(f.queue) {
		limit = len(f.queue)
	}
	batch := make([]domain.OutboxMessage, limit)
	copy(batch, f.queue[:limit])
	return batch, nil
}

func (f *fakeOutbox) Stats() (domain.OutboxStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := domain.OutboxStats{PendingCount: len(f.queue)}
	if len(f.queue) > 0 {
		stats.OldestPendingAt = time.Now().UTC()
	}
	return stats, nil
}

func (f *fakeOutbox) MarkSent(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentIDs = append(f.sentIDs, id)
	f.drop(id)
	return nil
}

func (f *fakeOutbox) MarkFailed(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failedIDs = append(f.failedIDs, id)
	f.drop(id)
	return nil
}

func (f *fakeOutbox) drop(id string) {
	for i, msg := range f.queue {
		if msg.ID == id {
			f.queue = append(f.queue[:i], f.queue[i+1:]...)
			return
		}
	}
}

type fakePublisher struct {
	mu        sync.Mutex
	err       error
	transient int
	published []domain.OutboxMessage
}

func (f *fakePublisher) Publish(msg domain.OutboxMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, msg)
	if f.err != nil {
		return f.err
	}
	if f.transient > 0 {
		f.transient--
		return errors.New("broker temporarily unavailable")
	}
	return nil
}

func (f *fakePublisher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func (f *fakePublisher) last() domain.OutboxMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.published) == 0 {
		return domain.OutboxMessage{}
	}
	return f.published[len(f.published)-1]
}

func createdEvent(id, orderID string) domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            id,
		AggregateType: "order",
		AggregateID:   orderID,
		EventType:     "order.created",
		Payload:       []byte(`{"order_number":"20250101-000001","store_id":"store-1"}`),
	}
}

func TestWorker_DrainOnce_MarksDeliveredEventSent(t *testing.T) {
	t.Parallel()

	store := &fakeOutbox{queue: []domain.OutboxMessage{createdEvent("evt-1", "order-1")}}
	broker := &fakePublisher{}

	worker := NewWorker(store, broker, WithRetryBaseDelay(0), WithMaxAttempts(3))
	worker.DrainOnce(context.Background())

	if len(store.sentIDs) != 1 || store.sentIDs[0] != "evt-1" {
		t.Fatalf("expected evt-1 marked sent, got %+v", store.sentIDs)
	}
	if len(store.failedIDs) != 0 {
		t.Fatalf("expected no failed marks, got %+v", store.failedIDs)
	}
	if broker.calls() != 1 {
		t.Fatalf("expected single publish call, got %d", broker.calls())
	}
}

func TestWorker_DrainOnce_ExhaustedEventGoesToDLQ(t *testing.T) {
	t.Parallel()

	event := domain.OutboxMessage{
		ID:            "evt-2",
		AggregateType: "order",
		AggregateID:   "order-2",
		EventType:     "order.canceled",
		Payload:       []byte(`{"reason":"재료 소진"}`),
	}
	store := &fakeOutbox{queue: []domain.OutboxMessage{event}}
	broker := &fakePublisher{err: errors.New("broker down")}
	dlq := &fakePublisher{}

	worker := NewWorker(store, broker,
		WithDLQPublisher(dlq),
		WithRetryBaseDelay(0),
		WithMaxAttempts(3),
	)
	worker.DrainOnce(context.Background())

	if broker.calls() != 3 {
		t.Fatalf("expected 3 delivery attempts, got %d", broker.calls())
	}
	if len(store.failedIDs) != 1 || store.failedIDs[0] != "evt-2" {
		t.Fatalf("expected evt-2 marked failed, got %+v", store.failedIDs)
	}
	if len(store.sentIDs) != 0 {
		t.Fatalf("expected no sent marks, got %+v", store.sentIDs)
	}
	if dlq.calls() != 1 {
		t.Fatalf("expected single DLQ publish, got %d", dlq.calls())
	}

	// Конверт DLQ несёт исходный payload события и причину сбоя.
	var record failedEventRecord
	if err := json.Unmarshal(dlq.last().Payload, &record); err != nil {
		t.Fatalf("decode dlq record failed: %v", err)
	}
	if record.OutboxID != "evt-2" || record.EventType != "order.canceled" {
		t.Fatalf("unexpected dlq record: %+v", record)
	}
	if string(record.Payload) != `{"reason":"재료 소진"}` {
		t.Fatalf("dlq record must carry the original payload, got %s", string(record.Payload))
	}
	if record.PublishError == "" {
		t.Fatal("dlq record must carry the publish error")
	}
}

func TestWorker_DrainOnce_RecoversOnTransientError(t *testing.T) {
	t.Parallel()

	store := &fakeOutbox{queue: []domain.OutboxMessage{createdEvent("evt-3", "order-3")}}
	broker := &fakePublisher{transient: 2}

	worker := NewWorker(store, broker, WithRetryBaseDelay(0), WithMaxAttempts(3))
	worker.DrainOnce(context.Background())

	if broker.calls() != 3 {
		t.Fatalf("expected 3 delivery attempts, got %d", broker.calls())
	}
	if len(store.sentIDs) != 1 {
		t.Fatalf("expected sent mark after recovery, got %+v", store.sentIDs)
	}
	if len(store.failedIDs) != 0 {
		t.Fatalf("expected no failed marks, got %+v", store.failedIDs)
	}
}

func TestWorker_DrainOnce_PullErrorPublishesNothing(t *testing.T) {
	t.Parallel()

	store := &fakeOutbox{pullErr: errors.New("db down")}
	broker := &fakePublisher{}

	worker := NewWorker(store, broker, WithRetryBaseDelay(0))
	worker.DrainOnce(context.Background())

	if broker.calls() != 0 {
		t.Fatalf("expected no publish calls, got %d", broker.calls())
	}
}

func TestWorker_Run_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	worker := NewWorker(&fakeOutbox{}, &fakePublisher{},
		WithPollInterval(5*time.Millisecond),
		WithRetryBaseDelay(0),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after context cancel")
	}
}

func TestWorker_BackoffDoubles(t *testing.T) {
	t.Parallel()

	worker := NewWorker(&fakeOutbox{}, &fakePublisher{}, WithRetryBaseDelay(50*time.Millisecond))

	if got := worker.backoff(1); got != 50*time.Millisecond {
		t.Fatalf("expected 50ms after first attempt, got %v", got)
	}
	if got := worker.backoff(3); got != 200*time.Millisecond {
		t.Fatalf("expected 200ms after third attempt, got %v", got)
	}

	silent := NewWorker(&fakeOutbox{}, &fakePublisher{}, WithRetryBaseDelay(0))
	if got := silent.backoff(2); got != 0 {
		t.Fatalf("expected zero delay with zero base, got %v", got)
	}
}

var _ domain.OutboxRepository = (*fakeOutbox)(nil)
var _ domain.OutboxPublisher = (*fakePublisher)(nil)
