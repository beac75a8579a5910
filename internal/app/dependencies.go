package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/foodalley/orders/internal/domain"
	"github.com/foodalley/orders/internal/storage/memory"
	"github.com/foodalley/orders/internal/storage/postgres"
)

// Dependencies содержит хранилища приложения.
type Dependencies struct {
	Orders      domain.OrderRepository
	Stores      domain.StoreRepository
	History     domain.HistoryRepository
	Idempotency domain.IdempotencyRepository
	Outbox      domain.OutboxRepository
	Logger      *log.Entry

	// PGStore не nil, когда выбрано PostgreSQL-хранилище.
	PGStore *postgres.Store
}

// NewDependencies выбирает реализацию хранилища по DSN: пустой DSN
// даёт in-memory наборы, непустой подключает PostgreSQL и прогоняет
// миграции.
func NewDependencies(ctx context.Context, dsn string, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	if dsn == "" {
		logger.Info("using in-memory storage")
		return &Dependencies{
			Orders:      memory.NewOrderRepository(),
			Stores:      memory.NewStoreRepository(),
			History:     memory.NewHistoryRepository(),
			Idempotency: memory.NewIdempotencyRepository(),
			Outbox:      memory.NewOutboxRepository(),
			Logger:      logger,
		}, nil
	}

	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres storage: %w", err)
	}
	if err := store.MigrateUp(ctx, 0); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	logger.Info("using postgres storage")

	return &Dependencies{
		Orders:      postgres.NewOrderRepository(store),
		Stores:      postgres.NewStoreRepository(store),
		History:     postgres.NewHistoryRepository(store),
		Idempotency: postgres.NewIdempotencyRepository(store),
		Outbox:      postgres.NewOutboxRepository(store),
		Logger:      logger,
		PGStore:     store,
	}, nil
}

// Close освобождает ресурсы хранилища.
func (d *Dependencies) Close() {
	if d == nil || d.PGStore == nil {
		return
	}
	if err := d.PGStore.Close(); err != nil {
		d.Logger.WithError(err).Warn("failed to close postgres storage")
	}
}
