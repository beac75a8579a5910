package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/foodalley/orders/internal/domain"
)

const (
	defaultSweepInterval = 10 * time.Minute
	defaultSweepBatch    = 500
)

var (
	sweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "foodalley_idempotency_sweep_runs_total",
		Help: "Idempotency key sweep runs grouped by result.",
	}, []string{"result"})
	sweepDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "foodalley_idempotency_sweep_deleted_total",
		Help: "Total number of expired idempotency keys removed.",
	})
	sweepLastDeleted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "foodalley_idempotency_sweep_last_deleted",
		Help: "Number of keys removed during the most recent sweep.",
	})
)

// CleanupWorker выметает просроченные ключи идемпотентности. Ключ
// защищает оформление заказа от повторной отправки той же корзины;
// после истечения TTL сохранённый ответ теряет смысл и только
// раздувает хранилище.
type CleanupWorker struct {
	keys      domain.IdempotencyRepository
	logger    *log.Entry
	interval  time.Duration
	batchSize int
}

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*CleanupWorker)

// WithLogger задаёт logger воркера.
func WithLogger(logger *log.Entry) CleanupOption {
	return func(w *CleanupWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithInterval задаёт период между проходами.
func WithInterval(interval time.Duration) CleanupOption {
	return func(w *CleanupWorker) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

// WithBatchSize задаёт порцию удаления за один запрос к хранилищу.
func WithBatchSize(batchSize int) CleanupOption {
	return func(w *CleanupWorker) {
		if batchSize > 0 {
			w.batchSize = batchSize
		}
	}
}

// NewCleanupWorker создаёт воркер очистки ключей идемпотентности.
func NewCleanupWorker(keys domain.IdempotencyRepository, options ...CleanupOption) *CleanupWorker {
	w := &CleanupWorker{
		keys:      keys,
		logger:    log.WithField("component", "idempotency-cleanup-worker"),
		interval:  defaultSweepInterval,
		batchSize: defaultSweepBatch,
	}
	for _, option := range options {
		option(w)
	}
	return w
}

// Run выполняет проход сразу и далее по тикам до отмены ctx.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.keys == nil {
		w.logger.Warn("воркер очистки отключен: нет репозитория ключей")
		return
	}

	w.sweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *CleanupWorker) sweep(ctx context.Context) {
	deleted, err := w.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		sweepRunsTotal.WithLabelValues("error").Inc()
		w.logger.WithError(err).Warn("проход очистки ключей завершился ошибкой")
		return
	}

	sweepRunsTotal.WithLabelValues("ok").Inc()
	sweepLastDeleted.Set(float64(deleted))
	if deleted > 0 {
		w.logger.WithField("deleted", deleted).Info("просроченные ключи идемпотентности удалены")
	}
}

// DeleteExpired удаляет записи с ttl <= before порциями batchSize,
// пока хранилище возвращает полные порции.
func (w *CleanupWorker) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		deleted, err := w.keys.DeleteExpired(before, w.batchSize)
		if err != nil {
			return total, err
		}

		total += deleted
		if deleted > 0 {
			sweepDeletedTotal.Add(float64(deleted))
		}
		if deleted < w.batchSize {
			return total, nil
		}
	}
}
