package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/foodalley/orders/internal/domain"
)

const (
	defaultDrainInterval  = 1 * time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
)

var (
	eventPublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "foodalley_order_events_publish_total",
		Help: "Order event publications from the outbox grouped by result.",
	}, []string{"result"})
	outboxBacklogSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "foodalley_order_outbox_backlog",
		Help: "Number of order events waiting in the transactional outbox.",
	})
	outboxBacklogOldestAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "foodalley_order_outbox_backlog_oldest_seconds",
		Help: "Age in seconds of the oldest unpublished order event.",
	})
)

// Worker доставляет события заказов из transactional outbox в брокер.
// Событие, не доставленное за отведённые попытки, уходит в DLQ и
// помечается failed, чтобы не блокировать остальную очередь: порядок
// нумерации заказов от порядка доставки событий не зависит.
type Worker struct {
	store  domain.OutboxRepository
	events domain.OutboxPublisher
	dlq    domain.OutboxPublisher
	logger *log.Entry

	interval    time.Duration
	batchSize   int
	maxAttempts int
	baseDelay   time.Duration
}

// Option настраивает Worker.
type Option func(*Worker)

// WithLogger задаёт logger воркера.
func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithDLQPublisher задаёт паблишер для событий, исчерпавших попытки.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(w *Worker) {
		w.dlq = publisher
	}
}

// WithPollInterval задаёт период опроса outbox.
func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

// WithBatchSize задаёт размер батча за один проход.
func WithBatchSize(batchSize int) Option {
	return func(w *Worker) {
		if batchSize > 0 {
			w.batchSize = batchSize
		}
	}
}

// WithMaxAttempts задаёт число попыток доставки до ухода в DLQ.
func WithMaxAttempts(maxAttempts int) Option {
	return func(w *Worker) {
		if maxAttempts > 0 {
			w.maxAttempts = maxAttempts
		}
	}
}

// WithRetryBaseDelay задаёт базовую задержку между попытками; ноль
// выключает паузы (используется в тестах).
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(w *Worker) {
		if delay >= 0 {
			w.baseDelay = delay
		}
	}
}

// NewWorker создаёт воркер доставки событий заказов.
func NewWorker(store domain.OutboxRepository, events domain.OutboxPublisher, options ...Option) *Worker {
	w := &Worker{
		store:       store,
		events:      events,
		logger:      log.WithField("component", "outbox-worker"),
		interval:    defaultDrainInterval,
		batchSize:   defaultBatchSize,
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultRetryBaseDelay,
	}
	for _, option := range options {
		option(w)
	}
	return w
}

// Run опустошает outbox по тикам до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.store == nil || w.events == nil {
		w.logger.Warn("outbox worker отключен: нет репозитория или паблишера")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.DrainOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.DrainOnce(ctx)
		}
	}
}

// DrainOnce выгружает один батч pending-событий.
func (w *Worker) DrainOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	w.observeBacklog()

	batch, err := w.store.PullPending(w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("не удалось прочитать pending события заказов")
		return
	}

	for _, event := range batch {
		if ctx.Err() != nil {
			return
		}
		w.dispatch(ctx, event)
	}

	if len(batch) > 0 {
		w.observeBacklog()
	}
}

// dispatch доводит одно событие до терминального исхода: sent либо
// failed с копией в DLQ.
func (w *Worker) dispatch(ctx context.Context, event domain.OutboxMessage) {
	if err := w.deliver(ctx, event); err != nil {
		w.logger.WithError(err).WithFields(log.Fields{
			"outbox_id":  event.ID,
			"event_type": event.EventType,
		}).Error("доставка события заказа не удалась")
		eventPublishTotal.WithLabelValues("failed").Inc()

		if dlqErr := w.escalate(event, err); dlqErr != nil {
			w.logger.WithError(dlqErr).WithField("outbox_id", event.ID).Warn("не удалось увести событие в DLQ")
			eventPublishTotal.WithLabelValues("dlq_failed").Inc()
		}
		if markErr := w.store.MarkFailed(event.ID); markErr != nil {
			w.logger.WithError(markErr).WithField("outbox_id", event.ID).Warn("не удалось пометить событие failed")
		}
		return
	}

	if err := w.store.MarkSent(event.ID); err != nil {
		w.logger.WithError(err).WithField("outbox_id", event.ID).Warn("не удалось пометить событие отправленным")
	}
}

func (w *Worker) deliver(ctx context.Context, event domain.OutboxMessage) error {
	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		if lastErr = w.events.Publish(event); lastErr == nil {
			eventPublishTotal.WithLabelValues("sent").Inc()
			return nil
		}
		eventPublishTotal.WithLabelValues("retry_error").Inc()

		if attempt == w.maxAttempts {
			break
		}
		if delay := w.backoff(attempt); delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return fmt.Errorf("publish failed after %d attempts: %w", w.maxAttempts, lastErr)
}

// backoff удваивает задержку с каждой попыткой: base, 2*base, 4*base.
func (w *Worker) backoff(attempt int) time.Duration {
	if w.baseDelay <= 0 {
		return 0
	}
	shift := attempt - 1
	if shift > 32 {
		shift = 32
	}
	return w.baseDelay << shift
}

func (w *Worker) observeBacklog() {
	stats, err := w.store.Stats()
	if err != nil {
		w.logger.WithError(err).Warn("не удалось прочитать размер очереди outbox")
		return
	}

	outboxBacklogSize.Set(float64(stats.PendingCount))

	age := 0.0
	if stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero() {
		if since := time.Since(stats.OldestPendingAt); since > 0 {
			age = since.Seconds()
		}
	}
	outboxBacklogOldestAge.Set(age)
}

// failedEventRecord — конверт, с которым событие заказа попадает в DLQ;
// cmd/dlq-reprocess разворачивает его обратно при повторной отправке.
type failedEventRecord struct {
	OutboxID       string          `json:"outbox_id"`
	AggregateType  string          `json:"aggregate_type"`
	AggregateID    string          `json:"aggregate_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	PublishError   string          `json:"publish_error"`
	DLQPublishedAt string          `json:"dlq_published_at"`
}

func (w *Worker) escalate(event domain.OutboxMessage, cause error) error {
	if w.dlq == nil {
		return nil
	}

	payload, err := json.Marshal(failedEventRecord{
		OutboxID:       event.ID,
		AggregateType:  event.AggregateType,
		AggregateID:    event.AggregateID,
		EventType:      event.EventType,
		Payload:        json.RawMessage(event.Payload),
		PublishError:   cause.Error(),
		DLQPublishedAt: time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal dlq record: %w", err)
	}

	failed := event
	failed.Payload = payload
	if err := w.dlq.Publish(failed); err != nil {
		return fmt.Errorf("publish to dlq: %w", err)
	}
	return nil
}
