package order

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/foodalley/orders/internal/domain"
	"github.com/foodalley/orders/internal/messaging/kafka"
	"github.com/foodalley/orders/internal/metrics"
)

const defaultListLimit = 100

// Service реализует оформление заказа с выдачей номера, каталог
// магазинов и жизненный цикл статусов.
type Service struct {
	orders  domain.OrderRepository
	stores  domain.StoreRepository
	history domain.HistoryRepository
	outbox  domain.OutboxRepository
	metrics *metrics.OrderMetrics
	logger  *log.Entry

	// now и location определяют границу календарного дня нумерации.
	now      func() time.Time
	location *time.Location
}

// Options задаёт необязательные зависимости сервиса.
type Options struct {
	Logger   *log.Entry
	Metrics  *metrics.OrderMetrics
	Now      func() time.Time
	Location *time.Location
}

// Option настраивает Service.
type Option func(*Options)

// WithLogger задаёт logger сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics задаёт коллектор метрик заказов.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithClock задаёт источник времени; используется в тестах смены дня.
func WithClock(now func() time.Time) Option {
	return func(opts *Options) {
		opts.Now = now
	}
}

// WithLocation задаёт часовой пояс границы календарного дня.
func WithLocation(loc *time.Location) Option {
	return func(opts *Options) {
		opts.Location = loc
	}
}

// NewService конструирует сервис заказов.
func NewService(
	orders domain.OrderRepository,
	stores domain.StoreRepository,
	history domain.HistoryRepository,
	outbox domain.OutboxRepository,
	options ...Option,
) *Service {
	opts := Options{}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "order-service")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	location := opts.Location
	if location == nil {
		location = time.UTC
	}

	return &Service{
		orders:   orders,
		stores:   stores,
		history:  history,
		outbox:   outbox,
		metrics:  opts.Metrics,
		logger:   logger,
		now:      now,
		location: location,
	}
}

// SubmitInput — корзина, поступившая на оформление.
type SubmitInput struct {
	StoreID     string
	UserID      string
	Items       []domain.OrderItem
	TotalPrice  int64
	RequestNote string
}

// BusinessDay возвращает текущий календарный день нумерации.
func (s *Service) BusinessDay() string {
	return domain.BusinessDay(s.now().In(s.location))
}

// Submit оформляет заказ: проверяет инварианты корзины и магазин,
// затем атомарно выдаёт номер и сохраняет заказ. Гонки конкурирующих
// оформлений скрыты внутри репозитория; наружу уходит либо заказ с
// номером, либо ErrOrderConflict после исчерпания бюджета повторов.
func (s *Service) Submit(input SubmitInput) (domain.Order, error) {
	started := s.now()
	if s.metrics != nil {
		s.metrics.RecordSubmitStarted()
		defer s.metrics.RecordSubmitFinished()
	}

	// Временные метки и идентификаторы позиций выдаёт сервер: клиентскому
	// времени заказ не доверяет, а на created_at опираются сортировка
	// списков и событие истории.
	now := started.UTC()
	items := make([]domain.OrderItem, len(input.Items))
	for i, item := range input.Items {
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		item.CreatedAt = now
		items[i] = item
	}

	order := domain.Order{
		StoreID:     input.StoreID,
		UserID:      input.UserID,
		Status:      domain.OrderStatusOrdered,
		Items:       items,
		TotalPrice:  input.TotalPrice,
		RequestNote: input.RequestNote,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		if s.metrics != nil {
			s.metrics.RecordSubmitRejected()
		}
		return domain.Order{}, joinErrors(errs)
	}

	store, err := s.stores.Get(input.StoreID)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordSubmitRejected()
		}
		return domain.Order{}, err
	}
	if !store.Open {
		if s.metrics != nil {
			s.metrics.RecordSubmitRejected()
		}
		return domain.Order{}, domain.ErrStoreClosed
	}

	day := s.BusinessDay()
	submitted, err := s.orders.Submit(day, order)
	if err != nil {
		if domain.IsConflict(err) {
			if s.metrics != nil {
				s.metrics.RecordSubmitConflict()
			}
			s.logger.WithError(err).WithField("store_id", input.StoreID).Warn("order submit conflict")
		} else {
			s.logger.WithError(err).WithField("store_id", input.StoreID).Error("order submit failed")
		}
		return domain.Order{}, err
	}

	s.appendHistory(domain.StatusEvent{
		OrderID:  submitted.ID,
		Status:   submitted.Status,
		Occurred: submitted.CreatedAt,
	})
	s.enqueueEvent(kafka.EventTypeOrderCreated, submitted, "")

	if s.metrics != nil {
		s.metrics.RecordOrderSubmitted()
		s.metrics.RecordSubmitDuration(s.now().Sub(started))
		if submitted.Seq == 1 {
			s.metrics.RecordDayRollover()
		}
	}

	s.logger.WithFields(log.Fields{
		"order_id":     submitted.ID,
		"store_id":     submitted.StoreID,
		"order_number": submitted.Number,
	}).Info("order submitted")

	return submitted, nil
}

// Get возвращает заказ магазина.
func (s *Service) Get(storeID, orderID string) (domain.Order, error) {
	return s.orders.Get(storeID, orderID)
}

// ListByStore возвращает заказы магазина, свежие первыми.
func (s *Service) ListByStore(storeID string, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return s.orders.ListByStore(storeID, limit)
}

// ListByUser возвращает заказы покупателя по всем магазинам.
func (s *Service) ListByUser(userID string, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return s.orders.ListByUser(userID, limit)
}

// ChangeStatus применяет смену статуса заказа с проверкой перехода
// и optimistic locking по version.
func (s *Service) ChangeStatus(storeID, orderID string, status domain.OrderStatus, version int64, reason string) (domain.Order, error) {
	if !status.Valid() {
		return domain.Order{}, domain.ErrStatusInvalid
	}

	current, err := s.orders.Get(storeID, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if !current.Status.CanTransitionTo(status) {
		return domain.Order{}, fmt.Errorf("%w: %s -> %s", domain.ErrStatusTransition, current.Status, status)
	}

	updated, err := s.orders.UpdateStatus(storeID, orderID, status, version)
	if err != nil {
		return domain.Order{}, err
	}

	s.appendHistory(domain.StatusEvent{
		OrderID:  updated.ID,
		Status:   updated.Status,
		Reason:   reason,
		Occurred: updated.UpdatedAt,
	})

	eventType := kafka.EventTypeOrderStatusChanged
	if status == domain.OrderStatusCanceled {
		eventType = kafka.EventTypeOrderCanceled
	}
	s.enqueueEvent(eventType, updated, reason)

	if s.metrics != nil {
		s.metrics.RecordStatusChanged(string(status))
	}

	s.logger.WithFields(log.Fields{
		"order_id": updated.ID,
		"store_id": updated.StoreID,
		"status":   updated.Status,
	}).Info("order status changed")

	return updated, nil
}

// History возвращает события смены статусов заказа.
func (s *Service) History(storeID, orderID string) ([]domain.StatusEvent, error) {
	if _, err := s.orders.Get(storeID, orderID); err != nil {
		return nil, err
	}
	return s.history.List(orderID)
}

// Counter возвращает текущий счётчик магазина; диагностика, не нумерация.
func (s *Service) Counter(storeID string) (domain.OrderCounter, error) {
	return s.orders.Counter(storeID)
}

// CreateStore регистрирует магазин в каталоге.
func (s *Service) CreateStore(store domain.Store) (domain.Store, error) {
	if errs := store.ValidateInvariants(); len(errs) > 0 {
		return domain.Store{}, joinErrors(errs)
	}
	if store.ID == "" {
		store.ID = uuid.NewString()
	}
	now := s.now().UTC()
	store.CreatedAt = now
	store.UpdatedAt = now

	if err := s.stores.Create(store); err != nil {
		return domain.Store{}, err
	}
	return store, nil
}

// GetStore возвращает карточку магазина.
func (s *Service) GetStore(id string) (domain.Store, error) {
	return s.stores.Get(id)
}

// ListStores возвращает магазины каталога.
func (s *Service) ListStores(limit int) ([]domain.Store, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return s.stores.List(limit)
}

// SetStoreOpen открывает либо закрывает приём заказов магазином.
func (s *Service) SetStoreOpen(id string, open bool) (domain.Store, error) {
	store, err := s.stores.Get(id)
	if err != nil {
		return domain.Store{}, err
	}
	store.Open = open
	if err := s.stores.Save(store); err != nil {
		return domain.Store{}, err
	}
	return s.stores.Get(id)
}

// appendHistory пишет событие истории; сбой истории заказ не откатывает.
func (s *Service) appendHistory(event domain.StatusEvent) {
	if s.history == nil {
		return
	}
	if err := s.history.Append(event); err != nil {
		s.logger.WithError(err).WithField("order_id", event.OrderID).Warn("failed to append status event")
	}
}

// enqueueEvent кладёт доменное событие в transactional outbox.
func (s *Service) enqueueEvent(eventType kafka.EventType, order domain.Order, reason string) {
	if s.outbox == nil {
		return
	}

	event := kafka.NewOrderEvent(eventType, order.ID, order.StoreID, order.UserID, order.Number, string(order.Status))
	event.TotalPrice = order.TotalPrice
	event.Reason = reason

	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to marshal order event")
		return
	}

	if _, err := s.outbox.Enqueue(domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   order.ID,
		EventType:     string(eventType),
		Payload:       payload,
	}); err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to enqueue outbox event")
		return
	}

	if s.metrics != nil {
		s.metrics.RecordOutboxEvent()
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 1 {
		return errs[0]
	}
	return errors.Join(errs...)
}
