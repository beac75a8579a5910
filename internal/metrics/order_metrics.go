package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OrderMetrics содержит метрики оформления и нумерации заказов.
type OrderMetrics struct {
	// Счётчики операций
	ordersSubmitted  prometheus.Counter
	submitConflicts  prometheus.Counter
	submitRejected   prometheus.Counter
	statusChanged    *prometheus.CounterVec
	numberingRetries prometheus.Counter
	dayRollovers     prometheus.Counter

	// Гистограмма времени оформления
	submitDuration prometheus.Histogram

	// Счётчик событий outbox
	outboxEvents prometheus.Counter

	// Gauge активных оформлений
	activeSubmits prometheus.Gauge
}

// NewOrderMetrics создаёт новый экземпляр метрик заказов.
func NewOrderMetrics() *OrderMetrics {
	return newOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OrderMetrics{
		ordersSubmitted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "foodalley_orders_submitted_total",
			Help: "Total number of orders submitted successfully",
		}),
		submitConflicts: registerCounter(registerer, prometheus.CounterOpts{
			Name: "foodalley_order_submit_conflicts_total",
			Help: "Total number of order submissions failed after retry budget exhaustion",
		}),
		submitRejected: registerCounter(registerer, prometheus.CounterOpts{
			Name: "foodalley_order_submit_rejected_total",
			Help: "Total number of order submissions rejected by validation",
		}),
		statusChanged: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "foodalley_order_status_changed_total",
			Help: "Total number of order status transitions",
		}, []string{"status"}),
		numberingRetries: registerCounter(registerer, prometheus.CounterOpts{
			Name: "foodalley_order_numbering_retries_total",
			Help: "Total number of transparent numbering transaction retries",
		}),
		dayRollovers: registerCounter(registerer, prometheus.CounterOpts{
			Name: "foodalley_order_day_rollovers_total",
			Help: "Total number of per-store sequence resets on business day change",
		}),
		submitDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "foodalley_order_submit_duration_seconds",
			Help:    "Duration of order submission in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "foodalley_outbox_events_total",
			Help: "Total number of outbox events published",
		}),
		activeSubmits: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "foodalley_active_order_submits",
			Help: "Number of currently in-flight order submissions",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

// RecordOrderSubmitted увеличивает счётчик успешно оформленных заказов.
func (m *OrderMetrics) RecordOrderSubmitted() {
	m.ordersSubmitted.Inc()
}

// RecordSubmitConflict увеличивает счётчик конфликтов нумерации.
func (m *OrderMetrics) RecordSubmitConflict() {
	m.submitConflicts.Inc()
}

// RecordSubmitRejected увеличивает счётчик отклонённых оформлений.
func (m *OrderMetrics) RecordSubmitRejected() {
	m.submitRejected.Inc()
}

// RecordStatusChanged увеличивает счётчик переходов в указанный статус.
func (m *OrderMetrics) RecordStatusChanged(status string) {
	m.statusChanged.WithLabelValues(status).Inc()
}

// RecordNumberingRetry увеличивает счётчик прозрачных повторов транзакции.
func (m *OrderMetrics) RecordNumberingRetry() {
	m.numberingRetries.Inc()
}

// RecordDayRollover увеличивает счётчик сбросов последовательности.
func (m *OrderMetrics) RecordDayRollover() {
	m.dayRollovers.Inc()
}

// RecordSubmitDuration записывает время оформления заказа.
func (m *OrderMetrics) RecordSubmitDuration(duration time.Duration) {
	m.submitDuration.Observe(duration.Seconds())
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *OrderMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}

// RecordSubmitStarted увеличивает количество активных оформлений.
func (m *OrderMetrics) RecordSubmitStarted() {
	m.activeSubmits.Inc()
}

// RecordSubmitFinished уменьшает количество активных оформлений.
func (m *OrderMetrics) RecordSubmitFinished() {
	m.activeSubmits.Dec()
}
