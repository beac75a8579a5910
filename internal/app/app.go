package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/foodalley/orders/internal/health"
	"github.com/foodalley/orders/internal/messaging/kafka"
	"github.com/foodalley/orders/internal/metrics"
	idemsvc "github.com/foodalley/orders/internal/service/idempotency"
	ordersvc "github.com/foodalley/orders/internal/service/order"
	outboxsvc "github.com/foodalley/orders/internal/service/outbox"
	transport "github.com/foodalley/orders/internal/transport/http"
	"github.com/foodalley/orders/internal/version"
)

// Run собирает зависимости и запускает сервис до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	location, err := cfg.Location()
	if err != nil {
		return err
	}

	deps, err := NewDependencies(ctx, cfg.PostgresDSN, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	kafkaProducer := connectEventBroker(cfg.KafkaBrokers, logger)
	defer closeEventBroker(kafkaProducer, logger)

	orderMetrics := metrics.NewOrderMetrics()
	service := ordersvc.NewService(
		deps.Orders,
		deps.Stores,
		deps.History,
		deps.Outbox,
		ordersvc.WithLogger(logger.WithField("layer", "service")),
		ordersvc.WithMetrics(orderMetrics),
		ordersvc.WithLocation(location),
	)

	// Фоновые воркеры.
	var wg sync.WaitGroup
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	if kafkaProducer != nil {
		publisher := kafka.NewOutboxPublisher(kafkaProducer, kafka.TopicOrderEvents)
		dlqPublisher := kafka.NewOutboxPublisher(kafkaProducer, kafka.TopicDeadLetterQueue)
		worker := outboxsvc.NewWorker(
			deps.Outbox,
			publisher,
			outboxsvc.WithLogger(logger.WithField("component", "outbox-worker")),
			outboxsvc.WithDLQPublisher(dlqPublisher),
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Run(workerCtx)
		}()
	} else {
		logger.Info("kafka is not configured, outbox worker is disabled")
	}

	cleanup := idemsvc.NewCleanupWorker(
		deps.Idempotency,
		idemsvc.WithLogger(logger.WithField("component", "idempotency-cleanup-worker")),
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		cleanup.Run(workerCtx)
	}()

	// Health-проверки.
	healthHandler := healthcheck.NewHandler(version.GetVersion())
	if deps.PGStore != nil {
		healthHandler.RegisterChecker("postgres", healthcheck.NewSimpleChecker("postgres", func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return deps.PGStore.Ping(pingCtx)
		}))
	}

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	apiHandler := transport.NewHandler(service, deps.Idempotency, logger.WithField("layer", "http"))
	apiSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      apiHandler.Routes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP API слушает %s", cfg.HTTPAddr)
		errCh <- apiSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем HTTP сервер")
		shutdownHTTP(apiSrv, logger)
		shutdownHTTP(metricsSrv, logger)
		stopWorkers()
		wg.Wait()
		return ctx.Err()
	case err := <-errCh:
		shutdownHTTP(metricsSrv, logger)
		stopWorkers()
		wg.Wait()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// startMetricsServer запускает HTTP-обработчик /metrics для Prometheus.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
