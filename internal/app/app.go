// Package app собирает сервис из конфигурации: хранилища, менеджеры, транспорты и фоновые воркеры.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"github.com/vladislavdragonenkov/foodoms/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/foodoms/internal/health"
	"github.com/vladislavdragonenkov/foodoms/internal/metrics"
	"github.com/vladislavdragonenkov/foodoms/internal/service/cart"
	grpcsvc "github.com/vladislavdragonenkov/foodoms/internal/service/grpc"
	"github.com/vladislavdragonenkov/foodoms/internal/service/httpapi"
	"github.com/vladislavdragonenkov/foodoms/internal/service/idempotency"
	"github.com/vladislavdragonenkov/foodoms/internal/service/notify"
	"github.com/vladislavdragonenkov/foodoms/internal/service/ordering"
	"github.com/vladislavdragonenkov/foodoms/internal/service/outbox"
	"github.com/vladislavdragonenkov/foodoms/internal/tracing"
	"github.com/vladislavdragonenkov/foodoms/internal/version"
)

const shutdownTimeout = 5 * time.Second

// Run поднимает сервис и блокируется до отмены ctx или ошибки одного из серверов.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	policy, err := domain.PolicyByName(cfg.StatusPolicy)
	if err != nil {
		return err
	}
	defaultMethod, err := domain.ParsePaymentMethod(cfg.DefaultPaymentMethod)
	if err != nil {
		return fmt.Errorf("default payment method: %w", err)
	}

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	tracer, err := tracing.Setup(tracing.Config{
		ServiceName:    "foodoms",
		ServiceVersion: version.GetVersion(),
		Exporter:       cfg.TraceExporter,
		SampleRatio:    cfg.TraceSampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("failed to flush traces")
		}
	}()

	messaging := initMessaging(cfg, logger)
	defer closeKafkaProducer(messaging.producer, logger)

	orderingMetrics := metrics.NewOrderingMetrics()

	dispatcher := notify.NewDispatcher(messaging.notifier,
		notify.WithWorkers(cfg.NotifyWorkers),
		notify.WithQueueSize(cfg.NotifyQueueSize),
		notify.WithTimeout(cfg.NotifyTimeout),
		notify.WithLogger(logger.WithField("layer", "notify")),
		notify.WithMetrics(orderingMetrics),
	)
	dispatcher.Start()
	defer shutdownDispatcher(dispatcher, logger)

	cartManager := cart.NewManager(deps.carts, deps.catalog,
		cart.WithLogger(logger.WithField("layer", "cart")),
		cart.WithMetrics(orderingMetrics),
	)
	orderManager := ordering.NewManager(ordering.Deps{
		Checkout:      deps.checkout,
		Orders:        deps.repo,
		Catalog:       deps.catalog,
		Timeline:      deps.timelineRepo,
		Outbox:        deps.outboxRepo,
		Notifications: dispatcher,
	},
		ordering.WithPolicy(policy),
		ordering.WithDefaultPaymentMethod(defaultMethod),
		ordering.WithListLimit(cfg.OrderListLimit),
		ordering.WithLogger(logger.WithField("layer", "ordering")),
		ordering.WithMetrics(orderingMetrics),
	)
	guard := idempotency.NewGuard(deps.idempotencyRepo,
		idempotency.WithTTL(cfg.IdempotencyTTL),
		idempotency.WithGuardLogger(logger.WithField("layer", "idempotency")),
	)

	workersCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	cleanupDone := startWorker(workersCtx, idempotency.NewCleanupWorker(deps.idempotencyRepo,
		idempotency.WithLogger(logger.WithField("layer", "idempotency-cleanup")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	).Run)
	defer shutdownWorker(stopWorkers, cleanupDone, logger)

	if messaging.outbox != nil {
		outboxDone := startWorker(workersCtx, outbox.NewWorker(deps.outboxRepo, messaging.outbox,
			outbox.WithLogger(logger.WithField("layer", "outbox")),
			outbox.WithDeadLetter(messaging.deadLetter),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		).Run)
		defer shutdownWorker(stopWorkers, outboxDone, logger)
	} else {
		logger.Warn("kafka is not configured, outbox events stay pending")
	}

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", deps.storageChecker)
	if deps.cacheChecker != nil {
		healthHandler.RegisterOptional("redis", deps.cacheChecker)
	}

	grpcServer, grpcHealth := newGRPCServer(grpcsvc.NewServer(cartManager, orderManager, guard, logger.WithField("layer", "grpc")), logger)
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	if !log.IsLevelEnabled(log.DebugLevel) {
		gin.SetMode(gin.ReleaseMode)
	}
	secret := []byte(cfg.JWTSecret)
	if len(secret) == 0 {
		secret = []byte(uuid.NewString())
		logger.Warn("OMS_JWT_SECRET is empty, using an ephemeral secret")
	}
	api := httpapi.NewAPI(cartManager, orderManager, guard, secret, logger.WithField("layer", "http"))
	httpSrv, httpLis, err := listenHTTP(cfg.HTTPAddr, api.Handler())
	if err != nil {
		_ = grpcLis.Close()
		return err
	}

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)
	defer shutdownHTTP(metricsSrv, logger)

	errCh := make(chan error, 2)
	go func() {
		logger.Infof("gRPC сервер слушает %s", grpcLis.Addr())
		errCh <- grpcServer.Serve(grpcLis)
	}()
	go func() {
		logger.Infof("HTTP API слушает %s", httpLis.Addr())
		if err := httpSrv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем серверы")
		shutdownHTTP(httpSrv, logger)
		stopGRPC(grpcServer, grpcHealth, logger)
		return ctx.Err()
	case err := <-errCh:
		shutdownHTTP(httpSrv, logger)
		stopGRPC(grpcServer, grpcHealth, logger)
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

// startWorker запускает воркер и возвращает канал, закрываемый по его завершении.
func startWorker(ctx context.Context, run func(context.Context)) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		run(ctx)
	}()
	return done
}

// shutdownWorker останавливает воркер и ждёт его выхода не дольше shutdownTimeout.
func shutdownWorker(cancel context.CancelFunc, done <-chan struct{}, logger *log.Entry) {
	if cancel != nil {
		cancel()
	}
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		logger.Warn("worker did not stop in time")
	}
}

// shutdownDispatcher дожидается отправки уже принятых уведомлений.
func shutdownDispatcher(dispatcher *notify.Dispatcher, logger *log.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := dispatcher.Shutdown(ctx); err != nil {
		logger.WithError(err).Warn("notification queue was not drained")
	}
}
