// Package app собирает сервис магазина: Store, хранилища, воркеры, REST, gRPC и метрики.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"github.com/vladislavdragonenkov/storefront/internal/catalog"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/httpapi"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	grpcsvc "github.com/vladislavdragonenkov/storefront/internal/service/grpc"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
	"github.com/vladislavdragonenkov/storefront/internal/store"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

// Run запускает сервис и блокируется до отмены ctx или падения одного из серверов.
// При отмене ctx возвращает ctx.Err().
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := log.WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger.WithField("layer", "storage"))
	if err != nil {
		return err
	}
	defer func() {
		if deps.closeFn != nil {
			if err := deps.closeFn(); err != nil {
				logger.WithError(err).Warn("failed to close storage")
			}
		}
	}()

	outboxMetrics := metrics.NewOutboxMetrics(nil)
	shop := store.New(
		store.WithDiscountInterval(cfg.DiscountInterval),
		store.WithLogger(logger.WithField("layer", "store")),
		store.WithMetrics(metrics.NewStoreMetrics()),
		store.WithEventSink(outbox.NewRecorder(deps.outboxRepo, outboxMetrics)),
	)
	if cfg.SeedCatalog {
		items, err := catalog.Seed(shop, catalog.DefaultProducts)
		if err != nil {
			return fmt.Errorf("seed catalog: %w", err)
		}
		logger.WithField("items", len(items)).Info("catalog seeded")
	}

	publisher, dlqPublisher, producer := initPublishers(cfg, logger.WithField("layer", "kafka"))
	defer closeKafkaProducer(producer, logger)
	if producer != nil {
		publisher = outbox.NewBreakerPublisher(publisher, cfg.OutboxBreakerFailures, cfg.OutboxBreakerReset,
			logger.WithField("layer", "outbox"))
	}

	outboxWorker := outbox.NewWorker(deps.outboxRepo, publisher,
		outbox.WithLogger(logger.WithField("layer", "outbox")),
		outbox.WithMetrics(outboxMetrics),
		outbox.WithDLQPublisher(dlqPublisher),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	)
	cleanupWorker := idempotency.NewCleanupWorker(deps.idempotencyRepo,
		idempotency.WithLogger(logger.WithField("layer", "idempotency")),
		idempotency.WithMetrics(metrics.NewCleanupMetrics(nil)),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)
	guard := idempotency.NewGuard(deps.idempotencyRepo, cfg.IdempotencyTTL, logger.WithField("layer", "idempotency"))

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("catalog", healthcheck.NewFuncChecker("catalog", func(context.Context) error {
		if cfg.SeedCatalog && len(shop.Categories()) == 0 {
			return errors.New("catalog is empty")
		}
		return nil
	}))
	if deps.storageChecker != nil {
		healthHandler.RegisterChecker("storage", deps.storageChecker)
	}
	healthHandler.RegisterOptionalChecker("outbox",
		healthcheck.NewOutboxBacklogChecker(deps.outboxRepo, cfg.OutboxMaxPending, 0))

	srv, err := listen(cfg, shop, guard, healthHandler, logger)
	if err != nil {
		return err
	}

	stopOutbox, outboxDone := startWorker(ctx, outboxWorker.Run)
	stopCleanup, cleanupDone := startWorker(ctx, cleanupWorker.Run)

	errCh := make(chan error, 3)
	srv.serve(errCh, logger)
	logger.WithField("version", version.String()).Info("storefront started")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем серверы")
		runErr = ctx.Err()
	case err := <-errCh:
		logger.WithError(err).Error("server failed")
		runErr = err
	}

	srv.shutdown(logger)
	shutdownWorker("outbox", stopOutbox, outboxDone, logger)
	shutdownWorker("idempotency-cleanup", stopCleanup, cleanupDone, logger)
	// Последний проход по событиям, накопленным во время остановки; недоставленное остаётся в outbox.
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), workerStopTimeout)
	if report := outboxWorker.ProcessOnce(drainCtx); report.Pending() > 0 {
		logger.WithField("pending", report.Pending()).Warn("outbox events left pending at shutdown")
	}
	cancelDrain()

	return runErr
}

// servers: открытые listener'ы и серверы приложения.
type servers struct {
	api        *http.Server
	apiLis     net.Listener
	metrics    *http.Server
	metricsLis net.Listener
	grpc       *grpc.Server
	grpcLis    net.Listener
	grpcHealth *health.Server
}

// listen открывает все listener'ы заранее, чтобы ошибки адресов возвращались из Run синхронно.
func listen(cfg Config, shop *store.Store, guard *idempotency.Guard, healthHandler *healthcheck.Handler, logger *log.Entry) (*servers, error) {
	srv := &servers{}
	var err error
	closeAll := func() {
		for _, lis := range []net.Listener{srv.apiLis, srv.metricsLis, srv.grpcLis} {
			if lis != nil {
				_ = lis.Close()
			}
		}
	}

	if cfg.HTTPAddr != "" {
		if srv.apiLis, err = net.Listen("tcp", cfg.HTTPAddr); err != nil {
			return nil, fmt.Errorf("listen http %s: %w", cfg.HTTPAddr, err)
		}
		gin.SetMode(gin.ReleaseMode)
		handler := httpapi.NewHandler(shop,
			httpapi.WithLogger(logger.WithField("layer", "http")),
			httpapi.WithMetrics(metrics.NewHTTPMetrics(nil)),
			httpapi.WithIdempotency(guard, cfg.RequireIdempotencyKey),
			httpapi.WithAllowOrigins(cfg.CORSOrigins()...),
		)
		router := handler.Router()
		router.GET("/healthz", gin.WrapH(healthHandler))
		srv.api = &http.Server{
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
	}

	if cfg.GRPCAddr != "" {
		if srv.grpcLis, err = net.Listen("tcp", cfg.GRPCAddr); err != nil {
			closeAll()
			return nil, fmt.Errorf("listen grpc %s: %w", cfg.GRPCAddr, err)
		}
		service := grpcsvc.NewStoreService(shop, guard, logger.WithField("layer", "grpc"))
		srv.grpc, srv.grpcHealth = newGRPCServer(service, logger)
	}

	if cfg.MetricsAddr != "" {
		if srv.metricsLis, err = net.Listen("tcp", cfg.MetricsAddr); err != nil {
			closeAll()
			return nil, fmt.Errorf("listen metrics %s: %w", cfg.MetricsAddr, err)
		}
		srv.metrics = &http.Server{
			Handler:           newMetricsMux(healthHandler),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return srv, nil
}

func (s *servers) serve(errCh chan<- error, logger *log.Entry) {
	if s.api != nil {
		serveHTTP("api", s.api, s.apiLis, errCh, logger)
	}
	if s.metrics != nil {
		serveHTTP("metrics", s.metrics, s.metricsLis, errCh, logger)
	}
	if s.grpc != nil {
		go func() {
			logger.Infof("gRPC сервер слушает %s", s.grpcLis.Addr())
			if err := s.grpc.Serve(s.grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- err
			}
		}()
	}
}

func (s *servers) shutdown(logger *log.Entry) {
	stopGRPC(s.grpc, s.grpcHealth, logger)
	shutdownHTTP(s.api, logger)
	shutdownHTTP(s.metrics, logger)
}
