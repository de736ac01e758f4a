package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/lu-lu-xue/OrderManagement/internal/domain"
	healthcheck "github.com/lu-lu-xue/OrderManagement/internal/health"
	"github.com/lu-lu-xue/OrderManagement/internal/messaging/kafka"
	"github.com/lu-lu-xue/OrderManagement/internal/metrics"
	"github.com/lu-lu-xue/OrderManagement/internal/service/httpapi"
	"github.com/lu-lu-xue/OrderManagement/internal/service/outbox"
	"github.com/lu-lu-xue/OrderManagement/internal/telemetry"
	"github.com/lu-lu-xue/OrderManagement/internal/version"
)

// Run поднимает сервис заказов и блокируется до отмены ctx или фатальной ошибки одного из серверов.
// При отмене ctx возвращает ctx.Err().
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg.Kafka.Topics = cfg.Kafka.Topics.WithDefaults()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version.GetVersion(),
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Insecure:       cfg.Telemetry.Insecure,
	}, logger.WithField("component", "telemetry"))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.WithError(err).Warn("failed to flush traces")
		}
	}()

	storage, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if storage.closeFn != nil {
			if err := storage.closeFn(); err != nil {
				logger.WithError(err).Warn("failed to close storage")
			}
		}
	}()

	collaborators, err := NewDependencies(cfg.Collaborators, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := collaborators.Close(); err != nil {
			logger.WithError(err).Warn("failed to close collaborator clients")
		}
	}()

	orchestrator, sagaHandler := createSaga(cfg, storage, collaborators, metrics.NewSagaMetrics(), logger)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	if storage.storageChecker != nil {
		healthHandler.RegisterChecker("storage", storage.storageChecker)
	}
	healthHandler.RegisterOptional("outbox", healthcheck.NewOutboxBacklogChecker(storage.outboxRepo, cfg.Outbox.MaxBacklogAge))

	var (
		publisher     domain.OutboxPublisher = discardPublisher{logger: logger.WithField("component", "outbox")}
		dlqPublisher  domain.OutboxPublisher
		kafkaConsumer *kafka.Consumer
	)
	if cfg.Kafka.Enabled {
		producer, err := initKafkaProducer(cfg.Kafka.Brokers, logger)
		if err != nil {
			return fmt.Errorf("init kafka producer: %w", err)
		}
		defer closeKafka(producer, logger)

		topicPublisher := kafka.NewOutboxPublisher(producer, "")
		publisher = topicPublisher
		dlqPublisher = topicPublisher

		kafkaConsumer, err = initKafkaConsumer(cfg.Kafka, sagaHandler, producer, logger)
		if err != nil {
			return fmt.Errorf("init kafka consumer: %w", err)
		}
		healthHandler.RegisterChecker("kafka", healthcheck.NewKafkaChecker(brokerList(cfg.Kafka.Brokers), 2*time.Second))
	} else {
		logger.Warn("kafka is disabled, outbox messages are acknowledged without delivery")
	}

	outboxMetrics := metrics.NewOutboxMetrics()
	outboxSettings := outbox.Settings{
		PollInterval:    cfg.Outbox.PollInterval,
		BatchSize:       cfg.Outbox.BatchSize,
		MaxAttempts:     cfg.Outbox.MaxAttempts,
		RetryDelay:      cfg.Outbox.RetryDelay,
		CleanupInterval: cfg.Outbox.CleanupInterval,
		Retention:       cfg.Outbox.Retention,
	}
	workerOpts := []outbox.Option{
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithMetrics(outboxMetrics),
	}
	if dlqPublisher != nil {
		workerOpts = append(workerOpts, outbox.WithDeadLetters(dlqPublisher, cfg.Kafka.Topics.DeadLetter))
	}
	worker := outbox.NewWorker(storage.outboxRepo, publisher, outboxSettings, workerOpts...)

	var cleanup *outbox.CleanupWorker
	if purger, ok := storage.outboxRepo.(domain.OutboxPurger); ok {
		cleanup = outbox.NewCleanupWorker(purger, outboxSettings,
			outbox.WithLogger(logger.WithField("component", "outbox-cleanup")),
			outbox.WithMetrics(outboxMetrics),
		)
	}

	grpcServer, healthServer := newGRPCServer(logger)
	grpcLis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("listen grpc %s: %w", cfg.GRPC.Addr, err)
	}

	apiLis, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		_ = grpcLis.Close()
		return fmt.Errorf("listen http %s: %w", cfg.HTTP.Addr, err)
	}
	apiHandler := httpapi.NewHandler(orchestrator, logger.WithField("layer", "http"))
	apiSrv := newHTTPServer(cfg.HTTP.Addr, httpapi.NewRouter(apiHandler))

	g, gctx := errgroup.WithContext(ctx)
	metricsSrv := startMetricsServer(gctx, cfg.Metrics.Addr, logger, healthHandler)

	g.Go(func() error {
		worker.Run(gctx)
		return nil
	})

	if cleanup != nil {
		g.Go(func() error {
			cleanup.Run(gctx)
			return nil
		})
	}

	if kafkaConsumer != nil {
		if err := kafkaConsumer.Start(gctx); err != nil {
			_ = grpcLis.Close()
			_ = apiLis.Close()
			return fmt.Errorf("start kafka consumer: %w", err)
		}
	}

	g.Go(func() error {
		syncGRPCHealth(gctx, healthServer, healthHandler, grpcHealthInterval, logger.WithField("component", "grpc-health"))
		return nil
	})

	g.Go(func() error {
		logger.Infof("gRPC сервер слушает %s", grpcLis.Addr())
		if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Infof("HTTP API слушает %s", apiLis.Addr())
		if err := apiSrv.Serve(apiLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http api server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("получен сигнал остановки, останавливаем сервисы")
		healthServer.Shutdown()
		stopGRPC(grpcServer, logger)
		shutdownHTTP(apiSrv, logger)
		shutdownHTTP(metricsSrv, logger)
		stopConsumer(kafkaConsumer, logger)
		return nil
	})

	err = g.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
