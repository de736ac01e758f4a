package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/lu-lu-xue/OrderManagement/internal/domain"
	healthcheck "github.com/lu-lu-xue/OrderManagement/internal/health"
	"github.com/lu-lu-xue/OrderManagement/internal/storage/memory"
	"github.com/lu-lu-xue/OrderManagement/internal/storage/postgres"
)

// runtimeDependencies собирает хранилища, выбранные драйвером storage.driver.
type runtimeDependencies struct {
	repo         domain.OrderRepository
	outboxRepo   domain.OutboxRepository
	timelineRepo domain.TimelineRepository
	transactor   domain.Transactor
	// storageChecker есть только у внешнего хранилища.
	storageChecker healthcheck.Checker
	closeFn        func() error
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (runtimeDependencies, error) {
	switch cfg.Storage.Driver {
	case StorageDriverMemory:
		logger.Info("using in-memory storage")
		return runtimeDependencies{
			repo:         memory.NewOrderRepository(),
			outboxRepo:   memory.NewOutboxRepository(),
			timelineRepo: memory.NewTimelineRepository(),
			transactor:   memory.NewTransactor(),
		}, nil
	case StorageDriverPostgres:
		return initPostgres(ctx, cfg.Storage.Postgres, logger)
	default:
		return runtimeDependencies{}, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}
}

func initPostgres(ctx context.Context, cfg PostgresConfig, logger *log.Entry) (runtimeDependencies, error) {
	if cfg.DSN == "" {
		return runtimeDependencies{}, errors.New("postgres dsn is required")
	}

	store, err := postgres.Open(ctx, cfg.DSN, cfg.Pool())
	if err != nil {
		return runtimeDependencies{}, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.AutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return runtimeDependencies{}, fmt.Errorf("migrate postgres: %w", err)
		}
		logger.Info("postgres schema is up to date")
	}

	logger.Info("using postgres storage")
	return runtimeDependencies{
		repo:           postgres.NewOrderRepository(store),
		outboxRepo:     postgres.NewOutboxRepository(store),
		timelineRepo:   postgres.NewTimelineRepository(store),
		transactor:     store,
		storageChecker: healthcheck.NewPingChecker("postgres", 2*time.Second, store.Ping),
		closeFn:        store.Close,
	}, nil
}
