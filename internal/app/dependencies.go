package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
)

// runtimeDeps: хранилища, выбранные по StorageDriver.
type runtimeDeps struct {
	outboxRepo      domain.OutboxRepository
	idempotencyRepo domain.IdempotencyRepository
	// storageChecker nil для in-memory хранилища.
	storageChecker healthcheck.Checker
	closeFn        func() error
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (runtimeDeps, error) {
	switch cfg.StorageDriver {
	case StorageDriverMemory:
		return runtimeDeps{
			outboxRepo:      memory.NewOutboxRepository(),
			idempotencyRepo: memory.NewIdempotencyRepository(),
		}, nil
	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return runtimeDeps{}, fmt.Errorf("postgres storage driver requires dsn")
		}
		pg, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return runtimeDeps{}, fmt.Errorf("open postgres: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := pg.MigrateUp(ctx, 0); err != nil {
				_ = pg.Close()
				return runtimeDeps{}, fmt.Errorf("apply migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}
		return runtimeDeps{
			outboxRepo:      postgres.NewOutboxRepository(pg),
			idempotencyRepo: postgres.NewIdempotencyRepository(pg),
			storageChecker:  healthcheck.NewFuncChecker("postgres", pg.Ping),
			closeFn:         pg.Close,
		}, nil
	default:
		return runtimeDeps{}, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}
