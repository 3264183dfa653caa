package db

import (
	"context"
	"fmt"

	"github.com/civic-cleanup/escrow/internal/config"
	"github.com/civic-cleanup/escrow/internal/repositories"
	"go.uber.org/zap"
)

// OpenStore connects the configured storage driver. For postgres it also
// applies pending migrations. The returned func releases the connection.
func OpenStore(ctx context.Context, cfg *config.Config, migrationsDir string, log *zap.Logger) (repositories.Store, func(), error) {
	switch cfg.StorageDriver {
	case config.StorageDriverMemory:
		log.Info("using in-memory store")
		return repositories.NewMemoryStore(), func() {}, nil
	case config.StorageDriverPostgres:
		pool, err := NewPostgresPool(ctx, cfg.PostgresDSN, log)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if migrationsDir != "" {
			if err := RunMigrations(ctx, pool, migrationsDir, log); err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("run migrations: %w", err)
			}
		}
		return repositories.NewPostgresStore(pool), pool.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
}
