// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/adiadia/session-recorder/internal/config"
	"github.com/adiadia/session-recorder/internal/persistence/postgres"
	"github.com/adiadia/session-recorder/internal/repository"
	httptransport "github.com/adiadia/session-recorder/internal/transport/http"
)

type checkFunc func(ctx context.Context) error

func (f checkFunc) Check(ctx context.Context) error { return f(ctx) }

type storageBackend struct {
	storage   repository.Storage
	readiness httptransport.HealthChecker
	close     func()
}

func openStorage(ctx context.Context, cfg config.Config, logger *slog.Logger) (storageBackend, error) {
	logger = logger.With("component", "storage", "driver", cfg.StorageDriver)

	switch cfg.StorageDriver {
	case config.DriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return storageBackend{}, fmt.Errorf("db connect: %w", err)
		}
		if cfg.AutoMigrate {
			if err := postgres.EnsureSchema(ctx, pool, logger); err != nil {
				pool.Close()
				return storageBackend{}, fmt.Errorf("ensure schema: %w", err)
			}
		}
		return storageBackend{
			storage:   repository.NewPostgresStorage(pool, logger),
			readiness: postgres.SchemaReadiness(pool),
			close:     pool.Close,
		}, nil

	case config.DriverSQLite:
		s, err := repository.OpenSQLite(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return storageBackend{}, err
		}
		return storageBackend{
			storage: s,
			close:   func() { _ = s.Close() },
		}, nil

	case config.DriverRedis:
		s := repository.NewRedisStorage(repository.NewRedisClient(repository.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}), logger)
		if err := s.Ping(ctx); err != nil {
			_ = s.Close()
			return storageBackend{}, fmt.Errorf("redis ping: %w", err)
		}
		return storageBackend{
			storage:   s,
			readiness: checkFunc(s.Ping),
			close:     func() { _ = s.Close() },
		}, nil

	default:
		return storageBackend{
			storage: repository.NewMemoryStorage(),
			close:   func() {},
		}, nil
	}
}
