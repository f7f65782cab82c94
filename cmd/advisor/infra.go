package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/selivandex/lp-advisor/internal/adapters/config"
	"github.com/selivandex/lp-advisor/internal/adapters/database"
	redisAdapter "github.com/selivandex/lp-advisor/internal/adapters/redis"
	"github.com/selivandex/lp-advisor/internal/health"
	"github.com/selivandex/lp-advisor/internal/storage"
	chstore "github.com/selivandex/lp-advisor/internal/storage/clickhouse"
	"github.com/selivandex/lp-advisor/internal/storage/memory"
	"github.com/selivandex/lp-advisor/internal/storage/postgres"
	"github.com/selivandex/lp-advisor/pkg/logger"
)

const storeCallTimeout = 10 * time.Second

// infra holds every connection a command may need. Unused ones stay nil.
type infra struct {
	pg    *database.DB
	ch    *database.DB
	redis *redisAdapter.Client
	store storage.Store
}

// openInfra connects the store backend plus ClickHouse and Redis when they
// are enabled
func openInfra(ctx context.Context, cfg *config.Config) (*infra, error) {
	in := &infra{}

	if cfg.ClickHouse.Enabled {
		ch, err := database.NewClickHouse(ctx, &cfg.ClickHouse)
		if err != nil {
			in.Close()
			return nil, err
		}
		in.ch = ch
	}

	switch cfg.Engine.Store {
	case config.StorePostgres:
		db, err := initDatabase(ctx, cfg)
		if err != nil {
			in.Close()
			return nil, err
		}
		in.pg = db
		in.store = postgres.NewStore(db.DB(), storeCallTimeout)

	case config.StoreClickHouse:
		st := chstore.NewStore(in.ch.DB(), storeCallTimeout)
		if err := st.EnsureSchema(ctx); err != nil {
			in.Close()
			return nil, fmt.Errorf("failed to prepare ClickHouse schema: %w", err)
		}
		in.store = st

	case config.StoreMemory:
		logger.Warn("using in-memory store, data is lost on restart")
		in.store = memory.NewStore()
	}

	if cfg.Redis.Enabled {
		rc, err := redisAdapter.New(ctx, &cfg.Redis)
		if err != nil {
			in.Close()
			return nil, err
		}
		in.redis = rc
	}

	logger.Info("infrastructure ready",
		zap.String("store", cfg.Engine.Store),
		zap.Bool("clickhouse", in.ch != nil),
		zap.Bool("redis", in.redis != nil),
	)
	return in, nil
}

// initDatabase connects to PostgreSQL and applies migrations when enabled
func initDatabase(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	db, err := database.New(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}

	if cfg.Database.MigrateOnStart {
		if err := db.RunMigrations(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}
	return db, nil
}

// checkers lists the dependencies readiness depends on
func (in *infra) checkers() map[string]health.Checker {
	checks := map[string]health.Checker{}
	if in.pg != nil {
		checks["database"] = in.pg
	}
	if in.ch != nil {
		checks["clickhouse"] = in.ch
	}
	if in.redis != nil {
		checks["redis"] = in.redis
	}
	return checks
}

// Close releases connections in reverse order of opening
func (in *infra) Close() {
	if in.redis != nil {
		if err := in.redis.Close(); err != nil {
			logger.Warn("failed to close redis", zap.Error(err))
		}
	}
	if in.pg != nil {
		if err := in.pg.Close(); err != nil {
			logger.Warn("failed to close database", zap.Error(err))
		}
	}
	if in.ch != nil {
		if err := in.ch.Close(); err != nil {
			logger.Warn("failed to close ClickHouse", zap.Error(err))
		}
	}
}
