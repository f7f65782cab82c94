package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/selivandex/lp-advisor/internal/adapters/clickhouse"
	"github.com/selivandex/lp-advisor/internal/adapters/config"
	"github.com/selivandex/lp-advisor/internal/adapters/market"
	redisAdapter "github.com/selivandex/lp-advisor/internal/adapters/redis"
	"github.com/selivandex/lp-advisor/internal/adapters/telegram"
	"github.com/selivandex/lp-advisor/internal/analytics"
	"github.com/selivandex/lp-advisor/internal/engine"
	"github.com/selivandex/lp-advisor/internal/health"
	"github.com/selivandex/lp-advisor/internal/recommendations"
	"github.com/selivandex/lp-advisor/pkg/logger"
	"github.com/selivandex/lp-advisor/pkg/metrics"
	"github.com/selivandex/lp-advisor/pkg/models"
	"github.com/selivandex/lp-advisor/pkg/worker"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the advisor engine until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfg)
		},
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger.Info("LP advisor starting",
		zap.Int("pools", len(cfg.Engine.Pools)),
		zap.Duration("interval", cfg.Engine.Interval),
		zap.String("store", cfg.Engine.Store),
		zap.String("market", cfg.Market.Provider),
	)

	in, err := openInfra(ctx, cfg)
	if err != nil {
		return err
	}
	defer in.Close()

	m := metrics.New()

	provider, err := startMarket(ctx, cfg)
	if err != nil {
		return err
	}

	publisher, closePublisher := buildPublisher(ctx, cfg, in)
	defer closePublisher()

	notifier, err := telegram.NewNotifier(&cfg.Telegram)
	if err != nil {
		logger.Warn("telegram alerts disabled", zap.Error(err))
		notifier = nil
	}

	var lease redisAdapter.Lease = redisAdapter.LocalLease{}
	if in.redis != nil {
		lease = in.redis.NewLease(cfg.Redis.LockKey, cfg.Redis.LockTTL)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lease.Release(releaseCtx); err != nil {
			logger.Warn("failed to release engine lease", zap.Error(err))
		}
	}()

	eng := engine.New(engine.Deps{
		Config:    config.NewStaticProvider(cfg),
		Market:    provider,
		Store:     in.store,
		Publisher: publisher,
		Metrics:   m,
		Notifier:  notifier,
		Lease:     lease,
	})

	var healthServer *health.Server
	if cfg.Health.Enabled {
		healthServer = health.NewServer(fmt.Sprintf(":%d", cfg.Health.Port), in.checkers(), m.Handler())
		go func() {
			if err := healthServer.Start(); err != nil {
				logger.Error("health server failed", zap.Error(err))
			}
		}()
	}

	group := worker.NewGroup(ctx)
	group.Add(eng, cfg.Engine.Interval)

	if cfg.Frame.MonitorInterval > 0 {
		iv, _ := models.ParseInterval(cfg.Frame.Interval)
		monitor := engine.NewFrameMonitor(
			analytics.NewFrameBuilder(in.store, cfg.Frame.Concurrency),
			cfg.Engine.Pools,
			analytics.FrameQuery{TakePools: cfg.Frame.TakePools, Interval: iv, Lookback: cfg.Frame.Lookback},
			m,
		)
		group.Add(monitor, cfg.Frame.MonitorInterval)
	}
	group.Start()

	if healthServer != nil {
		healthServer.SetReady(true)
	}

	<-ctx.Done()
	logger.Info("shutdown requested")

	if healthServer != nil {
		healthServer.SetReady(false)
	}
	group.Stop(cfg.Engine.StopTimeout)

	if healthServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := healthServer.Stop(shutdownCtx); err != nil {
			logger.Warn("health server shutdown failed", zap.Error(err))
		}
	}

	logger.Info("LP advisor stopped")
	return nil
}

// startMarket builds the price provider; the WebSocket feed runs until ctx
// is cancelled
func startMarket(ctx context.Context, cfg *config.Config) (market.Provider, error) {
	switch cfg.Market.Provider {
	case "websocket":
		feed := market.NewWebSocketFeed(cfg.Market.FeedURL, cfg.Engine.Pools, cfg.Market.MaxStaleness)
		go func() {
			if err := feed.Run(ctx); err != nil {
				logger.Error("market feed stopped", zap.Error(err))
			}
		}()
		return feed, nil
	case "coingecko":
		return market.NewCoinGeckoProvider(cfg.Market.CoinGeckoURL, cfg.Market.CoinGeckoRPS), nil
	case "stub":
		logger.Warn("using stub market data")
		return market.NewStubProvider(cfg.Market.Seed), nil
	}
	return nil, fmt.Errorf("unknown market provider %q", cfg.Market.Provider)
}

// buildPublisher fans recommendations out to the in-process queue (or the
// shared Redis list) and the ClickHouse history writer
func buildPublisher(ctx context.Context, cfg *config.Config, in *infra) (recommendations.Publisher, func()) {
	var primary recommendations.Store = recommendations.NewQueue(cfg.Engine.QueueCapacity)
	if in.redis != nil {
		primary = redisAdapter.NewRecommendationStore(in.redis.Redis(), cfg.Redis.RecsKey, cfg.Engine.QueueCapacity)
	}

	var sinks []recommendations.Publisher
	closeFn := func() {}

	if in.ch != nil {
		repo := clickhouse.NewRepository(in.ch.DB())
		schemaCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := repo.EnsureSchema(schemaCtx)
		cancel()
		if err != nil {
			logger.Warn("recommendation history disabled", zap.Error(err))
		} else {
			writer := clickhouse.NewRecommendationWriter(repo, cfg.ClickHouse.BatchSize, cfg.ClickHouse.FlushInterval)
			sinks = append(sinks, writer)
			closeFn = func() {
				if err := writer.Close(); err != nil {
					logger.Warn("failed to flush recommendation history", zap.Error(err))
				}
			}
		}
	}

	return recommendations.NewFanout(primary, sinks...), closeFn
}
