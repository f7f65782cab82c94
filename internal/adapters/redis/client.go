package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/amyangfei/redlock-go/v3/redlock"
	redis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/selivandex/lp-advisor/internal/adapters/config"
	"github.com/selivandex/lp-advisor/pkg/logger"
)

// Client wraps a RedLock manager for the engine lease and a standard Redis
// client for the shared recommendation queue
type Client struct {
	lockManager *redlock.RedLock
	rdb         *redis.Client
	addr        string
}

// New connects both clients and pings Redis
func New(ctx context.Context, cfg *config.RedisConfig) (*Client, error) {
	addr := cfg.Addr()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	lockManager, err := redlock.NewRedLock(ctx, []string{"tcp://" + addr})
	if err != nil {
		return nil, fmt.Errorf("failed to create redlock manager: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("redis client initialized",
		zap.String("address", addr),
		zap.Int("db", cfg.DB),
	)

	return &Client{lockManager: lockManager, rdb: rdb, addr: addr}, nil
}

// Redis returns the underlying client
func (c *Client) Redis() *redis.Client {
	return c.rdb
}

// NewLease creates the engine ownership lease on key
func (c *Client) NewLease(key string, ttl time.Duration) *EngineLease {
	return NewEngineLease(c.lockManager, key, ttl)
}

// Health pings Redis
func (c *Client) Health(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Close closes the Redis client. RedLock connections close on their own.
func (c *Client) Close() error {
	logger.Info("closing redis client", zap.String("address", c.addr))
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("failed to close redis: %w", err)
	}
	return nil
}
