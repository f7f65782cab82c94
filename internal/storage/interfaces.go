// Package storage defines the persistence contracts for raw ticks and
// rolled-up bars. All ranges are inclusive on both ends and results are
// ordered by timestamp ascending. Pool ids are compared lower-cased.
package storage

import (
	"context"
	"time"

	"github.com/selivandex/lp-advisor/pkg/models"
)

// TickStore persists raw, append-only price ticks.
type TickStore interface {
	// InsertTick appends a tick. Returns ErrDuplicateKey when a tick with the
	// same non-zero block number already exists for the pool.
	InsertTick(ctx context.Context, tick *models.Tick) error

	// GetTicks returns ticks with from <= ts <= to.
	GetTicks(ctx context.Context, chainID int64, pool string, from, to time.Time) ([]models.Tick, error)

	// LatestTick returns the most recent tick, or ErrNotFound.
	LatestTick(ctx context.Context, chainID int64, pool string) (*models.Tick, error)

	// PurgeTicksOlderThan deletes ticks with ts < cutoff and reports the count.
	PurgeTicksOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// BarStore persists OHLC bars keyed by (chain, pool, bucket, interval).
type BarStore interface {
	// UpsertBar inserts or fully replaces the bar with the same key.
	UpsertBar(ctx context.Context, bar *models.Bar) error

	// GetBars returns bars of one interval with from <= bucket <= to.
	GetBars(ctx context.Context, chainID int64, pool string, interval models.Interval, from, to time.Time) ([]models.Bar, error)

	// PurgeBarsOlderThan deletes bars of one interval with bucket < cutoff.
	PurgeBarsOlderThan(ctx context.Context, interval models.Interval, cutoff time.Time) (int64, error)
}

// PoolCatalog lists pools that have any stored data.
type PoolCatalog interface {
	// ListKnownPools returns distinct pool ids seen in ticks or bars for the
	// chain, sorted ascending.
	ListKnownPools(ctx context.Context, chainID int64) ([]string, error)
}

// Store is the full tick and bar persistence surface.
type Store interface {
	TickStore
	BarStore
	PoolCatalog
}
