// Package rollup turns raw ticks into fixed-width OHLC bars and enforces
// retention on ticks and bars.
package rollup

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/selivandex/lp-advisor/internal/adapters/config"
	"github.com/selivandex/lp-advisor/internal/storage"
	"github.com/selivandex/lp-advisor/pkg/logger"
	"github.com/selivandex/lp-advisor/pkg/models"
)

// BuildBars groups ticks by bucket and returns one bar per bucket in
// ascending order. Ticks with a non-positive price never enter a bar.
// Output depends only on the set of ticks, not on their input order.
func BuildBars(chainID int64, pool string, interval models.Interval, ticks []models.Tick) []models.Bar {
	valid := make([]models.Tick, 0, len(ticks))
	for _, t := range ticks {
		if t.Price > 0 {
			valid = append(valid, t)
		}
	}
	if len(valid) == 0 {
		return nil
	}

	sort.SliceStable(valid, func(i, j int) bool {
		a, b := valid[i], valid[j]
		if !a.TimestampUTC.Equal(b.TimestampUTC) {
			return a.TimestampUTC.Before(b.TimestampUTC)
		}
		if a.BlockNumber != b.BlockNumber {
			return a.BlockNumber < b.BlockNumber
		}
		return a.Price < b.Price
	})

	pool = models.NormalizePoolID(pool)
	var bars []models.Bar
	for _, t := range valid {
		bucket := interval.Truncate(t.TimestampUTC)

		if n := len(bars); n > 0 && bars[n-1].BucketUTC.Equal(bucket) {
			b := &bars[n-1]
			b.Close = t.Price
			if t.Price > b.High {
				b.High = t.Price
			}
			if t.Price < b.Low {
				b.Low = t.Price
			}
			b.Samples++
			continue
		}

		bars = append(bars, models.Bar{
			ChainID:     chainID,
			PoolAddress: pool,
			Interval:    interval,
			BucketUTC:   bucket,
			Open:        t.Price,
			High:        t.Price,
			Low:         t.Price,
			Close:       t.Price,
			Samples:     1,
		})
	}
	return bars
}

// Store is the persistence surface the roller needs
type Store interface {
	storage.TickStore
	storage.BarStore
}

// Roller rebuilds recent bars from ticks and purges aged data
type Roller struct {
	store Store
}

// NewRoller creates a roller over store
func NewRoller(store Store) *Roller {
	return &Roller{store: store}
}

// Roll rebuilds every bar interval for one pool over the last lookback.
// The window starts on a bucket boundary of each interval so a re-run never
// rewrites a bar from a partial set of its ticks.
func (r *Roller) Roll(ctx context.Context, chainID int64, pool string, now time.Time, lookback time.Duration) (int, error) {
	now = now.UTC()
	written := 0

	for _, iv := range models.Intervals {
		from := iv.Truncate(now.Add(-lookback))

		ticks, err := r.store.GetTicks(ctx, chainID, pool, from, now)
		if err != nil {
			return written, fmt.Errorf("failed to load ticks for %s rollup: %w", iv, err)
		}

		for _, bar := range BuildBars(chainID, pool, iv, ticks) {
			if err := r.store.UpsertBar(ctx, &bar); err != nil {
				return written, fmt.Errorf("failed to upsert %s bar %s: %w", iv, bar.BucketUTC.Format(time.RFC3339), err)
			}
			written++
		}
	}

	return written, nil
}

// Purge deletes ticks and bars older than their retention relative to now.
// A failure on one dataset does not stop the others; the first error is
// returned.
func (r *Roller) Purge(ctx context.Context, now time.Time, retention config.RetentionConfig) error {
	now = now.UTC()
	var firstErr error

	n, err := r.store.PurgeTicksOlderThan(ctx, now.Add(-retention.Ticks))
	if err != nil {
		firstErr = fmt.Errorf("failed to purge ticks: %w", err)
	} else if n > 0 {
		logger.Debug("purged ticks", zap.Int64("count", n))
	}

	for _, iv := range models.Intervals {
		n, err := r.store.PurgeBarsOlderThan(ctx, iv, now.Add(-retention.For(iv)))
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to purge %s bars: %w", iv, err)
			}
			continue
		}
		if n > 0 {
			logger.Debug("purged bars", zap.String("interval", string(iv)), zap.Int64("count", n))
		}
	}

	return firstErr
}
