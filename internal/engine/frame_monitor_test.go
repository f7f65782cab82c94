package engine

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selivandex/lp-advisor/internal/analytics"
	"github.com/selivandex/lp-advisor/internal/storage/memory"
	"github.com/selivandex/lp-advisor/pkg/logger"
	"github.com/selivandex/lp-advisor/pkg/metrics"
	"github.com/selivandex/lp-advisor/pkg/models"
)

func TestFrameMonitor(t *testing.T) {
	logger.InitNop()
	store := memory.NewStore()

	// Chain 1 has two dense pools, chain 10 has a single pool
	for _, p := range []struct {
		chain int64
		pool  string
	}{{1, "0xa"}, {1, "0xb"}, {10, "0xc"}} {
		for i := 0; i <= 60; i++ {
			bar := models.Bar{
				ChainID:     p.chain,
				PoolAddress: p.pool,
				Interval:    models.IntervalM1,
				BucketUTC:   t0.Add(-time.Hour + time.Duration(i)*time.Minute),
				Open:        100,
				High:        100,
				Low:         100,
				Close:       100 + float64(i%3),
				Samples:     6,
			}
			require.NoError(t, store.UpsertBar(context.Background(), &bar))
		}
	}

	m := metrics.New()
	pools := []models.Pool{
		{ChainID: 1, Token0: "ETH", Token1: "USDC", FeeTier: 3000},
		{ChainID: 1, Token0: "WBTC", Token1: "USDC", FeeTier: 3000},
		{ChainID: 10, Token0: "OP", Token1: "USDC", FeeTier: 500},
	}
	fm := NewFrameMonitor(analytics.NewFrameBuilder(store, 2), pools, analytics.FrameQuery{
		TakePools: 6,
		Interval:  models.IntervalM1,
		Lookback:  time.Hour,
	}, m)
	fm.now = func() time.Time { return t0 }

	assert.Equal(t, []int64{1, 10}, fm.chains)
	require.NoError(t, fm.Run(context.Background()))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.FrameBuilds.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FrameBuilds.WithLabelValues("insufficient")))
}
