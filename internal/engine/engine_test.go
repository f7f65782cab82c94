package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selivandex/lp-advisor/internal/adapters/config"
	"github.com/selivandex/lp-advisor/internal/adapters/market"
	"github.com/selivandex/lp-advisor/internal/recommendations"
	"github.com/selivandex/lp-advisor/internal/storage/memory"
	"github.com/selivandex/lp-advisor/pkg/logger"
	"github.com/selivandex/lp-advisor/pkg/metrics"
	"github.com/selivandex/lp-advisor/pkg/models"
)

var (
	t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	ethPool  = models.Pool{ChainID: 1, Token0: "ETH", Token1: "USDC", FeeTier: 3000}
	wbtcPool = models.Pool{ChainID: 1, Token0: "WBTC", Token1: "USDC", FeeTier: 3000}

	calm     = &models.Signals{VolNorm: 0.02, TrendR2: 0.1, EmaSlopeAbs: 0.001, Source: "test"}
	volatile = &models.Signals{VolNorm: 0.20, TrendR2: 0.1, EmaSlopeAbs: 0.001, Source: "test"}
)

type fakeConfig struct {
	snap config.Snapshot
	err  error
}

func (f *fakeConfig) Snapshot(context.Context) (config.Snapshot, error) {
	return f.snap, f.err
}

func defaultSnapshot(pools ...models.Pool) config.Snapshot {
	return config.Snapshot{
		Pools: pools,
		Regime: config.RegimeConfig{
			SidewaysVolMax: 0.06, SidewaysR2Max: 0.35,
			TrendR2Min: 0.70, TrendSlopeAbsMin: 0.005,
			VolatileVolMin: 0.12, VolatileR2Max: 0.55,
		},
		Heat: config.HeatConfig{
			CoolThreshold: 40, HotThreshold: 70,
			ConfirmationsCool: 2, ConfirmationsMid: 3, ConfirmationsHot: 4,
		},
		Adjust: config.AdjustConfig{
			ReinvestCoolBoost: 1.15, ReinvestHotPenalty: 0.80,
			ReallocateHotBoost: 1.20, SuperMacroHotPenalty: 0.90,
		},
		Retention: config.RetentionConfig{
			Ticks: 72 * time.Hour, Bars1m: 14 * 24 * time.Hour, Bars5m: 180 * 24 * time.Hour,
		},
		MinDwell:       2 * time.Minute,
		RollupLookback: 20 * time.Minute,
	}
}

// fakeMarket serves a fixed price and signals per pool at the engine clock
type fakeMarket struct {
	mu      sync.Mutex
	now     func() time.Time
	price   map[string]float64
	block   map[string]int64
	signals *models.Signals
	errs    map[string]error
}

func newFakeMarket(now func() time.Time) *fakeMarket {
	return &fakeMarket{
		now:     now,
		price:   map[string]float64{},
		block:   map[string]int64{},
		signals: calm,
		errs:    map[string]error{},
	}
}

func (f *fakeMarket) Snapshot(ctx context.Context, pool models.Pool) (market.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return market.Snapshot{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.errs[pool.ID()]; err != nil {
		return market.Snapshot{}, err
	}
	price, ok := f.price[pool.ID()]
	if !ok {
		price = 100
	}
	return market.Snapshot{
		Pool:        pool,
		AsOfUTC:     f.now(),
		Price:       price,
		BlockNumber: f.block[pool.ID()],
		Source:      "fake",
		Signals:     f.signals,
	}, nil
}

type switchAlert struct {
	from models.Regime
	rec  models.Recommendation
}

type fakeNotifier struct {
	switches []switchAlert
	errs     []error
}

func (f *fakeNotifier) NotifyRegimeSwitch(_ context.Context, from models.Regime, rec models.Recommendation) error {
	f.switches = append(f.switches, switchAlert{from: from, rec: rec})
	return nil
}

func (f *fakeNotifier) NotifyError(_ context.Context, _ string, err error) error {
	f.errs = append(f.errs, err)
	return nil
}

type fakeLease struct {
	held    bool
	grant   bool
	err     error
	attempt int
}

func (f *fakeLease) TryAcquire(context.Context) (bool, error) {
	f.attempt++
	if f.err != nil {
		return false, f.err
	}
	f.held = f.grant
	return f.grant, nil
}

func (f *fakeLease) Held() bool { return f.held }

type harness struct {
	engine   *Engine
	market   *fakeMarket
	store    *memory.Store
	queue    *recommendations.Queue
	metrics  *metrics.Metrics
	notifier *fakeNotifier
	cfg      *fakeConfig
	clock    time.Time
}

func newHarness(t *testing.T, pools ...models.Pool) *harness {
	t.Helper()
	logger.InitNop()

	h := &harness{
		store:    memory.NewStore(),
		queue:    recommendations.NewQueue(recommendations.DefaultCapacity),
		metrics:  metrics.New(),
		notifier: &fakeNotifier{},
		cfg:      &fakeConfig{snap: defaultSnapshot(pools...)},
		clock:    t0,
	}
	now := func() time.Time { return h.clock }
	h.market = newFakeMarket(now)

	h.engine = New(Deps{
		Config:    h.cfg,
		Market:    h.market,
		Store:     h.store,
		Publisher: h.queue,
		Metrics:   h.metrics,
		Notifier:  h.notifier,
	})
	h.engine.now = now

	ids := 0
	h.engine.newID = func() uuid.UUID {
		ids++
		return uuid.NewSHA1(uuid.NameSpaceOID, []byte{byte(ids)})
	}
	return h
}

func (h *harness) tick(t *testing.T) {
	t.Helper()
	require.NoError(t, h.engine.Run(context.Background()))
	h.clock = h.clock.Add(10 * time.Second)
}

func TestRunPublishesPerPool(t *testing.T) {
	h := newHarness(t, ethPool, wbtcPool)
	h.tick(t)

	recs, err := h.queue.Latest(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	// Newest first
	assert.Equal(t, "wbtc/usdc/3000", recs[0].PoolAddress)
	rec := recs[1]
	assert.Equal(t, "eth/usdc/3000", rec.PoolAddress)
	assert.Equal(t, "ETH", rec.Token0)
	assert.Equal(t, 3000, rec.FeeTier)
	assert.Equal(t, models.RegimeSideways, rec.Regime)
	assert.Equal(t, t0, rec.CreatedUTC)

	// One tick gives no returns, so heat is neutral and scores are unadjusted
	assert.Equal(t, 50, rec.Details.Heat.Blended)
	assert.False(t, rec.Details.Heat.Tactical.Valid)
	assert.False(t, rec.Details.Ret.M5.Valid)
	assert.Equal(t, 78, rec.ReinvestScore)
	assert.Equal(t, 33, rec.ReallocateScore)
	assert.Equal(t, "Regime=Sideways, Heat=50 (T=n/a,S=n/a,M=n/a,SM=n/a), Reinvest=78.0, Reallocate=33.0", rec.Summary)
	assert.Empty(t, rec.Details.Quality)

	latest, err := h.store.LatestTick(context.Background(), 1, "eth/usdc/3000")
	require.NoError(t, err)
	assert.Equal(t, 100.0, latest.Price)

	bars, err := h.store.GetBars(context.Background(), 1, "eth/usdc/3000", models.IntervalM5, t0.Add(-time.Hour), t0)
	require.NoError(t, err)
	assert.Len(t, bars, 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Iterations))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.RecommendationsEmitted.WithLabelValues("Sideways")))
	assert.Equal(t, 50.0, testutil.ToFloat64(h.metrics.BlendedHeat.WithLabelValues("1|eth/usdc/3000")))
}

func TestRunHeatFromWindows(t *testing.T) {
	h := newHarness(t, ethPool)
	for i := 0; i < 6; i++ {
		h.tick(t)
	}

	recs, err := h.queue.Latest(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	// Flat prices: zero returns everywhere, zero vol so no ratio
	d := recs[0].Details
	assert.True(t, d.Ret.M5.Valid)
	assert.Equal(t, 0.0, d.Ret.M5.Value)
	assert.True(t, d.Vol.H1.Valid)
	assert.Equal(t, 0.0, d.Vol.H1.Value)
	assert.Equal(t, 50.0, d.Heat.Tactical.Value)
	assert.Equal(t, 50, d.Heat.Blended)
}

func TestRegimeSwitchNeedsDwellAndConfirmations(t *testing.T) {
	h := newHarness(t, ethPool)

	h.tick(t) // seeds Sideways at t0
	h.market.signals = volatile

	// Inside the two-minute dwell nothing counts; then three mid-heat
	// confirmations at t0+120s, +130s and +140s
	for i := 1; i < 14; i++ {
		h.tick(t)
		st, ok := h.engine.Machine().State("1|eth/usdc/3000")
		require.True(t, ok)
		require.Equal(t, models.RegimeSideways, st.Current, "iteration %d", i)
	}
	assert.Empty(t, h.notifier.switches)

	h.tick(t)

	st, _ := h.engine.Machine().State("1|eth/usdc/3000")
	assert.Equal(t, models.RegimeVolatile, st.Current)
	assert.Equal(t, t0.Add(140*time.Second), st.LastChangeUTC)

	require.Len(t, h.notifier.switches, 1)
	alert := h.notifier.switches[0]
	assert.Equal(t, models.RegimeSideways, alert.from)
	assert.Equal(t, models.RegimeVolatile, alert.rec.Regime)

	recs, _ := h.queue.Latest(context.Background(), 1)
	assert.Equal(t, models.RegimeVolatile, recs[0].Regime)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.RegimeSwitches.WithLabelValues("1|eth/usdc/3000", "Sideways", "Volatile")))
}

func TestPoolFailureDoesNotStopOthers(t *testing.T) {
	h := newHarness(t, ethPool, wbtcPool)
	h.market.errs["eth/usdc/3000"] = errors.New("rpc timeout")

	h.tick(t)

	recs, _ := h.queue.Latest(context.Background(), 10)
	require.Len(t, recs, 1)
	assert.Equal(t, "wbtc/usdc/3000", recs[0].PoolAddress)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.PoolFailures.WithLabelValues("1|eth/usdc/3000", stageSnapshot)))
	assert.Empty(t, h.notifier.errs)
}

func TestAllPoolsFailingIsReported(t *testing.T) {
	h := newHarness(t, ethPool, wbtcPool)
	h.market.errs["eth/usdc/3000"] = errors.New("down")
	h.market.errs["wbtc/usdc/3000"] = errors.New("down")

	h.tick(t)

	assert.Equal(t, 0, h.queue.Len())
	require.Len(t, h.notifier.errs, 1)
	assert.ErrorContains(t, h.notifier.errs[0], "all 2 pools failed")
}

func TestConfigFailureSkipsIteration(t *testing.T) {
	h := newHarness(t, ethPool)
	h.cfg.err = errors.New("config store unavailable")

	h.tick(t)

	assert.Equal(t, 0, h.queue.Len())
	assert.Len(t, h.notifier.errs, 1)
}

func TestNoSignalsKeepsRegime(t *testing.T) {
	h := newHarness(t, ethPool)
	h.market.signals = nil

	h.tick(t)

	// Not enough m5 bars to derive signals: nothing classified or published
	assert.Equal(t, 0, h.queue.Len())
	_, ok := h.engine.Machine().State("1|eth/usdc/3000")
	assert.False(t, ok)

	// The tick is still stored and rolled up
	_, err := h.store.LatestTick(context.Background(), 1, "eth/usdc/3000")
	assert.NoError(t, err)
}

func TestSignalsFromBars(t *testing.T) {
	h := newHarness(t, ethPool)
	h.market.signals = nil

	// Two hours and forty minutes of trending m5 bars already in the store
	price := 100.0
	for i := 40; i > 0; i-- {
		price *= 1.003
		bar := models.Bar{
			ChainID:     1,
			PoolAddress: "eth/usdc/3000",
			Interval:    models.IntervalM5,
			BucketUTC:   t0.Add(-time.Duration(i) * 5 * time.Minute),
			Open:        price / 1.003,
			High:        price * 1.0005,
			Low:         price / 1.003 * 0.9995,
			Close:       price,
			Samples:     30,
		}
		require.NoError(t, h.store.UpsertBar(context.Background(), &bar))
	}
	h.market.price["eth/usdc/3000"] = price

	h.tick(t)

	recs, _ := h.queue.Latest(context.Background(), 1)
	require.Len(t, recs, 1)
	assert.Equal(t, "bars", recs[0].Details.Signals.Source)
	assert.Equal(t, models.RegimeTrending, recs[0].Regime)
}

func TestDuplicateBlockAndQualityFlags(t *testing.T) {
	h := newHarness(t, ethPool)
	h.market.block["eth/usdc/3000"] = 18_000_000

	h.tick(t)
	h.market.price["eth/usdc/3000"] = 150
	h.tick(t)

	// Same block again: stored tick is unchanged but the pool still publishes
	assert.Equal(t, 2, h.queue.Len())
	latest, err := h.store.LatestTick(context.Background(), 1, "eth/usdc/3000")
	require.NoError(t, err)
	assert.Equal(t, 100.0, latest.Price)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.TicksIngested.WithLabelValues("1|eth/usdc/3000")))

	recs, _ := h.queue.Latest(context.Background(), 1)
	assert.Equal(t, "PriceJump", recs[0].Details.Quality)
}

func TestLeaseStandby(t *testing.T) {
	h := newHarness(t, ethPool)
	lease := &fakeLease{grant: false}
	h.engine.lease = lease

	h.tick(t)
	assert.Equal(t, 0, h.queue.Len())
	assert.Equal(t, 1, lease.attempt)

	lease.grant = true
	h.tick(t)
	assert.Equal(t, 1, h.queue.Len())

	// Held leases are not re-acquired
	h.tick(t)
	assert.Equal(t, 2, lease.attempt)

	// Losing and regaining leadership drops regime state
	lease.held = false
	h.tick(t)
	assert.Equal(t, 3, lease.attempt)
	st, ok := h.engine.Machine().State("1|eth/usdc/3000")
	require.True(t, ok)
	assert.Equal(t, h.clock.Add(-10*time.Second), st.LastChangeUTC)
}

func TestLeaseErrorStandsBy(t *testing.T) {
	h := newHarness(t, ethPool)
	h.engine.lease = &fakeLease{err: errors.New("redis down")}

	h.tick(t)
	assert.Equal(t, 0, h.queue.Len())
}

func TestRunCancelled(t *testing.T) {
	h := newHarness(t, ethPool)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.engine.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, h.queue.Len())
}

func TestNewTickCountsInSameIteration(t *testing.T) {
	h := newHarness(t, ethPool)

	// Every clock reading is a second later, like wall time during a run
	clock := t0
	wall := func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	h.engine.now = wall
	h.market.now = wall

	require.NoError(t, h.engine.Run(context.Background()))
	require.NoError(t, h.engine.Run(context.Background()))

	recs, err := h.queue.Latest(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Details.Ret.M5.Valid, "both stored ticks belong in the 5m window")

	bars, err := h.store.GetBars(context.Background(), 1, "eth/usdc/3000", models.IntervalM1, t0, t0.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, 2, bars[0].Samples)
}

func TestMarketClockAheadOfEngine(t *testing.T) {
	h := newHarness(t, ethPool)
	h.market.now = func() time.Time { return h.clock.Add(5 * time.Second) }

	h.tick(t)
	h.tick(t)

	recs, err := h.queue.Latest(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Details.Ret.M5.Valid)
	assert.Empty(t, recs[0].Details.Quality)

	ticks, err := h.store.GetTicks(context.Background(), 1, "eth/usdc/3000", t0, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, ticks, 2)
}

func TestUnchangedSnapshotIsStoredOnce(t *testing.T) {
	h := newHarness(t, ethPool)
	h.market.now = func() time.Time { return t0 }

	for i := 0; i < 3; i++ {
		h.tick(t)
	}

	ticks, err := h.store.GetTicks(context.Background(), 1, "eth/usdc/3000", t0.Add(-time.Minute), t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, ticks, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.TicksIngested.WithLabelValues("1|eth/usdc/3000")))

	bars, err := h.store.GetBars(context.Background(), 1, "eth/usdc/3000", models.IntervalM1, t0, t0)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, 1, bars[0].Samples)

	// The pool keeps publishing from what it has
	assert.Equal(t, 3, h.queue.Len())
}

func TestSamePairOnTwoChainsKeepsSeparateState(t *testing.T) {
	arbPool := models.Pool{ChainID: 42161, Token0: "ETH", Token1: "USDC", FeeTier: 3000}
	h := newHarness(t, ethPool, arbPool)

	h.tick(t)

	assert.Equal(t, 2, h.engine.Machine().Len())
	_, ok := h.engine.Machine().State("1|eth/usdc/3000")
	assert.True(t, ok)
	_, ok = h.engine.Machine().State("42161|eth/usdc/3000")
	assert.True(t, ok)

	assert.Equal(t, 2, h.queue.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.TicksIngested.WithLabelValues("1|eth/usdc/3000")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.TicksIngested.WithLabelValues("42161|eth/usdc/3000")))
}
