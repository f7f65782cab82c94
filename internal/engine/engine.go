// Package engine runs the per-pool analytics pipeline once per scheduler
// tick: ingest, rollup, windows, heat, regime, scores, publish.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/selivandex/lp-advisor/internal/adapters/config"
	"github.com/selivandex/lp-advisor/internal/adapters/market"
	"github.com/selivandex/lp-advisor/internal/analytics"
	"github.com/selivandex/lp-advisor/internal/indicators"
	"github.com/selivandex/lp-advisor/internal/quality"
	"github.com/selivandex/lp-advisor/internal/recommendations"
	"github.com/selivandex/lp-advisor/internal/regime"
	"github.com/selivandex/lp-advisor/internal/rollup"
	"github.com/selivandex/lp-advisor/internal/storage"
	"github.com/selivandex/lp-advisor/internal/strategy"
	"github.com/selivandex/lp-advisor/pkg/logger"
	"github.com/selivandex/lp-advisor/pkg/metrics"
	"github.com/selivandex/lp-advisor/pkg/models"
)

// Lookback windows. Short ones read raw ticks, long ones read m5 bars.
const (
	window5m  = 5 * time.Minute
	window15m = 15 * time.Minute
	window1h  = time.Hour
	window6h  = 6 * time.Hour
	window24h = 24 * time.Hour
	window30d = 30 * 24 * time.Hour
)

// Pipeline stages used as failure labels
const (
	stageSnapshot = "snapshot"
	stagePersist  = "persist"
	stageRollup   = "rollup"
	stageWindows  = "windows"
	stagePublish  = "publish"
)

// Store is the persistence the engine writes ticks to and reads windows from
type Store interface {
	storage.TickStore
	storage.BarStore
}

// ConfigProvider hands out a read-only config snapshot per iteration
type ConfigProvider interface {
	Snapshot(ctx context.Context) (config.Snapshot, error)
}

// Notifier receives regime switches and engine failures
type Notifier interface {
	NotifyRegimeSwitch(ctx context.Context, from models.Regime, rec models.Recommendation) error
	NotifyError(ctx context.Context, component string, err error) error
}

// Lease decides which instance owns regime state
type Lease interface {
	TryAcquire(ctx context.Context) (bool, error)
	Held() bool
}

// Deps are the collaborators of an Engine. Notifier and Lease are optional.
type Deps struct {
	Config    ConfigProvider
	Market    market.Provider
	Store     Store
	Publisher recommendations.Publisher
	Scorer    strategy.Scorer
	Metrics   *metrics.Metrics
	Notifier  Notifier
	Lease     Lease
}

// Engine evaluates every configured pool once per Run. Regime state is
// owned by the engine and lives for the process lifetime.
type Engine struct {
	cfg       ConfigProvider
	market    market.Provider
	store     Store
	roller    *rollup.Roller
	machine   *regime.Machine
	scorer    strategy.Scorer
	signals   *indicators.Calculator
	publisher recommendations.Publisher
	metrics   *metrics.Metrics
	notifier  Notifier
	lease     Lease

	leading bool
	now     func() time.Time
	newID   func() uuid.UUID
}

// New wires an engine from its dependencies
func New(d Deps) *Engine {
	scorer := d.Scorer
	if scorer == nil {
		scorer = strategy.NewBaseScorer()
	}
	m := d.Metrics
	if m == nil {
		m = metrics.New()
	}

	return &Engine{
		cfg:       d.Config,
		market:    d.Market,
		store:     d.Store,
		roller:    rollup.NewRoller(d.Store),
		machine:   regime.NewMachine(),
		scorer:    scorer,
		signals:   indicators.NewCalculator(),
		publisher: d.Publisher,
		metrics:   m,
		notifier:  d.Notifier,
		lease:     d.Lease,
		now:       time.Now,
		newID:     uuid.New,
	}
}

// Name returns worker name
func (e *Engine) Name() string {
	return "pool_engine"
}

// Machine exposes the regime state for inspection
func (e *Engine) Machine() *regime.Machine {
	return e.machine
}

// Run executes one iteration over all pools. A failing pool is logged and
// counted and never stops the others; only cancellation is returned.
func (e *Engine) Run(ctx context.Context) error {
	if !e.ensureLeader(ctx) {
		return nil
	}

	start := e.now()
	snap, err := e.cfg.Snapshot(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Error("failed to read config snapshot, skipping iteration", zap.Error(err))
		e.notifyError(ctx, fmt.Errorf("config snapshot: %w", err))
		return nil
	}

	if err := e.roller.Purge(ctx, start.UTC(), snap.Retention); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("retention purge failed", zap.Error(err))
	}

	adjuster := strategy.NewAdjuster(snap.Heat, snap.Adjust)

	var failed, published int
	for _, pool := range snap.Pools {
		if err := ctx.Err(); err != nil {
			return err
		}

		rec, err := e.evaluatePool(ctx, snap, adjuster, pool)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failed++
			continue
		}
		if rec != nil {
			published++
		}
	}

	e.metrics.Iterations.Inc()
	e.metrics.IterationDuration.Observe(time.Since(start).Seconds())

	logger.Debug("engine iteration complete",
		zap.Int("pools", len(snap.Pools)),
		zap.Int("published", published),
		zap.Int("failed", failed),
		zap.Duration("latency", time.Since(start)),
	)

	if failed > 0 && failed == len(snap.Pools) {
		e.notifyError(ctx, fmt.Errorf("all %d pools failed this iteration", failed))
	}

	return nil
}

// ensureLeader reports whether this instance may run the pipeline. Regime
// state is dropped when leadership is regained because another instance may
// have moved on in between.
func (e *Engine) ensureLeader(ctx context.Context) bool {
	if e.lease == nil {
		return true
	}
	if e.lease.Held() {
		e.leading = true
		return true
	}

	if e.leading {
		logger.Warn("engine lease lost, standing by")
		e.leading = false
	}

	ok, err := e.lease.TryAcquire(ctx)
	if err != nil {
		logger.Error("failed to acquire engine lease", zap.Error(err))
		return false
	}
	if !ok {
		logger.Debug("engine lease held elsewhere, standing by")
		return false
	}

	if e.machine.Len() > 0 {
		e.machine = regime.NewMachine()
	}
	e.leading = true
	return true
}

// stateKey identifies a pool across chains for regime state and metrics
func stateKey(pool models.Pool) string {
	return fmt.Sprintf("%d|%s", pool.ChainID, pool.ID())
}

// evaluatePool runs the whole pipeline for one pool. A nil recommendation
// without error means detection was skipped for lack of signals.
func (e *Engine) evaluatePool(ctx context.Context, snap config.Snapshot, adjuster *strategy.Adjuster, pool models.Pool) (*models.Recommendation, error) {
	poolID := pool.ID()
	key := stateKey(pool)

	ms, err := e.market.Snapshot(ctx, pool)
	if err != nil {
		return nil, e.fail(pool, stageSnapshot, err)
	}

	// The clock is read after the snapshot so the new tick falls inside
	// this iteration's rollup and windows.
	now := e.now().UTC()
	if ts := ms.AsOfUTC.UTC(); ts.After(now) && ts.Sub(now) <= quality.MaxFutureDrift {
		now = ts
	}

	tick, err := e.ingest(ctx, ms, pool, now)
	if err != nil {
		return nil, e.fail(pool, stagePersist, err)
	}

	if _, err := e.roller.Roll(ctx, pool.ChainID, poolID, now, snap.RollupLookback); err != nil {
		return nil, e.fail(pool, stageRollup, err)
	}

	w, err := e.readWindows(ctx, pool.ChainID, poolID, now)
	if err != nil {
		return nil, e.fail(pool, stageWindows, err)
	}

	heat := analytics.Heat(w.ret, w.vol)
	e.metrics.BlendedHeat.WithLabelValues(key).Set(float64(heat.Blended))

	logger.Info("pool heat",
		zap.String("pool", poolID),
		zap.Int("blended", heat.Blended),
		zap.Stringer("tactical", heat.Tactical),
		zap.Stringer("structural", heat.Structural),
		zap.Stringer("macro", heat.Macro),
		zap.Stringer("super_macro", heat.SuperMacro),
	)

	signals, ok := e.resolveSignals(ms, w.bars24h, poolID)
	if !ok {
		return nil, nil
	}

	detected := regime.Detect(signals, snap.Regime)
	tr := e.machine.Step(key, detected, heat.Blended, now, snap.MinDwell, snap.Heat)

	adj := adjuster.Adjust(
		e.scorer.ScoreReinvest(signals, tr.Current),
		e.scorer.ScoreReallocate(signals, tr.Current),
		heat.Blended,
		heat.SuperMacro,
	)

	rec := models.Recommendation{
		ID:              e.newID(),
		CreatedUTC:      now,
		ChainID:         pool.ChainID,
		PoolAddress:     poolID,
		Token0:          pool.Token0,
		Token1:          pool.Token1,
		FeeTier:         pool.FeeTier,
		Regime:          tr.Current,
		ReinvestScore:   adj.Reinvest,
		ReallocateScore: adj.Reallocate,
		Summary:         models.FormatSummary(tr.Current, heat, adj.ReinvestRaw, adj.ReallocateRaw),
		Details: models.Details{
			Heat:    heat,
			Ret:     w.ret,
			Vol:     w.vol,
			Signals: signals,
		},
	}
	if tick.QualityFlags != models.QualityNone {
		rec.Details.Quality = tick.QualityFlags.String()
	}

	if err := e.publisher.Add(ctx, rec); err != nil {
		return nil, e.fail(pool, stagePublish, err)
	}
	e.metrics.RecommendationsEmitted.WithLabelValues(string(rec.Regime)).Inc()

	if tr.Switched {
		logger.Info("regime switch",
			zap.String("pool", poolID),
			zap.String("from", string(tr.Previous)),
			zap.String("to", string(tr.Current)),
			zap.Int("confirmations", tr.Confirmations),
			zap.Int("required", tr.Required),
			zap.Int("heat", heat.Blended),
		)
		e.metrics.RegimeSwitches.WithLabelValues(key, string(tr.Previous), string(tr.Current)).Inc()

		if e.notifier != nil {
			if err := e.notifier.NotifyRegimeSwitch(ctx, tr.Previous, rec); err != nil {
				logger.Warn("failed to send regime switch alert", zap.String("pool", poolID), zap.Error(err))
			}
		}
	}

	return &rec, nil
}

// ingest flags the snapshot against the previous tick and stores it. A tick
// repeating a stored block, or not newer than the stored one, is not an error.
func (e *Engine) ingest(ctx context.Context, ms market.Snapshot, pool models.Pool, now time.Time) (models.Tick, error) {
	poolID := pool.ID()
	tick := ms.Tick(poolID)

	prev, err := e.store.LatestTick(ctx, tick.ChainID, poolID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return tick, fmt.Errorf("failed to load previous tick: %w", err)
		}
		prev = nil
	}

	if prev != nil && !tick.TimestampUTC.After(prev.TimestampUTC) {
		logger.Debug("snapshot not newer than stored tick, skipping insert",
			zap.String("pool", poolID),
			zap.Time("as_of", tick.TimestampUTC),
		)
		tick.QualityFlags = prev.QualityFlags
		return tick, nil
	}

	tick.QualityFlags = quality.Evaluate(tick, prev, now)
	if tick.QualityFlags != models.QualityNone {
		logger.Warn("suspicious tick",
			zap.String("pool", poolID),
			zap.Float64("price", tick.Price),
			zap.Stringer("flags", tick.QualityFlags),
		)
	}

	if err := e.store.InsertTick(ctx, &tick); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			logger.Debug("tick already stored",
				zap.String("pool", poolID),
				zap.Int64("block", tick.BlockNumber),
			)
			return tick, nil
		}
		return tick, fmt.Errorf("failed to insert tick: %w", err)
	}

	e.metrics.TicksIngested.WithLabelValues(stateKey(pool)).Inc()
	logger.Debug("tick stored",
		zap.String("pool", poolID),
		zap.Float64("price", tick.Price),
		zap.String("source", tick.Source),
	)
	return tick, nil
}

type windows struct {
	ret     models.Timeframes
	vol     models.Timeframes
	bars24h []models.Bar
}

// readWindows loads one hour of ticks and thirty days of m5 bars and slices
// the shorter windows out of them
func (e *Engine) readWindows(ctx context.Context, chainID int64, poolID string, now time.Time) (windows, error) {
	ticks, err := e.store.GetTicks(ctx, chainID, poolID, now.Add(-window1h), now)
	if err != nil {
		return windows{}, fmt.Errorf("failed to load ticks: %w", err)
	}
	bars, err := e.store.GetBars(ctx, chainID, poolID, models.IntervalM5, now.Add(-window30d), now)
	if err != nil {
		return windows{}, fmt.Errorf("failed to load m5 bars: %w", err)
	}

	t5m := analytics.TickPoints(ticksSince(ticks, now.Add(-window5m)))
	t15m := analytics.TickPoints(ticksSince(ticks, now.Add(-window15m)))
	t1h := analytics.TickPoints(ticks)

	bars24h := barsSince(bars, now.Add(-window24h))
	b6h := analytics.BarPoints(barsSince(bars, now.Add(-window6h)))
	b24h := analytics.BarPoints(bars24h)
	b30d := analytics.BarPoints(bars)

	return windows{
		ret: models.Timeframes{
			M5:  analytics.LogReturn(t5m),
			M15: analytics.LogReturn(t15m),
			H1:  analytics.LogReturn(t1h),
			H6:  analytics.LogReturn(b6h),
			H24: analytics.LogReturn(b24h),
			D30: analytics.LogReturn(b30d),
		},
		vol: models.Timeframes{
			M5:  analytics.RealizedVol(t5m),
			M15: analytics.RealizedVol(t15m),
			H1:  analytics.RealizedVol(t1h),
			H6:  analytics.RealizedVol(b6h),
			H24: analytics.RealizedVol(b24h),
			D30: analytics.RealizedVol(b30d),
		},
		bars24h: bars24h,
	}, nil
}

// resolveSignals prefers provider signals and falls back to computing them
// from the last day of m5 bars
func (e *Engine) resolveSignals(ms market.Snapshot, bars24h []models.Bar, poolID string) (models.Signals, bool) {
	if ms.Signals != nil {
		return *ms.Signals, true
	}

	s, err := e.signals.Signals(bars24h)
	if err != nil {
		if errors.Is(err, indicators.ErrInsufficientBars) {
			logger.Debug("not enough bars for regime signals, keeping regime",
				zap.String("pool", poolID),
				zap.Int("bars", len(bars24h)),
			)
		} else {
			logger.Warn("failed to compute regime signals", zap.String("pool", poolID), zap.Error(err))
		}
		return models.Signals{}, false
	}
	return s, true
}

func (e *Engine) fail(pool models.Pool, stage string, err error) error {
	poolID := pool.ID()
	e.metrics.PoolFailures.WithLabelValues(stateKey(pool), stage).Inc()
	logger.Error("pool evaluation failed",
		zap.String("pool", pool.String()),
		zap.String("stage", stage),
		zap.Error(err),
	)
	return fmt.Errorf("%s %s: %w", stage, poolID, err)
}

func (e *Engine) notifyError(ctx context.Context, err error) {
	if e.notifier == nil {
		return
	}
	if nerr := e.notifier.NotifyError(ctx, e.Name(), err); nerr != nil {
		logger.Warn("failed to send error alert", zap.Error(nerr))
	}
}

// ticksSince returns the suffix of time-ordered ticks at or after from
func ticksSince(ticks []models.Tick, from time.Time) []models.Tick {
	for i, t := range ticks {
		if !t.TimestampUTC.Before(from) {
			return ticks[i:]
		}
	}
	return nil
}

// barsSince returns the suffix of time-ordered bars whose bucket is at or
// after from
func barsSince(bars []models.Bar, from time.Time) []models.Bar {
	for i, b := range bars {
		if !b.BucketUTC.Before(from) {
			return bars[i:]
		}
	}
	return nil
}
