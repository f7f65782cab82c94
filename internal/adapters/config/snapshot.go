package config

import (
	"context"
	"time"

	"github.com/selivandex/lp-advisor/pkg/models"
)

// Snapshot is the read-only view of tunables the engine uses for one iteration
type Snapshot struct {
	Pools          []models.Pool
	Regime         RegimeConfig
	Heat           HeatConfig
	Adjust         AdjustConfig
	Retention      RetentionConfig
	MinDwell       time.Duration
	RollupLookback time.Duration
}

// SnapshotFrom copies the engine-facing parts of cfg
func SnapshotFrom(cfg *Config) Snapshot {
	pools := make([]models.Pool, len(cfg.Engine.Pools))
	copy(pools, cfg.Engine.Pools)

	return Snapshot{
		Pools:          pools,
		Regime:         cfg.Regime,
		Heat:           cfg.Heat,
		Adjust:         cfg.Adjust,
		Retention:      cfg.Retention,
		MinDwell:       cfg.Engine.MinDwell,
		RollupLookback: cfg.Engine.RollupLookback,
	}
}

// StaticProvider serves the same snapshot on every iteration
type StaticProvider struct {
	snap Snapshot
}

// NewStaticProvider freezes cfg into a provider
func NewStaticProvider(cfg *Config) *StaticProvider {
	return &StaticProvider{snap: SnapshotFrom(cfg)}
}

// Snapshot returns a copy so callers cannot mutate shared state
func (p *StaticProvider) Snapshot(_ context.Context) (Snapshot, error) {
	s := p.snap
	s.Pools = append([]models.Pool(nil), p.snap.Pools...)
	return s, nil
}
