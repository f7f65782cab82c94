package market

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/selivandex/lp-advisor/pkg/models"
)

const stubSource = "stub"

// StubProvider generates a per-pool random walk with random regime signals.
// Useful for local runs without a feed.
type StubProvider struct {
	mu     sync.Mutex
	rng    *rand.Rand
	prices map[string]float64
	now    func() time.Time
}

// NewStubProvider creates a stub. seed 0 picks a time-based seed.
func NewStubProvider(seed int64) *StubProvider {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &StubProvider{
		rng:    rand.New(rand.NewSource(seed)),
		prices: make(map[string]float64),
		now:    time.Now,
	}
}

// Snapshot advances the pool's walk by one step
func (p *StubProvider) Snapshot(ctx context.Context, pool models.Pool) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	key := pool.String()
	price, ok := p.prices[key]
	if !ok {
		price = 1 + p.rng.Float64()
	} else {
		price *= math.Exp(p.rng.NormFloat64() * 0.002)
	}
	p.prices[key] = price

	return Snapshot{
		Pool:    pool,
		AsOfUTC: p.now().UTC(),
		Price:   price,
		Source:  stubSource,
		Signals: &models.Signals{
			VolNorm:     p.rng.Float64() * 0.25,
			TrendR2:     p.rng.Float64(),
			EmaSlopeAbs: p.rng.Float64() * 0.02,
			Source:      stubSource,
		},
	}, nil
}
